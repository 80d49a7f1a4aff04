package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickKind distinguishes price updates from keep-alive heartbeats.
type TickKind string

const (
	TickPrice     TickKind = "PRICE"
	TickHeartbeat TickKind = "HEARTBEAT"
)

// Tick is a single event of the market data stream.
// Heartbeats carry only Time; Bid and Ask are zero.
type Tick struct {
	Kind       TickKind
	Instrument string
	Time       time.Time
	Bid        decimal.Decimal // closeout bid
	Ask        decimal.Decimal // closeout ask
}

// IsPrice reports whether the tick carries a quote.
func (t Tick) IsPrice() bool {
	return t.Kind == TickPrice
}

// Mid returns the midpoint of the closeout bid and ask.
func (t Tick) Mid() float64 {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2)).InexactFloat64()
}
