package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// significantDigits is the precision used for protective price levels.
const significantDigits = 6

// TradingDecision is the order the state machine derived from a state change.
// StopLoss and TakeProfit are nil when the respective offset is disabled.
type TradingDecision struct {
	Instrument string
	Direction  IndicatorState // StateLong or StateShort
	Units      int64          // signed: positive buys, negative sells
	StopLoss   *float64
	TakeProfit *float64
}

// Side returns the order side implied by the signed units.
func (d *TradingDecision) Side() OrderSide {
	if d.Units < 0 {
		return Sell
	}
	return Buy
}

// OrderRequest converts the decision into a broker order.
func (d *TradingDecision) OrderRequest() OrderRequest {
	return OrderRequest{
		Instrument: d.Instrument,
		Units:      d.Units,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
	}
}

// OrderRequest is a market order with optional protective levels.
type OrderRequest struct {
	Instrument    string
	Units         int64
	StopLoss      *float64
	TakeProfit    *float64
	ClientOrderID string
}

// AbsUnits returns the unsigned order size.
func (r OrderRequest) AbsUnits() int64 {
	if r.Units < 0 {
		return -r.Units
	}
	return r.Units
}

// UnitsString renders the signed units for APIs that take strings.
func (r OrderRequest) UnitsString() string {
	return strconv.FormatInt(r.Units, 10)
}

// FormatPrice renders a price with six significant digits in total:
// 1.054551 -> "1.05455", 12004.12 -> "12004.1". Prices with six or more
// integer digits are rendered without decimals.
func FormatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	intDigits := len(d.Abs().Truncate(0).String())
	places := significantDigits - intDigits
	if places < 0 {
		places = 0
	}
	return d.StringFixed(int32(places))
}
