// Package pricing decodes pricing stream messages shared by the OANDA
// stream and the websocket feed:
//
//	{"type":"PRICE","time":"2024-05-01T12:00:01.123456789Z","instrument":"EUR_USD","closeoutBid":"1.07012","closeoutAsk":"1.07025"}
//	{"type":"HEARTBEAT","time":"2024-05-01T12:00:05.000000000Z"}
package pricing

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"simplebot/internal/domain"
)

// ErrInvalidMessage marks a message that failed decoding or validation.
var ErrInvalidMessage = errors.New("invalid pricing message")

// Message is the wire form of one stream line.
type Message struct {
	Type        string `json:"type" validate:"required,oneof=PRICE HEARTBEAT"`
	Time        string `json:"time" validate:"required"`
	Instrument  string `json:"instrument,omitempty"`
	CloseoutBid string `json:"closeoutBid,omitempty" validate:"required_if=Type PRICE,omitempty,numeric"`
	CloseoutAsk string `json:"closeoutAsk,omitempty" validate:"required_if=Type PRICE,omitempty,numeric"`
}

// Decoder turns raw stream lines into ticks.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder creates a decoder with its own validator instance.
func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

// Decode parses and validates one message.
func (d *Decoder) Decode(raw []byte) (domain.Tick, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Tick{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := d.validate.Struct(&m); err != nil {
		return domain.Tick{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("%w: time %q: %v", ErrInvalidMessage, m.Time, err)
	}

	tick := domain.Tick{
		Kind:       domain.TickKind(m.Type),
		Instrument: m.Instrument,
		Time:       ts.UTC(),
	}
	if tick.Kind != domain.TickPrice {
		return tick, nil
	}

	if tick.Bid, err = decimal.NewFromString(m.CloseoutBid); err != nil {
		return domain.Tick{}, fmt.Errorf("%w: closeoutBid: %v", ErrInvalidMessage, err)
	}
	if tick.Ask, err = decimal.NewFromString(m.CloseoutAsk); err != nil {
		return domain.Tick{}, fmt.Errorf("%w: closeoutAsk: %v", ErrInvalidMessage, err)
	}
	return tick, nil
}

// Encode renders a tick in the wire form.
func Encode(t domain.Tick) ([]byte, error) {
	m := Message{
		Type:       string(t.Kind),
		Time:       t.Time.UTC().Format(time.RFC3339Nano),
		Instrument: t.Instrument,
	}
	if t.IsPrice() {
		m.CloseoutBid = t.Bid.String()
		m.CloseoutAsk = t.Ask.String()
	}
	return json.Marshal(m)
}
