package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		expected string
	}{
		{"fx major", 1.054551, "1.05455"},
		{"fx rounds up", 1.0545561, "1.05456"},
		{"five integer digits", 12004.12, "12004.1"},
		{"yen pair", 151.23456, "151.235"},
		{"below one", 0.5, "0.50000"},
		{"six integer digits", 123456.7, "123457"},
		{"seven integer digits", 1234567.8, "1234568"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPrice(tt.price))
		})
	}
}

func TestCloseRequest_Payload(t *testing.T) {
	assert.Equal(t, map[string]string{"longUnits": "ALL"}, CloseRequest{Long: true}.Payload())
	assert.Equal(t, map[string]string{"shortUnits": "ALL"}, CloseRequest{Short: true}.Payload())
	assert.Equal(t, map[string]string{"longUnits": "ALL", "shortUnits": "ALL"}, CloseRequest{Long: true, Short: true}.Payload())
	assert.Empty(t, CloseRequest{}.Payload())
	assert.True(t, CloseRequest{}.Empty())
}

func TestCloseRequestFor(t *testing.T) {
	assert.Equal(t, CloseRequest{Long: true}, CloseRequestFor(&OpenPosition{LongUnits: 1000}))
	assert.Equal(t, CloseRequest{Short: true}, CloseRequestFor(&OpenPosition{ShortUnits: -1000}))
	assert.True(t, CloseRequestFor(&OpenPosition{}).Empty())
	assert.True(t, CloseRequestFor(nil).Empty())
}

func TestTradingDecision_Side(t *testing.T) {
	assert.Equal(t, Buy, (&TradingDecision{Units: 100}).Side())
	assert.Equal(t, Sell, (&TradingDecision{Units: -100}).Side())

	req := (&TradingDecision{Instrument: "EUR_USD", Units: -100}).OrderRequest()
	assert.Equal(t, "-100", req.UnitsString())
	assert.Equal(t, int64(100), req.AbsUnits())
}

func TestIndicatorState(t *testing.T) {
	assert.Equal(t, "LONG", StateLong.String())
	assert.Equal(t, "SHORT", StateShort.String())
	assert.Equal(t, "NEUTRAL", StateNeutral.String())
	assert.Equal(t, int64(1), StateLong.Direction())
	assert.Equal(t, int64(-1), StateShort.Direction())
	assert.Equal(t, int64(0), StateNeutral.Direction())
}
