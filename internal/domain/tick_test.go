package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTick_Mid(t *testing.T) {
	tick := Tick{
		Kind: TickPrice,
		Bid:  decimal.RequireFromString("1.10000"),
		Ask:  decimal.RequireFromString("1.10020"),
	}
	assert.True(t, tick.IsPrice())
	assert.InDelta(t, 1.1001, tick.Mid(), 1e-12)

	hb := Tick{Kind: TickHeartbeat}
	assert.False(t, hb.IsPrice())
}
