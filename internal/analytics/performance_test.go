package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplebot/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func trade(side domain.PositionSide, pnl float64, entryMin, exitMin int, reason domain.CloseReason) domain.Trade {
	return domain.Trade{
		Instrument:  "EUR_USD",
		Side:        side,
		Units:       1000,
		PNL:         pnl,
		EntryTime:   t0.Add(time.Duration(entryMin) * time.Minute),
		ExitTime:    t0.Add(time.Duration(exitMin) * time.Minute),
		CloseReason: reason,
	}
}

func TestAnalyze_Empty(t *testing.T) {
	r := Analyze(nil, 10000)
	assert.Zero(t, r.TotalTrades)
	assert.Equal(t, 10000.0, r.FinalBalance)
	assert.Empty(t, r.EquityCurve)
}

func TestAnalyze(t *testing.T) {
	trades := []domain.Trade{
		trade(domain.SideShort, -2200, 20, 30, domain.CloseReasonStopLoss),
		trade(domain.SideLong, 1000, 0, 10, domain.CloseReasonTakeProfit),
		trade(domain.SideLong, 500, 30, 50, domain.CloseReasonSignal),
	}

	r := Analyze(trades, 10000)
	assert.Equal(t, 3, r.TotalTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.InDelta(t, 2.0/3.0, r.WinRate, 1e-9)
	assert.InDelta(t, -700, r.TotalProfit, 1e-9)
	assert.InDelta(t, 9300, r.FinalBalance, 1e-9)
	assert.InDelta(t, -0.07, r.Return, 1e-9)
	assert.InDelta(t, 750, r.AverageWin, 1e-9)
	assert.InDelta(t, -2200, r.AverageLoss, 1e-9)
	assert.InDelta(t, 1500.0/2200.0, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 2200.0/11000.0, r.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, r.MaxConsecutiveWins)
	assert.Equal(t, 1, r.MaxConsecutiveLosses)
	assert.Equal(t, 40*time.Minute/3, r.AverageHoldTime)

	require.Len(t, r.EquityCurve, 3)
	assert.Equal(t, t0.Add(10*time.Minute), r.EquityCurve[0].Time, "curve follows exit order")
	assert.InDelta(t, 11000, r.EquityCurve[0].Balance, 1e-9)
	assert.InDelta(t, 8800, r.EquityCurve[1].Balance, 1e-9)

	assert.Equal(t, SideStats{Trades: 2, Wins: 2, PNL: 1500}, r.BySide[domain.SideLong])
	assert.Equal(t, SideStats{Trades: 1, PNL: -2200}, r.BySide[domain.SideShort])
	assert.Equal(t, 1, r.ByReason[domain.CloseReasonStopLoss])
	assert.Equal(t, 1, r.ByReason[domain.CloseReasonSignal])

	assert.Equal(t, domain.SideShort, trades[0].Side, "input is not reordered")
}

func TestAnalyze_ConsecutiveRuns(t *testing.T) {
	trades := []domain.Trade{
		trade(domain.SideLong, 10, 0, 1, domain.CloseReasonSignal),
		trade(domain.SideLong, 10, 1, 2, domain.CloseReasonSignal),
		trade(domain.SideShort, -5, 2, 3, domain.CloseReasonSignal),
		trade(domain.SideShort, -5, 3, 4, domain.CloseReasonSignal),
		trade(domain.SideShort, -5, 4, 5, domain.CloseReasonSignal),
	}
	r := Analyze(trades, 1000)
	assert.Equal(t, 2, r.MaxConsecutiveWins)
	assert.Equal(t, 3, r.MaxConsecutiveLosses)
	assert.InDelta(t, 0.4*10+0.6*-5, r.Expectancy, 1e-9)

	fields := r.Fields()
	assert.Equal(t, 5, fields["trades"])
	assert.Equal(t, "1m0s", fields["avgHold"])
}
