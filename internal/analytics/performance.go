// Package analytics summarizes realized trades of a paper or replay session.
package analytics

import (
	"math"
	"sort"
	"time"

	"simplebot/internal/domain"
)

// Report holds the performance of a set of closed trades.
type Report struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalProfit   float64
	AverageWin    float64
	AverageLoss   float64 // <= 0
	ProfitFactor  float64 // gross profit / gross loss, 0 without losses
	Expectancy    float64
	MaxDrawdown   float64 // fraction of the running peak balance

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldTime      time.Duration

	StartingBalance float64
	FinalBalance    float64
	Return          float64

	BySide      map[domain.PositionSide]SideStats
	ByReason    map[domain.CloseReason]int
	EquityCurve []EquityPoint
}

// SideStats aggregates the trades of one position leg.
type SideStats struct {
	Trades int
	Wins   int
	PNL    float64
}

// EquityPoint is the balance after a trade closed.
type EquityPoint struct {
	Time     time.Time
	Balance  float64
	Drawdown float64
}

// Analyze computes a report for trades, replayed in exit order on top of
// startingBalance. The input slice is not modified.
func Analyze(trades []domain.Trade, startingBalance float64) *Report {
	r := &Report{
		StartingBalance: startingBalance,
		FinalBalance:    startingBalance,
		BySide:          make(map[domain.PositionSide]SideStats),
		ByReason:        make(map[domain.CloseReason]int),
	}
	if len(trades) == 0 {
		return r
	}

	sorted := make([]domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	balance, peak := startingBalance, startingBalance
	var grossProfit, grossLoss float64
	var wins, losses int
	var hold time.Duration

	for _, t := range sorted {
		r.TotalTrades++
		side := r.BySide[t.Side]
		side.Trades++
		side.PNL += t.PNL
		r.ByReason[t.CloseReason]++

		if t.PNL > 0 {
			r.WinningTrades++
			side.Wins++
			grossProfit += t.PNL
			wins++
			losses = 0
		} else {
			r.LosingTrades++
			grossLoss -= t.PNL
			losses++
			wins = 0
		}
		r.BySide[t.Side] = side
		if wins > r.MaxConsecutiveWins {
			r.MaxConsecutiveWins = wins
		}
		if losses > r.MaxConsecutiveLosses {
			r.MaxConsecutiveLosses = losses
		}

		balance += t.PNL
		peak = math.Max(peak, balance)
		dd := 0.0
		if peak > 0 {
			dd = (peak - balance) / peak
		}
		r.MaxDrawdown = math.Max(r.MaxDrawdown, dd)
		r.EquityCurve = append(r.EquityCurve, EquityPoint{Time: t.ExitTime, Balance: balance, Drawdown: dd})

		if !t.EntryTime.IsZero() && t.ExitTime.After(t.EntryTime) {
			hold += t.ExitTime.Sub(t.EntryTime)
		}
	}

	r.TotalProfit = grossProfit - grossLoss
	r.FinalBalance = balance
	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	if r.WinningTrades > 0 {
		r.AverageWin = grossProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AverageLoss = -grossLoss / float64(r.LosingTrades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	}
	r.Expectancy = r.WinRate*r.AverageWin + (1-r.WinRate)*r.AverageLoss
	r.AverageHoldTime = hold / time.Duration(r.TotalTrades)
	if startingBalance != 0 {
		r.Return = (balance - startingBalance) / startingBalance
	}
	return r
}

// Fields flattens the headline numbers for structured logging.
func (r *Report) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trades":       r.TotalTrades,
		"wins":         r.WinningTrades,
		"losses":       r.LosingTrades,
		"winRate":      r.WinRate,
		"totalProfit":  r.TotalProfit,
		"profitFactor": r.ProfitFactor,
		"expectancy":   r.Expectancy,
		"maxDrawdown":  r.MaxDrawdown,
		"finalBalance": r.FinalBalance,
		"return":       r.Return,
		"avgHold":      r.AverageHoldTime.String(),
	}
}
