package indicators

import (
	"fmt"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage averages the trailing window of a close series.
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	if config.Type == "" {
		config.Type = SimpleMovingAverage
	}
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.Config.Period)
}

// Calculate computes the moving average over the last Period closes.
func (m *MovingAverage) Calculate(closes []float64) (float64, error) {
	switch m.config.Type {
	case SimpleMovingAverage:
		return m.calculateSMA(closes)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// calculateSMA computes the Simple Moving Average
func (m *MovingAverage) calculateSMA(closes []float64) (float64, error) {
	if m.Config.Period <= 0 {
		return 0, fmt.Errorf("invalid SMA period %d", m.Config.Period)
	}
	if len(closes) < m.Config.Period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(closes), m.Config.Period)
	}

	total := 0.0
	for i := len(closes) - m.Config.Period; i < len(closes); i++ {
		total += closes[i]
	}
	return total / float64(m.Config.Period), nil
}
