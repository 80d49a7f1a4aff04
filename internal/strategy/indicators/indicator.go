package indicators

import "simplebot/internal/domain"

// Indicator derives a market state from a bar series.
// Calculate is registered as the series' item-added handler and receives
// the new series length.
type Indicator interface {
	// Calculate recomputes the value for the bar at idx-1
	Calculate(idx int) error

	// State returns the state after the latest calculation
	State() domain.IndicatorState

	// RequiredDataPoints returns the minimum number of bars needed for a value
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of closes needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
