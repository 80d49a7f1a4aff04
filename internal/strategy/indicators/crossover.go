package indicators

import (
	"context"
	"fmt"
	"sync"

	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

// CloseSource is the read side of a bar series.
type CloseSource interface {
	// Closes returns the close prices of bars [from, to)
	Closes(from, to int) []float64
}

// MACrossoverConfig holds the moving average lookbacks.
type MACrossoverConfig struct {
	ShortPeriod int // e.g. 5
	LongPeriod  int // e.g. 20
}

// MACrossover tracks the difference between a short and a long SMA of the
// close series. The value at slot i is defined once i+1 > LongPeriod; the
// state is LONG while the value is strictly positive and SHORT otherwise.
type MACrossover struct {
	config  MACrossoverConfig
	source  CloseSource
	shortMA *MovingAverage
	longMA  *MovingAverage
	values  Values
	logger  ports.Logger

	mu    sync.RWMutex
	state domain.IndicatorState
}

// NewMACrossover validates the periods and creates the indicator over source.
func NewMACrossover(source CloseSource, config MACrossoverConfig, logger ports.Logger) (*MACrossover, error) {
	if config.ShortPeriod <= 0 || config.LongPeriod <= 0 || config.ShortPeriod >= config.LongPeriod {
		return nil, fmt.Errorf("short=%d long=%d: %w", config.ShortPeriod, config.LongPeriod, ports.ErrInvalidPeriods)
	}
	if source == nil {
		return nil, fmt.Errorf("close source is required: %w", ports.ErrConfigurationError)
	}
	return &MACrossover{
		config:  config,
		source:  source,
		shortMA: NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: config.ShortPeriod}, Type: SimpleMovingAverage}),
		longMA:  NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: config.LongPeriod}, Type: SimpleMovingAverage}),
		logger:  logger,
		state:   domain.StateNeutral,
	}, nil
}

var _ Indicator = (*MACrossover)(nil)

// Name returns the name of the indicator
func (m *MACrossover) Name() string {
	return fmt.Sprintf("MAx(%d,%d)", m.config.ShortPeriod, m.config.LongPeriod)
}

// RequiredDataPoints is one more than the long period.
func (m *MACrossover) RequiredDataPoints() int {
	return m.config.LongPeriod + 1
}

// Calculate recomputes slot idx-1 from the first idx closes.
func (m *MACrossover) Calculate(idx int) error {
	if idx <= 0 {
		return fmt.Errorf("calculate at length %d: %w", idx, ports.ErrIndexOutOfRange)
	}
	if idx <= m.config.LongPeriod {
		m.values.Unset(idx - 1)
		return nil
	}

	closes := m.source.Closes(idx-m.config.LongPeriod, idx)
	sma, err := m.shortMA.Calculate(closes)
	if err != nil {
		return fmt.Errorf("%s at %d: %w", m.Name(), idx, err)
	}
	lma, err := m.longMA.Calculate(closes)
	if err != nil {
		return fmt.Errorf("%s at %d: %w", m.Name(), idx, err)
	}

	value := sma - lma
	m.values.Set(idx-1, value)

	state := domain.StateShort
	if value > 0 {
		state = domain.StateLong
	}
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug(context.Background(), "MAx: processed bar", map[string]interface{}{
			"index": idx - 1,
			"value": value,
			"state": state.String(),
		})
	}
	return nil
}

// State returns the state after the latest defined value.
// It stays NEUTRAL until the first value exists.
func (m *MACrossover) State() domain.IndicatorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Value returns slot i; ok is false while the slot is undefined.
func (m *MACrossover) Value(i int) (value float64, ok bool, err error) {
	return m.values.Get(i)
}

// Last returns the newest slot.
func (m *MACrossover) Last() (float64, bool) {
	v, ok, err := m.values.Get(-1)
	if err != nil {
		return 0, false
	}
	return v, ok
}

// Len returns the number of computed slots.
func (m *MACrossover) Len() int {
	return m.values.Len()
}
