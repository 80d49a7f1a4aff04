// Package bars stores the completed bars of one instrument and granularity.
package bars

import (
	"fmt"
	"sync"
	"time"

	"simplebot/internal/domain"
	"simplebot/internal/events"
	"simplebot/internal/ports"
)

// EventItemAdded fires after every append with the new series length.
const EventItemAdded = "onAddItem"

// Option configures a Series.
type Option func(*Series)

// WithCapacity bounds the series to n bars. Appending beyond n fails with
// ports.ErrCapacityExceeded.
func WithCapacity(n int) Option {
	return func(s *Series) {
		s.capacity = n
		s.bars = make([]domain.Bar, 0, n)
	}
}

// Series is an append-only, time-ordered list of bars.
// AddItem must be called from a single goroutine; reads may run concurrently.
type Series struct {
	Instrument  string
	Granularity string

	mu       sync.RWMutex
	bars     []domain.Bar
	capacity int // 0 means unbounded
	events   *events.Registry[int]
}

// NewSeries creates an empty series.
func NewSeries(instrument, granularity string, opts ...Option) *Series {
	s := &Series{
		Instrument:  instrument,
		Granularity: granularity,
		events:      events.NewRegistry[int](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler registers h for the named event.
func (s *Series) SetHandler(name string, h events.Handler[int]) events.Subscription {
	return s.events.SetHandler(name, h)
}

// Unhandle removes a handler previously registered under name.
func (s *Series) Unhandle(name string, sub events.Subscription) error {
	ev := s.events.Event(name)
	if ev == nil {
		return fmt.Errorf("event %q: %w", name, ports.ErrHandlerNotRegistered)
	}
	return ev.Unhandle(sub)
}

// AddItem appends a bar and fires EventItemAdded with the new length.
// The bar stays appended even if a handler fails; the handler error is returned.
func (s *Series) AddItem(ts time.Time, close float64, volume int64) error {
	s.mu.Lock()
	if s.capacity > 0 && len(s.bars) >= s.capacity {
		s.mu.Unlock()
		return fmt.Errorf("append at %s: %w (capacity %d)", ts.Format(time.RFC3339), ports.ErrCapacityExceeded, s.capacity)
	}
	if n := len(s.bars); n > 0 && ts.Before(s.bars[n-1].Time) {
		last := s.bars[n-1].Time
		s.mu.Unlock()
		return fmt.Errorf("append at %s after %s: %w", ts.Format(time.RFC3339), last.Format(time.RFC3339), ports.ErrOutOfOrderBar)
	}
	s.bars = append(s.bars, domain.Bar{Time: ts, Close: close, Volume: volume})
	length := len(s.bars)
	s.mu.Unlock()

	if err := s.events.FireEvent(EventItemAdded, length); err != nil {
		return fmt.Errorf("%s handlers at length %d: %w", EventItemAdded, length, err)
	}
	return nil
}

// Len returns the number of bars appended so far.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Get returns bar i. Negative indices count back from the end.
func (s *Series) Get(i int) (domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.resolve(i)
	if err != nil {
		return domain.Bar{}, err
	}
	return s.bars[idx], nil
}

// Last returns the most recent bar.
func (s *Series) Last() (domain.Bar, error) {
	return s.Get(-1)
}

// Slice returns a copy of bars [from, to). Bounds are clamped to the
// series length the way slice expressions with negative indices resolve.
func (s *Series) Slice(from, to int) []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	from, to = clamp(from, to, len(s.bars))
	out := make([]domain.Bar, to-from)
	copy(out, s.bars[from:to])
	return out
}

// Tail returns a copy of the last n bars.
func (s *Series) Tail(n int) []domain.Bar {
	if n <= 0 {
		return []domain.Bar{}
	}
	return s.Slice(-n, s.Len())
}

// Closes returns the close prices of bars [from, to).
func (s *Series) Closes(from, to int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	from, to = clamp(from, to, len(s.bars))
	out := make([]float64, 0, to-from)
	for _, b := range s.bars[from:to] {
		out = append(out, b.Close)
	}
	return out
}

func (s *Series) resolve(i int) (int, error) {
	n := len(s.bars)
	idx := i
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("index %d with length %d: %w", i, n, ports.ErrIndexOutOfRange)
	}
	return idx, nil
}

func clamp(from, to, n int) (int, int) {
	if from < 0 {
		from += n
	}
	if to < 0 {
		to += n
	}
	from = min(max(from, 0), n)
	to = min(max(to, 0), n)
	if to < from {
		to = from
	}
	return from, to
}
