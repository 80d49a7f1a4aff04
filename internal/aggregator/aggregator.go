// Package aggregator turns a stream of ticks into fixed-interval bars.
package aggregator

import (
	"time"

	"simplebot/internal/domain"
)

// Aggregator builds bars from ticks of a single instrument.
// It is not safe for concurrent use; feed it from one goroutine.
type Aggregator struct {
	interval int64 // seconds

	started   bool
	lastStart int64 // unix second of the open bucket
	close     float64
	volume    int64

	dropped uint64

	// OnDroppedTick is called for every late tick (optional).
	OnDroppedTick func(domain.Tick)
}

// New creates an aggregator for the given granularity string.
func New(granularity string) (*Aggregator, error) {
	d, err := ParseGranularity(granularity)
	if err != nil {
		return nil, err
	}
	return &Aggregator{interval: int64(d / time.Second)}, nil
}

// Interval returns the bar length.
func (a *Aggregator) Interval() time.Duration {
	return time.Duration(a.interval) * time.Second
}

// Dropped returns how many late ticks were discarded.
func (a *Aggregator) Dropped() uint64 {
	return a.dropped
}

// ParseTick processes one tick and returns the bar it completed, if any.
//
// The first PRICE tick anchors the open bucket on an epoch-aligned boundary.
// A tick later than bucket start + interval completes the bucket and the
// bucket advances by exactly one interval, so a silent gap yields one bar
// per interval on successive ticks, each carrying the last known close.
// Heartbeats only drive rollover.
func (a *Aggregator) ParseTick(t domain.Tick) (*domain.Bar, bool) {
	epoch := t.Time.Unix()

	if !a.started {
		if !t.IsPrice() {
			return nil, false
		}
		a.lastStart = epoch - mod(epoch, a.interval)
		a.started = true
	}

	if epoch < a.lastStart {
		a.dropped++
		if a.OnDroppedTick != nil {
			a.OnDroppedTick(t)
		}
		return nil, false
	}

	var bar *domain.Bar
	if epoch > a.lastStart+a.interval {
		bar = &domain.Bar{
			Time:   time.Unix(a.lastStart, 0).UTC(),
			Close:  a.close,
			Volume: a.volume,
		}
		a.lastStart += a.interval
		a.volume = 0
	}

	if t.IsPrice() {
		a.close = t.Mid()
		a.volume++
	}

	return bar, bar != nil
}

// mod is the floor modulo, so pre-1970 timestamps still align downwards.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
