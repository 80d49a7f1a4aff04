// Package feed provides the channel plumbing shared by tick source adapters.
package feed

import (
	"context"
	"sync"

	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

// Stream is a ports.TickStream backed by a channel. The producing goroutine
// calls Send for every tick and Finish exactly once when it stops.
type Stream struct {
	ticks  chan domain.Tick
	cancel context.CancelFunc
	ctx    context.Context

	mu       sync.Mutex
	err      error
	finished bool
	once     sync.Once
}

// NewStream creates a stream whose producer stops when ctx is done or Close
// is called. buffer sizes the tick channel.
func NewStream(ctx context.Context, buffer int) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		ticks:  make(chan domain.Tick, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is done once the consumer closed the stream or the parent ended.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Send delivers t, blocking until the consumer takes it. It returns false
// once the stream context is done.
func (s *Stream) Send(t domain.Tick) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.ticks <- t:
		return true
	}
}

// Finish records why the producer stopped and closes the tick channel.
func (s *Stream) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.finished = true
		s.mu.Unlock()
		close(s.ticks)
	})
}

// Ticks implements ports.TickStream.
func (s *Stream) Ticks() <-chan domain.Tick {
	return s.ticks
}

// Err implements ports.TickStream. It is meaningful once Ticks is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements ports.TickStream.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

// FromSlice replays ticks as a finished stream. Used by replays and tests.
func FromSlice(ctx context.Context, ticks []domain.Tick) *Stream {
	s := NewStream(ctx, 0)
	go func() {
		for _, t := range ticks {
			if !s.Send(t) {
				s.Finish(s.ctx.Err())
				return
			}
		}
		s.Finish(nil)
	}()
	return s
}

// SliceSource is a ports.TickSource replaying a fixed recording. Ticks of
// other instruments are skipped; ticks without an instrument are stamped
// with the requested one.
type SliceSource struct {
	Ticks []domain.Tick
}

// StreamTicks implements ports.TickSource.
func (s SliceSource) StreamTicks(ctx context.Context, instrument string) (ports.TickStream, error) {
	ticks := make([]domain.Tick, 0, len(s.Ticks))
	for _, t := range s.Ticks {
		if t.Instrument == "" {
			t.Instrument = instrument
		}
		if t.Instrument != instrument {
			continue
		}
		ticks = append(ticks, t)
	}
	return FromSlice(ctx, ticks), nil
}
