package ports

import (
	"context"

	"simplebot/internal/domain"
)

// TickStream is a live sequence of ticks. Ticks is closed when the stream
// ends; Err then reports why (nil on a clean shutdown).
type TickStream interface {
	Ticks() <-chan domain.Tick
	Err() error
	Close() error
}

// TickSource opens live pricing streams.
type TickSource interface {
	StreamTicks(ctx context.Context, instrument string) (TickStream, error)
}

// HistoricalLoader fetches completed bars to bootstrap the series.
type HistoricalLoader interface {
	// GetBars returns at most count completed bars, oldest first.
	GetBars(ctx context.Context, instrument, granularity string, count int) ([]domain.Bar, error)
}

// SnapshotPublisher receives the pipeline snapshot after every new bar.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap domain.Snapshot) error
}
