// Package redis publishes pipeline snapshots for external monitors.
// The latest snapshot of each instrument is kept under a key and every
// snapshot is also broadcast on a pub/sub channel.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"

	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

const defaultLatestTTL = 30 * time.Minute

// Config configures the snapshot publisher.
type Config struct {
	Addr      string // e.g. "localhost:6379"
	Password  string
	DB        int
	Channel   string
	LatestTTL time.Duration
	Logger    ports.Logger
}

// Publisher implements ports.SnapshotPublisher on Redis.
type Publisher struct {
	client  *goredis.Client
	channel string
	ttl     time.Duration
	logger  ports.Logger
}

// NewPublisher connects to Redis and pings the server.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for redis publisher: %w", ports.ErrConfigurationError)
	}
	if cfg.Addr == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("redis address and channel are required: %w", ports.ErrConfigurationError)
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w: %w", cfg.Addr, ports.ErrConnectionFailed, err)
	}

	cfg.Logger.Info(ctx, "Redis snapshot publisher connected", map[string]interface{}{"addr": cfg.Addr, "channel": cfg.Channel})
	return &Publisher{client: client, channel: cfg.Channel, ttl: cfg.LatestTTL, logger: cfg.Logger}, nil
}

// Publish stores snap as the latest snapshot of its instrument and
// broadcasts it, both in one pipeline round trip.
func (p *Publisher) Publish(ctx context.Context, snap domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, LatestKey(snap.Instrument, snap.Granularity), payload, p.ttl)
		pipe.Publish(ctx, p.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish snapshot: %w: %w", ports.ErrConnectionFailed, err)
	}
	return nil
}

// Latest reads back the stored snapshot of instrument. A missing key yields
// ports.ErrNotFound.
func (p *Publisher) Latest(ctx context.Context, instrument, granularity string) (*domain.Snapshot, error) {
	raw, err := p.client.Get(ctx, LatestKey(instrument, granularity)).Bytes()
	if err == goredis.Nil {
		return nil, fmt.Errorf("snapshot %s/%s: %w", instrument, granularity, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w: %w", ports.ErrConnectionFailed, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// LatestKey is the key holding the latest snapshot of an instrument.
func LatestKey(instrument, granularity string) string {
	return "snapshot:latest:" + instrument + ":" + granularity
}
