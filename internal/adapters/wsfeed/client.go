// Package wsfeed streams ticks from a websocket server that speaks the
// pricing message format, one JSON message per frame.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"simplebot/internal/adapters/pricing"
	"simplebot/internal/feed"
	"simplebot/internal/ports"
)

// Config holds configuration for the websocket feed.
type Config struct {
	URL                  string // e.g. ws://localhost:9001/prices
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int // consecutive failed connects before giving up, 0 means never give up
	Logger               ports.Logger

	// OnReconnect is called before every reconnection attempt (optional).
	OnReconnect func()
}

// Client implements ports.TickSource over gorilla/websocket.
type Client struct {
	cfg     Config
	decoder *pricing.Decoder
	dialer  *websocket.Dialer
}

// NewClient validates the configuration and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for websocket feed: %w", ports.ErrConfigurationError)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("invalid websocket url %q: %w", cfg.URL, ports.ErrConfigurationError)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Client{
		cfg:     cfg,
		decoder: pricing.NewDecoder(),
		dialer:  websocket.DefaultDialer,
	}, nil
}

// StreamTicks connects and streams ticks for instrument. Messages for other
// instruments are skipped; messages without an instrument are accepted.
func (c *Client) StreamTicks(ctx context.Context, instrument string) (ports.TickStream, error) {
	stream := feed.NewStream(ctx, 256)
	go c.run(stream, instrument)
	return stream, nil
}

func (c *Client) run(stream *feed.Stream, instrument string) {
	ctx := stream.Context()
	logFields := map[string]interface{}{"url": c.cfg.URL, "instrument": instrument}
	failures := 0

	for {
		connected, err := c.runOnce(ctx, stream, instrument)
		if ctx.Err() != nil {
			stream.Finish(nil)
			return
		}
		if connected {
			failures = 0
		}
		failures++
		c.cfg.Logger.Warn(ctx, "Websocket feed disconnected", merge(logFields, map[string]interface{}{
			"error":   errString(err),
			"attempt": failures,
		}))
		if c.cfg.MaxReconnectAttempts > 0 && failures >= c.cfg.MaxReconnectAttempts {
			stream.Finish(fmt.Errorf("giving up after %d attempts: %w: %w", failures, ports.ErrConnectionFailed, err))
			return
		}

		if c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect()
		}
		select {
		case <-ctx.Done():
			stream.Finish(nil)
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// runOnce reads one connection until it drops. connected reports whether
// the dial succeeded.
func (c *Client) runOnce(ctx context.Context, stream *feed.Stream, instrument string) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.cfg.Logger.Info(ctx, "Websocket feed connected", map[string]interface{}{"url": c.cfg.URL})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("server closed the connection")
			}
			return true, err
		}

		tick, err := c.decoder.Decode(raw)
		if err != nil {
			c.cfg.Logger.Warn(ctx, "Skipping invalid pricing message", map[string]interface{}{"error": err.Error()})
			continue
		}
		if tick.Instrument != "" && tick.Instrument != instrument {
			continue
		}
		if tick.Instrument == "" {
			tick.Instrument = instrument
		}
		if !stream.Send(tick) {
			return true, ctx.Err()
		}
	}
}

func merge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
