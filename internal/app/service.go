package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"simplebot/config"
	"simplebot/internal/aggregator"
	"simplebot/internal/bars"
	"simplebot/internal/domain"
	"simplebot/internal/events"
	"simplebot/internal/metrics"
	"simplebot/internal/ports"
	"simplebot/internal/strategy/indicators"
	"simplebot/internal/trading"
)

// Deps are the collaborators of a BotTrader. Publisher and Metrics are optional.
type Deps struct {
	Logger    ports.Logger
	Broker    ports.Broker
	Ticks     ports.TickSource
	History   ports.HistoricalLoader
	Publisher ports.SnapshotPublisher
	Metrics   *metrics.Metrics
}

// BotTrader runs the tick -> bar -> indicator -> order pipeline for one instrument.
type BotTrader struct {
	cfg       *config.Config
	logger    ports.Logger
	ticks     ports.TickSource
	history   ports.HistoricalLoader
	publisher ports.SnapshotPublisher
	metrics   *metrics.Metrics

	series    *bars.Series
	agg       *aggregator.Aggregator
	indicator *indicators.MACrossover
	machine   *trading.StateMachine
	onTick    events.Event[domain.Tick]

	// mu orders bar appends against snapshot readers.
	mu sync.RWMutex
}

// NewBotTrader builds the series, aggregator, indicator and state machine and
// wires the series' item-added event to the indicator.
func NewBotTrader(cfg *config.Config, deps Deps) (*BotTrader, error) {
	if cfg == nil || deps.Logger == nil || deps.Broker == nil || deps.Ticks == nil || deps.History == nil {
		return nil, fmt.Errorf("missing required dependencies for BotTrader: %w", ports.ErrConfigurationError)
	}

	agg, err := aggregator.New(cfg.Granularity)
	if err != nil {
		return nil, err
	}

	series := bars.NewSeries(cfg.Instrument, cfg.Granularity)
	indicator, err := indicators.NewMACrossover(series, indicators.MACrossoverConfig{
		ShortPeriod: cfg.ShortMAPeriod,
		LongPeriod:  cfg.LongMAPeriod,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}
	series.SetHandler(bars.EventItemAdded, indicator.Calculate)

	var recorder trading.Recorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	machine, err := trading.NewStateMachine(trading.Config{
		Instrument:    cfg.Instrument,
		Units:         cfg.Units,
		StopLossPct:   cfg.StopLoss,
		TakeProfitPct: cfg.TakeProfit,
	}, deps.Broker, deps.Logger, recorder)
	if err != nil {
		return nil, err
	}

	b := &BotTrader{
		cfg:       cfg,
		logger:    deps.Logger,
		ticks:     deps.Ticks,
		history:   deps.History,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		series:    series,
		agg:       agg,
		indicator: indicator,
		machine:   machine,
	}
	agg.OnDroppedTick = b.handleDroppedTick
	return b, nil
}

// OnTick registers h to see every tick before it is aggregated.
func (b *BotTrader) OnTick(h events.Handler[domain.Tick]) events.Subscription {
	return b.onTick.Handle(h)
}

// Start bootstraps the series and consumes the live stream until it ends,
// the context is canceled, or a SIGINT/SIGTERM arrives.
func (b *BotTrader) Start(ctx context.Context) error {
	b.logger.Info(ctx, "Starting BotTrader...", map[string]interface{}{
		"instrument":  b.cfg.Instrument,
		"granularity": b.cfg.Granularity,
		"shortMA":     b.cfg.ShortMAPeriod,
		"longMA":      b.cfg.LongMAPeriod,
		"units":       b.cfg.Units,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			b.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := b.Bootstrap(ctx); err != nil {
		return err
	}
	if err := b.Run(ctx); err != nil {
		return err
	}
	b.logger.Info(ctx, "BotTrader stopped.")
	return nil
}

// Bootstrap pre-seeds the series with the most recent LongMAPeriod completed
// bars and evaluates the resulting state once.
func (b *BotTrader) Bootstrap(ctx context.Context) error {
	count := b.cfg.LongMAPeriod
	history, err := b.history.GetBars(ctx, b.cfg.Instrument, b.cfg.Granularity, count)
	if err != nil {
		b.logger.Error(ctx, err, "Failed to load historical bars", map[string]interface{}{"count": count})
		return fmt.Errorf("failed to load historical bars: %w", err)
	}
	for _, bar := range history {
		if err := b.appendBar(ctx, bar); err != nil {
			return err
		}
	}
	b.logger.Info(ctx, "Loaded historical bars", map[string]interface{}{"requested": count, "loaded": len(history)})

	b.evaluate(ctx)
	return nil
}

// Run opens the tick stream and processes ticks strictly in arrival order.
// It returns nil on end-of-stream, context cancellation or after MaxTicks,
// and an ErrStreamClosed-wrapped error when the stream fails.
func (b *BotTrader) Run(ctx context.Context) error {
	stream, err := b.ticks.StreamTicks(ctx, b.cfg.Instrument)
	if err != nil {
		b.logger.Error(ctx, err, "Failed to open tick stream")
		return fmt.Errorf("failed to open tick stream: %w", err)
	}
	defer stream.Close()
	b.logger.Info(ctx, "Tick stream started", map[string]interface{}{"instrument": b.cfg.Instrument})

	processed := 0
	for {
		select {
		case <-ctx.Done():
			b.logger.Info(ctx, "Context cancelled, stopping tick processing", map[string]interface{}{"processed": processed})
			return nil
		case tick, ok := <-stream.Ticks():
			if !ok {
				if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
					b.logger.Error(ctx, err, "Tick stream failed", map[string]interface{}{"processed": processed})
					return fmt.Errorf("%w: %w", ports.ErrStreamClosed, err)
				}
				b.logger.Info(ctx, "Tick stream ended", map[string]interface{}{"processed": processed})
				return nil
			}
			if err := b.ProcessTick(ctx, tick); err != nil {
				return err
			}
			processed++
			if b.cfg.MaxTicks > 0 && processed >= b.cfg.MaxTicks {
				b.logger.Info(ctx, "Tick limit reached", map[string]interface{}{"maxTicks": b.cfg.MaxTicks})
				return nil
			}
		}
	}
}

// ProcessTick runs one tick through the pipeline. Only internal invariant
// violations are returned; broker failures are logged and absorbed.
func (b *BotTrader) ProcessTick(ctx context.Context, tick domain.Tick) error {
	b.metrics.Tick(tick.Kind)
	if err := b.onTick.Fire(tick); err != nil {
		b.logger.Warn(ctx, "Tick handler failed", map[string]interface{}{"error": err.Error()})
	}

	bar, ok := b.agg.ParseTick(tick)
	if !ok {
		return nil
	}
	if err := b.appendBar(ctx, *bar); err != nil {
		return err
	}
	b.evaluate(ctx)
	b.publish(ctx)
	return nil
}

// Snapshot returns the current state and the last n bars.
func (b *BotTrader) Snapshot(n int) domain.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state := b.indicator.State()
	snap := domain.Snapshot{
		Instrument:  b.cfg.Instrument,
		Granularity: b.cfg.Granularity,
		State:       state.String(),
		Indicator:   state,
		Bars:        b.series.Tail(n),
		Length:      b.series.Len(),
		TakenAt:     time.Now().UTC(),
	}
	if v, ok := b.indicator.Last(); ok {
		snap.Value = &v
	}
	return snap
}

// State returns the indicator's current state.
func (b *BotTrader) State() domain.IndicatorState {
	return b.indicator.State()
}

func (b *BotTrader) appendBar(ctx context.Context, bar domain.Bar) error {
	b.mu.Lock()
	err := b.series.AddItem(bar.Time, bar.Close, bar.Volume)
	b.mu.Unlock()

	if errors.Is(err, ports.ErrOutOfOrderBar) {
		b.logger.Warn(ctx, "Skipping out of order bar", map[string]interface{}{"time": bar.Time, "error": err.Error()})
		return nil
	}
	if err != nil {
		b.logger.Error(ctx, err, "Failed to append bar", map[string]interface{}{"time": bar.Time})
		return fmt.Errorf("failed to append bar: %w", err)
	}

	b.metrics.Bar(b.cfg.Granularity)
	fields := map[string]interface{}{
		"time":   bar.Time.Format(time.RFC3339),
		"close":  bar.Close,
		"volume": bar.Volume,
		"length": b.series.Len(),
	}
	if v, ok := b.indicator.Last(); ok {
		b.metrics.Indicator(v)
		fields["value"] = v
	}
	fields["state"] = b.indicator.State().String()
	b.logger.Debug(ctx, "Bar appended", fields)
	return nil
}

func (b *BotTrader) evaluate(ctx context.Context) {
	last, err := b.series.Last()
	if err != nil {
		return // nothing to trade on yet
	}
	start := time.Now()
	_, err = b.machine.Evaluate(ctx, b.indicator.State(), last.Close)
	b.metrics.ObserveEvaluate(time.Since(start))
	if err != nil {
		b.logger.Warn(ctx, "Trading step finished with broker errors", map[string]interface{}{
			"instrument": b.cfg.Instrument,
			"error":      err.Error(),
		})
	}
}

func (b *BotTrader) publish(ctx context.Context) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, b.Snapshot(b.cfg.SnapshotBars)); err != nil {
		b.logger.Warn(ctx, "Failed to publish snapshot", map[string]interface{}{"error": err.Error()})
		return
	}
	b.metrics.Published()
}

func (b *BotTrader) handleDroppedTick(t domain.Tick) {
	b.metrics.DroppedTick()
	b.logger.Debug(context.Background(), "Dropped late tick", map[string]interface{}{"time": t.Time})
}
