// Package metrics exposes Prometheus counters for the trading pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"simplebot/internal/domain"
)

// Metrics holds all Prometheus metrics for one bot instance.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec // labels: instrument, kind
	DroppedTicks      *prometheus.CounterVec // labels: instrument
	BarsTotal         *prometheus.CounterVec // labels: instrument, granularity
	StateTransitions  *prometheus.CounterVec // labels: instrument, to
	OrdersTotal       *prometheus.CounterVec // labels: instrument, side
	BrokerErrors      *prometheus.CounterVec // labels: instrument, op
	IndicatorValue    *prometheus.GaugeVec   // labels: instrument
	StreamReconnects  prometheus.Counter
	EvaluateDuration  prometheus.Histogram
	PublishedSnapshot prometheus.Counter

	instrument string
}

// NewMetrics registers all metrics on a fresh registry.
func NewMetrics(instrument string) *Metrics {
	m := &Metrics{
		Registry:   prometheus.NewRegistry(),
		instrument: instrument,
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplebot_ticks_total",
			Help: "Ticks received from the pricing stream",
		}, []string{"instrument", "kind"}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplebot_dropped_ticks_total",
			Help: "Late ticks discarded by the aggregator",
		}, []string{"instrument"}),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplebot_bars_total",
			Help: "Completed bars appended to the series",
		}, []string{"instrument", "granularity"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplebot_state_transitions_total",
			Help: "Indicator state changes that triggered trading",
		}, []string{"instrument", "to"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplebot_orders_total",
			Help: "Market orders accepted by the broker",
		}, []string{"instrument", "side"}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplebot_broker_errors_total",
			Help: "Failed broker requests",
		}, []string{"instrument", "op"}),
		IndicatorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simplebot_indicator_value",
			Help: "Latest moving average crossover value",
		}, []string{"instrument"}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplebot_stream_reconnects_total",
			Help: "Pricing stream reconnection attempts",
		}),
		EvaluateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simplebot_evaluate_duration_seconds",
			Help:    "Time spent in the trading state machine per bar, broker calls included",
			Buckets: prometheus.DefBuckets,
		}),
		PublishedSnapshot: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplebot_snapshots_published_total",
			Help: "Snapshots handed to the publisher",
		}),
	}

	m.Registry.MustRegister(
		m.TicksTotal, m.DroppedTicks, m.BarsTotal, m.StateTransitions, m.OrdersTotal,
		m.BrokerErrors, m.IndicatorValue, m.StreamReconnects, m.EvaluateDuration, m.PublishedSnapshot,
	)
	return m
}

// Tick counts one received tick.
func (m *Metrics) Tick(kind domain.TickKind) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(m.instrument, string(kind)).Inc()
}

// DroppedTick counts one late tick.
func (m *Metrics) DroppedTick() {
	if m == nil {
		return
	}
	m.DroppedTicks.WithLabelValues(m.instrument).Inc()
}

// Bar counts one appended bar.
func (m *Metrics) Bar(granularity string) {
	if m == nil {
		return
	}
	m.BarsTotal.WithLabelValues(m.instrument, granularity).Inc()
}

// Indicator sets the latest indicator value.
func (m *Metrics) Indicator(v float64) {
	if m == nil {
		return
	}
	m.IndicatorValue.WithLabelValues(m.instrument).Set(v)
}

// ObserveEvaluate records how long one evaluation took.
func (m *Metrics) ObserveEvaluate(d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluateDuration.Observe(d.Seconds())
}

// Reconnect counts one stream reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.StreamReconnects.Inc()
}

// Published counts one snapshot publication.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.PublishedSnapshot.Inc()
}

// StateTransition implements trading.Recorder.
func (m *Metrics) StateTransition(to domain.IndicatorState) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(m.instrument, to.String()).Inc()
}

// OrderSubmitted implements trading.Recorder.
func (m *Metrics) OrderSubmitted(side domain.OrderSide) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(m.instrument, string(side)).Inc()
}

// BrokerError implements trading.Recorder.
func (m *Metrics) BrokerError(op string) {
	if m == nil {
		return
	}
	m.BrokerErrors.WithLabelValues(m.instrument, op).Inc()
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr.
// Errors other than a clean shutdown are sent to errCh if it is not nil.
func (m *Metrics) Serve(addr string, errCh chan<- error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errCh != nil {
			errCh <- err
		}
	}()
	return srv
}
