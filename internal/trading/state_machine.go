// Package trading turns indicator state changes into broker requests.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

// Recorder receives trading events for metrics. All methods must be cheap.
type Recorder interface {
	StateTransition(to domain.IndicatorState)
	OrderSubmitted(side domain.OrderSide)
	BrokerError(op string)
}

type nopRecorder struct{}

func (nopRecorder) StateTransition(domain.IndicatorState) {}
func (nopRecorder) OrderSubmitted(domain.OrderSide)       {}
func (nopRecorder) BrokerError(string)                    {}

// Config holds the order parameters.
type Config struct {
	Instrument    string
	Units         int64   // unsigned trade size
	StopLossPct   float64 // percent of the entry close, 0 disables
	TakeProfitPct float64 // percent of the entry close, 0 disables
}

// StateMachine remembers the last observed indicator state and, when it
// flips to LONG or SHORT, closes existing exposure and opens a new position.
type StateMachine struct {
	cfg      Config
	broker   ports.Broker
	logger   ports.Logger
	recorder Recorder
	newID    func() string

	mu   sync.Mutex
	prev domain.IndicatorState
}

// NewStateMachine creates a state machine starting in NEUTRAL.
// recorder may be nil.
func NewStateMachine(cfg Config, broker ports.Broker, logger ports.Logger, recorder Recorder) (*StateMachine, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required: %w", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("units must be positive, got %d: %w", cfg.Units, ports.ErrConfigurationError)
	}
	if cfg.StopLossPct < 0 || cfg.TakeProfitPct < 0 {
		return nil, fmt.Errorf("stop loss and take profit must not be negative: %w", ports.ErrConfigurationError)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &StateMachine{
		cfg:      cfg,
		broker:   broker,
		logger:   logger,
		recorder: recorder,
		newID:    uuid.NewString,
		prev:     domain.StateNeutral,
	}, nil
}

// Previous returns the last state seen by Evaluate.
func (sm *StateMachine) Previous() domain.IndicatorState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.prev
}

// Evaluate compares state with the previously observed one. On a change into
// LONG or SHORT it requests a close of every open leg, then submits a market
// order sized Units in the new direction with protective levels derived from
// lastClose. The decision is returned even when broker calls fail; failures
// come back wrapped in ports.ErrBrokerRequestFailed and the new state is
// remembered regardless. A nil decision means nothing fired.
func (sm *StateMachine) Evaluate(ctx context.Context, state domain.IndicatorState, lastClose float64) (*domain.TradingDecision, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev := sm.prev
	sm.prev = state
	if state == prev || (state != domain.StateLong && state != domain.StateShort) {
		return nil, nil
	}

	sm.logger.Info(ctx, "State change", map[string]interface{}{
		"instrument": sm.cfg.Instrument,
		"from":       prev.String(),
		"to":         state.String(),
	})
	sm.recorder.StateTransition(state)

	decision := sm.decide(state, lastClose)

	var errs []error
	if err := sm.closeExposure(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := sm.submit(ctx, decision); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return decision, fmt.Errorf("%w: %w", ports.ErrBrokerRequestFailed, errors.Join(errs...))
	}
	return decision, nil
}

func (sm *StateMachine) decide(state domain.IndicatorState, lastClose float64) *domain.TradingDecision {
	direction := state.Direction()
	d := &domain.TradingDecision{
		Instrument: sm.cfg.Instrument,
		Direction:  state,
		Units:      sm.cfg.Units * direction,
	}
	if sm.cfg.TakeProfitPct != 0 {
		tp := protectiveLevel(lastClose, sm.cfg.TakeProfitPct, float64(direction))
		d.TakeProfit = &tp
	}
	if sm.cfg.StopLossPct != 0 {
		sl := protectiveLevel(lastClose, sm.cfg.StopLossPct, -float64(direction))
		d.StopLoss = &sl
	}
	return d
}

// protectiveLevel returns close*(1 + pct/100*direction) rounded to the
// precision the broker accepts.
func protectiveLevel(close, pct, direction float64) float64 {
	raw := close * (1.0 + pct/100.0*direction)
	rounded, err := strconv.ParseFloat(domain.FormatPrice(raw), 64)
	if err != nil {
		return raw
	}
	return rounded
}

func (sm *StateMachine) closeExposure(ctx context.Context) error {
	const op = "closeExposure"
	instrument := sm.cfg.Instrument
	sm.logger.Info(ctx, "Close existing positions", map[string]interface{}{"instrument": instrument})

	pos, err := sm.broker.GetOpenPosition(ctx, instrument)
	if err != nil {
		sm.recorder.BrokerError("position")
		sm.logger.Error(ctx, err, "Failed to query open position", map[string]interface{}{"op": op, "instrument": instrument})
		return fmt.Errorf("query position %s: %w", instrument, err)
	}

	req := domain.CloseRequestFor(pos)
	sm.logger.Info(ctx, "Prepare to close", map[string]interface{}{"instrument": instrument, "payload": req.Payload()})
	if req.Empty() {
		return nil
	}

	if err := sm.broker.ClosePosition(ctx, instrument, req); err != nil {
		sm.recorder.BrokerError("close")
		sm.logger.Error(ctx, err, "Failed to close position", map[string]interface{}{
			"op":         op,
			"instrument": instrument,
			"longUnits":  pos.LongUnits,
			"shortUnits": pos.ShortUnits,
		})
		return fmt.Errorf("close position %s: %w", instrument, err)
	}
	return nil
}

func (sm *StateMachine) submit(ctx context.Context, d *domain.TradingDecision) error {
	const op = "submitOrder"
	req := d.OrderRequest()
	req.ClientOrderID = sm.newID()

	fields := map[string]interface{}{
		"op":            op,
		"instrument":    req.Instrument,
		"units":         req.Units,
		"clientOrderID": req.ClientOrderID,
	}
	if req.StopLoss != nil {
		fields["stopLoss"] = domain.FormatPrice(*req.StopLoss)
	}
	if req.TakeProfit != nil {
		fields["takeProfit"] = domain.FormatPrice(*req.TakeProfit)
	}

	resp, err := sm.broker.SubmitOrder(ctx, req)
	if err != nil {
		sm.recorder.BrokerError("order")
		sm.logger.Error(ctx, err, "Failed to submit order", fields)
		return fmt.Errorf("submit order %s %d: %w", req.Instrument, req.Units, err)
	}
	sm.recorder.OrderSubmitted(d.Side())
	if resp != nil {
		fields["orderID"] = resp.OrderID
		fields["price"] = resp.Price
	}
	sm.logger.Info(ctx, "Order submitted", fields)
	return nil
}
