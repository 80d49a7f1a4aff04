// Package paper simulates a hedging broker account against live quotes.
// Long and short legs of an instrument are held independently, orders fill
// at the current bid or ask plus slippage, and protective stop-loss and
// take-profit levels are checked on every tick.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Config holds configuration for the paper broker. Fills and Trades are optional.
type Config struct {
	StartingBalance float64
	SlippageBps     float64
	Logger          ports.Logger
	Fills           ports.FillRepository
	Trades          ports.TradeRepository
}

type leg struct {
	units      int64 // absolute
	entry      decimal.Decimal
	entryTime  time.Time
	stopLoss   *decimal.Decimal
	takeProfit *decimal.Decimal
}

type book struct {
	long  *leg
	short *leg
}

// Broker implements ports.Broker on simulated fills.
type Broker struct {
	logger   ports.Logger
	fills    ports.FillRepository
	trades   ports.TradeRepository
	slippage decimal.Decimal

	mu       sync.Mutex
	balance  decimal.Decimal
	books    map[string]*book
	quotes   map[string]domain.Tick
	realized []domain.Trade

	newID func() string
	now   func() time.Time
}

// NewBroker creates a paper broker.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper broker: %w", ports.ErrConfigurationError)
	}
	if cfg.SlippageBps < 0 {
		return nil, fmt.Errorf("slippage must not be negative: %w", ports.ErrConfigurationError)
	}
	return &Broker{
		logger:   cfg.Logger,
		fills:    cfg.Fills,
		trades:   cfg.Trades,
		slippage: decimal.NewFromFloat(cfg.SlippageBps).Div(bpsDivisor),
		balance:  decimal.NewFromFloat(cfg.StartingBalance),
		books:    make(map[string]*book),
		quotes:   make(map[string]domain.Tick),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// OnTick records the latest quote and triggers protective orders. It is
// registered as a tick handler of the bot.
func (b *Broker) OnTick(t domain.Tick) error {
	if !t.IsPrice() || t.Instrument == "" {
		return nil
	}
	b.mu.Lock()
	b.quotes[t.Instrument] = t
	bk := b.books[t.Instrument]
	var closed []domain.Trade
	if bk != nil {
		if bk.long != nil {
			if reason, ok := triggered(bk.long, t.Bid, domain.SideLong); ok {
				closed = append(closed, b.closeLeg(t.Instrument, domain.SideLong, bk.long, t.Bid, t.Time, reason))
				bk.long = nil
			}
		}
		if bk.short != nil {
			if reason, ok := triggered(bk.short, t.Ask, domain.SideShort); ok {
				closed = append(closed, b.closeLeg(t.Instrument, domain.SideShort, bk.short, t.Ask, t.Time, reason))
				bk.short = nil
			}
		}
	}
	b.mu.Unlock()

	ctx := context.Background()
	for i := range closed {
		b.logger.Info(ctx, "Paper protective order triggered", map[string]interface{}{
			"instrument": closed[i].Instrument,
			"side":       closed[i].Side,
			"reason":     closed[i].CloseReason,
			"exitPrice":  closed[i].ExitPrice,
			"pnl":        closed[i].PNL,
		})
		b.persistTrade(ctx, &closed[i])
	}
	return nil
}

// SubmitOrder fills a market order at the current quote. Positive units add
// to the long leg, negative units to the short leg.
func (b *Broker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*ports.OrderResponse, error) {
	if req.Units == 0 {
		return nil, fmt.Errorf("%w: zero units", ports.ErrInvalidRequest)
	}

	b.mu.Lock()
	quote, ok := b.quotes[req.Instrument]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: no quote for %s", ports.ErrBrokerUnavailable, req.Instrument)
	}

	side := domain.SideLong
	price := quote.Ask.Mul(decimal.NewFromInt(1).Add(b.slippage))
	if req.Units < 0 {
		side = domain.SideShort
		price = quote.Bid.Mul(decimal.NewFromInt(1).Sub(b.slippage))
	}

	bk := b.books[req.Instrument]
	if bk == nil {
		bk = &book{}
		b.books[req.Instrument] = bk
	}
	target := &bk.long
	if side == domain.SideShort {
		target = &bk.short
	}
	units := req.AbsUnits()
	fillTime := quote.Time // market time, so replays get consistent hold times
	if fillTime.IsZero() {
		fillTime = b.now()
	}
	if *target == nil {
		*target = &leg{units: units, entry: price, entryTime: fillTime}
	} else {
		l := *target
		total := l.units + units
		l.entry = l.entry.Mul(decimal.NewFromInt(l.units)).
			Add(price.Mul(decimal.NewFromInt(units))).
			Div(decimal.NewFromInt(total))
		l.units = total
	}
	(*target).stopLoss = toDecimal(req.StopLoss)
	(*target).takeProfit = toDecimal(req.TakeProfit)
	orderID := b.newID()
	b.mu.Unlock()

	fillPrice := price.InexactFloat64()
	b.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"orderID":    orderID,
		"instrument": req.Instrument,
		"units":      req.Units,
		"price":      fillPrice,
	})

	if b.fills != nil {
		fill := &domain.Fill{
			OrderID:    orderID,
			Instrument: req.Instrument,
			Side:       side,
			Units:      units,
			Price:      fillPrice,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			Time:       fillTime,
		}
		if _, err := b.fills.CreateFill(ctx, fill); err != nil {
			b.logger.Error(ctx, err, "Failed to persist paper fill", map[string]interface{}{"orderID": orderID})
		}
	}

	return &ports.OrderResponse{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Units:         req.Units,
		Price:         fillPrice,
	}, nil
}

// GetOpenPosition reports the legs of instrument, short units negative.
func (b *Broker) GetOpenPosition(ctx context.Context, instrument string) (*domain.OpenPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := &domain.OpenPosition{Instrument: instrument}
	if bk := b.books[instrument]; bk != nil {
		if bk.long != nil {
			pos.LongUnits = bk.long.units
		}
		if bk.short != nil {
			pos.ShortUnits = -bk.short.units
		}
	}
	return pos, nil
}

// ClosePosition closes the requested legs at the current quote.
func (b *Broker) ClosePosition(ctx context.Context, instrument string, req domain.CloseRequest) error {
	b.mu.Lock()
	bk := b.books[instrument]
	quote, hasQuote := b.quotes[instrument]
	if bk == nil || (req.Long && bk.long == nil) || (req.Short && bk.short == nil) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ports.ErrPositionNotFound, instrument)
	}
	if !hasQuote {
		b.mu.Unlock()
		return fmt.Errorf("%w: no quote for %s", ports.ErrBrokerUnavailable, instrument)
	}

	one := decimal.NewFromInt(1)
	var closed []domain.Trade
	if req.Long {
		exit := quote.Bid.Mul(one.Sub(b.slippage))
		closed = append(closed, b.closeLeg(instrument, domain.SideLong, bk.long, exit, quote.Time, domain.CloseReasonSignal))
		bk.long = nil
	}
	if req.Short {
		exit := quote.Ask.Mul(one.Add(b.slippage))
		closed = append(closed, b.closeLeg(instrument, domain.SideShort, bk.short, exit, quote.Time, domain.CloseReasonSignal))
		bk.short = nil
	}
	b.mu.Unlock()

	for i := range closed {
		b.logger.Info(ctx, "Paper position closed", map[string]interface{}{
			"instrument": instrument,
			"side":       closed[i].Side,
			"exitPrice":  closed[i].ExitPrice,
			"pnl":        closed[i].PNL,
		})
		b.persistTrade(ctx, &closed[i])
	}
	return nil
}

// Balance returns the starting balance plus realized PnL.
func (b *Broker) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance.InexactFloat64()
}

// Trades returns the realized trades in closing order.
func (b *Broker) Trades() []domain.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Trade, len(b.realized))
	copy(out, b.realized)
	return out
}

// closeLeg realizes l at exit. Callers hold b.mu.
func (b *Broker) closeLeg(instrument string, side domain.PositionSide, l *leg, exit decimal.Decimal, at time.Time, reason domain.CloseReason) domain.Trade {
	diff := exit.Sub(l.entry)
	if side == domain.SideShort {
		diff = diff.Neg()
	}
	pnl := diff.Mul(decimal.NewFromInt(l.units))
	b.balance = b.balance.Add(pnl)

	if at.IsZero() {
		at = b.now()
	}
	trade := domain.Trade{
		Instrument:  instrument,
		Side:        side,
		EntryPrice:  l.entry.InexactFloat64(),
		ExitPrice:   exit.InexactFloat64(),
		Units:       l.units,
		PNL:         pnl.InexactFloat64(),
		EntryTime:   l.entryTime,
		ExitTime:    at,
		CloseReason: reason,
	}
	b.realized = append(b.realized, trade)
	return trade
}

func (b *Broker) persistTrade(ctx context.Context, t *domain.Trade) {
	if b.trades == nil {
		return
	}
	id, err := b.trades.CreateTrade(ctx, t)
	if err != nil {
		b.logger.Error(ctx, err, "Failed to persist paper trade", map[string]interface{}{"instrument": t.Instrument, "side": t.Side})
		return
	}
	t.ID = id
}

// triggered reports whether price hits a protective level of l. Long legs
// exit on the bid, short legs on the ask.
func triggered(l *leg, price decimal.Decimal, side domain.PositionSide) (domain.CloseReason, bool) {
	if side == domain.SideLong {
		if l.stopLoss != nil && price.LessThanOrEqual(*l.stopLoss) {
			return domain.CloseReasonStopLoss, true
		}
		if l.takeProfit != nil && price.GreaterThanOrEqual(*l.takeProfit) {
			return domain.CloseReasonTakeProfit, true
		}
		return "", false
	}
	if l.stopLoss != nil && price.GreaterThanOrEqual(*l.stopLoss) {
		return domain.CloseReasonStopLoss, true
	}
	if l.takeProfit != nil && price.LessThanOrEqual(*l.takeProfit) {
		return domain.CloseReasonTakeProfit, true
	}
	return "", false
}

func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
