// Package binanceclient implements the broker, historical loader and tick
// source ports on Binance USDⓈ-M futures in hedge mode.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"simplebot/internal/domain"
	"simplebot/internal/feed"
	"simplebot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

type bookTickerServe func(symbol string, handler futures.WsBookTickerHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)

// Client implements ports.Broker, ports.HistoricalLoader and ports.TickSource
// using the go-binance library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	onReconnect          func()
	serveBookTicker      bookTickerServe
	newID                func() string
	now                  func() time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	BaseURL              string // overrides the production/testnet URL
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
	OnReconnect          func()
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Public endpoints still work; order routing will fail authentication.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		onReconnect:          cfg.OnReconnect,
		serveBookTicker:      futures.WsBookTickerServe,
		newID:                uuid.NewString,
		now:                  time.Now,
	}, nil
}

// Symbol maps an instrument name such as "BTC_USDT" to the exchange symbol.
func Symbol(instrument string) string {
	return strings.ToUpper(strings.ReplaceAll(instrument, "_", ""))
}

var granularityRe = regexp.MustCompile(`^([MHD])(\d+)?$`)

var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true,
}

// Interval maps a granularity such as "M5" or "H1" to a kline interval.
// Second granularities have no kline equivalent.
func Interval(granularity string) (string, error) {
	m := granularityRe.FindStringSubmatch(granularity)
	if m == nil {
		return "", fmt.Errorf("%w: %q has no kline interval", ports.ErrInvalidGranularity, granularity)
	}
	n := m[2]
	if n == "" {
		n = "1"
	}
	interval := n + strings.ToLower(m[1])
	if !supportedIntervals[interval] {
		return "", fmt.Errorf("%w: %q has no kline interval", ports.ErrInvalidGranularity, granularity)
	}
	return interval, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature, malformed or unauthorized API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022: // New order rejected, ReduceOnly rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrNotFound
		case -2019, -3005, -3041, -4047: // Margin or balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// --- Broker ---

// SubmitOrder places a hedge-mode market order and, when requested, the
// STOP_MARKET and TAKE_PROFIT_MARKET orders protecting the new leg.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*ports.OrderResponse, error) {
	op := "SubmitOrder"
	if req.Units == 0 {
		return nil, fmt.Errorf("%s: %w: zero units", op, ports.ErrInvalidRequest)
	}
	symbol := Symbol(req.Instrument)
	side, exitSide, positionSide := futures.SideTypeBuy, futures.SideTypeSell, futures.PositionSideTypeLong
	if req.Units < 0 {
		side, exitSide, positionSide = futures.SideTypeSell, futures.SideTypeBuy, futures.PositionSideTypeShort
	}
	quantity := strconv.FormatInt(req.AbsUnits(), 10)
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = c.newID()
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		PositionSide(positionSide).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	resp := translateOrderResponse(order, req)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.Price})

	var protectErrs []error
	if req.StopLoss != nil {
		if err := c.placeProtective(ctx, symbol, exitSide, positionSide, futures.OrderTypeStopMarket, *req.StopLoss); err != nil {
			protectErrs = append(protectErrs, err)
		}
	}
	if req.TakeProfit != nil {
		if err := c.placeProtective(ctx, symbol, exitSide, positionSide, futures.OrderTypeTakeProfitMarket, *req.TakeProfit); err != nil {
			protectErrs = append(protectErrs, err)
		}
	}
	if len(protectErrs) > 0 {
		return nil, fmt.Errorf("%s: entry %s filled but protection failed: %w: %w", op, resp.OrderID, ports.ErrOrderPlacementFailed, errors.Join(protectErrs...))
	}
	return resp, nil
}

func (c *Client) placeProtective(ctx context.Context, symbol string, side futures.SideType, positionSide futures.PositionSideType, orderType futures.OrderType, level float64) error {
	op := "Place" + string(orderType)
	stopPrice := domain.FormatPrice(level)
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		PositionSide(positionSide).
		Type(orderType).
		StopPrice(stopPrice).
		ClosePosition(true).
		NewClientOrderID(c.newID()).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "stopPrice": stopPrice, "orderID": order.OrderID})
	return nil
}

// GetOpenPosition sums the hedge-mode legs of instrument. Short units are
// reported negative. Fractional amounts are rounded to whole units; a leg
// smaller than one unit is still reported as one unit so it gets closed.
func (c *Client) GetOpenPosition(ctx context.Context, instrument string) (*domain.OpenPosition, error) {
	op := "GetOpenPosition"
	symbol := Symbol(instrument)
	long, short, err := c.legAmounts(ctx, symbol, op)
	if err != nil {
		return nil, err
	}

	pos := &domain.OpenPosition{
		Instrument: instrument,
		LongUnits:  wholeUnits(long),
		ShortUnits: wholeUnits(short),
	}
	if !long.Equal(long.Round(0)) || !short.Equal(short.Round(0)) {
		c.logger.Warn(ctx, op+": fractional position rounded to whole units", map[string]interface{}{
			"symbol": symbol,
			"long":   long.String(),
			"short":  short.String(),
		})
	}
	c.logger.Debug(ctx, op, map[string]interface{}{"symbol": symbol, "long": pos.LongUnits, "short": pos.ShortUnits})
	return pos, nil
}

// legAmounts returns the exact long and short (negative) amounts of symbol.
func (c *Client) legAmounts(ctx context.Context, symbol, op string) (long, short decimal.Decimal, err error) {
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return long, short, c.handleError(ctx, err, op)
	}
	for _, p := range positions {
		if p == nil || p.Symbol != symbol {
			continue
		}
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			return long, short, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, err), op)
		}
		switch {
		case p.PositionSide == string(futures.PositionSideTypeLong), amt.Sign() > 0:
			long = long.Add(amt)
		case p.PositionSide == string(futures.PositionSideTypeShort), amt.Sign() < 0:
			short = short.Add(amt)
		}
	}
	return long, short, nil
}

func wholeUnits(amt decimal.Decimal) int64 {
	units := amt.Round(0).IntPart()
	if units == 0 && !amt.IsZero() {
		return int64(amt.Sign())
	}
	return units
}

// ClosePosition closes the requested legs with market orders. When no leg
// remains afterwards the open protective orders of the symbol are cancelled.
func (c *Client) ClosePosition(ctx context.Context, instrument string, req domain.CloseRequest) error {
	op := "ClosePosition"
	if req.Empty() {
		return nil
	}
	symbol := Symbol(instrument)
	long, short, err := c.legAmounts(ctx, symbol, op)
	if err != nil {
		return err
	}

	type exit struct {
		side         futures.SideType
		positionSide futures.PositionSideType
		quantity     decimal.Decimal
	}
	var exits []exit
	if req.Long {
		if long.IsZero() {
			return fmt.Errorf("%s: %w: no long leg on %s", op, ports.ErrPositionNotFound, symbol)
		}
		exits = append(exits, exit{futures.SideTypeSell, futures.PositionSideTypeLong, long})
	}
	if req.Short {
		if short.IsZero() {
			return fmt.Errorf("%s: %w: no short leg on %s", op, ports.ErrPositionNotFound, symbol)
		}
		exits = append(exits, exit{futures.SideTypeBuy, futures.PositionSideTypeShort, short.Neg()})
	}

	for _, e := range exits {
		quantity := e.quantity.String()
		order, err := c.futuresClient.NewCreateOrderService().
			Symbol(symbol).
			Side(e.side).
			PositionSide(e.positionSide).
			Type(futures.OrderTypeMarket).
			Quantity(quantity).
			NewClientOrderID(c.newID()).
			Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "positionSide": e.positionSide, "quantity": quantity, "orderID": order.OrderID})
	}

	closesAll := (long.IsZero() || req.Long) && (short.IsZero() || req.Short)
	if closesAll {
		if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
			return c.handleError(ctx, err, op+" cancel protective orders")
		}
	}
	return nil
}

// --- HistoricalLoader ---

// GetBars retrieves the last count klines and keeps the completed ones.
// Bar volume is the kline's trade count.
func (c *Client) GetBars(ctx context.Context, instrument, granularity string, count int) ([]domain.Bar, error) {
	op := "GetBars"
	interval, err := Interval(granularity)
	if err != nil {
		return nil, err
	}
	klines, err := c.futuresClient.NewKlinesService().Symbol(Symbol(instrument)).Interval(interval).Limit(count).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return c.translateKlines(ctx, klines, op)
}

// GetBarsRange fetches all completed bars between start and end, paging
// through the kline endpoint.
func (c *Client) GetBarsRange(ctx context.Context, instrument, granularity string, start, end time.Time) ([]domain.Bar, error) {
	op := "GetBarsRange"
	interval, err := Interval(granularity)
	if err != nil {
		return nil, err
	}
	symbol := Symbol(instrument)
	const maxLimit = 1500
	var all []domain.Bar
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		bars, err := c.translateKlines(ctx, klines, op)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}
	return all, nil
}

func (c *Client) translateKlines(ctx context.Context, klines []*futures.Kline, op string) ([]domain.Bar, error) {
	now := c.now()
	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		if time.UnixMilli(k.CloseTime).After(now) {
			continue // still forming
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing close price '%s': %w", k.Close, err), op)
		}
		bars = append(bars, domain.Bar{
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Close:  closePrice.InexactFloat64(),
			Volume: k.TradeNum,
		})
	}
	return bars, nil
}

// --- TickSource ---

// StreamTicks subscribes to the symbol's book ticker and turns every update
// into a PRICE tick. Dropped connections are re-established with
// exponential backoff.
func (c *Client) StreamTicks(ctx context.Context, instrument string) (ports.TickStream, error) {
	stream := feed.NewStream(ctx, 256)
	go c.runBookTicker(stream, instrument)
	return stream, nil
}

func (c *Client) runBookTicker(stream *feed.Stream, instrument string) {
	op := "StreamTicks"
	wsCtx := stream.Context()
	symbol := Symbol(instrument)
	fields := map[string]interface{}{"symbol": symbol}

	handler := func(event *futures.WsBookTickerEvent) {
		tick, err := translateBookTicker(event, instrument)
		if err != nil {
			c.logger.Warn(wsCtx, op+": Failed to translate book ticker event", map[string]interface{}{"error": err.Error()})
			return
		}
		stream.Send(tick)
	}
	errHandler := func(err error) {
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	attempt := 0
	var lastErr error
	for {
		if wsCtx.Err() != nil {
			stream.Finish(nil)
			return
		}
		innerDoneCh, innerStopCh, connectErr := c.serveBookTicker(symbol, handler, errHandler)
		if connectErr == nil {
			c.logger.Info(wsCtx, op+": WebSocket connection established.", fields)
			attempt = 0
			select {
			case <-innerDoneCh:
				lastErr = fmt.Errorf("%w: book ticker connection closed", ports.ErrStreamClosed)
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
			case <-wsCtx.Done():
				close(innerStopCh)
				<-innerDoneCh
				stream.Finish(nil)
				return
			}
		} else {
			lastErr = c.handleError(wsCtx, connectErr, op+" connection attempt")
		}

		attempt++
		if attempt >= c.maxReconnectAttempts {
			c.logger.Error(wsCtx, lastErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": symbol, "maxAttempts": c.maxReconnectAttempts})
			stream.Finish(fmt.Errorf("%w: %w", ports.ErrConnectionFailed, lastErr))
			return
		}
		if c.onReconnect != nil {
			c.onReconnect()
		}
		delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
		c.logger.Info(wsCtx, op+": Retrying connection", map[string]interface{}{"symbol": symbol, "attempt": attempt + 1, "delay": delay.String()})
		select {
		case <-time.After(delay):
		case <-wsCtx.Done():
			stream.Finish(nil)
			return
		}
	}
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse, req domain.OrderRequest) *ports.OrderResponse {
	resp := &ports.OrderResponse{
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Units:         req.Units,
	}
	if order == nil {
		return resp
	}
	resp.OrderID = strconv.FormatInt(order.OrderID, 10)
	if order.ClientOrderID != "" {
		resp.ClientOrderID = order.ClientOrderID
	}
	resp.Price, _ = strconv.ParseFloat(order.AvgPrice, 64)
	return resp
}

func translateBookTicker(event *futures.WsBookTickerEvent, instrument string) (domain.Tick, error) {
	if event == nil {
		return domain.Tick{}, errors.New("received nil book ticker event")
	}
	bid, err := decimal.NewFromString(event.BestBidPrice)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing bid price '%s': %w", event.BestBidPrice, err)
	}
	ask, err := decimal.NewFromString(event.BestAskPrice)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing ask price '%s': %w", event.BestAskPrice, err)
	}
	return domain.Tick{
		Kind:       domain.TickPrice,
		Instrument: instrument,
		Time:       time.UnixMilli(event.Time).UTC(),
		Bid:        bid,
		Ask:        ask,
	}, nil
}
