// Package oanda implements the broker, historical loader and tick source
// ports against the OANDA v20 REST API.
package oanda

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"simplebot/internal/adapters/pricing"
	"simplebot/internal/domain"
	"simplebot/internal/feed"
	"simplebot/internal/ports"
)

const (
	practiceAPI    = "https://api-fxpractice.oanda.com"
	practiceStream = "https://stream-fxpractice.oanda.com"
	liveAPI        = "https://api-fxtrade.oanda.com"
	liveStream     = "https://stream-fxtrade.oanda.com"
)

// Config holds configuration for the OANDA client.
type Config struct {
	AccountID string
	Token     string
	Live      bool
	Logger    ports.Logger

	// Overrides for tests; derived from Live when empty.
	APIURL    string
	StreamURL string

	Timeout              time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	OnReconnect          func()
}

// Client implements ports.Broker, ports.HistoricalLoader and ports.TickSource.
type Client struct {
	cfg     Config
	api     *resty.Client
	stream  *resty.Client
	decoder *pricing.Decoder
	logger  ports.Logger
}

// NewClient creates a new OANDA v20 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for OANDA client: %w", ports.ErrConfigurationError)
	}
	if cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("account ID and token are required: %w", ports.ErrConfigurationError)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = practiceAPI
		if cfg.Live {
			cfg.APIURL = liveAPI
		}
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = practiceStream
		if cfg.Live {
			cfg.StreamURL = liveStream
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}

	newResty := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetAuthToken(cfg.Token).
			SetHeader("Accept-Datetime-Format", "RFC3339").
			SetJSONMarshaler(json.Marshal).
			SetJSONUnmarshaler(json.Unmarshal)
	}

	c := &Client{
		cfg:     cfg,
		api:     newResty(cfg.APIURL).SetTimeout(cfg.Timeout),
		stream:  newResty(cfg.StreamURL), // no timeout on the long-lived stream
		decoder: pricing.NewDecoder(),
		logger:  cfg.Logger,
	}
	cfg.Logger.Info(context.Background(), "OANDA client initialized", map[string]interface{}{
		"apiURL":    cfg.APIURL,
		"accountID": cfg.AccountID,
		"live":      cfg.Live,
	})
	return c, nil
}

// --- wire types ---

type priceDetails struct {
	Price string `json:"price"`
}

type marketOrder struct {
	Type             string            `json:"type"`
	Instrument       string            `json:"instrument"`
	Units            string            `json:"units"`
	TimeInForce      string            `json:"timeInForce"`
	PositionFill     string            `json:"positionFill"`
	TakeProfitOnFill *priceDetails     `json:"takeProfitOnFill,omitempty"`
	StopLossOnFill   *priceDetails     `json:"stopLossOnFill,omitempty"`
	ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
}

type clientExtensions struct {
	ID string `json:"id"`
}

type orderRequest struct {
	Order marketOrder `json:"order"`
}

type transaction struct {
	ID      string `json:"id"`
	OrderID string `json:"orderID"`
	Units   string `json:"units"`
	Price   string `json:"price"`
	Reason  string `json:"reason"`
}

type orderResponse struct {
	OrderCreateTransaction *transaction `json:"orderCreateTransaction"`
	OrderFillTransaction   *transaction `json:"orderFillTransaction"`
	OrderCancelTransaction *transaction `json:"orderCancelTransaction"`
}

type positionSide struct {
	Units string `json:"units"`
}

type positionResponse struct {
	Position struct {
		Instrument string       `json:"instrument"`
		Long       positionSide `json:"long"`
		Short      positionSide `json:"short"`
	} `json:"position"`
}

type candle struct {
	Complete bool   `json:"complete"`
	Time     string `json:"time"`
	Volume   int64  `json:"volume"`
	Mid      struct {
		C string `json:"c"`
	} `json:"mid"`
}

type candlesResponse struct {
	Instrument  string   `json:"instrument"`
	Granularity string   `json:"granularity"`
	Candles     []candle `json:"candles"`
}

type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// --- Broker ---

// SubmitOrder places a FOK market order with optional stop-loss and
// take-profit on fill.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*ports.OrderResponse, error) {
	op := "SubmitOrder"
	body := orderRequest{Order: marketOrder{
		Type:         "MARKET",
		Instrument:   req.Instrument,
		Units:        req.UnitsString(),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}}
	if req.TakeProfit != nil {
		body.Order.TakeProfitOnFill = &priceDetails{Price: domain.FormatPrice(*req.TakeProfit)}
	}
	if req.StopLoss != nil {
		body.Order.StopLossOnFill = &priceDetails{Price: domain.FormatPrice(*req.StopLoss)}
	}
	if req.ClientOrderID != "" {
		body.Order.ClientExtensions = &clientExtensions{ID: req.ClientOrderID}
	}

	var out orderResponse
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("accountID", c.cfg.AccountID).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v3/accounts/{accountID}/orders")
	if err := c.handleError(ctx, resp, err, &apiErr, op); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrOrderPlacementFailed, err)
	}

	if out.OrderCancelTransaction != nil {
		err := fmt.Errorf("%w: order cancelled: %s", ports.ErrOrderPlacementFailed, out.OrderCancelTransaction.Reason)
		c.logger.Error(ctx, err, "OANDA order cancelled", map[string]interface{}{"op": op, "instrument": req.Instrument, "units": req.Units})
		return nil, err
	}

	result := &ports.OrderResponse{
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Units:         req.Units,
	}
	if out.OrderCreateTransaction != nil {
		result.OrderID = out.OrderCreateTransaction.ID
	}
	if fill := out.OrderFillTransaction; fill != nil {
		if result.OrderID == "" {
			result.OrderID = fill.OrderID
		}
		if p, err := strconv.ParseFloat(fill.Price, 64); err == nil {
			result.Price = p
		}
	}
	c.logger.Info(ctx, "OANDA order filled", map[string]interface{}{"op": op, "orderID": result.OrderID, "price": result.Price, "status": resp.StatusCode()})
	return result, nil
}

// GetOpenPosition returns the hedged position of instrument. An instrument
// that was never traded is reported as flat.
func (c *Client) GetOpenPosition(ctx context.Context, instrument string) (*domain.OpenPosition, error) {
	op := "GetOpenPosition"
	var out positionResponse
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"accountID": c.cfg.AccountID, "instrument": instrument}).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v3/accounts/{accountID}/positions/{instrument}")
	if err := c.handleError(ctx, resp, err, &apiErr, op); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return &domain.OpenPosition{Instrument: instrument}, nil
		}
		return nil, err
	}

	long, err := parseUnits(out.Position.Long.Units)
	if err != nil {
		return nil, fmt.Errorf("%s: long units: %w", op, err)
	}
	short, err := parseUnits(out.Position.Short.Units)
	if err != nil {
		return nil, fmt.Errorf("%s: short units: %w", op, err)
	}
	return &domain.OpenPosition{Instrument: instrument, LongUnits: long, ShortUnits: short}, nil
}

// ClosePosition closes the requested legs with {"longUnits":"ALL"} and/or
// {"shortUnits":"ALL"}.
func (c *Client) ClosePosition(ctx context.Context, instrument string, req domain.CloseRequest) error {
	op := "ClosePosition"
	if req.Empty() {
		return nil
	}
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"accountID": c.cfg.AccountID, "instrument": instrument}).
		SetBody(req.Payload()).
		SetError(&apiErr).
		Put("/v3/accounts/{accountID}/positions/{instrument}/close")
	if err := c.handleError(ctx, resp, err, &apiErr, op); err != nil {
		return err
	}
	c.logger.Info(ctx, "OANDA position closed", map[string]interface{}{"op": op, "instrument": instrument, "payload": req.Payload()})
	return nil
}

// --- HistoricalLoader ---

// GetBars fetches the last count mid candles and keeps the completed ones.
func (c *Client) GetBars(ctx context.Context, instrument, granularity string, count int) ([]domain.Bar, error) {
	op := "GetBars"
	var out candlesResponse
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("instrument", instrument).
		SetQueryParams(map[string]string{
			"granularity": granularity,
			"count":       strconv.Itoa(count),
			"price":       "M",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v3/instruments/{instrument}/candles")
	if err := c.handleError(ctx, resp, err, &apiErr, op); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(out.Candles))
	for _, cd := range out.Candles {
		if !cd.Complete {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, cd.Time)
		if err != nil {
			return nil, fmt.Errorf("%s: candle time %q: %w", op, cd.Time, err)
		}
		closePrice, err := decimal.NewFromString(cd.Mid.C)
		if err != nil {
			return nil, fmt.Errorf("%s: candle close %q: %w", op, cd.Mid.C, err)
		}
		bars = append(bars, domain.Bar{Time: ts.UTC(), Close: closePrice.InexactFloat64(), Volume: cd.Volume})
	}
	c.logger.Debug(ctx, "Fetched candles", map[string]interface{}{"instrument": instrument, "granularity": granularity, "received": len(out.Candles), "complete": len(bars)})
	return bars, nil
}

// --- TickSource ---

// StreamTicks opens the chunked pricing stream and reconnects on drops
// until MaxReconnectAttempts consecutive attempts fail.
func (c *Client) StreamTicks(ctx context.Context, instrument string) (ports.TickStream, error) {
	stream := feed.NewStream(ctx, 256)
	go c.runStream(stream, instrument)
	return stream, nil
}

func (c *Client) runStream(stream *feed.Stream, instrument string) {
	ctx := stream.Context()
	failures := 0
	for {
		received, err := c.streamOnce(ctx, stream, instrument)
		if ctx.Err() != nil {
			stream.Finish(nil)
			return
		}
		if received {
			failures = 0
		}
		failures++
		c.logger.Warn(ctx, "OANDA pricing stream disconnected", map[string]interface{}{
			"instrument": instrument,
			"attempt":    failures,
			"error":      fmt.Sprint(err),
		})
		if c.cfg.MaxReconnectAttempts > 0 && failures >= c.cfg.MaxReconnectAttempts {
			stream.Finish(fmt.Errorf("pricing stream gave up after %d attempts: %w", failures, err))
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

// streamOnce reads one pricing stream response until it ends. received
// reports whether at least one message arrived.
func (c *Client) streamOnce(ctx context.Context, stream *feed.Stream, instrument string) (received bool, err error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetPathParam("accountID", c.cfg.AccountID).
		SetQueryParam("instruments", instrument).
		Get("/v3/accounts/{accountID}/pricing/stream")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return false, c.statusError(resp.StatusCode(), "")
	}
	c.logger.Info(ctx, "OANDA pricing stream connected", map[string]interface{}{"instrument": instrument})

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		tick, err := c.decoder.Decode(line)
		if err != nil {
			c.logger.Warn(ctx, "Skipping invalid pricing message", map[string]interface{}{"error": err.Error()})
			continue
		}
		received = true
		if tick.Instrument == "" {
			tick.Instrument = instrument
		}
		if !stream.Send(tick) {
			return received, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return received, err
	}
	return received, ports.ErrStreamClosed
}

// --- helpers ---

// handleError maps transport failures and non-2xx answers to port errors.
func (c *Client) handleError(ctx context.Context, resp *resty.Response, err error, apiErr *apiError, op string) error {
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w: %v", op, ports.ErrContextCanceled, err)
		}
		c.logger.Error(ctx, err, "OANDA request failed", map[string]interface{}{"op": op})
		return fmt.Errorf("%s: %w: %v", op, ports.ErrConnectionFailed, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	mapped := c.statusError(resp.StatusCode(), apiErr.ErrorMessage)
	if !errors.Is(mapped, ports.ErrNotFound) {
		c.logger.Error(ctx, mapped, "OANDA API error", map[string]interface{}{
			"op":        op,
			"status":    resp.StatusCode(),
			"errorCode": apiErr.ErrorCode,
		})
	}
	return fmt.Errorf("%s: %w", op, mapped)
}

func (c *Client) statusError(status int, msg string) error {
	var base error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		base = ports.ErrAuthenticationFailed
	case status == http.StatusNotFound:
		base = ports.ErrNotFound
	case status == http.StatusTooManyRequests:
		base = ports.ErrRateLimited
	case status == http.StatusBadRequest:
		base = ports.ErrInvalidRequest
	case status >= 500:
		base = ports.ErrBrokerUnavailable
	default:
		base = ports.ErrUnknown
	}
	if msg == "" {
		return fmt.Errorf("%w (status %d)", base, status)
	}
	return fmt.Errorf("%w (status %d): %s", base, status, msg)
}

func parseUnits(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}
