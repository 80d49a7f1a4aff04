package oanda

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		AccountID:            "101-004-1",
		Token:                "secret",
		Logger:               nopLogger{},
		APIURL:               srv.URL,
		StreamURL:            srv.URL,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 1,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{AccountID: "a", Token: "t"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewClient(Config{Logger: nopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	c, err := NewClient(Config{AccountID: "a", Token: "t", Logger: nopLogger{}, Live: true})
	require.NoError(t, err)
	assert.Equal(t, liveAPI, c.cfg.APIURL)
	assert.Equal(t, liveStream, c.cfg.StreamURL)
}

func TestSubmitOrder(t *testing.T) {
	var got map[string]map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/accounts/101-004-1/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, `{
			"orderCreateTransaction": {"id": "6356"},
			"orderFillTransaction": {"id": "6357", "orderID": "6356", "price": "1.10012"}
		}`)
	}))

	sl, tp := 1.0945, 1.1055
	resp, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		Instrument:    "EUR_USD",
		Units:         -100,
		StopLoss:      &sl,
		TakeProfit:    &tp,
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "6356", resp.OrderID)
	assert.Equal(t, "cid-1", resp.ClientOrderID)
	assert.InDelta(t, 1.10012, resp.Price, 1e-9)

	order := got["order"]
	assert.Equal(t, "MARKET", order["type"])
	assert.Equal(t, "-100", order["units"])
	assert.Equal(t, "EUR_USD", order["instrument"])
	assert.Equal(t, map[string]interface{}{"price": "1.09450"}, order["stopLossOnFill"])
	assert.Equal(t, map[string]interface{}{"price": "1.10550"}, order["takeProfitOnFill"])
	assert.Equal(t, map[string]interface{}{"id": "cid-1"}, order["clientExtensions"])
}

func TestSubmitOrder_OmitsDisabledProtection(t *testing.T) {
	var got map[string]map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, `{"orderCreateTransaction": {"id": "1"}}`)
	}))

	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "EUR_USD", Units: 100})
	require.NoError(t, err)
	assert.NotContains(t, got["order"], "stopLossOnFill")
	assert.NotContains(t, got["order"], "takeProfitOnFill")
	assert.NotContains(t, got["order"], "clientExtensions")
}

func TestSubmitOrder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"cancelled", http.StatusCreated, `{"orderCancelTransaction": {"reason": "INSUFFICIENT_MARGIN"}}`, ports.ErrOrderPlacementFailed},
		{"unauthorized", http.StatusUnauthorized, `{"errorMessage": "bad token"}`, ports.ErrAuthenticationFailed},
		{"bad request", http.StatusBadRequest, `{"errorCode": "UNITS_INVALID"}`, ports.ErrInvalidRequest},
		{"rate limited", http.StatusTooManyRequests, `{}`, ports.ErrRateLimited},
		{"unavailable", http.StatusServiceUnavailable, `{}`, ports.ErrBrokerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "EUR_USD", Units: 1})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)
		})
	}
}

func TestGetOpenPosition(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/accounts/101-004-1/positions/EUR_USD":
			writeJSON(w, http.StatusOK, `{"position": {"instrument": "EUR_USD", "long": {"units": "100"}, "short": {"units": "-50"}}}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"errorMessage": "The specified position does not exist"}`)
		}
	}))

	pos, err := c.GetOpenPosition(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos.LongUnits)
	assert.Equal(t, int64(-50), pos.ShortUnits)

	pos, err = c.GetOpenPosition(context.Background(), "GBP_USD")
	require.NoError(t, err, "unknown position means flat")
	assert.True(t, pos.IsFlat())
}

func TestClosePosition(t *testing.T) {
	var got map[string]string
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v3/accounts/101-004-1/positions/EUR_USD/close", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, `{}`)
	}))

	require.NoError(t, c.ClosePosition(context.Background(), "EUR_USD", domain.CloseRequest{Short: true}))
	assert.Equal(t, map[string]string{"shortUnits": "ALL"}, got)

	require.NoError(t, c.ClosePosition(context.Background(), "EUR_USD", domain.CloseRequest{}))
	assert.Equal(t, 1, calls, "an empty request is not sent")
}

func TestGetBars(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/instruments/EUR_USD/candles", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "M1", q.Get("granularity"))
		assert.Equal(t, "3", q.Get("count"))
		assert.Equal(t, "M", q.Get("price"))
		writeJSON(w, http.StatusOK, `{"instrument": "EUR_USD", "granularity": "M1", "candles": [
			{"complete": true, "time": "2024-05-01T12:00:00.000000000Z", "volume": 12, "mid": {"c": "1.10010"}},
			{"complete": true, "time": "2024-05-01T12:01:00.000000000Z", "volume": 7, "mid": {"c": "1.10020"}},
			{"complete": false, "time": "2024-05-01T12:02:00.000000000Z", "volume": 2, "mid": {"c": "1.10030"}}
		]}`)
	}))

	bars, err := c.GetBars(context.Background(), "EUR_USD", "M1", 3)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), bars[0].Time)
	assert.InDelta(t, 1.1001, bars[0].Close, 1e-9)
	assert.Equal(t, int64(12), bars[0].Volume)
	assert.InDelta(t, 1.1002, bars[1].Close, 1e-9)
}

func TestStreamTicks(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/101-004-1/pricing/stream", r.URL.Path)
		assert.Equal(t, "EUR_USD", r.URL.Query().Get("instruments"))
		w.Header().Set("Content-Type", "application/octet-stream")
		flusher := w.(http.Flusher)
		lines := []string{
			`{"type":"PRICE","time":"2024-05-01T12:00:01.5Z","instrument":"EUR_USD","closeoutBid":"1.1000","closeoutAsk":"1.1002"}`,
			`not json`,
			`{"type":"HEARTBEAT","time":"2024-05-01T12:00:05Z"}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
			flusher.Flush()
		}
	}))

	stream, err := c.StreamTicks(context.Background(), "EUR_USD")
	require.NoError(t, err)
	defer stream.Close()

	var ticks []domain.Tick
	for tick := range stream.Ticks() {
		ticks = append(ticks, tick)
	}
	require.Len(t, ticks, 2)
	assert.Equal(t, domain.TickPrice, ticks[0].Kind)
	assert.InDelta(t, 1.1001, ticks[0].Mid(), 1e-9)
	assert.Equal(t, domain.TickHeartbeat, ticks[1].Kind)
	assert.Equal(t, "EUR_USD", ticks[1].Instrument)
	assert.ErrorIs(t, stream.Err(), ports.ErrStreamClosed)
}

func TestStreamTicks_Unauthorized(t *testing.T) {
	reconnects := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"errorMessage": "bad token"}`)
	}))
	c.cfg.MaxReconnectAttempts = 2
	c.cfg.OnReconnect = func() { reconnects++ }

	stream, err := c.StreamTicks(context.Background(), "EUR_USD")
	require.NoError(t, err)
	for range stream.Ticks() {
	}
	assert.ErrorIs(t, stream.Err(), ports.ErrAuthenticationFailed)
	assert.Equal(t, 1, reconnects)
}
