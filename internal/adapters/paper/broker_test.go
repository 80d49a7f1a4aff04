package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplebot/internal/adapters/sqlite"
	"simplebot/internal/domain"
	"simplebot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func quote(sec int, bid, ask string) domain.Tick {
	return domain.Tick{
		Kind:       domain.TickPrice,
		Instrument: "EUR_USD",
		Time:       t0.Add(time.Duration(sec) * time.Second),
		Bid:        decimal.RequireFromString(bid),
		Ask:        decimal.RequireFromString(ask),
	}
}

func ptr(v float64) *float64 { return &v }

func newBroker(t *testing.T, slippage float64) (*Broker, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: ":memory:", Logger: nopLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	b, err := NewBroker(Config{
		StartingBalance: 10000,
		SlippageBps:     slippage,
		Logger:          nopLogger{},
		Fills:           repo,
		Trades:          repo,
	})
	require.NoError(t, err)
	return b, repo
}

func TestNewBroker_Validation(t *testing.T) {
	_, err := NewBroker(Config{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewBroker(Config{Logger: nopLogger{}, SlippageBps: -1})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestSubmitOrder_RequiresQuote(t *testing.T) {
	b, _ := newBroker(t, 0)
	_, err := b.SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "EUR_USD", Units: 100})
	assert.ErrorIs(t, err, ports.ErrBrokerUnavailable)

	require.NoError(t, b.OnTick(quote(0, "1.1000", "1.1002")))
	_, err = b.SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "EUR_USD"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestSubmitOrder_FillsAtQuoteWithSlippage(t *testing.T) {
	ctx := context.Background()
	b, repo := newBroker(t, 10) // 0.1%
	require.NoError(t, b.OnTick(quote(0, "1.0000", "2.0000")))

	buy, err := b.SubmitOrder(ctx, domain.OrderRequest{Instrument: "EUR_USD", Units: 100, ClientOrderID: "c1"})
	require.NoError(t, err)
	assert.InDelta(t, 2.002, buy.Price, 1e-9)
	assert.Equal(t, "c1", buy.ClientOrderID)
	assert.NotEmpty(t, buy.OrderID)

	sell, err := b.SubmitOrder(ctx, domain.OrderRequest{Instrument: "EUR_USD", Units: -50})
	require.NoError(t, err)
	assert.InDelta(t, 0.999, sell.Price, 1e-9)

	pos, err := b.GetOpenPosition(ctx, "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos.LongUnits)
	assert.Equal(t, int64(-50), pos.ShortUnits)

	fills, err := repo.FindFillsByInstrument(ctx, "EUR_USD", 10)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, domain.SideShort, fills[0].Side)
	assert.Equal(t, int64(50), fills[0].Units)
}

func TestSubmitOrder_AveragesEntry(t *testing.T) {
	ctx := context.Background()
	b, _ := newBroker(t, 0)
	require.NoError(t, b.OnTick(quote(0, "0.9", "1.0")))
	_, err := b.SubmitOrder(ctx, domain.OrderRequest{Instrument: "EUR_USD", Units: 100})
	require.NoError(t, err)
	require.NoError(t, b.OnTick(quote(1, "1.9", "2.0")))
	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Instrument: "EUR_USD", Units: 300})
	require.NoError(t, err)

	require.NoError(t, b.ClosePosition(ctx, "EUR_USD", domain.CloseRequest{Long: true}))
	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 1.75, trades[0].EntryPrice, 1e-9)
	assert.Equal(t, int64(400), trades[0].Units)
}

func TestClosePosition_RealizesPnL(t *testing.T) {
	ctx := context.Background()
	b, repo := newBroker(t, 0)
	require.NoError(t, b.OnTick(quote(0, "1.1000", "1.1002")))
	_, err := b.SubmitOrder(ctx, domain.OrderRequest{Instrument: "EUR_USD", Units: 1000})
	require.NoError(t, err)
	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Instrument: "EUR_USD", Units: -1000})
	require.NoError(t, err)

	require.NoError(t, b.OnTick(quote(60, "1.1100", "1.1102")))
	require.NoError(t, b.ClosePosition(ctx, "EUR_USD", domain.CloseRequest{Long: true, Short: true}))

	trades := b.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, domain.SideLong, trades[0].Side)
	assert.InDelta(t, 9.8, trades[0].PNL, 1e-9)   // (1.1100 - 1.1002) * 1000
	assert.InDelta(t, -10.2, trades[1].PNL, 1e-9) // (1.1000 - 1.1102) * 1000
	assert.Equal(t, domain.CloseReasonSignal, trades[1].CloseReason)
	assert.InDelta(t, 9999.6, b.Balance(), 1e-9)

	pos, err := b.GetOpenPosition(ctx, "EUR_USD")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())

	total, err := repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -0.4, total, 1e-9)
}

func TestClosePosition_MissingLeg(t *testing.T) {
	ctx := context.Background()
	b, _ := newBroker(t, 0)
	require.NoError(t, b.OnTick(quote(0, "1.1000", "1.1002")))
	err := b.ClosePosition(ctx, "EUR_USD", domain.CloseRequest{Long: true})
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestOnTick_ProtectiveOrders(t *testing.T) {
	tests := []struct {
		name   string
		units  int64
		sl, tp float64
		next   domain.Tick
		reason domain.CloseReason
	}{
		{"long stop loss", 100, 1.0950, 1.1050, quote(5, "1.0949", "1.0951"), domain.CloseReasonStopLoss},
		{"long take profit", 100, 1.0950, 1.1050, quote(5, "1.1050", "1.1052"), domain.CloseReasonTakeProfit},
		{"short stop loss", -100, 1.1050, 1.0950, quote(5, "1.1049", "1.1051"), domain.CloseReasonStopLoss},
		{"short take profit", -100, 1.1050, 1.0950, quote(5, "1.0948", "1.0950"), domain.CloseReasonTakeProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := newBroker(t, 0)
			require.NoError(t, b.OnTick(quote(0, "1.1000", "1.1000")))
			_, err := b.SubmitOrder(ctx, domain.OrderRequest{
				Instrument: "EUR_USD",
				Units:      tt.units,
				StopLoss:   ptr(tt.sl),
				TakeProfit: ptr(tt.tp),
			})
			require.NoError(t, err)

			require.NoError(t, b.OnTick(quote(1, "1.1000", "1.1000")))
			assert.Empty(t, b.Trades(), "quote inside the band keeps the leg open")

			require.NoError(t, b.OnTick(tt.next))
			trades := b.Trades()
			require.Len(t, trades, 1)
			assert.Equal(t, tt.reason, trades[0].CloseReason)
			assert.Equal(t, tt.next.Time, trades[0].ExitTime)

			pos, err := b.GetOpenPosition(ctx, "EUR_USD")
			require.NoError(t, err)
			assert.True(t, pos.IsFlat())
		})
	}
}

func TestOnTick_IgnoresHeartbeats(t *testing.T) {
	b, _ := newBroker(t, 0)
	require.NoError(t, b.OnTick(domain.Tick{Kind: domain.TickHeartbeat, Time: t0}))
	_, err := b.SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "EUR_USD", Units: 1})
	assert.ErrorIs(t, err, ports.ErrBrokerUnavailable)
}
