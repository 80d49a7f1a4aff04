package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"simplebot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: ":memory:"})
	assert.Error(t, err)
}

func TestRepository_Fills(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sl := 1.0950

	first := &domain.Fill{OrderID: "a", Instrument: "EUR_USD", Side: domain.SideLong, Units: 1000, Price: 1.1, StopLoss: &sl, Time: base}
	second := &domain.Fill{OrderID: "b", Instrument: "EUR_USD", Side: domain.SideShort, Units: 1000, Price: 1.2, Time: base.Add(time.Minute)}
	other := &domain.Fill{OrderID: "c", Instrument: "GBP_USD", Side: domain.SideLong, Units: 10, Price: 1.3, Time: base}

	for _, f := range []*domain.Fill{first, second, other} {
		id, err := repo.CreateFill(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, id, f.ID)
	}

	fills, err := repo.FindFillsByInstrument(ctx, "EUR_USD", 10)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "b", fills[0].OrderID)
	assert.Nil(t, fills[0].StopLoss)
	assert.Equal(t, domain.SideShort, fills[0].Side)
	assert.Equal(t, "a", fills[1].OrderID)
	require.NotNil(t, fills[1].StopLoss)
	assert.InDelta(t, sl, *fills[1].StopLoss, 1e-9)
	assert.Nil(t, fills[1].TakeProfit)

	limited, err := repo.FindFillsByInstrument(ctx, "EUR_USD", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRepository_Trades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	trades := []*domain.Trade{
		{Instrument: "EUR_USD", Side: domain.SideLong, EntryPrice: 1.1, ExitPrice: 1.2, Units: 100, PNL: 10, EntryTime: base, ExitTime: base.Add(time.Hour), CloseReason: domain.CloseReasonTakeProfit},
		{Instrument: "EUR_USD", Side: domain.SideShort, EntryPrice: 1.2, ExitPrice: 1.25, Units: 100, PNL: -5, EntryTime: base.Add(time.Hour), ExitTime: base.Add(2 * time.Hour), CloseReason: domain.CloseReasonSignal},
	}
	for _, tr := range trades {
		_, err := repo.CreateTrade(ctx, tr)
		require.NoError(t, err)
	}

	found, err := repo.FindByInstrument(ctx, "EUR_USD", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, domain.CloseReasonSignal, found[0].CloseReason)
	assert.Equal(t, domain.SideShort, found[0].Side)
	assert.Equal(t, domain.CloseReasonTakeProfit, found[1].CloseReason)

	total, err := repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, total, 1e-9)

	none, err := repo.FindByInstrument(ctx, "USD_JPY", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
