package ports

import (
	"context"

	"simplebot/internal/domain"
)

// FillRepository stores order executions of the paper broker.
type FillRepository interface {
	// CreateFill saves a new fill and returns its assigned ID.
	CreateFill(ctx context.Context, fill *domain.Fill) (int64, error)
	// FindFillsByInstrument retrieves the most recent fills, newest first, up to a limit.
	FindFillsByInstrument(ctx context.Context, instrument string, limit int) ([]*domain.Fill, error)
}

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindByInstrument retrieves the most recent trades for an instrument, up to a limit.
	FindByInstrument(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error)
	// GetTotalProfit calculates the sum of PNL for all recorded trades.
	GetTotalProfit(ctx context.Context) (float64, error)
}
