package ports

import (
	"context"

	"simplebot/internal/domain"
)

// OrderResponse contains the essential details of a filled market order.
type OrderResponse struct {
	OrderID       string
	ClientOrderID string
	Instrument    string
	Units         int64
	Price         float64 // average fill price, 0 if the broker did not report it
}

// Broker defines the order routing operations used by the trading state machine.
type Broker interface {
	// SubmitOrder places a market order, attaching stop-loss and take-profit
	// orders when the request carries them.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*OrderResponse, error)
	// GetOpenPosition returns the current exposure on instrument.
	// A flat instrument yields a zero position, not an error.
	GetOpenPosition(ctx context.Context, instrument string) (*domain.OpenPosition, error)
	// ClosePosition closes the requested legs entirely.
	ClosePosition(ctx context.Context, instrument string, req domain.CloseRequest) error
}
