package domain

import "time"

// Trade represents a completed round trip on one leg of a position.
type Trade struct {
	ID          int64        // Unique identifier for the trade (usually from DB)
	Instrument  string       // Traded instrument (e.g., "EUR_USD")
	Side        PositionSide // Leg that was closed
	EntryPrice  float64      // Average price at which the leg was entered
	ExitPrice   float64      // Price at which the leg was exited
	Units       int64        // Absolute size of the leg
	PNL         float64      // Profit and Loss for this trade
	EntryTime   time.Time    // Timestamp when the leg was entered
	ExitTime    time.Time    // Timestamp when the leg was exited
	CloseReason CloseReason  // Reason why the leg was closed (SL, TP, etc.)
}
