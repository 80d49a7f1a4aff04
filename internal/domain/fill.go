package domain

import "time"

// Fill records one executed market order.
type Fill struct {
	ID         int64
	OrderID    string
	Instrument string
	Side       PositionSide // Leg the order opened
	Units      int64        // Absolute size
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	Time       time.Time
}
