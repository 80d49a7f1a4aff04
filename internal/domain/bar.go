package domain

import "time"

// Bar is one completed price interval of an instrument.
type Bar struct {
	Time   time.Time `json:"time"`   // Start of the interval
	Close  float64   `json:"close"`  // Last mid price seen in the interval
	Volume int64     `json:"volume"` // Number of price ticks in the interval
}
