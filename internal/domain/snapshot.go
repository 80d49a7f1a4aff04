package domain

import "time"

// Snapshot is a read-only view of the pipeline for monitoring collaborators.
type Snapshot struct {
	Instrument  string         `json:"instrument"`
	Granularity string         `json:"granularity"`
	State       string         `json:"state"`
	Value       *float64       `json:"value,omitempty"` // latest crossover value, nil before enough history
	Bars        []Bar          `json:"bars"`
	Length      int            `json:"length"`
	TakenAt     time.Time      `json:"takenAt"`
	Indicator   IndicatorState `json:"-"`
}
