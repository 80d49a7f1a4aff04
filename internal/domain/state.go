package domain

// IndicatorState is the discrete market state derived from an indicator.
type IndicatorState int

const (
	StateNeutral IndicatorState = iota
	StateShort
	StateLong
)

// String returns the string representation of the state.
func (s IndicatorState) String() string {
	switch s {
	case StateNeutral:
		return "NEUTRAL"
	case StateShort:
		return "SHORT"
	case StateLong:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

// Direction returns +1 for LONG, -1 for SHORT and 0 otherwise.
func (s IndicatorState) Direction() int64 {
	switch s {
	case StateLong:
		return 1
	case StateShort:
		return -1
	default:
		return 0
	}
}
