package aggregator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"simplebot/internal/ports"
)

var granularityRe = regexp.MustCompile(`^([SMHD])(\d+)?$`)

var granularityUnits = map[string]time.Duration{
	"S": time.Second,
	"M": time.Minute,
	"H": time.Hour,
	"D": 24 * time.Hour,
}

// ParseGranularity converts "<unit><n>" (S, M, H or D, n defaulting to 1)
// into the bar interval, e.g. "M5" is five minutes and "S" one second.
func ParseGranularity(s string) (time.Duration, error) {
	m := granularityRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("can't handle granularity %q: %w", s, ports.ErrInvalidGranularity)
	}
	n := 1
	if m[2] != "" {
		v, err := strconv.Atoi(m[2])
		if err != nil || v < 1 {
			return 0, fmt.Errorf("can't handle granularity %q: %w", s, ports.ErrInvalidGranularity)
		}
		n = v
	}
	unit := granularityUnits[m[1]]
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("granularity %q overflows the interval range: %w", s, ports.ErrInvalidGranularity)
	}
	return unit * time.Duration(n), nil
}
