package indicators

import (
	"fmt"
	"sync"

	"simplebot/internal/ports"
)

// Values is the per-bar output of an indicator. Slots stay undefined until
// enough history exists to compute them.
type Values struct {
	mu      sync.RWMutex
	values  []float64
	defined []bool
}

// Set stores v at slot i, growing the store as needed.
func (v *Values) Set(i int, val float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.grow(i + 1)
	v.values[i] = val
	v.defined[i] = true
}

// Unset marks slot i as undefined, growing the store as needed.
func (v *Values) Unset(i int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.grow(i + 1)
	v.values[i] = 0
	v.defined[i] = false
}

// Get returns slot i and whether it holds a value. Negative indices count
// back from the end.
func (v *Values) Get(i int) (float64, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := len(v.values)
	idx := i
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, false, fmt.Errorf("indicator index %d with length %d: %w", i, n, ports.ErrIndexOutOfRange)
	}
	return v.values[idx], v.defined[idx], nil
}

// Len returns the number of slots.
func (v *Values) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}

func (v *Values) grow(n int) {
	for len(v.values) < n {
		v.values = append(v.values, 0)
		v.defined = append(v.defined, false)
	}
}
