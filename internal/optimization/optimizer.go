// Package optimization runs a grid search over strategy parameters.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"simplebot/internal/analytics"
	"simplebot/internal/ports"
)

// ParameterRange defines one swept parameter.
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// Params is one point of the grid, keyed by ParameterRange.Name.
type Params map[string]float64

// Int returns the named parameter rounded to an int.
func (p Params) Int(name string) int {
	return int(math.Round(p[name]))
}

// RunFunc evaluates one parameter set, typically a replay.
type RunFunc func(ctx context.Context, params Params) (*analytics.Report, error)

// Result holds the outcome of one run.
type Result struct {
	Params Params
	Report *analytics.Report
	Score  float64
}

// Config holds configuration for the optimizer.
type Config struct {
	Ranges  []ParameterRange
	Workers int // concurrent runs, defaults to 4
	Score   func(*analytics.Report) float64
	// Valid filters combinations before they are run (optional).
	Valid  func(Params) bool
	Logger ports.Logger
}

// Optimizer runs every valid combination of its ranges.
type Optimizer struct {
	cfg Config
}

// New validates the ranges and creates an optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer: %w", ports.ErrConfigurationError)
	}
	if len(cfg.Ranges) == 0 {
		return nil, fmt.Errorf("at least one parameter range is required: %w", ports.ErrConfigurationError)
	}
	for _, r := range cfg.Ranges {
		if r.Name == "" || r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("invalid range %q [%v..%v step %v]: %w", r.Name, r.Min, r.Max, r.Step, ports.ErrConfigurationError)
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Score == nil {
		cfg.Score = DefaultScore
	}
	return &Optimizer{cfg: cfg}, nil
}

// Combinations returns every grid point that passes Valid, in range order.
func (o *Optimizer) Combinations() []Params {
	var out []Params
	current := make(Params, len(o.cfg.Ranges))

	var generate func(int)
	generate = func(i int) {
		if i == len(o.cfg.Ranges) {
			if o.cfg.Valid != nil && !o.cfg.Valid(current) {
				return
			}
			p := make(Params, len(current))
			for k, v := range current {
				p[k] = v
			}
			out = append(out, p)
			return
		}
		r := o.cfg.Ranges[i]
		// Half a step of slack absorbs float accumulation at Max.
		for n := 0; ; n++ {
			v := r.Min + float64(n)*r.Step
			if v > r.Max+r.Step/2 {
				break
			}
			if r.IsInt {
				v = math.Round(v)
			}
			current[r.Name] = v
			generate(i + 1)
		}
	}
	generate(0)
	return out
}

// Optimize runs every combination on a bounded pool of workers and returns
// the successful results sorted by descending score. Failed runs are logged
// and left out; an error is returned only when no run succeeded or ctx ended.
func (o *Optimizer) Optimize(ctx context.Context, run RunFunc) ([]Result, error) {
	combinations := o.Combinations()
	if len(combinations) == 0 {
		return nil, fmt.Errorf("no valid parameter combinations: %w", ports.ErrConfigurationError)
	}
	o.cfg.Logger.Info(ctx, "Starting parameter sweep", map[string]interface{}{
		"combinations": len(combinations),
		"workers":      o.cfg.Workers,
	})

	jobs := make(chan Params)
	results := make(chan Result, len(combinations))
	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		lastErr error
	)

	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for params := range jobs {
				report, err := run(ctx, params)
				if err != nil {
					o.cfg.Logger.Warn(ctx, "Sweep run failed", map[string]interface{}{"params": params, "error": err.Error()})
					errMu.Lock()
					lastErr = err
					errMu.Unlock()
					continue
				}
				results <- Result{Params: params, Report: report, Score: o.cfg.Score(report)}
			}
		}()
	}

feed:
	for _, params := range combinations {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- params:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(combinations))
	for r := range results {
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("all %d sweep runs failed: %w", len(combinations), lastErr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// DefaultScore blends win rate, profit factor, drawdown and return.
func DefaultScore(r *analytics.Report) float64 {
	if r == nil || r.TotalTrades == 0 {
		return math.Inf(-1)
	}
	score := r.WinRate * 0.3
	score += math.Min(r.ProfitFactor, 5) * 0.2
	score += (1 - r.MaxDrawdown) * 0.2
	score += r.Return * 0.3
	return score
}

// ParseRange parses "min:max:step", or a single value, into a range.
func ParseRange(name, s string, isInt bool) (ParameterRange, error) {
	parts := strings.Split(s, ":")
	if len(parts) == 1 {
		parts = []string{parts[0], parts[0], "1"}
	}
	if len(parts) != 3 {
		return ParameterRange{}, fmt.Errorf("range %q for %s must be min:max:step: %w", s, name, ports.ErrConfigurationError)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ParameterRange{}, fmt.Errorf("range %q for %s: %w", s, name, errors.Join(ports.ErrConfigurationError, err))
		}
		vals[i] = v
	}
	return ParameterRange{Name: name, Min: vals[0], Max: vals[1], Step: vals[2], IsInt: isInt}, nil
}
