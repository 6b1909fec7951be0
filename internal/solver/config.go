package solver

import (
	"fmt"
	"sort"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/opt"
	"github.com/cwbudde/optbridge/internal/protocol"
)

// Algorithm names accepted in the "algorithm" field.
const (
	AlgorithmMayfly = "mayfly"
	AlgorithmGrid   = "grid"
)

// Config is the "solver" object of Init.
type Config struct {
	Algorithm string               `json:"algorithm"`
	Space     map[string][]float64 `json:"space"`

	// mayfly
	Iterations int   `json:"iterations"`
	Population int   `json:"population"`
	Seed       int64 `json:"seed"`

	// grid
	Steps int `json:"steps"`
	Batch int `json:"batch"`
}

// ParseConfig reads a solver configuration and fills in defaults.
func ParseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		Algorithm:  AlgorithmMayfly,
		Iterations: 50,
		Population: opt.MinMayflyPopulation,
		Seed:       1,
		Steps:      5,
		Batch:      10,
	}
	if raw == nil {
		return cfg, fmt.Errorf("solver configuration is missing")
	}
	data, err := codec.Encode(raw)
	if err != nil {
		return cfg, err
	}
	if err := codec.DecodeInto(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid solver configuration: %w", err)
	}
	if len(cfg.Space) == 0 {
		return cfg, fmt.Errorf("solver configuration has an empty space")
	}
	for name, b := range cfg.Space {
		if name == "" {
			return cfg, fmt.Errorf("space has an empty parameter name")
		}
		if len(b) != 2 {
			return cfg, fmt.Errorf("space %q: expected [lower, upper], got %v", name, b)
		}
		if b[0] > b[1] {
			return cfg, fmt.Errorf("space %q: lower bound %v exceeds upper bound %v", name, b[0], b[1])
		}
	}
	return cfg, nil
}

// Names returns the space's parameter names in sorted order; vectors use
// this order.
func (c Config) Names() []string {
	names := make([]string, 0, len(c.Space))
	for name := range c.Space {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bounds returns the lower and upper vectors in Names order.
func (c Config) Bounds() (lower, upper []float64) {
	for _, name := range c.Names() {
		lower = append(lower, c.Space[name][0])
		upper = append(upper, c.Space[name][1])
	}
	return lower, upper
}

// Optimizer builds the configured algorithm.
func (c Config) Optimizer() (opt.Optimizer, error) {
	switch c.Algorithm {
	case AlgorithmMayfly:
		return opt.NewMayfly(c.Iterations, c.Population, c.Seed), nil
	case AlgorithmGrid:
		return opt.NewGrid(c.Steps, c.Batch), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", c.Algorithm)
	}
}

// bounds holds the "min"/"max" constraints.
type bounds struct {
	min map[string]float64
	max map[string]float64
}

func parseConstraints(c protocol.Constraints, space map[string][]float64) (*bounds, error) {
	if c == nil {
		return nil, nil
	}
	b := &bounds{min: map[string]float64{}, max: map[string]float64{}}
	for kind, params := range c {
		var dst map[string]float64
		switch kind {
		case "min":
			dst = b.min
		case "max":
			dst = b.max
		default:
			return nil, fmt.Errorf("unsupported constraint kind %q", kind)
		}
		for name, spec := range params {
			if _, ok := space[name]; !ok {
				return nil, fmt.Errorf("constraint %q refers to unknown parameter %q", kind, name)
			}
			v, ok := spec.(float64)
			if !ok {
				return nil, fmt.Errorf("constraint %s.%s must be a number, got %v", kind, name, spec)
			}
			dst[name] = v
		}
	}
	for name, lo := range b.min {
		if hi, ok := b.max[name]; ok && lo > hi {
			return nil, fmt.Errorf("infeasible constraints: %s must be >= %v and <= %v", name, lo, hi)
		}
	}
	return b, nil
}

// violated reports whether p breaks any bound.
func (b *bounds) violated(p protocol.Point) bool {
	if b == nil {
		return false
	}
	for name, lo := range b.min {
		if v, err := p.Float(name); err == nil && v < lo {
			return true
		}
	}
	for name, hi := range b.max {
		if v, err := p.Float(name); err == nil && v > hi {
			return true
		}
	}
	return false
}

func parseCallLog(raw any) ([]protocol.CallLogEntry, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := codec.Encode(raw)
	if err != nil {
		return nil, err
	}
	var entries []protocol.CallLogEntry
	if err := codec.DecodeInto(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid call_log: %w", err)
	}
	return entries, nil
}
