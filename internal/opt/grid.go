package opt

import (
	"context"
	"fmt"
	"math"
)

// worstCost scores candidates that must never win.
const worstCost = math.MaxFloat64

// Grid evaluates a regular lattice over the search box.
type Grid struct {
	steps int
	batch int
}

// NewGrid creates a grid search with steps points per dimension,
// submitting batch candidates at a time.
func NewGrid(steps, batch int) *Grid {
	return &Grid{steps: steps, batch: batch}
}

// Run evaluates the lattice one candidate at a time.
func (g *Grid) Run(ctx context.Context, eval Objective, lower, upper []float64) ([]float64, float64, error) {
	return g.RunBatch(ctx, func(xs [][]float64) []float64 {
		costs := make([]float64, len(xs))
		for i, x := range xs {
			costs[i] = eval(x)
		}
		return costs
	}, lower, upper)
}

// RunBatch evaluates the lattice in lexicographic order, batch candidates
// per call. It stops between batches when ctx is cancelled.
func (g *Grid) RunBatch(ctx context.Context, eval BatchObjective, lower, upper []float64) ([]float64, float64, error) {
	if err := checkBounds(lower, upper); err != nil {
		return nil, 0, err
	}
	if g.steps < 1 {
		return nil, 0, fmt.Errorf("grid steps must be >= 1, got %d", g.steps)
	}
	if g.batch < 1 {
		return nil, 0, fmt.Errorf("grid batch must be >= 1, got %d", g.batch)
	}

	dim := len(lower)
	idx := make([]int, dim)
	done := false

	var best []float64
	bestCost := worstCost

	for !done {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		var xs [][]float64
		for len(xs) < g.batch && !done {
			xs = append(xs, g.point(idx, lower, upper))
			done = advance(idx, g.steps)
		}

		costs := eval(xs)
		if len(costs) != len(xs) {
			return nil, 0, fmt.Errorf("batch objective returned %d costs for %d candidates", len(costs), len(xs))
		}
		for i, c := range costs {
			if best == nil || c < bestCost {
				best, bestCost = xs[i], c
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return best, bestCost, nil
}

func (g *Grid) point(idx []int, lower, upper []float64) []float64 {
	x := make([]float64, len(idx))
	for i, k := range idx {
		if g.steps == 1 {
			x[i] = (lower[i] + upper[i]) / 2
			continue
		}
		x[i] = lower[i] + float64(k)*(upper[i]-lower[i])/float64(g.steps-1)
	}
	return x
}

// advance steps idx like an odometer and reports whether it wrapped.
func advance(idx []int, steps int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < steps {
			return false
		}
		idx[i] = 0
	}
	return true
}
