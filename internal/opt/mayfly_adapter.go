package opt

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinMayflyPopulation is the smallest population the mayfly library accepts.
const MinMayflyPopulation = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
//
// The library takes one scalar bound for all dimensions, so the search
// runs on the unit cube and every candidate is mapped onto [lower, upper]
// before it reaches eval.
func (m *MayflyAdapter) Run(ctx context.Context, eval Objective, lower, upper []float64) ([]float64, float64, error) {
	if err := checkBounds(lower, upper); err != nil {
		return nil, 0, err
	}
	if m.popSize < MinMayflyPopulation {
		return nil, 0, fmt.Errorf("mayfly population must be >= %d, got %d", MinMayflyPopulation, m.popSize)
	}
	if m.maxIters <= 0 {
		return nil, 0, fmt.Errorf("mayfly iterations must be > 0, got %d", m.maxIters)
	}

	dim := len(lower)
	scale := func(u []float64) []float64 {
		x := make([]float64, dim)
		for i := range u {
			ui := min(max(u[i], 0), 1)
			x[i] = lower[i] + ui*(upper[i]-lower[i])
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 {
		// The library cannot be interrupted; once cancelled every
		// candidate scores the worst cost.
		if ctx.Err() != nil {
			return worstCost
		}
		return eval(scale(u))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1

	// Set random seed for reproducibility
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	return scale(result.GlobalBest.Position), result.GlobalBest.Cost, nil
}
