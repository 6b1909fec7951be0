package opt

import (
	"context"
	"fmt"
)

// Objective scores one parameter vector; lower is better.
type Objective func(x []float64) float64

// BatchObjective scores several vectors at once, index-aligned.
type BatchObjective func(xs [][]float64) []float64

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run minimizes eval over the box [lower, upper].
	// Cancelling ctx stops the search as early as the algorithm allows.
	// Returns: best parameters and best cost
	Run(ctx context.Context, eval Objective, lower, upper []float64) ([]float64, float64, error)
}

// BatchOptimizer is implemented by optimizers that can submit several
// candidates per step.
type BatchOptimizer interface {
	Optimizer
	RunBatch(ctx context.Context, eval BatchObjective, lower, upper []float64) ([]float64, float64, error)
}

func checkBounds(lower, upper []float64) error {
	if len(lower) == 0 {
		return fmt.Errorf("search space has no dimensions")
	}
	if len(lower) != len(upper) {
		return fmt.Errorf("bounds length mismatch: %d lower, %d upper", len(lower), len(upper))
	}
	for i := range lower {
		if !(lower[i] <= upper[i]) {
			return fmt.Errorf("dimension %d: lower bound %v exceeds upper bound %v", i, lower[i], upper[i])
		}
	}
	return nil
}
