// Package objective provides objectives for the run command: benchmark
// functions evaluated in-process and an adapter that scores points with
// an external command.
package objective

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/optbridge/internal/dispatch"
	"github.com/cwbudde/optbridge/internal/protocol"
)

// Func scores a parameter vector. Vectors follow the point's sorted
// parameter names.
type Func func(x []float64) (float64, error)

var builtins = map[string]Func{
	"sphere":     Sphere,
	"rosenbrock": Rosenbrock,
	"rastrigin":  Rastrigin,
	"booth":      Booth,
}

// Builtins returns the names of the built-in objectives, sorted.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin looks up a built-in objective by name.
func Builtin(name string) (dispatch.Objective, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (built-ins: %v)", name, Builtins())
	}
	return FromFunc(f), nil
}

// FromFunc adapts a vector function to dispatch.Objective.
func FromFunc(f Func) dispatch.Objective {
	return dispatch.ObjectiveFunc(func(ctx context.Context, p protocol.Point) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		x, err := Vector(p)
		if err != nil {
			return 0, err
		}
		return f(x)
	})
}

// Vector returns the point's values in sorted-name order.
func Vector(p protocol.Point) ([]float64, error) {
	names := p.Names()
	x := make([]float64, len(names))
	for i, name := range names {
		v, err := p.Float(name)
		if err != nil {
			return nil, err
		}
		x[i] = v
	}
	return x, nil
}

// Sphere is sum(x_i^2). Minimum 0 at the origin.
func Sphere(x []float64) (float64, error) {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// Rosenbrock is the banana function. Minimum 0 at (1, ..., 1).
func Rosenbrock(x []float64) (float64, error) {
	if len(x) < 2 {
		return 0, fmt.Errorf("rosenbrock needs at least 2 parameters, got %d", len(x))
	}
	var sum float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum, nil
}

// Rastrigin is highly multimodal. Minimum 0 at the origin.
func Rastrigin(x []float64) (float64, error) {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum, nil
}

// Booth takes exactly two parameters. Minimum 0 at (1, 3).
func Booth(x []float64) (float64, error) {
	if len(x) != 2 {
		return 0, fmt.Errorf("booth needs exactly 2 parameters, got %d", len(x))
	}
	a := x[0] + 2*x[1] - 7
	b := 2*x[0] + x[1] - 5
	return a*a + b*b, nil
}
