// Package dispatch evaluates solver queries against a local objective
// function and builds the value replies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/optbridge/internal/protocol"
)

// Objective scores one point. Implementations may block, keep state or
// fail; with parallel dispatch Evaluate is called from several goroutines
// at once.
type Objective interface {
	Evaluate(ctx context.Context, p protocol.Point) (float64, error)
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(ctx context.Context, p protocol.Point) (float64, error)

// Evaluate calls f(ctx, p).
func (f ObjectiveFunc) Evaluate(ctx context.Context, p protocol.Point) (float64, error) {
	return f(ctx, p)
}

// EvaluationError reports the point the objective failed on.
// Index is the position in the batch, or -1 for a single-point query.
type EvaluationError struct {
	Index int
	Point protocol.Point
	Err   error
}

func (e *EvaluationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("objective failed at point %v: %v", map[string]any(e.Point), e.Err)
	}
	return fmt.Sprintf("objective failed at batch index %d (point %v): %v", e.Index, map[string]any(e.Point), e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ErrNotQuery is returned when Dispatch is handed a terminal message.
var ErrNotQuery = errors.New("dispatch: message is not a query")

// Dispatcher runs queries against an objective.
type Dispatcher struct {
	objective Objective
	parallel  bool
	workers   int
}

// New creates a dispatcher. When parallel is true, batches of more than one
// point are evaluated concurrently by at most workers goroutines
// (workers <= 0 means GOMAXPROCS).
func New(objective Objective, parallel bool, workers int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Dispatcher{
		objective: objective,
		parallel:  parallel,
		workers:   workers,
	}
}

// Dispatch evaluates a *protocol.PointQuery or *protocol.BatchQuery.
// A batch yields values index-aligned with its points. Any failure aborts
// the whole query: no partial reply is ever returned.
func (d *Dispatcher) Dispatch(ctx context.Context, query protocol.Response) (protocol.ValueReply, error) {
	switch q := query.(type) {
	case *protocol.PointQuery:
		v, err := d.evaluate(ctx, -1, q.Point)
		if err != nil {
			return protocol.ValueReply{}, err
		}
		return protocol.SingleValue(v), nil
	case *protocol.BatchQuery:
		values, err := d.evaluateBatch(ctx, q.Points)
		if err != nil {
			return protocol.ValueReply{}, err
		}
		return protocol.BatchValues(values), nil
	default:
		return protocol.ValueReply{}, fmt.Errorf("%w: %T", ErrNotQuery, query)
	}
}

func (d *Dispatcher) evaluateBatch(ctx context.Context, points []protocol.Point) ([]float64, error) {
	results := make([]float64, len(points))

	if !d.parallel || len(points) < 2 {
		for i, p := range points {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := d.evaluate(ctx, i, p)
			if err != nil {
				return nil, err
			}
			results[i] = v
		}
		return results, nil
	}

	// Each worker owns results[i]; the join is the only synchronization.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, p := range points {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := d.evaluate(gctx, i, p)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Dispatcher) evaluate(ctx context.Context, index int, p protocol.Point) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EvaluationError{Index: index, Point: p, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, err = d.objective.Evaluate(ctx, p)
	if err != nil {
		return 0, &EvaluationError{Index: index, Point: p, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvaluationError{Index: index, Point: p, Err: fmt.Errorf("non-finite value %v", v)}
	}
	return v, nil
}
