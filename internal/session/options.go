package session

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/protocol"
)

// ErrInvalidOptions wraps every Options validation failure.
var ErrInvalidOptions = errors.New("session: invalid options")

// Recorder receives each successful evaluation, in query order.
type Recorder interface {
	Record(p protocol.Point, value float64) error
}

// Options configures one optimization session.
type Options struct {
	// Maximize asks the solver to maximize instead of minimize.
	Maximize bool

	// MaxEvals caps the number of evaluations the solver may request
	// (0 = unbounded).
	MaxEvals uint

	// Constraints is sent to the solver when non-nil.
	Constraints protocol.Constraints

	// Default is the score the solver should assign to points that violate
	// Constraints. Only valid together with Constraints.
	Default *float64

	// CallLog is an opaque record of prior evaluations passed to the solver.
	// It must be JSON-encodable.
	CallLog any

	// Parallelize evaluates batch queries concurrently.
	Parallelize bool

	// Workers bounds concurrent evaluations (0 = GOMAXPROCS).
	Workers int

	// ReceiveTimeout bounds each wait for a solver message (0 = none).
	ReceiveTimeout time.Duration

	// Recorder, when set, observes every evaluation.
	Recorder Recorder
}

// Validate checks the options once, before a session starts.
func (o Options) Validate() error {
	if o.Constraints != nil {
		if err := o.Constraints.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	if o.Default != nil {
		if o.Constraints == nil {
			return fmt.Errorf("%w: default requires constraints", ErrInvalidOptions)
		}
		if math.IsNaN(*o.Default) || math.IsInf(*o.Default, 0) {
			return fmt.Errorf("%w: default must be finite", ErrInvalidOptions)
		}
	}
	if o.CallLog != nil {
		if _, err := codec.Encode(o.CallLog); err != nil {
			return fmt.Errorf("%w: call log: %v", ErrInvalidOptions, err)
		}
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidOptions, o.Workers)
	}
	if o.ReceiveTimeout < 0 {
		return fmt.Errorf("%w: receive timeout must be >= 0, got %v", ErrInvalidOptions, o.ReceiveTimeout)
	}
	return nil
}

func (o Options) init(solver map[string]any) protocol.Init {
	return protocol.Init{
		Solver: solver,
		Optimize: protocol.OptimizeOptions{
			Maximize: o.Maximize,
			MaxEvals: o.MaxEvals,
		},
		Constraints: o.Constraints,
		Default:     o.Default,
		CallLog:     o.CallLog,
	}
}
