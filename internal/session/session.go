// Package session drives one optimization run: it starts the solver,
// sends Init, and answers solver queries with local objective values until
// the solver returns a solution or reports an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/dispatch"
	"github.com/cwbudde/optbridge/internal/protocol"
	"github.com/cwbudde/optbridge/internal/transport"
)

// State is a driver state.
type State int

const (
	StateInit State = iota
	StateAwaiting
	StateDispatching
	StateSolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaiting:
		return "awaiting"
	case StateDispatching:
		return "dispatching"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Channel is the framed request/response link to a solver.
// *transport.Conn implements it.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Result is the outcome of a solved session.
type Result struct {
	// Solution is the best point reported by the solver.
	Solution protocol.Point

	// Record is the full terminal message, diagnostics included.
	Record map[string]any

	// Evals counts objective invocations made by this client.
	Evals int

	// Rounds counts queries answered.
	Rounds int
}

// RemoteError is a failure reported by the solver. LastRequest is the
// last frame sent to the solver before the report.
type RemoteError struct {
	Message     string
	LastRequest []byte
	Record      map[string]any
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "solver reported an error"
	}
	return e.Message
}

// Optimize runs a session against the solver started from command.
// The solver process is torn down before Optimize returns, whatever the
// outcome.
func Optimize(ctx context.Context, command []string, solver map[string]any, objective dispatch.Objective, opts Options, topts ...transport.Option) (*Result, error) {
	if err := validateSession(solver, objective, opts); err != nil {
		return nil, err
	}

	topts = append(topts, transport.WithReceiveTimeout(opts.ReceiveTimeout))
	conn, err := transport.Open(ctx, command, topts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("Solver exit", "error", err)
		}
	}()

	return Run(ctx, conn, solver, objective, opts)
}

// Run drives a session over an already open channel.
func Run(ctx context.Context, ch Channel, solver map[string]any, objective dispatch.Objective, opts Options) (*Result, error) {
	if err := validateSession(solver, objective, opts); err != nil {
		return nil, err
	}
	d := &driver{
		ch:         ch,
		dispatcher: dispatch.New(objective, opts.Parallelize, opts.Workers),
		recorder:   opts.Recorder,
	}

	start := time.Now()
	slog.Info("Starting session",
		"maximize", opts.Maximize,
		"max_evals", opts.MaxEvals,
		"constraints", opts.Constraints != nil,
		"parallel", opts.Parallelize,
	)

	res, err := d.run(ctx, opts.init(solver))
	if err != nil {
		slog.Warn("Session failed", "state", d.state, "rounds", d.rounds, "evals", d.evals, "error", err)
		return nil, err
	}
	slog.Info("Session solved", "rounds", res.Rounds, "evals", res.Evals, "elapsed", time.Since(start))
	return res, nil
}

func validateSession(solver map[string]any, objective dispatch.Objective, opts Options) error {
	if solver == nil {
		return fmt.Errorf("%w: solver configuration is required", ErrInvalidOptions)
	}
	if objective == nil {
		return fmt.Errorf("%w: objective is required", ErrInvalidOptions)
	}
	return opts.Validate()
}

type driver struct {
	ch         Channel
	dispatcher *dispatch.Dispatcher
	recorder   Recorder

	state    State
	lastSent []byte
	rounds   int
	evals    int
}

func (d *driver) run(ctx context.Context, init protocol.Init) (*Result, error) {
	d.state = StateInit
	payload, err := codec.Encode(init)
	if err != nil {
		d.state = StateFailed
		return nil, fmt.Errorf("failed to encode init: %w", err)
	}
	if err := d.send(ctx, payload); err != nil {
		return nil, err
	}

	for {
		d.state = StateAwaiting
		resp, err := d.receive(ctx)
		if err != nil {
			d.state = StateFailed
			return nil, err
		}

		switch r := resp.(type) {
		case *protocol.Solution:
			d.state = StateSolved
			return &Result{
				Solution: r.Point,
				Record:   r.Record,
				Evals:    d.evals,
				Rounds:   d.rounds,
			}, nil
		case *protocol.ErrorReport:
			d.state = StateFailed
			return nil, &RemoteError{Message: r.Message, LastRequest: d.lastSent, Record: r.Record}
		default:
			d.state = StateDispatching
			if err := d.answer(ctx, resp); err != nil {
				d.state = StateFailed
				return nil, err
			}
		}
	}
}

func (d *driver) receive(ctx context.Context) (protocol.Response, error) {
	raw, err := d.ch.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive solver message: %w", err)
	}
	msg, err := codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return protocol.Classify(msg, raw)
}

func (d *driver) answer(ctx context.Context, query protocol.Response) error {
	d.rounds++
	points := queryPoints(query)
	slog.Debug("Dispatching query", "round", d.rounds, "points", len(points))

	reply, err := d.dispatcher.Dispatch(ctx, query)
	if err != nil {
		return err
	}
	d.evals += len(points)
	d.record(points, reply)

	payload, err := codec.Encode(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	return d.send(ctx, payload)
}

func (d *driver) send(ctx context.Context, payload []byte) error {
	if err := d.ch.Send(ctx, payload); err != nil {
		d.state = StateFailed
		return fmt.Errorf("failed to send to solver: %w", err)
	}
	d.lastSent = payload
	return nil
}

func (d *driver) record(points []protocol.Point, reply protocol.ValueReply) {
	if d.recorder == nil {
		return
	}
	values := reply.Values
	if reply.Value != nil {
		values = []float64{*reply.Value}
	}
	for i, p := range points {
		if err := d.recorder.Record(p, values[i]); err != nil {
			slog.Warn("Failed to record evaluation", "error", err)
			return
		}
	}
}

func queryPoints(query protocol.Response) []protocol.Point {
	switch q := query.(type) {
	case *protocol.PointQuery:
		return []protocol.Point{q.Point}
	case *protocol.BatchQuery:
		return q.Points
	}
	return nil
}

// IsRemote reports whether err is a failure reported by the solver itself.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
