// Package solver is a reference solver process. It speaks the protocol
// from the solver side: it reads Init, searches the configured space by
// querying the client for objective values, and ends with a solution or
// an error report.
package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/opt"
	"github.com/cwbudde/optbridge/internal/protocol"
	"github.com/cwbudde/optbridge/internal/transport"
)

// ErrNoFeasiblePoint is reported when the search ends without a client
// evaluation of an admissible point.
var ErrNoFeasiblePoint = errors.New("no feasible point was evaluated")

// Serve runs one session over r (from the client) and w (to the client).
// Errors that can still be reported are sent as "error_msg" before
// Serve returns them.
func Serve(ctx context.Context, r io.Reader, w io.WriteCloser, opts ...transport.Option) error {
	conn := transport.NewConn(r, w, append(opts, transport.AsResponder())...)
	defer conn.Close()

	raw, err := conn.Receive(ctx)
	if err != nil {
		return fmt.Errorf("failed to receive init: %w", err)
	}

	var init protocol.Init
	if err := codec.DecodeInto(raw, &init); err != nil {
		return report(ctx, conn, fmt.Errorf("invalid init: %w", err))
	}
	cfg, err := ParseConfig(init.Solver)
	if err != nil {
		return report(ctx, conn, err)
	}
	optimizer, err := cfg.Optimizer()
	if err != nil {
		return report(ctx, conn, err)
	}
	b, err := parseConstraints(init.Constraints, cfg.Space)
	if err != nil {
		return report(ctx, conn, err)
	}
	if init.Default != nil && b == nil {
		return report(ctx, conn, fmt.Errorf("default requires constraints"))
	}
	history, err := parseCallLog(init.CallLog)
	if err != nil {
		return report(ctx, conn, err)
	}

	slog.Debug("Received init",
		"algorithm", cfg.Algorithm,
		"dims", len(cfg.Space),
		"maximize", init.Optimize.Maximize,
		"max_evals", init.Optimize.MaxEvals,
		"call_log", len(history),
	)

	e := newEvaluator(ctx, conn, cfg.Names(), init, b, history)
	defer e.cancel()

	lower, upper := cfg.Bounds()
	if bo, ok := optimizer.(opt.BatchOptimizer); ok {
		_, _, err = bo.RunBatch(e.ctx, e.evalBatch, lower, upper)
	} else {
		_, _, err = optimizer.Run(e.ctx, e.evalOne, lower, upper)
	}

	switch {
	case e.err != nil:
		if reportable(e.err) {
			return report(ctx, conn, e.err)
		}
		return e.err
	case err != nil && !e.exhausted:
		return report(ctx, conn, err)
	case e.best == nil:
		return report(ctx, conn, ErrNoFeasiblePoint)
	}

	slog.Debug("Search finished", "evals", e.sent, "cached", e.cached, "value", e.bestValue)

	return send(ctx, conn, map[string]any{
		protocol.FieldSolution: map[string]any(e.best),
		"value":                e.bestValue,
		"evals":                e.sent,
		"cached":               e.cached,
		"algorithm":            cfg.Algorithm,
		"budget_exhausted":     e.exhausted,
	})
}

// reportable reports whether the channel is still usable after err.
func reportable(err error) bool {
	var perr *protocol.ProtocolError
	var derr *codec.DecodeError
	return errors.As(err, &perr) || errors.As(err, &derr)
}

func report(ctx context.Context, conn *transport.Conn, cause error) error {
	slog.Debug("Reporting error", "error", cause)
	if err := send(ctx, conn, map[string]any{protocol.FieldErrorMsg: cause.Error()}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func send(ctx context.Context, conn *transport.Conn, msg map[string]any) error {
	payload, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return conn.Send(ctx, payload)
}
