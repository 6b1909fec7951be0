package solver

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/dispatch"
	"github.com/cwbudde/optbridge/internal/protocol"
	"github.com/cwbudde/optbridge/internal/session"
	"github.com/cwbudde/optbridge/internal/transport"
)

// runSession drives Serve in-process through a pair of pipes.
func runSession(t *testing.T, cfg map[string]any, obj dispatch.ObjectiveFunc, opts session.Options) (*session.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientR, solverW := io.Pipe()
	solverR, clientW := io.Pipe()

	served := make(chan error, 1)
	go func() { served <- Serve(ctx, solverR, solverW) }()

	conn := transport.NewConn(clientR, clientW)
	res, err := session.Run(ctx, conn, cfg, obj, opts)
	conn.Close()
	<-served
	return res, err
}

func sphere(_ context.Context, p protocol.Point) (float64, error) {
	var sum float64
	for _, name := range p.Names() {
		v, err := p.Float(name)
		if err != nil {
			return 0, err
		}
		sum += v * v
	}
	return sum, nil
}

func gridConfig(steps, batch int) map[string]any {
	return map[string]any{
		"algorithm": "grid",
		"space":     map[string]any{"x": []any{-2.0, 2.0}, "y": []any{-2.0, 2.0}},
		"steps":     float64(steps),
		"batch":     float64(batch),
	}
}

func TestServe_GridMinimize(t *testing.T) {
	res, err := runSession(t, gridConfig(5, 10), sphere, session.Options{Parallelize: true})
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if res.Solution["x"] != 0.0 || res.Solution["y"] != 0.0 {
		t.Errorf("Expected solution at origin, got %v", res.Solution)
	}
	if res.Record["value"] != 0.0 {
		t.Errorf("Expected value 0, got %v", res.Record["value"])
	}
	if res.Evals != 25 || res.Record["evals"] != 25.0 {
		t.Errorf("Expected 25 evaluations, got client=%d solver=%v", res.Evals, res.Record["evals"])
	}
	if res.Rounds != 3 {
		t.Errorf("Expected 3 batch rounds, got %d", res.Rounds)
	}
}

func TestServe_GridMaximize(t *testing.T) {
	obj := func(_ context.Context, p protocol.Point) (float64, error) {
		x, _ := p.Float("x")
		y, _ := p.Float("y")
		return -(x-1)*(x-1) - (y+1)*(y+1), nil
	}
	res, err := runSession(t, gridConfig(5, 4), obj, session.Options{Maximize: true})
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if res.Solution["x"] != 1.0 || res.Solution["y"] != -1.0 {
		t.Errorf("Expected maximum at (1,-1), got %v", res.Solution)
	}
}

func TestServe_BudgetCapsQueries(t *testing.T) {
	res, err := runSession(t, gridConfig(5, 10), sphere, session.Options{MaxEvals: 7})
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if res.Evals != 7 {
		t.Errorf("Expected 7 client evaluations, got %d", res.Evals)
	}
	if res.Record["budget_exhausted"] != true {
		t.Errorf("Expected budget_exhausted, got %v", res.Record["budget_exhausted"])
	}
}

func TestServe_ConstraintsUseDefault(t *testing.T) {
	cfg := map[string]any{
		"algorithm": "grid",
		"space":     map[string]any{"x": []any{0.0, 1.0}},
		"steps":     5.0,
		"batch":     5.0,
	}
	var mu sync.Mutex
	var queried []float64
	obj := func(_ context.Context, p protocol.Point) (float64, error) {
		x, _ := p.Float("x")
		mu.Lock()
		queried = append(queried, x)
		mu.Unlock()
		return x, nil
	}
	def := 100.0
	res, err := runSession(t, cfg, obj, session.Options{
		Constraints: protocol.Constraints{"min": {"x": 0.5}},
		Default:     &def,
	})
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if res.Solution["x"] != 0.5 {
		t.Errorf("Expected feasible minimum x=0.5, got %v", res.Solution)
	}
	for _, x := range queried {
		if x < 0.5 {
			t.Errorf("Infeasible point x=%v was sent to the client", x)
		}
	}
	if res.Evals != 3 {
		t.Errorf("Expected 3 client evaluations, got %d", res.Evals)
	}
}

type memoryRecorder struct {
	entries []protocol.CallLogEntry
}

func (m *memoryRecorder) Record(p protocol.Point, v float64) error {
	m.entries = append(m.entries, protocol.CallLogEntry{Point: p, Value: v})
	return nil
}

func TestServe_CallLogAnswersKnownPoints(t *testing.T) {
	rec := &memoryRecorder{}
	if _, err := runSession(t, gridConfig(3, 9), sphere, session.Options{Recorder: rec}); err != nil {
		t.Fatalf("First session failed: %v", err)
	}
	if len(rec.entries) != 9 {
		t.Fatalf("Expected 9 recorded evaluations, got %d", len(rec.entries))
	}

	failing := func(context.Context, protocol.Point) (float64, error) {
		return 0, errors.New("must not be called")
	}
	res, err := runSession(t, gridConfig(3, 9), failing, session.Options{CallLog: rec.entries})
	if err != nil {
		t.Fatalf("Second session failed: %v", err)
	}
	if res.Evals != 0 {
		t.Errorf("Expected no client evaluations, got %d", res.Evals)
	}
	if res.Record["cached"] != 9.0 {
		t.Errorf("Expected 9 cached answers, got %v", res.Record["cached"])
	}
	if res.Solution["x"] != 0.0 || res.Solution["y"] != 0.0 {
		t.Errorf("Expected origin from call log, got %v", res.Solution)
	}
}

func TestServe_Mayfly(t *testing.T) {
	cfg := map[string]any{
		"algorithm":  "mayfly",
		"space":      map[string]any{"x": []any{-5.0, 5.0}, "y": []any{-5.0, 5.0}},
		"iterations": 30.0,
		"population": 20.0,
		"seed":       3.0,
	}
	res, err := runSession(t, cfg, sphere, session.Options{MaxEvals: 400})
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if res.Evals == 0 || res.Evals > 400 {
		t.Errorf("Expected between 1 and 400 evaluations, got %d", res.Evals)
	}
	value, _ := res.Record["value"].(float64)
	if value > 1.0 {
		t.Errorf("Expected mayfly to approach the origin, best value %v", value)
	}
	if math.IsNaN(value) {
		t.Error("Best value is NaN")
	}
}

func TestServe_ReportsConfigurationErrors(t *testing.T) {
	cases := map[string]struct {
		cfg  map[string]any
		opts session.Options
		want string
	}{
		"unknown algorithm": {
			cfg:  map[string]any{"algorithm": "annealing", "space": map[string]any{"x": []any{0.0, 1.0}}},
			want: "unknown algorithm",
		},
		"empty space": {
			cfg:  map[string]any{"algorithm": "grid"},
			want: "empty space",
		},
		"infeasible": {
			cfg: gridConfig(3, 3),
			opts: session.Options{Constraints: protocol.Constraints{
				"min": {"x": 2.0},
				"max": {"x": 1.0},
			}},
			want: "infeasible constraints",
		},
		"unknown kind": {
			cfg:  gridConfig(3, 3),
			opts: session.Options{Constraints: protocol.Constraints{"ratio": {"x": 1.0}}},
			want: "unsupported constraint kind",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runSession(t, tc.cfg, sphere, tc.opts)
			var remote *session.RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Expected *session.RemoteError, got %v", err)
			}
			if !strings.Contains(remote.Message, tc.want) {
				t.Errorf("Expected message containing %q, got %q", tc.want, remote.Message)
			}
			if len(remote.LastRequest) == 0 {
				t.Error("Expected the init frame as last request")
			}
		})
	}
}

func TestServe_NoFeasiblePoint(t *testing.T) {
	_, err := runSession(t, gridConfig(3, 3), sphere, session.Options{
		Constraints: protocol.Constraints{"min": {"x": 5.0}},
	})
	var remote *session.RemoteError
	if !errors.As(err, &remote) || remote.Message != ErrNoFeasiblePoint.Error() {
		t.Fatalf("Expected no-feasible-point report, got %v", err)
	}
}

func TestServe_BadReplyIsReported(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientR, solverW := io.Pipe()
	solverR, clientW := io.Pipe()
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, solverR, solverW) }()

	client := transport.NewConn(clientR, clientW)
	defer client.Close()

	init, _ := codec.Encode(protocol.Init{Solver: gridConfig(2, 1)})
	if err := client.Send(ctx, init); err != nil {
		t.Fatalf("Send init failed: %v", err)
	}
	if _, err := client.Receive(ctx); err != nil {
		t.Fatalf("Receive query failed: %v", err)
	}
	if err := client.Send(ctx, []byte(`{"values":[1,2,3]}`)); err != nil {
		t.Fatalf("Send reply failed: %v", err)
	}
	raw, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive report failed: %v", err)
	}
	if !strings.Contains(string(raw), protocol.FieldErrorMsg) {
		t.Errorf("Expected error report, got %s", raw)
	}

	var perr *protocol.ProtocolError
	if err := <-served; !errors.As(err, &perr) {
		t.Errorf("Expected Serve to return *protocol.ProtocolError, got %v", err)
	}
}
