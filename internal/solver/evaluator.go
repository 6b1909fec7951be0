package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/protocol"
	"github.com/cwbudde/optbridge/internal/transport"
)

const worstCost = math.MaxFloat64

// evaluator turns optimizer candidates into client queries. It applies the
// budget, constraints and call log, tracks the best point in client terms
// and cancels the search on the first fatal error.
type evaluator struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *transport.Conn

	names    []string
	maximize bool
	budget   uint
	bounds   *bounds
	deflt    *float64
	memo     map[string]float64

	sent      uint
	cached    int
	exhausted bool
	err       error

	best      protocol.Point
	bestValue float64
}

func newEvaluator(ctx context.Context, conn *transport.Conn, names []string, init protocol.Init, b *bounds, log []protocol.CallLogEntry) *evaluator {
	ctx, cancel := context.WithCancel(ctx)
	e := &evaluator{
		ctx:      ctx,
		cancel:   cancel,
		conn:     conn,
		names:    names,
		maximize: init.Optimize.Maximize,
		budget:   init.Optimize.MaxEvals,
		bounds:   b,
		deflt:    init.Default,
		memo:     make(map[string]float64, len(log)),
	}
	for _, entry := range log {
		e.memo[pointKey(entry.Point)] = entry.Value
	}
	return e
}

func pointKey(p protocol.Point) string {
	data, _ := codec.Encode(map[string]any(p))
	return string(data)
}

func (e *evaluator) point(x []float64) protocol.Point {
	p := make(protocol.Point, len(x))
	for i, name := range e.names {
		p[name] = x[i]
	}
	return p
}

// cost converts a client value to the minimized quantity.
func (e *evaluator) cost(value float64) float64 {
	if e.maximize {
		return -value
	}
	return value
}

func (e *evaluator) observe(p protocol.Point, value float64) {
	if e.best == nil || e.cost(value) < e.cost(e.bestValue) {
		e.best, e.bestValue = p, value
	}
}

// local scores p without the client when it violates the constraints or
// appears in the call log.
func (e *evaluator) local(p protocol.Point) (float64, bool) {
	if e.bounds.violated(p) {
		if e.deflt != nil {
			return e.cost(*e.deflt), true
		}
		return worstCost, true
	}
	if v, ok := e.memo[pointKey(p)]; ok {
		e.cached++
		e.observe(p, v)
		return e.cost(v), true
	}
	return 0, false
}

// reserve grants up to n client evaluations from the budget.
func (e *evaluator) reserve(n int) int {
	if e.ctx.Err() != nil {
		return 0
	}
	if e.budget == 0 {
		e.sent += uint(n)
		return n
	}
	remaining := e.budget - e.sent
	if remaining == 0 {
		e.stop()
		return 0
	}
	k := min(uint(n), remaining)
	e.sent += k
	return int(k)
}

// stop ends the search because the budget is spent.
func (e *evaluator) stop() {
	e.exhausted = true
	e.cancel()
}

func (e *evaluator) fail(err error) {
	if e.err == nil {
		e.err = err
	}
	e.cancel()
}

// evalOne is the single-point objective handed to the optimizer.
func (e *evaluator) evalOne(x []float64) float64 {
	p := e.point(x)
	if c, ok := e.local(p); ok {
		return c
	}
	if e.reserve(1) == 0 {
		return worstCost
	}

	reply, err := e.roundTrip(map[string]any(p))
	if err != nil {
		e.fail(err)
		return worstCost
	}
	if reply.Value == nil {
		e.fail(protocol.Errorf(nil, "expected %q in reply to a point query", protocol.FieldValue))
		return worstCost
	}
	e.memo[pointKey(p)] = *reply.Value
	e.observe(p, *reply.Value)
	return e.cost(*reply.Value)
}

// evalBatch is the batch objective handed to batch-capable optimizers.
// Points resolved locally are folded back in place; the rest go to the
// client as one batch query.
func (e *evaluator) evalBatch(xs [][]float64) []float64 {
	costs := make([]float64, len(xs))
	var queryIdx []int
	var query []protocol.Point

	for i, x := range xs {
		p := e.point(x)
		if c, ok := e.local(p); ok {
			costs[i] = c
			continue
		}
		queryIdx = append(queryIdx, i)
		query = append(query, p)
	}

	granted := e.reserve(len(query))
	for _, i := range queryIdx[granted:] {
		costs[i] = worstCost
	}
	if granted < len(query) && e.budget > 0 {
		// Stop the search once this last partial batch is answered.
		defer e.stop()
	}
	if granted == 0 {
		return costs
	}
	queryIdx, query = queryIdx[:granted], query[:granted]

	points := make([]any, len(query))
	for i, p := range query {
		points[i] = map[string]any(p)
	}
	reply, err := e.roundTrip(points)
	if err != nil {
		e.fail(err)
		return fill(costs, queryIdx, worstCost)
	}
	if len(reply.Values) != len(query) {
		e.fail(protocol.Errorf(nil, "expected %d values in reply to a batch query, got %d", len(query), len(reply.Values)))
		return fill(costs, queryIdx, worstCost)
	}
	for k, i := range queryIdx {
		v := reply.Values[k]
		e.memo[pointKey(query[k])] = v
		e.observe(query[k], v)
		costs[i] = e.cost(v)
	}
	return costs
}

func fill(costs []float64, idx []int, v float64) []float64 {
	for _, i := range idx {
		costs[i] = v
	}
	return costs
}

func (e *evaluator) roundTrip(query any) (protocol.ValueReply, error) {
	payload, err := codec.Encode(query)
	if err != nil {
		return protocol.ValueReply{}, fmt.Errorf("failed to encode query: %w", err)
	}
	if err := e.conn.Send(e.ctx, payload); err != nil {
		return protocol.ValueReply{}, err
	}
	raw, err := e.conn.Receive(e.ctx)
	if err != nil {
		return protocol.ValueReply{}, err
	}
	var reply protocol.ValueReply
	if err := codec.DecodeInto(raw, &reply); err != nil {
		return protocol.ValueReply{}, err
	}
	return reply, nil
}
