// Package protocol defines the messages exchanged between an optimization
// client and a solver process, and the discriminator that classifies
// solver messages.
//
// Client to solver: Init, then one ValueReply per query.
// Solver to client: PointQuery or BatchQuery, until a Solution or ErrorReport.
package protocol

import (
	"fmt"
	"sort"
)

// Wire field names.
const (
	FieldSolver      = "solver"
	FieldOptimize    = "optimize"
	FieldConstraints = "constraints"
	FieldDefault     = "default"
	FieldCallLog     = "call_log"
	FieldValue       = "value"
	FieldValues      = "values"
	FieldSolution    = "solution"
	FieldErrorMsg    = "error_msg"
)

// Point maps parameter names to values.
type Point map[string]any

// Names returns the parameter names of p in sorted order.
func (p Point) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Float returns the numeric value of parameter name.
func (p Point) Float(name string) (float64, error) {
	v, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("parameter %q missing", name)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q is %T, not a number", name, v)
	}
	return f, nil
}

// Constraints maps a constraint kind to per-parameter bound specs,
// e.g. {"min": {"x": 0}, "max": {"x": 5}}.
type Constraints map[string]map[string]any

// Validate checks that every kind and parameter name is non-empty.
func (c Constraints) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("constraint set is empty")
	}
	for kind, bounds := range c {
		if kind == "" {
			return fmt.Errorf("constraint kind cannot be empty")
		}
		if len(bounds) == 0 {
			return fmt.Errorf("constraint %q has no parameters", kind)
		}
		for name := range bounds {
			if name == "" {
				return fmt.Errorf("constraint %q has an empty parameter name", kind)
			}
		}
	}
	return nil
}

// OptimizeOptions is the "optimize" object of Init.
type OptimizeOptions struct {
	Maximize bool `json:"maximize"`
	MaxEvals uint `json:"max_evals"`
}

// Init is the first message of a session.
type Init struct {
	Solver      map[string]any  `json:"solver"`
	Optimize    OptimizeOptions `json:"optimize"`
	Constraints Constraints     `json:"constraints,omitempty"`
	Default     *float64        `json:"default,omitempty"`
	CallLog     any             `json:"call_log,omitempty"`
}

// ValueReply answers a query. Exactly one of the fields is set:
// Value for a point query, Values for a batch query.
type ValueReply struct {
	Value  *float64  `json:"value,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

// SingleValue builds the reply to a point query.
func SingleValue(v float64) ValueReply {
	return ValueReply{Value: &v}
}

// BatchValues builds the reply to a batch query.
func BatchValues(vs []float64) ValueReply {
	return ValueReply{Values: vs}
}

// CallLogEntry is one prior evaluation in the "call_log" field.
type CallLogEntry struct {
	Point Point   `json:"point"`
	Value float64 `json:"value"`
}
