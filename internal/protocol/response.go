package protocol

import "fmt"

// Response is a classified solver message: one of *PointQuery,
// *BatchQuery, *Solution or *ErrorReport.
type Response interface {
	// Terminal reports whether the message ends the session.
	Terminal() bool
	isResponse()
}

// PointQuery asks for the objective value of one point.
type PointQuery struct {
	Point Point
}

// BatchQuery asks for the objective values of an ordered group of points.
type BatchQuery struct {
	Points []Point
}

// Solution carries the best point found. Record is the full terminal
// message, including solver-specific diagnostics.
type Solution struct {
	Point  Point
	Record map[string]any
}

// ErrorReport carries a failure reported by the solver.
type ErrorReport struct {
	Message string
	Record  map[string]any
}

func (*PointQuery) Terminal() bool  { return false }
func (*BatchQuery) Terminal() bool  { return false }
func (*Solution) Terminal() bool    { return true }
func (*ErrorReport) Terminal() bool { return true }

func (*PointQuery) isResponse()  {}
func (*BatchQuery) isResponse()  {}
func (*Solution) isResponse()    {}
func (*ErrorReport) isResponse() {}

// Classify turns a decoded solver message into a Response.
// Terminal markers are checked before anything else, so a message carrying
// "solution" or "error_msg" is never treated as a query. raw is the frame
// payload, attached to any ProtocolError.
func Classify(msg any, raw []byte) (Response, error) {
	switch m := msg.(type) {
	case map[string]any:
		return classifyObject(m, raw)
	case []any:
		return classifyBatch(m, raw)
	default:
		return nil, Errorf(raw, "unexpected message type %s", jsonKind(msg))
	}
}

func classifyObject(m map[string]any, raw []byte) (Response, error) {
	errMsg, hasErr := m[FieldErrorMsg]
	solution, hasSolution := m[FieldSolution]

	switch {
	case hasErr && hasSolution:
		return nil, Errorf(raw, "message carries both %q and %q", FieldSolution, FieldErrorMsg)
	case hasErr:
		text, ok := errMsg.(string)
		if !ok {
			return nil, Errorf(raw, "%q must be a string, got %s", FieldErrorMsg, jsonKind(errMsg))
		}
		return &ErrorReport{Message: text, Record: m}, nil
	case hasSolution:
		point, ok := solution.(map[string]any)
		if !ok {
			return nil, Errorf(raw, "%q must be an object, got %s", FieldSolution, jsonKind(solution))
		}
		return &Solution{Point: Point(point), Record: m}, nil
	}

	if len(m) == 0 {
		return nil, Errorf(raw, "empty point")
	}
	return &PointQuery{Point: Point(m)}, nil
}

func classifyBatch(items []any, raw []byte) (Response, error) {
	if len(items) == 0 {
		return nil, Errorf(raw, "empty batch")
	}
	points := make([]Point, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, Errorf(raw, "batch element %d is %s, not a point", i, jsonKind(item))
		}
		if len(m) == 0 {
			return nil, Errorf(raw, "batch element %d is an empty point", i)
		}
		points[i] = Point(m)
	}
	return &BatchQuery{Points: points}, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
