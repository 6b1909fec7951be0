package store

import "time"

// Run statuses.
const (
	StatusSolved = "solved"
	StatusFailed = "failed"
)

// RunOptions is the persisted copy of the session options of a run.
type RunOptions struct {
	Maximize    bool     `json:"maximize"`
	MaxEvals    uint     `json:"maxEvals"`
	Constraints any      `json:"constraints,omitempty"`
	Default     *float64 `json:"default,omitempty"`
	CallLogPath string   `json:"callLogPath,omitempty"`
	Parallel    bool     `json:"parallel"`
	Workers     int      `json:"workers,omitempty"`
}

// Run is the summary of one finished session, written to
// <baseDir>/runs/<id>/run.json.
type Run struct {
	// ID is the unique identifier of the run
	ID string `json:"id"`

	// Command is the solver command line
	Command []string `json:"command"`

	// Solver is the solver configuration sent in Init
	Solver map[string]any `json:"solver"`

	// Objective names the objective (built-in name or command)
	Objective string `json:"objective"`

	Options RunOptions `json:"options"`

	// Status is StatusSolved or StatusFailed
	Status string `json:"status"`

	// Solution and Record are set for solved runs
	Solution map[string]any `json:"solution,omitempty"`
	Record   map[string]any `json:"record,omitempty"`

	// Error holds the failure message for failed runs
	Error string `json:"error,omitempty"`

	Evals  int `json:"evals"`
	Rounds int `json:"rounds"`

	// RecordPath is the evaluation recording, if one was written
	RecordPath string `json:"recordPath,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// RunInfo contains metadata about a run, for listings.
type RunInfo struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Objective  string    `json:"objective"`
	Algorithm  string    `json:"algorithm,omitempty"`
	Evals      int       `json:"evals"`
	Value      *float64  `json:"value,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ToInfo converts a Run to RunInfo. Value is the record's "value" field
// when the solver reported one.
func (r *Run) ToInfo() RunInfo {
	info := RunInfo{
		ID:         r.ID,
		Status:     r.Status,
		Objective:  r.Objective,
		Evals:      r.Evals,
		FinishedAt: r.FinishedAt,
	}
	if alg, ok := r.Solver["algorithm"].(string); ok {
		info.Algorithm = alg
	}
	if v, ok := r.Record["value"].(float64); ok {
		info.Value = &v
	}
	return info
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Validate checks that the run has the fields a listing relies on.
func (r *Run) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if len(r.Command) == 0 {
		return &ValidationError{Field: "Command", Reason: "cannot be empty"}
	}
	switch r.Status {
	case StatusSolved:
		if r.Solution == nil {
			return &ValidationError{Field: "Solution", Reason: "required for solved runs"}
		}
	case StatusFailed:
		if r.Error == "" {
			return &ValidationError{Field: "Error", Reason: "required for failed runs"}
		}
	default:
		return &ValidationError{Field: "Status", Reason: "must be " + StatusSolved + " or " + StatusFailed}
	}
	if r.Evals < 0 {
		return &ValidationError{Field: "Evals", Reason: "cannot be negative"}
	}
	if r.FinishedAt.IsZero() {
		return &ValidationError{Field: "FinishedAt", Reason: "cannot be zero"}
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return &ValidationError{Field: "FinishedAt", Reason: "is before StartedAt"}
	}
	return nil
}

// ValidationError represents a run validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
