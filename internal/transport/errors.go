package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by Send and Receive after Close.
	ErrClosed = errors.New("transport: channel closed")

	// ErrTimeout indicates that no frame arrived within the receive timeout.
	ErrTimeout = errors.New("transport: receive timed out")
)

// SpawnError reports a solver process that could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start solver %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TransportError reports a broken pipe, an unexpected end of stream or a
// receive timeout. Op is the direction being attempted ("send" or
// "receive"). Exit holds the solver's exit error when it is known and
// Stderr the last lines it wrote to standard error.
type TransportError struct {
	Op     string
	Err    error
	Exit   error
	Stderr []string
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport %s failed: %v", e.Op, e.Err)
	if e.Exit != nil {
		fmt.Fprintf(&b, " (solver exit: %v)", e.Exit)
	}
	if len(e.Stderr) > 0 {
		fmt.Fprintf(&b, "; solver stderr: %s", strings.Join(e.Stderr, " | "))
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }
