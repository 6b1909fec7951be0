package transport

import "time"

const (
	// DefaultMaxFrameSize bounds a single inbound frame.
	DefaultMaxFrameSize = 16 << 20

	// DefaultGracePeriod is how long Close waits for the solver to exit
	// after its input is closed before killing it.
	DefaultGracePeriod = 2 * time.Second

	stderrTailLines = 20
)

type options struct {
	maxFrameSize   int
	receiveTimeout time.Duration
	gracePeriod    time.Duration
	dir            string
	env            []string
	responder      bool
}

func defaultOptions() options {
	return options{
		maxFrameSize: DefaultMaxFrameSize,
		gracePeriod:  DefaultGracePeriod,
	}
}

// Option configures a Conn.
type Option func(*options)

// WithMaxFrameSize sets the largest accepted inbound frame in bytes.
// Values <= 0 keep the default.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithReceiveTimeout bounds how long Receive waits for a frame.
// Zero disables the timeout.
func WithReceiveTimeout(d time.Duration) Option {
	return func(o *options) { o.receiveTimeout = d }
}

// WithGracePeriod sets how long Close waits before killing the solver.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithDir sets the solver's working directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithEnv sets the solver's environment. Nil inherits the parent's.
func WithEnv(env []string) Option {
	return func(o *options) { o.env = env }
}

// AsResponder makes the channel expect an inbound frame before its first
// Send. The solver side of a session uses it: it receives Init first.
func AsResponder() Option {
	return func(o *options) { o.responder = true }
}
