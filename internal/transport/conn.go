// Package transport provides the framed byte channel between an
// optimization client and a solver process.
//
// Frames are newline-delimited: one JSON value per line, blank lines are
// ignored. A Conn enforces strict request/response alternation: a second
// Send before the reply is received, or a frame arriving with no request
// outstanding, is a *protocol.ProtocolError.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/optbridge/internal/protocol"
)

type frame struct {
	data []byte
	err  error
}

// Conn is one end of a session channel. Send and Receive must be called
// from a single goroutine; Close may be called from any goroutine and more
// than once.
type Conn struct {
	opts options

	wmu sync.Mutex
	w   io.WriteCloser
	r   io.Reader

	// pending counts frames expected from the peer: +1 on Send, -1 on each
	// inbound frame. A negative value means the peer sent unsolicited data.
	pending atomic.Int64

	frames  chan frame
	readErr error // written by readLoop before frames is closed

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	proc *process
}

// NewConn wraps an existing pair of streams, such as a process's own
// stdin/stdout or an in-memory pipe. Close closes w, and r when it is an
// io.Closer.
func NewConn(r io.Reader, w io.WriteCloser, opts ...Option) *Conn {
	return newConn(r, w, applyOptions(opts), nil)
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newConn(r io.Reader, w io.WriteCloser, o options, proc *process) *Conn {
	c := &Conn{
		opts:   o,
		w:      w,
		r:      r,
		frames: make(chan frame, 1),
		done:   make(chan struct{}),
		proc:   proc,
	}
	if o.responder {
		c.pending.Store(1)
	}
	go c.readLoop(r)
	return c
}

// Send writes payload as one frame. It blocks until the frame is fully
// written; a blocked write is released by Close.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(payload, '\n') >= 0 {
		return protocol.Errorf(payload, "payload contains a newline")
	}
	if !c.pending.CompareAndSwap(0, 1) {
		if c.pending.Load() < 0 {
			return protocol.Errorf(nil, "unsolicited frame received from peer")
		}
		return protocol.Errorf(payload, "request sent while a reply is outstanding")
	}

	buf := make([]byte, len(payload)+1)
	copy(buf, payload)
	buf[len(payload)] = '\n'

	c.wmu.Lock()
	_, err := c.w.Write(buf)
	c.wmu.Unlock()
	if err != nil {
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		return &TransportError{Op: "send", Err: err, Stderr: c.stderrTail()}
	}
	return nil
}

// Receive blocks until one frame is available and returns its payload.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if c.opts.receiveTimeout > 0 {
		timer := time.NewTimer(c.opts.receiveTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, c.readErr
		}
		if f.err != nil {
			return nil, f.err
		}
		return f.data, nil
	case <-timeout:
		return nil, &TransportError{Op: "receive", Err: ErrTimeout, Stderr: c.stderrTail()}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Close releases the channel. For a spawned solver it closes the solver's
// input, waits up to the grace period for it to exit and kills it
// otherwise. Close always returns only after the process has been reaped.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.w.Close() // Best-effort: Wait may already have closed the pipe.
		if c.proc != nil {
			c.closeErr = c.proc.stop(c.opts.gracePeriod)
			return
		}
		if rc, ok := c.r.(io.Closer); ok {
			_ = rc.Close()
		}
	})
	return c.closeErr
}

// Pid returns the solver process ID, or 0 for a stream-backed Conn.
func (c *Conn) Pid() int {
	if c.proc == nil {
		return 0
	}
	return c.proc.cmd.Process.Pid
}

// Exited reports whether the solver process has been reaped.
func (c *Conn) Exited() bool {
	if c.proc == nil {
		return false
	}
	select {
	case <-c.proc.exited:
		return true
	default:
		return false
	}
}

func (c *Conn) stderrTail() []string {
	if c.proc == nil {
		return nil
	}
	return c.proc.stderr.Lines()
}

// readLoop pumps inbound frames until the stream ends or a protocol
// violation stops it.
func (c *Conn) readLoop(r io.Reader) {
	defer close(c.frames)

	scanErr := c.scanFrames(r)

	var exitErr error
	if c.proc != nil {
		exitErr = c.proc.wait()
	}

	var perr *protocol.ProtocolError
	switch {
	case errors.As(scanErr, &perr):
		c.readErr = perr
	case scanErr != nil:
		c.readErr = &TransportError{Op: "receive", Err: scanErr, Exit: exitErr, Stderr: c.stderrTail()}
	default:
		c.readErr = &TransportError{Op: "receive", Err: io.ErrUnexpectedEOF, Exit: exitErr, Stderr: c.stderrTail()}
	}
}

func (c *Conn) scanFrames(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	initCap := min(4096, c.opts.maxFrameSize)
	// Room for a "\r\n" terminator; the payload itself is checked below.
	scanner.Buffer(make([]byte, 0, initCap), c.opts.maxFrameSize+2)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if len(line) > c.opts.maxFrameSize {
			return c.tooLarge()
		}
		data := make([]byte, len(line))
		copy(data, line)

		if c.pending.Add(-1) < 0 {
			perr := protocol.Errorf(data, "unsolicited frame")
			c.emit(frame{err: perr})
			return perr
		}
		if !c.emit(frame{data: data}) {
			return nil
		}
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return c.tooLarge()
	}
	select {
	case <-c.done:
		return nil
	default:
	}
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}

func (c *Conn) tooLarge() error {
	perr := protocol.Errorf(nil, "frame exceeds %d bytes", c.opts.maxFrameSize)
	c.emit(frame{err: perr})
	return perr
}

func (c *Conn) emit(f frame) bool {
	select {
	case c.frames <- f:
		return true
	case <-c.done:
		return false
	}
}
