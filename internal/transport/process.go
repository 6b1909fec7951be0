package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// process owns a spawned solver. Its stdout is read by the Conn's readLoop,
// which reaps the process once the stream ends.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrTail

	exited  chan struct{}
	exitErr error
	killed  atomic.Bool
}

// Open starts the solver command and returns a channel wired to its
// stdin (outbound) and stdout (inbound). Standard error is forwarded to the
// debug log. The caller must Close the returned Conn.
func Open(ctx context.Context, command []string, opts ...Option) (*Conn, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, &SpawnError{Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Command: command[0], Err: err}
	}
	o := applyOptions(opts)

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = o.dir
	cmd.Env = o.env
	cmd.WaitDelay = o.gracePeriod

	tail := newStderrTail(stderrTailLines)
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: command[0], Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &SpawnError{Command: command[0], Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command[0], Err: err}
	}

	slog.Debug("Solver started", "pid", cmd.Process.Pid, "command", cmd.Path)

	p := &process{
		cmd:    cmd,
		stdout: stdout,
		stderr: tail,
		exited: make(chan struct{}),
	}
	return newConn(stdout, stdin, o, p), nil
}

// wait reaps the process. Called once, by readLoop, after stdout is drained.
func (p *process) wait() error {
	err := p.cmd.Wait()
	p.exitErr = err
	close(p.exited)
	slog.Debug("Solver exited", "pid", p.cmd.Process.Pid, "error", err)
	return err
}

// stop waits for a voluntary exit, then kills. It returns the exit error
// unless the kill was ours.
func (p *process) stop(grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.exited:
	case <-timer.C:
		p.killed.Store(true)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Warn("Failed to kill solver", "pid", p.cmd.Process.Pid, "error", err)
		}
		// A descendant may still hold stdout open; release the reader.
		_ = p.stdout.Close()
		<-p.exited
	}

	if p.killed.Load() {
		return nil
	}
	return p.exitErr
}

// stderrTail forwards solver stderr lines to the debug log and keeps the
// most recent ones for error reports.
type stderrTail struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
}

func newStderrTail(max int) *stderrTail {
	return &stderrTail{max: max}
}

func (t *stderrTail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, b...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(t.partial[:i], "\r"))
		t.partial = t.partial[i+1:]
		if line == "" {
			continue
		}
		slog.Debug(line, "source", "solver")
		t.lines = append(t.lines, line)
		if len(t.lines) > t.max {
			t.lines = t.lines[len(t.lines)-t.max:]
		}
	}
	return len(b), nil
}

// Lines returns the retained lines, including an unterminated last line.
func (t *stderrTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.lines)+1)
	out = append(out, t.lines...)
	if len(t.partial) > 0 {
		out = append(out, string(t.partial))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
