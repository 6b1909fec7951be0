package objective

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/protocol"
)

// Command scores each point by running an external program. The point is
// written to the program's stdin as one JSON object; the program prints a
// single number on stdout and exits 0.
type Command struct {
	Args []string
	Dir  string
	Env  []string
}

// NewCommand returns a command objective. args[0] is the program.
func NewCommand(args []string) (*Command, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("objective command is empty")
	}
	return &Command{Args: args}, nil
}

// Evaluate runs the command once for p. It is safe for concurrent use.
func (c *Command) Evaluate(ctx context.Context, p protocol.Point) (float64, error) {
	input, err := codec.Encode(p)
	if err != nil {
		return 0, fmt.Errorf("failed to encode point: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = bytes.NewReader(append(input, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return 0, fmt.Errorf("objective command failed: %w: %s", err, msg)
		}
		return 0, fmt.Errorf("objective command failed: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	v, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("objective command printed %q, expected a number", out)
	}
	return v, nil
}
