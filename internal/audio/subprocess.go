package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrProcessTimeout indicates an external command ran past its deadline.
var ErrProcessTimeout = errors.New("subprocess timed out")

// Runner executes external commands with stdin attached before start.
// Engines and the mp3 encoder share it.
type Runner struct {
	timeout time.Duration
}

// NewRunner returns a Runner that bounds calls without a deadline by timeout.
// A zero timeout leaves such calls unbounded.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// Run executes name with args, feeding input on stdin and returning stdout.
// A non-zero exit includes stderr in the error.
func (r *Runner) Run(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	// stdin must be set before Start
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	err := cmd.Wait()

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrProcessTimeout, name)
		}
		return nil, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}

	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%s failed: %w\nstderr: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}
