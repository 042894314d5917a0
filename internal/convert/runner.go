package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
)

const maxStderr = 4 << 10

// Runner executes external tools with a hard time bound. Tool stderr ends
// up in the wrapped internal error, never in the client message.
type Runner struct {
	timeout time.Duration
	log     zerolog.Logger
}

func NewRunner(timeout time.Duration, log zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Runner{timeout: timeout, log: log}
}

func (r *Runner) Timeout() time.Duration { return r.timeout }

// Run executes name with args and returns its stdout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	if err == nil {
		r.log.Debug().Str("tool", name).Int64("duration_ms", dur.Milliseconds()).Msg("tool finished")
		return stdout.Bytes(), nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		r.log.Error().Str("tool", name).Msg("tool not installed")
		return nil, apperr.Wrap(apperr.KindToolFailure, "missing dependency", fmt.Errorf("%s: %w", name, err))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.log.Warn().Str("tool", name).Dur("timeout", r.timeout).Msg("tool timed out")
		return nil, apperr.Timeout(name, fmt.Errorf("exceeded %s: %w", r.timeout, err))
	}

	detail := strings.TrimSpace(stderr.String())
	if len(detail) > maxStderr {
		detail = detail[:maxStderr]
	}
	r.log.Warn().Str("tool", name).Err(err).Str("stderr", detail).Int64("duration_ms", dur.Milliseconds()).Msg("tool failed")
	return nil, apperr.ToolFailure(name, fmt.Errorf("%w: %s", err, detail))
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
