// Package encoder runs the external JPEG XL encoder as an opaque executable:
// input path, output path, then format-specific flags.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"jxlpack/internal/services"
)

// Encoder converts one source file into one output file.
type Encoder interface {
	Encode(ctx context.Context, input, output string, args []string) (Result, error)
}

// Result captures what the encoder printed and how long it took.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failure is returned when the encoder could not be launched, exited
// non-zero, or was stopped by a timeout. The captured output is kept for the
// directory's warning log.
type Failure struct {
	Command  string
	Input    string
	Output   string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (f *Failure) Error() string {
	detail := strings.TrimSpace(f.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(f.Stdout)
	}
	if detail == "" {
		return fmt.Sprintf("%s %s: %v", f.Command, f.Input, f.Err)
	}
	return fmt.Sprintf("%s %s: %v: %s", f.Command, f.Input, f.Err, detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// waitDelay bounds how long Wait blocks on output pipes after the encoder
// is killed.
const waitDelay = 2 * time.Second

// Exec invokes a binary on PATH (or an explicit path).
type Exec struct {
	Binary  string
	Timeout time.Duration
}

// New returns an Exec encoder. A zero timeout disables the deadline.
func New(binary string, timeout time.Duration) *Exec {
	return &Exec{Binary: binary, Timeout: timeout}
}

// Encode runs `<binary> input output args...` and waits for it to exit.
// Non-zero exit and launch failures are wrapped in services.ErrExternalTool;
// a deadline hit is wrapped in services.ErrTimeout.
func (e *Exec) Encode(ctx context.Context, input, output string, args []string) (Result, error) {
	if e == nil || strings.TrimSpace(e.Binary) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "encoder", "encode", "encoder binary not configured", nil)
	}

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	argv := make([]string, 0, len(args)+2)
	argv = append(argv, input, output)
	argv = append(argv, args...)
	cmd := exec.CommandContext(runCtx, e.Binary, argv...) //nolint:gosec
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	failure := &Failure{
		Command:  e.Binary,
		Input:    input,
		Output:   output,
		ExitCode: -1,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return result, services.Wrap(services.ErrTimeout, "encoder", "encode", fmt.Sprintf("encoder exceeded %s", e.Timeout), failure)
	case ctx.Err() != nil:
		return result, fmt.Errorf("encode %s: %w", input, ctx.Err())
	default:
		return result, services.Wrap(services.ErrExternalTool, "encoder", "encode", "encoder failed", failure)
	}
}
