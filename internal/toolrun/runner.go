package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Invocation describes one external command to run.
type Invocation struct {
	Binary  string
	Args    []string
	Env     []string // appended to the parent environment
	Dir     string
	Timeout time.Duration
}

// Result captures a completed invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ErrorKind classifies an invocation failure.
type ErrorKind string

const (
	KindLaunch  ErrorKind = "launch"
	KindTimeout ErrorKind = "timeout"
	KindExit    ErrorKind = "exit"
)

// pipeWaitDelay bounds how long Wait keeps the output pipes open after the
// process is killed. Tools like xcrun spawn helpers that inherit the pipes;
// without this a timed-out tool whose helper lingers would block the stage
// until the helper exits.
const pipeWaitDelay = time.Second

// Error is the typed failure returned for launch errors, timeouts, and
// non-zero exits.
type Error struct {
	Kind     ErrorKind
	Binary   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s timed out", e.Binary)
	case KindExit:
		msg := fmt.Sprintf("%s exited with status %d", e.Binary, e.ExitCode)
		if detail := strings.TrimSpace(e.Stderr); detail != "" {
			msg += ": " + lastLine(detail)
		}
		return msg
	default:
		return fmt.Sprintf("launch %s: %v", e.Binary, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Runner abstracts command execution so tests can script tool behavior.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

type execRunner struct{}

// NewRunner returns the production runner backed by os/exec.
func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if strings.TrimSpace(inv.Binary) == "" {
		return Result{}, &Error{Kind: KindLaunch, Binary: inv.Binary, Err: errors.New("binary required")}
	}

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Binary, inv.Args...) //nolint:gosec
	cmd.WaitDelay = pipeWaitDelay
	if inv.Dir != "" {
		cmd.Dir = inv.Dir
	}
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		return result, nil
	}

	// The child was killed by context expiry: report a timeout when our own
	// deadline fired, otherwise surface the caller's cancellation untouched.
	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, &Error{Kind: KindTimeout, Binary: inv.Binary, Stderr: result.Stderr, Err: runCtx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &Error{Kind: KindExit, Binary: inv.Binary, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}

	return result, &Error{Kind: KindLaunch, Binary: inv.Binary, Err: err}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
