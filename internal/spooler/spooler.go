// Package spooler hands files to the operating system print spooler and lists the
// installed printers.
package spooler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/italolelis/print_agent/internal/logctx"
	"github.com/italolelis/print_agent/internal/printer"
)

// Supported backend kinds.
const (
	KindAuto    = "auto"
	KindCUPS    = "cups"
	KindWindows = "windows"
)

// Options are the per-job print options. Copies == 0 leaves the count to the spooler.
type Options struct {
	Printer string
	Copies  int
}

// Spooler is the OS print capability.
type Spooler interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Printers(ctx context.Context) ([]printer.Printer, error)
	Print(ctx context.Context, path string, opts Options) error
}

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned when a spooler command exits unsuccessfully.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %s", e.Command, e.Stderr)
	}

	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "running spooler command", "command", name, "args", args)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Command: name,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return stdout.Bytes(), nil
}

// New returns the backend for kind. KindAuto picks one for the current OS.
func New(kind string, runner Runner) (Spooler, error) {
	if runner == nil {
		runner = ExecRunner{}
	}

	if kind == "" || kind == KindAuto {
		kind = KindCUPS
		if runtime.GOOS == "windows" {
			kind = KindWindows
		}
	}

	switch kind {
	case KindCUPS:
		return NewCUPS(runner), nil
	case KindWindows:
		return NewWindows(runner), nil
	default:
		return nil, fmt.Errorf("unknown spooler %q", kind)
	}
}
