// Package hostcmd runs external host utilities and captures their output.
package hostcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrFailed is returned by Result.Err when a command exited non-zero
// or wrote anything to its error stream.
var ErrFailed = errors.New("hostcmd: command failed")

// Result holds the captured output of a finished command.
type Result struct {
	// Command is the command line that was run, for logging.
	Command string

	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Err reports the command as failed if it exited non-zero or printed
// anything on stderr. Host utilities like hdiutil signal failure through
// stderr even when they exit zero.
func (r *Result) Err() error {
	stderr := strings.TrimSpace(string(r.Stderr))
	switch {
	case r.ExitCode != 0 && stderr != "":
		return fmt.Errorf("%w: %s: exit %d: %s", ErrFailed, r.Command, r.ExitCode, stderr)
	case r.ExitCode != 0:
		return fmt.Errorf("%w: %s: exit %d", ErrFailed, r.Command, r.ExitCode)
	case stderr != "":
		return fmt.Errorf("%w: %s: %s", ErrFailed, r.Command, stderr)
	}
	return nil
}

// FirstLine returns the first non-empty stdout line, trimmed.
func (r *Result) FirstLine() string {
	for _, line := range strings.Split(string(r.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Runner executes a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the command and waits for it. A non-zero exit is not an
// error here; the caller inspects Result.Err. An error is returned only
// when the command could not be run at all.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := &Result{Command: strings.Join(append([]string{name}, args...), " ")}

	err := cmd.Run()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}
