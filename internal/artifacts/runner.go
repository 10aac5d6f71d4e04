package artifacts

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrToolFailed is wrapped by ToolError when a tool exits non-zero
	ErrToolFailed = errors.New("external tool failed")
	// ErrToolUnavailable means the tool process could not be started
	ErrToolUnavailable = errors.New("external tool unavailable")
	// ErrNoOutputProduced means the render tool succeeded without reporting a file
	ErrNoOutputProduced = errors.New("external tool produced no output")
)

// ToolError carries the captured stderr of a failed tool run
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *ToolError) Unwrap() error {
	return ErrToolFailed
}

// Runner starts an external program and waits for it to exit.
// Implementations return *ToolError for a non-zero exit and wrap
// ErrToolUnavailable when the program cannot be launched.
type Runner interface {
	Run(name string, args ...string) (stdout []byte, err error)
}

// ExecRunner runs tools as local processes. Runs are not cancellable.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ToolError{
				Tool:     name,
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, name, err)
	}

	return stdout.Bytes(), nil
}
