package dockermanage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultBinary is the container runtime command line used when no other binary is configured.
const DefaultBinary = "docker"

// Runner invokes the container runtime command line. Implementations must return a
// [*CommandError] when the command ran but exited non-zero.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout string, err error)
}

// CommandError is returned when a runtime command exits with a non-zero status.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("%s exited with code %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

// ExecRunner runs the container runtime binary as a child process.
type ExecRunner struct {
	Binary string
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	binary := r.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &CommandError{
				Args:     append([]string{binary}, args...),
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return stdout.String(), fmt.Errorf("run %s: %w", binary, err)
	}
	return stdout.String(), nil
}

// isNoSuchContainer reports whether err is the runtime's answer for an unknown container.
func isNoSuchContainer(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Stderr), "no such container")
}
