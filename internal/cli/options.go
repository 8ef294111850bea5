package cli

import (
	"fmt"
	"io"

	"github.com/pressly/ephemeraldb/pkg/dockermanage"
)

// Options are used to configure the command execution and are passed to the Run or Main function.
type Options interface {
	apply(*state) error
}

type optionFunc func(*state) error

func (f optionFunc) apply(s *state) error { return f(s) }

// WithEnviron sets the environment variables for the command. This will overwrite the current
// environment, primarily useful for testing.
func WithEnviron(env []string) Options {
	return optionFunc(func(s *state) error {
		s.environ = env
		return nil
	})
}

// WithStdout sets the writer for stdout.
func WithStdout(w io.Writer) Options {
	return optionFunc(func(s *state) error {
		if w == nil {
			return fmt.Errorf("stdout cannot be nil")
		}
		s.stdout = w
		return nil
	})
}

// WithStderr sets the writer for stderr. Logs are written there too.
func WithStderr(w io.Writer) Options {
	return optionFunc(func(s *state) error {
		if w == nil {
			return fmt.Errorf("stderr cannot be nil")
		}
		s.stderr = w
		return nil
	})
}

// WithRunner sets the container runtime runner, replacing the docker binary.
func WithRunner(r dockermanage.Runner) Options {
	return optionFunc(func(s *state) error {
		if r == nil {
			return fmt.Errorf("runner cannot be nil")
		}
		s.runner = r
		return nil
	})
}
