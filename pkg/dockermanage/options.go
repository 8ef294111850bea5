package dockermanage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Option configures a [Manager].
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type config struct {
	runner       Runner
	binary       string
	logger       *slog.Logger
	pollInterval time.Duration
	readyTimeout time.Duration
	newName      func() string
}

func defaultConfig() *config {
	return &config{
		binary:       DefaultBinary,
		pollInterval: defaultPollInterval,
		newName:      uuid.NewString,
	}
}

// WithRunner sets the runner used to invoke the container runtime. Takes precedence over
// [WithBinary].
func WithRunner(r Runner) Option {
	return optionFunc(func(cfg *config) error {
		if r == nil {
			return errors.New("runner must not be nil")
		}
		cfg.runner = r
		return nil
	})
}

// WithBinary sets the container runtime binary, for example "podman". Defaults to "docker".
func WithBinary(binary string) Option {
	return optionFunc(func(cfg *config) error {
		binary = strings.TrimSpace(binary)
		if binary == "" {
			return errors.New("binary must not be empty")
		}
		cfg.binary = binary
		return nil
	})
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(cfg *config) error {
		cfg.logger = logger
		return nil
	})
}

// WithPollInterval sets the interval between readiness checks. Defaults to 500ms.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive: %v", d)
		}
		cfg.pollInterval = d
		return nil
	})
}

// WithReadyTimeout bounds the readiness wait. Zero, the default, waits until the context passed to
// [Manager.Start] is done.
func WithReadyTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d < 0 {
			return fmt.Errorf("ready timeout must not be negative: %v", d)
		}
		cfg.readyTimeout = d
		return nil
	})
}

// WithNameFunc sets the function that mints container names. Every call must return a name not
// used before in the same run. Defaults to a random UUID.
func WithNameFunc(fn func() string) Option {
	return optionFunc(func(cfg *config) error {
		if fn == nil {
			return errors.New("name func must not be nil")
		}
		cfg.newName = fn
		return nil
	})
}
