package dockermanage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultPollInterval = 500 * time.Millisecond

var (
	// ErrStart is returned when the runtime could not launch a container, or exited non-zero while
	// doing so.
	ErrStart = errors.New("container start failed")

	// ErrNotReady is returned when the readiness wait was cut short by context cancellation or by
	// the configured ready timeout.
	ErrNotReady = errors.New("container not ready")
)

// Status is the container status reported by the runtime.
type Status string

const (
	StatusRunning Status = "running"
	StatusHealthy Status = "healthy"
)

// ContainerState is the lifecycle state of a container started by a [Manager].
type ContainerState int

const (
	StateUnknown ContainerState = iota
	StateStarting
	StateReady
	StateStopped
)

func (s ContainerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Manager starts, waits on, and removes containers through the runtime command line.
type Manager struct {
	runner       Runner
	logger       *slog.Logger
	pollInterval time.Duration
	readyTimeout time.Duration
	newName      func() string

	mu     sync.Mutex
	states map[string]ContainerState
}

// NewManager creates a new manager. Without options it shells out to the docker binary found in
// PATH.
func NewManager(options ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	runner := cfg.runner
	if runner == nil {
		runner = &ExecRunner{Binary: cfg.binary}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		runner:       runner,
		logger:       logger.With(slog.String("logger", "dockermanage")),
		pollInterval: cfg.pollInterval,
		readyTimeout: cfg.readyTimeout,
		newName:      cfg.newName,
		states:       make(map[string]ContainerState),
	}, nil
}

// Start runs a container for spec under a freshly minted name and blocks until it is ready: healthy
// when spec carries a health check, running otherwise. It returns the container name, which is the
// identity used by every other method.
//
// If the container was created but never became ready, it is force removed before Start returns.
func (m *Manager) Start(ctx context.Context, spec ContainerSpec) (_ string, retErr error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStart, err)
	}
	name := m.newName()
	args := BuildArgs(spec, name)
	m.setState(name, StateStarting)
	m.logger.Debug(
		"starting docker container",
		slog.String("container_id", name),
		slog.String("args", args.String()),
	)
	defer func() {
		if retErr != nil {
			// "docker run" can create the container and still fail, so always try to remove it.
			if err := m.Stop(context.WithoutCancel(ctx), name); err != nil {
				m.logger.Error(
					"remove container after start failure",
					slog.String("container_id", name),
					slog.Any("error", err),
				)
			}
		}
	}()
	if _, err := m.runner.Run(ctx, append([]string{"run"}, args...)...); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrStart, spec.Reference(), err)
	}
	target := StatusRunning
	if spec.HealthCheck != nil {
		target = StatusHealthy
	}
	if err := m.WaitReady(ctx, name, target); err != nil {
		return "", err
	}
	m.logger.Info(
		"docker container started",
		slog.String("container_id", name),
		slog.String("image", spec.Reference()),
	)
	return name, nil
}

// WaitReady polls the container status until it equals target. It waits for as long as ctx allows,
// bounded only by [WithReadyTimeout] when set.
func (m *Manager) WaitReady(ctx context.Context, name string, target Status) error {
	if m.readyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.readyTimeout)
		defer cancel()
	}
	backoff := retry.NewConstant(m.pollInterval)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := m.Inspect(ctx, name, target)
		if err != nil {
			return err
		}
		if status != target {
			return retry.RetryableError(fmt.Errorf("status is %q, want %q", status, target))
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: container %s: %w", ErrNotReady, name, ctx.Err())
		}
		return fmt.Errorf("%w: inspect container %s: %w", ErrStart, name, err)
	}
	m.setState(name, StateReady)
	m.logger.Debug("docker container ready", slog.String("container_id", name), slog.String("status", string(target)))
	return nil
}

// Inspect returns the current status of the container. With target [StatusHealthy] it reads the
// health status, otherwise the process status.
func (m *Manager) Inspect(ctx context.Context, name string, target Status) (Status, error) {
	format := "{{.State.Status}}"
	if target == StatusHealthy {
		format = "{{.State.Health.Status}}"
	}
	out, err := m.runner.Run(ctx, "inspect", "--format", format, name)
	if err != nil {
		return "", err
	}
	return Status(strings.TrimSpace(out)), nil
}

// Stop force removes the container, whatever its state. An empty name is a no-op, and removing a
// container that no longer exists succeeds.
func (m *Manager) Stop(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if _, err := m.runner.Run(ctx, "rm", "-f", name); err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	m.setState(name, StateStopped)
	m.logger.Info("docker container removed", slog.String("container_id", name))
	return nil
}

// Exists reports whether the runtime still knows about the container, running or not.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	out, err := m.runner.Run(ctx, "ps", "-a", "--filter", "name=^"+name+"$", "--format", "{{.Names}}")
	if err != nil {
		return false, fmt.Errorf("list containers: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimPrefix(strings.TrimSpace(line), "/") == name {
			return true, nil
		}
	}
	return false, nil
}

// State returns the last known lifecycle state of a container started by this manager.
func (m *Manager) State(name string) ContainerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

func (m *Manager) setState(name string, s ContainerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = s
}
