package dockermanage_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pressly/ephemeraldb/pkg/dockermanage"
	"github.com/pressly/ephemeraldb/pkg/dockermanage/dockertesting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, rt *dockertesting.Runtime, opts ...dockermanage.Option) *dockermanage.Manager {
	t.Helper()
	opts = append([]dockermanage.Option{
		dockermanage.WithRunner(rt),
		dockermanage.WithPollInterval(time.Millisecond),
	}, opts...)
	m, err := dockermanage.NewManager(opts...)
	require.NoError(t, err)
	return m
}

func postgresSpec(withHealth bool) dockermanage.ContainerSpec {
	spec := dockermanage.ContainerSpec{
		Image:       "postgres",
		Tag:         "18-alpine",
		Environment: dockermanage.Env("POSTGRES_DB", "testdb", "POSTGRES_USER", "test", "POSTGRES_PASSWORD", "secret"),
	}
	if withHealth {
		spec.HealthCheck = &dockermanage.HealthCheck{
			Test:     []string{"pg_isready", "-U", "test"},
			Interval: "2s",
			Timeout:  "1s",
			Retries:  10,
		}
	}
	return spec
}

func TestManagerStart(t *testing.T) {
	t.Parallel()

	t.Run("waits_for_healthy", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{ReadyAfter: 3}
		m := newManager(t, rt)
		name, err := m.Start(context.Background(), postgresSpec(true))
		require.NoError(t, err)
		require.NotEmpty(t, name)
		require.Equal(t, dockermanage.StateReady, m.State(name))
		inspects := rt.CallsTo("inspect")
		require.Len(t, inspects, 4)
		for _, c := range inspects {
			require.Equal(t, []string{"inspect", "--format", "{{.State.Health.Status}}", name}, c)
		}
		require.Equal(t, rt.RunArgs(name)[:3], []string{"-d", "--name", name})
		require.Equal(t, []string{name}, rt.Running())
	})
	t.Run("waits_for_running_without_health_check", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{ReadyAfter: 1}
		m := newManager(t, rt)
		name, err := m.Start(context.Background(), postgresSpec(false))
		require.NoError(t, err)
		for _, c := range rt.CallsTo("inspect") {
			require.Equal(t, "{{.State.Status}}", c[2])
		}
		ok, err := m.Exists(context.Background(), name)
		require.NoError(t, err)
		require.True(t, ok)
	})
	t.Run("fresh_identity_every_start", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{}
		m := newManager(t, rt)
		seen := make(map[string]bool)
		for range 5 {
			name, err := m.Start(context.Background(), postgresSpec(false))
			require.NoError(t, err)
			require.False(t, seen[name], "identity %s reused", name)
			seen[name] = true
		}
	})
	t.Run("run_failure", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{
			RunErr:         &dockermanage.CommandError{Args: []string{"docker", "run"}, ExitCode: 125, Stderr: "port is already allocated"},
			CreateOnRunErr: true,
		}
		m := newManager(t, rt, dockermanage.WithNameFunc(func() string { return "fixed" }))
		_, err := m.Start(context.Background(), postgresSpec(false))
		require.ErrorIs(t, err, dockermanage.ErrStart)
		var cmdErr *dockermanage.CommandError
		require.ErrorAs(t, err, &cmdErr)
		require.Equal(t, 125, cmdErr.ExitCode)
		// The half-created container does not leak.
		require.Empty(t, rt.Running())
		dockertesting.RequireRemovedOnce(t, rt, "fixed")
	})
	t.Run("invalid_spec", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{}
		m := newManager(t, rt)
		_, err := m.Start(context.Background(), dockermanage.ContainerSpec{Image: "postgres"})
		require.ErrorIs(t, err, dockermanage.ErrStart)
		require.Empty(t, rt.Calls())
	})
	t.Run("cancelled_while_polling", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{NeverReady: true}
		m := newManager(t, rt, dockermanage.WithNameFunc(func() string { return "stuck" }))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := m.Start(ctx, postgresSpec(true))
		require.ErrorIs(t, err, dockermanage.ErrNotReady)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		dockertesting.RequireRemovedOnce(t, rt, "stuck")
	})
	t.Run("ready_timeout", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{NeverReady: true}
		m := newManager(t, rt, dockermanage.WithReadyTimeout(20*time.Millisecond))
		_, err := m.Start(context.Background(), postgresSpec(false))
		require.ErrorIs(t, err, dockermanage.ErrNotReady)
		require.Empty(t, rt.Running())
	})
	t.Run("logs_start", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		rt := &dockertesting.Runtime{}
		m := newManager(t, rt, dockermanage.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		name, err := m.Start(context.Background(), postgresSpec(false))
		require.NoError(t, err)
		require.Contains(t, buf.String(), "docker container started")
		require.Contains(t, buf.String(), "container_id="+name)
		require.Contains(t, buf.String(), "logger=dockermanage")
	})
}

func TestManagerStop(t *testing.T) {
	t.Parallel()

	t.Run("empty_name", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{}
		m := newManager(t, rt)
		require.NoError(t, m.Stop(context.Background(), ""))
		require.Empty(t, rt.Calls())
	})
	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{}
		m := newManager(t, rt)
		ctx := context.Background()
		name, err := m.Start(ctx, postgresSpec(true))
		require.NoError(t, err)
		require.NoError(t, m.Stop(ctx, name))
		require.NoError(t, m.Stop(ctx, name))
		require.Equal(t, dockermanage.StateStopped, m.State(name))
		dockertesting.RequireRemovedOnce(t, rt, name)
		ok, err := m.Exists(ctx, name)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, []string{"rm", "-f", name}, rt.CallsTo("rm")[0])
	})
	t.Run("unknown_container", func(t *testing.T) {
		t.Parallel()
		m := newManager(t, &dockertesting.Runtime{})
		assert.NoError(t, m.Stop(context.Background(), "never-existed"))
	})
	t.Run("runtime_error", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{RemoveErr: errors.New("daemon unavailable")}
		m := newManager(t, rt)
		err := m.Stop(context.Background(), "abc")
		require.Error(t, err)
		require.ErrorContains(t, err, "daemon unavailable")
	})
}

func TestNewManagerOptions(t *testing.T) {
	t.Parallel()

	_, err := dockermanage.NewManager(dockermanage.WithPollInterval(0))
	require.Error(t, err)
	_, err = dockermanage.NewManager(dockermanage.WithReadyTimeout(-time.Second))
	require.Error(t, err)
	_, err = dockermanage.NewManager(dockermanage.WithBinary(" "))
	require.Error(t, err)
	_, err = dockermanage.NewManager(dockermanage.WithRunner(nil))
	require.Error(t, err)
	m, err := dockermanage.NewManager(nil, dockermanage.WithBinary("podman"))
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	err := &dockermanage.CommandError{Args: []string{"docker", "rm", "-f", "x"}, ExitCode: 1, Stderr: "boom\n"}
	require.Equal(t, "docker rm -f x exited with code 1: boom", err.Error())
	err.Stderr = ""
	require.Equal(t, "docker rm -f x exited with code 1: no output", err.Error())
}
