package testdb

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

// RequireDocker skips the test unless TESTDB_DOCKER is set, and fails it when the docker daemon
// cannot be reached. The returned pool talks to the daemon directly, independently of the docker
// command line.
func RequireDocker(t testing.TB) *dockertest.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker test in short mode")
	}
	if !envIsTrue(key_TESTDB_DOCKER) {
		t.Skipf("skipping docker test: %s is not set", key_TESTDB_DOCKER)
	}
	// Uses a sensible default on windows (tcp/http) and linux/osx (socket).
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("failed to connect to docker: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Fatalf("failed to ping docker: %v", err)
	}
	return pool
}

// ContainerExists reports whether the daemon still knows about the named container.
func ContainerExists(ctx context.Context, pool *dockertest.Pool, name string) (bool, error) {
	_, err := pool.Client.InspectContainerWithContext(name, ctx)
	if err != nil {
		var notFound *docker.NoSuchContainer
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FreePort returns a TCP port that was free on the loopback interface when checked.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
