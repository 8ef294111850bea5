package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pressly/ephemeraldb/pkg/dockermanage/dockertesting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCommand(t *testing.T, environ []string, rt *dockertesting.Runtime, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := bytes.NewBuffer(nil), bytes.NewBuffer(nil)
	if rt == nil {
		rt = &dockertesting.Runtime{}
	}
	err := Run(
		context.Background(),
		args,
		WithEnviron(environ),
		WithStdout(stdout),
		WithStderr(stderr),
		WithRunner(rt),
	)
	return stdout.String(), stderr.String(), err
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("help", func(t *testing.T) {
		t.Parallel()
		_, stderr, err := runCommand(t, nil, nil, "-h")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Usage: ephemeraldb")
		assert.Contains(t, stderr, "-env-file")
	})
	t.Run("missing_command", func(t *testing.T) {
		t.Parallel()
		_, _, err := runCommand(t, nil, nil)
		require.ErrorContains(t, err, "missing command")
	})
	t.Run("unknown_command", func(t *testing.T) {
		t.Parallel()
		_, _, err := runCommand(t, nil, nil, "down")
		require.ErrorContains(t, err, `unknown command "down"`)
	})
	t.Run("args", func(t *testing.T) {
		t.Parallel()
		stdout, _, err := runCommand(t, []string{"EPHEMERALDB_CONTAINER=true"}, nil, "args", "test-container")
		require.NoError(t, err)
		assert.Equal(t, "docker run -d --name test-container -p 5432:5432"+
			" -e POSTGRES_DB=testdb -e POSTGRES_USER=testuser -e POSTGRES_PASSWORD=test"+
			` --health-cmd="pg_isready -U testuser" --health-interval=5s --health-timeout=5s --health-retries=5`+
			" postgres:latest\n", stdout)
	})
	t.Run("args_env_file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(file, []byte("EPHEMERALDB_IMAGE=postgres\nEPHEMERALDB_TAG=18\nEPHEMERALDB_PORT=15432\n"), 0o644))
		// Flags after the command are parsed too.
		stdout, _, err := runCommand(t, nil, nil, "args", "-env-file", file)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stdout, "docker run -d --name ephemeraldb -p 15432:5432 "), stdout)
		assert.True(t, strings.HasSuffix(stdout, " postgres:18\n"), stdout)
	})
	t.Run("args_without_container", func(t *testing.T) {
		t.Parallel()
		_, _, err := runCommand(t, nil, nil, "args")
		require.ErrorContains(t, err, "no container requested")
	})
	t.Run("rm", func(t *testing.T) {
		t.Parallel()
		rt := &dockertesting.Runtime{}
		stdout, _, err := runCommand(t, nil, rt, "rm", "a", "b")
		require.NoError(t, err)
		assert.Equal(t, "a\nb\n", stdout)
		assert.Equal(t, [][]string{{"rm", "-f", "a"}, {"rm", "-f", "b"}}, rt.CallsTo("rm"))

		_, _, err = runCommand(t, nil, rt, "rm")
		require.Error(t, err)
	})
}

func TestUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	migrations := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrations, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(migrations, "00001_owners.sql"), []byte(`
-- +goose Up
CREATE TABLE owners ( owner_id INTEGER PRIMARY KEY, owner_name TEXT NOT NULL );
`), 0o644))
	seed := filepath.Join(dir, "seed.sql")
	require.NoError(t, os.WriteFile(seed, []byte("INSERT INTO owners (owner_id, owner_name) VALUES (1, 'a');\n"), 0o644))
	dbPath := filepath.Join(dir, "up.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx,
			[]string{"up", "-dir", migrations, "-seed-sql", seed, "-json"},
			WithEnviron([]string{"EPHEMERALDB_FLAVOR=sqlite", "EPHEMERALDB_DATABASE=" + dbPath}),
			WithStdout(stdout),
			WithStderr(stderr),
			WithRunner(&dockertesting.Runtime{}),
		)
	}()
	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "}")
	}, 10*time.Second, 10*time.Millisecond)
	var out upOutput
	require.NoError(t, json.Unmarshal([]byte(stdout.String()), &out))
	assert.Equal(t, dbPath, out.DSN)
	assert.Empty(t, out.ContainerID)
	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "database is up")
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("up did not return after cancellation")
	}
}
