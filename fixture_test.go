package ephemeraldb_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pressly/ephemeraldb"
	"github.com/pressly/ephemeraldb/pkg/dbconfig"
	"github.com/stretchr/testify/require"
)

// newSQLiteFixture migrates a sqlite file, publishes it and returns a fixture along with a counter
// of opened handles.
func newSQLiteFixture(t *testing.T) (*ephemeraldb.Fixture, *atomic.Int32) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	env, err := ephemeraldb.Setup(context.Background(), dbconfig.SQLite, dbconfig.Config{Database: path},
		ephemeraldb.WithMigrations(migrationsFS()),
		ephemeraldb.WithCleanup(t.Cleanup),
	)
	require.NoError(t, err)
	var opened atomic.Int32
	f := ephemeraldb.NewFixture(env.Context(), env.Key(), dbconfig.SQLite,
		func(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
			opened.Add(1)
			return ephemeraldb.OpenDB(ctx, driverName, dsn)
		},
	)
	t.Cleanup(func() { require.NoError(t, f.Close()) })
	return f, &opened
}

func countOwners(t *testing.T, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) int {
	t.Helper()
	var n int
	require.NoError(t, q.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM owners").Scan(&n))
	return n
}

func TestFixtureTx(t *testing.T) {
	t.Parallel()

	f, opened := newSQLiteFixture(t)
	require.Zero(t, opened.Load(), "handle opened before first use")

	t.Run("insert", func(t *testing.T) {
		tx := f.Tx(t)
		_, err := tx.ExecContext(context.Background(), "INSERT INTO owners (owner_id, owner_name) VALUES (1, 'a'), (2, 'b')")
		require.NoError(t, err)
		require.Equal(t, 2, countOwners(t, tx))
	})
	t.Run("rolled_back", func(t *testing.T) {
		tx := f.Tx(t)
		require.Zero(t, countOwners(t, tx))
	})
	t.Run("finished_by_test", func(t *testing.T) {
		tx := f.Tx(t)
		_, err := tx.ExecContext(context.Background(), "INSERT INTO owners (owner_id, owner_name) VALUES (3, 'c')")
		require.NoError(t, err)
		// A test that finishes the transaction itself must not fail the cleanup.
		require.NoError(t, tx.Rollback())
	})
	db, err := f.DB(context.Background())
	require.NoError(t, err)
	require.Zero(t, countOwners(t, db))
	require.Equal(t, int32(1), opened.Load(), "one handle per worker")
}

func TestFixtureLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("not_provided", func(t *testing.T) {
		t.Parallel()
		f := ephemeraldb.NewFixture(ephemeraldb.NewContext(), "missing", dbconfig.SQLite, nil)
		_, err := f.DB(context.Background())
		require.ErrorIs(t, err, ephemeraldb.ErrNotProvided)
	})
	t.Run("close", func(t *testing.T) {
		t.Parallel()
		f, _ := newSQLiteFixture(t)
		db, err := f.DB(context.Background())
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, f.Close())
		require.Error(t, db.PingContext(context.Background()))
		_, err = f.DB(context.Background())
		require.ErrorIs(t, err, ephemeraldb.ErrFixtureClosed)
	})
}

func TestFixturePool(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pool.db")
	env, err := ephemeraldb.Setup(context.Background(), dbconfig.SQLite, dbconfig.Config{Database: path},
		ephemeraldb.WithMigrations(migrationsFS()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, env.Close()) })

	pool := ephemeraldb.NewFixturePool(env.Context(), env.Key(), dbconfig.SQLite, nil)
	w1 := pool.Get("worker-1")
	require.Same(t, w1, pool.Get("worker-1"))
	w2 := pool.Get("worker-2")
	require.NotSame(t, w1, w2)
	require.Equal(t, []string{"worker-1", "worker-2"}, pool.Workers())

	db1, err := w1.DB(context.Background())
	require.NoError(t, err)
	db2, err := w2.DB(context.Background())
	require.NoError(t, err)
	require.NotSame(t, db1, db2)

	require.NoError(t, pool.Close())
	require.Empty(t, pool.Workers())
	_, err = w1.DB(context.Background())
	require.ErrorIs(t, err, ephemeraldb.ErrFixtureClosed)
	_, err = w2.DB(context.Background())
	require.ErrorIs(t, err, ephemeraldb.ErrFixtureClosed)
}
