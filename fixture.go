package ephemeraldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/pressly/ephemeraldb/pkg/dbconfig"
	"golang.org/x/sync/errgroup"
)

// ErrFixtureClosed is returned when a closed [Fixture] is used.
var ErrFixtureClosed = errors.New("fixture closed")

// Fixture owns one database handle for a worker. The handle is opened on first use from the
// descriptor published in the [Context] and kept until Close. Each test gets its own transaction,
// always rolled back.
type Fixture struct {
	context *Context
	key     string
	flavor  dbconfig.Flavor
	opener  Opener

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewFixture returns a fixture reading the descriptor under key. A nil opener uses [OpenDB].
func NewFixture(c *Context, key string, flavor dbconfig.Flavor, opener Opener) *Fixture {
	if opener == nil {
		opener = OpenDB
	}
	return &Fixture{
		context: c,
		key:     key,
		flavor:  flavor,
		opener:  opener,
	}
}

// DB returns the worker handle, opening it on the first call.
func (f *Fixture) DB(ctx context.Context) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFixtureClosed
	}
	if f.db != nil {
		return f.db, nil
	}
	desc, err := f.context.Inject(f.key)
	if err != nil {
		return nil, err
	}
	if f.flavor.DSN == nil {
		return nil, fmt.Errorf("flavor %q has no DSN builder", f.flavor.Name)
	}
	dsn, err := f.flavor.DSN(desc)
	if err != nil {
		return nil, err
	}
	db, err := f.opener(ctx, f.flavor.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open fixture database: %w", err)
	}
	f.db = db
	return db, nil
}

// Tx begins a transaction for the current test and rolls it back when the test and its subtests
// complete, whatever their outcome. Changes made through the transaction are never visible to other
// tests.
func (f *Fixture) Tx(t testing.TB) *sql.Tx {
	t.Helper()
	ctx := context.Background()
	db, err := f.DB(ctx)
	if err != nil {
		t.Fatalf("fixture database: %v", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin transaction: %v", err)
	}
	t.Cleanup(func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Errorf("rollback transaction: %v", err)
		}
	})
	return tx
}

// Close closes the handle. It is safe to call more than once.
func (f *Fixture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}

// FixturePool hands out one [Fixture] per worker name, for in-process parallel workers.
type FixturePool struct {
	context *Context
	key     string
	flavor  dbconfig.Flavor
	opener  Opener

	mu       sync.Mutex
	fixtures map[string]*Fixture
}

// NewFixturePool returns an empty pool. See [NewFixture] for the arguments.
func NewFixturePool(c *Context, key string, flavor dbconfig.Flavor, opener Opener) *FixturePool {
	return &FixturePool{
		context:  c,
		key:      key,
		flavor:   flavor,
		opener:   opener,
		fixtures: make(map[string]*Fixture),
	}
}

// Get returns the fixture for worker, creating it on first use.
func (p *FixturePool) Get(worker string) *Fixture {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fixtures[worker]
	if !ok {
		f = NewFixture(p.context, p.key, p.flavor, p.opener)
		p.fixtures[worker] = f
	}
	return f
}

// Workers returns the sorted names of the workers that have a fixture.
func (p *FixturePool) Workers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.fixtures))
}

// Close closes every fixture concurrently and empties the pool.
func (p *FixturePool) Close() error {
	p.mu.Lock()
	fixtures := p.fixtures
	p.fixtures = make(map[string]*Fixture)
	p.mu.Unlock()

	var g errgroup.Group
	for worker, f := range fixtures {
		g.Go(func() error {
			if err := f.Close(); err != nil {
				return fmt.Errorf("worker %s: %w", worker, err)
			}
			return nil
		})
	}
	return g.Wait()
}
