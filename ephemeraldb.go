package ephemeraldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/ephemeraldb/pkg/dbconfig"
	"github.com/pressly/ephemeraldb/pkg/dockermanage"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	// Drivers for the built-in flavors.
	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	pingInterval = 250 * time.Millisecond
	pingTimeout  = 30 * time.Second
)

// ContainerManager starts and removes containers. [dockermanage.Manager] is the default
// implementation.
type ContainerManager interface {
	Start(ctx context.Context, spec dockermanage.ContainerSpec) (string, error)
	Stop(ctx context.Context, name string) error
}

var _ ContainerManager = (*dockermanage.Manager)(nil)

// Opener opens a database handle and returns once the database answers.
type Opener func(ctx context.Context, driverName, dsn string) (*sql.DB, error)

// OpenDB is the default [Opener]. It opens the handle and pings it until it succeeds, for at most
// 30 seconds. A container reporting healthy can still refuse connections on the published port for
// a short while.
func OpenDB(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	backoff := retry.WithMaxDuration(pingTimeout, retry.NewConstant(pingInterval))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("ping %s database: %w", driverName, err), db.Close())
	}
	return db, nil
}

// Environment is one provisioned database: its container, if any, and the published descriptor.
// It is returned by [Setup] in the ready state and torn down exactly once, by [Environment.Close]
// or by the host cleanup hook, whichever comes first.
type Environment struct {
	flavor      dbconfig.Flavor
	resolved    dbconfig.Resolved
	dsn         string
	containerID string
	key         string
	context     *Context
	manager     ContainerManager
	opener      Opener
	logger      *slog.Logger
	// teardownCtx outlives the context passed to Setup so teardown still runs after cancellation.
	teardownCtx context.Context

	mu       sync.Mutex
	state    State
	fixtures []*Fixture

	closeOnce sync.Once
	closeErr  error
}

// Setup provisions a database for a test run.
//
// It resolves cfg against flavor, starts a container when one is requested and waits for it to
// become ready, applies migrations, runs the seed function and finally publishes the connection
// descriptor to the environment [Context]. The connection used for migrating and seeding is closed
// before Setup returns.
//
// On failure Setup returns a [*SetupError] naming the stage, after the container has been removed.
// The readiness wait is bounded only by ctx and [dockermanage.WithReadyTimeout].
func Setup(ctx context.Context, flavor dbconfig.Flavor, cfg dbconfig.Config, options ...Option) (*Environment, error) {
	c := &config{key: DefaultKey}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}
	logger := c.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.context == nil {
		c.context = NewContext()
	}
	if c.context.has(c.key) {
		return nil, fmt.Errorf("key %q: %w", c.key, ErrAlreadyProvided)
	}
	if c.manager == nil {
		m, err := dockermanage.NewManager(append([]dockermanage.Option{
			dockermanage.WithLogger(logger),
		}, c.dockerOptions...)...)
		if err != nil {
			return nil, err
		}
		c.manager = m
	}
	if c.opener == nil {
		c.opener = OpenDB
	}
	if m, ok := c.migrator.(*GooseMigrator); ok && m.Logger == nil {
		m.Logger = logger.With(slog.String("logger", "goose"))
	}

	env := &Environment{
		flavor:      flavor,
		key:         c.key,
		context:     c.context,
		manager:     c.manager,
		opener:      c.opener,
		logger:      logger.With(slog.String("logger", "ephemeraldb"), slog.String("flavor", flavor.Name)),
		teardownCtx: context.WithoutCancel(ctx),
		state:       StateIdle,
	}
	if err := env.setup(ctx, cfg, c); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Environment) setup(ctx context.Context, cfg dbconfig.Config, c *config) error {
	e.setState(StateContainerStarting)
	resolved, err := dbconfig.Resolve(ctx, e.flavor, cfg)
	if err != nil {
		return e.fail(StateContainerStarting, ErrConfigResolution, err)
	}
	if err := resolved.Validate(); err != nil {
		return e.fail(StateContainerStarting, ErrConfigResolution, err)
	}
	dsn, err := resolved.DSN()
	if err != nil {
		return e.fail(StateContainerStarting, ErrConfigResolution, err)
	}
	e.resolved = resolved
	e.dsn = dsn
	if resolved.Container != nil {
		id, err := e.manager.Start(ctx, *resolved.Container)
		if err != nil {
			return e.fail(StateContainerStarting, ErrStart, err)
		}
		e.containerID = id
		e.logger = e.logger.With(slog.String("container_id", id))
	}
	if c.cleanup != nil {
		c.cleanup(func() {
			if err := e.Close(); err != nil {
				e.logger.Error("teardown from cleanup hook", slog.Any("error", err))
			}
		})
	}

	e.setState(StateMigrating)
	db, err := e.opener(ctx, e.flavor.DriverName, dsn)
	if err != nil {
		return e.fail(StateMigrating, ErrMigration, fmt.Errorf("open database: %w", err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			e.logger.Warn("close setup connection", slog.Any("error", err))
		}
	}()
	if c.migrator != nil {
		if err := c.migrator.Migrate(ctx, e.flavor.Dialect, db); err != nil {
			return e.fail(StateMigrating, ErrMigration, err)
		}
	}

	e.setState(StateSeeding)
	if c.seed != nil {
		if err := c.seed(ctx, db); err != nil {
			return e.fail(StateSeeding, ErrSeed, err)
		}
	}
	if err := e.context.Provide(e.key, resolved.Descriptor); err != nil {
		return e.fail(StateSeeding, ErrAlreadyProvided, err)
	}

	e.setState(StateReady)
	e.logger.Info(
		"database ready",
		slog.String("host", resolved.Descriptor.Host),
		slog.Int("port", resolved.Descriptor.Port),
		slog.String("database", resolved.Descriptor.Database),
	)
	return nil
}

// fail tears the environment down and returns the setup error for stage. Teardown errors are
// logged so they never replace the setup failure.
func (e *Environment) fail(stage State, kind, err error) error {
	e.logger.Error(
		"setup failed",
		slog.String("stage", stage.String()),
		slog.Any("error", err),
	)
	if terr := e.Close(); terr != nil {
		e.logger.Error("teardown after setup failure", slog.Any("error", terr))
	}
	e.setState(StateFailed)
	return &SetupError{Stage: stage, Kind: kind, Err: err}
}

// Close closes every fixture created by [Environment.Fixture] and removes the container. Only the
// first call does any work; later calls return the same result.
func (e *Environment) Close() error {
	e.closeOnce.Do(func() {
		e.setState(StateTearingDown)
		e.mu.Lock()
		fixtures := e.fixtures
		e.fixtures = nil
		e.mu.Unlock()

		var err error
		for _, f := range fixtures {
			err = multierr.Append(err, f.Close())
		}
		if e.containerID != "" {
			err = multierr.Append(err, e.manager.Stop(e.teardownCtx, e.containerID))
		}
		e.closeErr = err
		e.setState(StateClosed)
		e.logger.Debug("environment closed")
	})
	return e.closeErr
}

// Fixture returns a new per-worker fixture bound to this environment. It is closed with the
// environment unless closed earlier.
func (e *Environment) Fixture() *Fixture {
	f := NewFixture(e.context, e.key, e.flavor, e.opener)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixtures = append(e.fixtures, f)
	return f
}

// Descriptor returns a copy of the resolved connection descriptor.
func (e *Environment) Descriptor() dbconfig.Descriptor {
	return e.resolved.Descriptor.Clone()
}

// DSN returns the driver connection string for [Environment.Descriptor].
func (e *Environment) DSN() string {
	return e.dsn
}

// DriverName returns the database/sql driver name of the flavor.
func (e *Environment) DriverName() string {
	return e.flavor.DriverName
}

// ContainerID returns the container name, or "" when no container was started.
func (e *Environment) ContainerID() string {
	return e.containerID
}

// Context returns the context the descriptor was published to.
func (e *Environment) Context() *Context {
	return e.context
}

// Key returns the key the descriptor was published under.
func (e *Environment) Key() string {
	return e.key
}

// State returns the current stage of the environment.
func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Environment) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}
