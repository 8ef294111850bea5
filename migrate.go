package ephemeraldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// Migrator brings a freshly started database up to the latest schema.
type Migrator interface {
	Migrate(ctx context.Context, dialect database.Dialect, db *sql.DB) error
}

// MigratorFunc adapts a function to [Migrator].
type MigratorFunc func(ctx context.Context, dialect database.Dialect, db *sql.DB) error

func (f MigratorFunc) Migrate(ctx context.Context, dialect database.Dialect, db *sql.DB) error {
	return f(ctx, dialect, db)
}

// GooseMigrator applies all pending goose migrations from FS, in ascending version order.
type GooseMigrator struct {
	FS      fs.FS
	Options []goose.ProviderOption
	// Logger receives one debug record per applied migration. May be nil.
	Logger *slog.Logger
}

var _ Migrator = (*GooseMigrator)(nil)

// Migrate runs the migrations. A filesystem without migrations is not an error. When a migration
// fails the error names its version and path.
func (g *GooseMigrator) Migrate(ctx context.Context, dialect database.Dialect, db *sql.DB) error {
	// The provider is not closed: Close would close db, which belongs to the caller.
	p, err := goose.NewProvider(dialect, db, g.FS, g.Options...)
	if err != nil {
		if errors.Is(err, goose.ErrNoMigrations) {
			return nil
		}
		return fmt.Errorf("new goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		var partialErr *goose.PartialError
		if errors.As(err, &partialErr) && partialErr.Failed != nil && partialErr.Failed.Source != nil {
			src := partialErr.Failed.Source
			return fmt.Errorf("version %d (%s): %w", src.Version, src.Path, partialErr.Err)
		}
		return err
	}
	if g.Logger != nil {
		for _, r := range results {
			g.Logger.Debug(
				"migration applied",
				slog.Int64("version", r.Source.Version),
				slog.String("path", r.Source.Path),
				slog.Duration("duration", r.Duration),
			)
		}
	}
	return nil
}

// SeedFunc populates the database after migrations. It runs once per [Setup] on the setup
// connection.
type SeedFunc func(ctx context.Context, db *sql.DB) error

// SeedSQL returns a SeedFunc that executes each statement in order inside one transaction.
func SeedSQL(statements ...string) SeedFunc {
	return func(ctx context.Context, db *sql.DB) (retErr error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if retErr != nil {
				retErr = errors.Join(retErr, ignoreTxDone(tx.Rollback()))
			}
		}()
		for i, stmt := range statements {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("seed statement %d: %w", i+1, err)
			}
		}
		return tx.Commit()
	}
}

// SeedFile returns a SeedFunc that executes the SQL file at name in fsys as a single statement
// batch. Drivers that do not accept several statements per call need [SeedSQL] instead.
func SeedFile(fsys fs.FS, name string) SeedFunc {
	return func(ctx context.Context, db *sql.DB) error {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		return SeedSQL(string(b))(ctx, db)
	}
}

func ignoreTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
