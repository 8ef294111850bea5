package ephemeraldb

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/pressly/ephemeraldb/pkg/dockermanage"
	"github.com/pressly/goose/v3"
)

// Option configures [Setup].
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type config struct {
	logger        *slog.Logger
	manager       ContainerManager
	dockerOptions []dockermanage.Option
	opener        Opener
	migrator      Migrator
	seed          SeedFunc
	cleanup       func(func())
	key           string
	context       *Context
}

// WithLogger sets the logger. It is also handed to the default container manager. A nil logger
// discards output.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(cfg *config) error {
		cfg.logger = logger
		return nil
	})
}

// WithContainerManager replaces the docker backed container manager.
func WithContainerManager(m ContainerManager) Option {
	return optionFunc(func(cfg *config) error {
		if m == nil {
			return errors.New("container manager must not be nil")
		}
		cfg.manager = m
		return nil
	})
}

// WithDockerOptions configures the default container manager, for example with
// [dockermanage.WithReadyTimeout]. Ignored when [WithContainerManager] is set.
func WithDockerOptions(opts ...dockermanage.Option) Option {
	return optionFunc(func(cfg *config) error {
		cfg.dockerOptions = append(cfg.dockerOptions, opts...)
		return nil
	})
}

// WithOpener sets the function that opens database connections, both during setup and for
// fixtures created by the environment.
func WithOpener(opener Opener) Option {
	return optionFunc(func(cfg *config) error {
		if opener == nil {
			return errors.New("opener must not be nil")
		}
		cfg.opener = opener
		return nil
	})
}

// WithMigrator sets the migrator run after the database is reachable.
func WithMigrator(m Migrator) Option {
	return optionFunc(func(cfg *config) error {
		if m == nil {
			return errors.New("migrator must not be nil")
		}
		cfg.migrator = m
		return nil
	})
}

// WithMigrations applies the goose migrations found in fsys. Provider options, such as
// goose.WithAllowOutofOrder, are passed through.
func WithMigrations(fsys fs.FS, opts ...goose.ProviderOption) Option {
	return optionFunc(func(cfg *config) error {
		if fsys == nil {
			return errors.New("migrations filesystem must not be nil")
		}
		cfg.migrator = &GooseMigrator{FS: fsys, Options: opts}
		return nil
	})
}

// WithMigrationsDir applies the goose migrations found in dir on disk.
func WithMigrationsDir(dir string, opts ...goose.ProviderOption) Option {
	return optionFunc(func(cfg *config) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return errors.New("migrations dir must not be empty")
		}
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return errors.New("migrations dir is not a directory: " + dir)
		}
		cfg.migrator = &GooseMigrator{FS: os.DirFS(dir), Options: opts}
		return nil
	})
}

// WithSeed sets the function run once after migrations.
func WithSeed(fn SeedFunc) Option {
	return optionFunc(func(cfg *config) error {
		if fn == nil {
			return errors.New("seed func must not be nil")
		}
		cfg.seed = fn
		return nil
	})
}

// WithCleanup registers teardown with the host, for example testing.TB.Cleanup. The registered
// function removes the container even when the caller never closes the environment.
func WithCleanup(register func(func())) Option {
	return optionFunc(func(cfg *config) error {
		if register == nil {
			return errors.New("cleanup register func must not be nil")
		}
		cfg.cleanup = register
		return nil
	})
}

// WithKey sets the key the descriptor is published under. Defaults to [DefaultKey].
func WithKey(key string) Option {
	return optionFunc(func(cfg *config) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("key must not be empty")
		}
		cfg.key = key
		return nil
	})
}

// WithContext publishes into c instead of a new [Context], so several environments can share one.
func WithContext(c *Context) Option {
	return optionFunc(func(cfg *config) error {
		if c == nil {
			return errors.New("context must not be nil")
		}
		cfg.context = c
		return nil
	})
}
