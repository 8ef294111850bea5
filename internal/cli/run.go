package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mfridman/xflag"
	"github.com/pressly/ephemeraldb"
	"github.com/pressly/ephemeraldb/pkg/dbconfig"
	"github.com/pressly/ephemeraldb/pkg/dockermanage"
	"go.uber.org/multierr"
)

// defaultName is the container name printed by "args" when none is given.
const defaultName = "ephemeraldb"

type state struct {
	environ []string
	stdout  io.Writer
	stderr  io.Writer
	runner  dockermanage.Runner
}

type stringsFlag []string

func (s *stringsFlag) String() string { return strings.Join(*s, ",") }

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type flags struct {
	envFiles stringsFlag
	dir      string
	seed     string
	timeout  time.Duration
	verbose  bool
	json     bool
}

func run(ctx context.Context, args []string, opts ...Options) error {
	st := &state{environ: os.Environ()}
	for _, opt := range opts {
		if err := opt.apply(st); err != nil {
			return err
		}
	}
	if st.stdout == nil {
		st.stdout = os.Stdout
	}
	if st.stderr == nil {
		st.stderr = os.Stderr
	}

	var f flags
	fs := flag.NewFlagSet("ephemeraldb", flag.ContinueOnError)
	fs.SetOutput(st.stderr)
	fs.Var(&f.envFiles, "env-file", "load configuration from a .env file, may be repeated")
	fs.StringVar(&f.dir, "dir", "", "directory with goose migration files")
	fs.StringVar(&f.seed, "seed-sql", "", "SQL file executed after migrations")
	fs.DurationVar(&f.timeout, "timeout", 0, "bound the container readiness wait, 0 waits until interrupted")
	fs.BoolVar(&f.verbose, "v", false, "turn on debug logging")
	fs.BoolVar(&f.json, "json", false, "print the connection descriptor as JSON")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usagePrefix)
		fs.PrintDefaults()
		fmt.Fprint(fs.Output(), usageSuffix)
	}
	// Flags may follow the command, as in "ephemeraldb up -v".
	if err := xflag.ParseToEnd(fs, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(st.stderr, &slog.HandlerOptions{Level: level}))
	dockerOpts := []dockermanage.Option{dockermanage.WithLogger(logger)}
	if st.runner != nil {
		dockerOpts = append(dockerOpts, dockermanage.WithRunner(st.runner))
	}
	if f.timeout > 0 {
		dockerOpts = append(dockerOpts, dockermanage.WithReadyTimeout(f.timeout))
	}

	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "up":
		flavor, cfg, err := loadConfig(st, f)
		if err != nil {
			return err
		}
		return up(ctx, st, f, flavor, cfg, logger, dockerOpts)
	case "args":
		flavor, cfg, err := loadConfig(st, f)
		if err != nil {
			return err
		}
		return printArgs(ctx, st, flavor, cfg, cmdArgs)
	case "rm":
		return remove(ctx, st, cmdArgs, dockerOpts)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadConfig(st *state, f flags) (dbconfig.Flavor, dbconfig.Config, error) {
	environ, err := dbconfig.LoadEnvFiles(st.environ, f.envFiles...)
	if err != nil {
		return dbconfig.Flavor{}, dbconfig.Config{}, err
	}
	return dbconfig.FromEnv(environ)
}

type upOutput struct {
	DSN         string              `json:"dsn"`
	ContainerID string              `json:"container_id,omitempty"`
	Descriptor  dbconfig.Descriptor `json:"descriptor"`
}

func up(
	ctx context.Context,
	st *state,
	f flags,
	flavor dbconfig.Flavor,
	cfg dbconfig.Config,
	logger *slog.Logger,
	dockerOpts []dockermanage.Option,
) error {
	opts := []ephemeraldb.Option{
		ephemeraldb.WithLogger(logger),
		ephemeraldb.WithDockerOptions(dockerOpts...),
	}
	if f.dir != "" {
		opts = append(opts, ephemeraldb.WithMigrationsDir(f.dir))
	}
	if f.seed != "" {
		opts = append(opts, ephemeraldb.WithSeed(
			ephemeraldb.SeedFile(os.DirFS(filepath.Dir(f.seed)), filepath.Base(f.seed)),
		))
	}
	env, err := ephemeraldb.Setup(ctx, flavor, cfg, opts...)
	if err != nil {
		return err
	}
	if f.json {
		out := upOutput{
			DSN:         env.DSN(),
			ContainerID: env.ContainerID(),
			Descriptor:  env.Descriptor(),
		}
		enc := json.NewEncoder(st.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return multierr.Append(err, env.Close())
		}
	} else {
		fmt.Fprintln(st.stdout, env.DSN())
	}
	logger.Info("database is up, interrupt to tear down")
	<-ctx.Done()
	return env.Close()
}

func printArgs(ctx context.Context, st *state, flavor dbconfig.Flavor, cfg dbconfig.Config, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("args takes at most one container name, got %d", len(args))
	}
	resolved, err := dbconfig.Resolve(ctx, flavor, cfg)
	if err != nil {
		return err
	}
	if resolved.Container == nil {
		return fmt.Errorf("no container requested for flavor %q: set %sCONTAINER=true", flavor.Name, dbconfig.EnvPrefix)
	}
	name := defaultName
	if len(args) == 1 {
		name = args[0]
	}
	fmt.Fprintf(st.stdout, "%s run %s\n", dockermanage.DefaultBinary, dockermanage.BuildArgs(*resolved.Container, name))
	return nil
}

func remove(ctx context.Context, st *state, names []string, dockerOpts []dockermanage.Option) error {
	if len(names) == 0 {
		return errors.New("rm requires at least one container name")
	}
	m, err := dockermanage.NewManager(dockerOpts...)
	if err != nil {
		return err
	}
	var errs error
	for _, name := range names {
		if err := m.Stop(ctx, name); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		fmt.Fprintln(st.stdout, name)
	}
	return errs
}

const usagePrefix = `Usage: ephemeraldb [OPTIONS] COMMAND

Provision a disposable database for tests. Configuration is read from the environment and
optional .env files:

    EPHEMERALDB_FLAVOR     postgres (default), mysql, clickhouse or sqlite
    EPHEMERALDB_CONTAINER  true to run the database in a container
    EPHEMERALDB_IMAGE      container image, implies a container
    EPHEMERALDB_TAG        container tag, implies a container
    EPHEMERALDB_HOST, EPHEMERALDB_PORT, EPHEMERALDB_DATABASE, EPHEMERALDB_USER,
    EPHEMERALDB_PASSWORD, EPHEMERALDB_OPT_<NAME>

Options:
`

const usageSuffix = `
Commands:
    up          Set up the database, print its DSN and tear it down on interrupt
    args [NAME] Print the docker run command line for the configured container
    rm NAME...  Force remove containers
`
