package dbconfig

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mfridman/interpolate"
)

// EnvPrefix is the prefix of every environment variable read by [FromEnv].
const EnvPrefix = "EPHEMERALDB_"

const (
	envFlavor    = EnvPrefix + "FLAVOR"
	envContainer = EnvPrefix + "CONTAINER"
	envImage     = EnvPrefix + "IMAGE"
	envTag       = EnvPrefix + "TAG"
	envHost      = EnvPrefix + "HOST"
	envPort      = EnvPrefix + "PORT"
	envDatabase  = EnvPrefix + "DATABASE"
	envUser      = EnvPrefix + "USER"
	envPassword  = EnvPrefix + "PASSWORD"
	envOptPrefix = EnvPrefix + "OPT_"
)

// FromEnv builds a flavor and config from KEY=VALUE pairs, as returned by os.Environ.
//
// Recognized keys are EPHEMERALDB_FLAVOR (default postgres), EPHEMERALDB_CONTAINER (boolean),
// EPHEMERALDB_IMAGE and EPHEMERALDB_TAG (either one implies a container), EPHEMERALDB_HOST,
// EPHEMERALDB_PORT, EPHEMERALDB_DATABASE, EPHEMERALDB_USER, EPHEMERALDB_PASSWORD and
// EPHEMERALDB_OPT_<NAME>, which becomes the lower-cased driver option <name>.
//
// Values may reference other variables as ${VAR} or ${VAR:-default}.
func FromEnv(environ []string) (Flavor, Config, error) {
	env := newMapEnv(environ)
	get := func(key string) (string, error) {
		raw, ok := env.Get(key)
		if !ok {
			return "", nil
		}
		v, err := interpolate.Interpolate(env, raw)
		if err != nil {
			return "", fmt.Errorf("interpolate %s: %w", key, err)
		}
		return strings.TrimSpace(v), nil
	}

	var (
		cfg    Config
		values = make(map[string]string)
	)
	for _, key := range []string{
		envFlavor, envContainer, envImage, envTag, envHost, envPort, envDatabase, envUser, envPassword,
	} {
		v, err := get(key)
		if err != nil {
			return Flavor{}, Config{}, err
		}
		values[key] = v
	}

	flavor, err := Lookup(orDefault(values[envFlavor], Postgres.Name))
	if err != nil {
		return Flavor{}, Config{}, err
	}
	container := values[envImage] != "" || values[envTag] != ""
	if s := values[envContainer]; s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Flavor{}, Config{}, fmt.Errorf("invalid %s: %w", envContainer, err)
		}
		container = container || b
	}
	if container {
		cfg.Container = &ContainerIntent{Image: values[envImage], Tag: values[envTag]}
	}
	if s := values[envPort]; s != "" {
		port, err := strconv.Atoi(s)
		if err != nil || port <= 0 || port > 65535 {
			return Flavor{}, Config{}, fmt.Errorf("invalid %s: %q", envPort, s)
		}
		cfg.Port = port
	}
	cfg.Host = values[envHost]
	cfg.Database = values[envDatabase]
	cfg.User = values[envUser]
	if p := values[envPassword]; p != "" {
		cfg.Password = StaticPassword(p)
	}
	for key := range env {
		name, ok := strings.CutPrefix(key, envOptPrefix)
		if !ok || name == "" {
			continue
		}
		v, err := get(key)
		if err != nil {
			return Flavor{}, Config{}, err
		}
		if cfg.Options == nil {
			cfg.Options = make(map[string]string)
		}
		cfg.Options[strings.ToLower(name)] = v
	}
	return flavor, cfg, nil
}

// LoadEnvFiles reads the given .env files and returns them merged with environ, typically
// os.Environ(). Variables in environ win over file values, and earlier files win over later ones.
// Missing files are an error.
func LoadEnvFiles(environ []string, files ...string) ([]string, error) {
	environ = slices.Clip(environ)
	if len(files) == 0 {
		return environ, nil
	}
	seen := newMapEnv(environ)
	for _, file := range files {
		fileEnv, err := godotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", file, err)
		}
		for k, v := range fileEnv {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = v
			environ = append(environ, k+"="+v)
		}
	}
	return environ, nil
}

// mapEnv adapts a set of KEY=VALUE pairs to interpolate.Env.
type mapEnv map[string]string

var _ interpolate.Env = mapEnv(nil)

func newMapEnv(environ []string) mapEnv {
	env := make(mapEnv, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}

func (e mapEnv) Get(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
