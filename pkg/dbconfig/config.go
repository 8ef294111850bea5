package dbconfig

import (
	"context"
	"maps"
	"os"
)

// Config is the user intent for one database. Every field is optional.
type Config struct {
	// Container requests a disposable container. Nil means the database is managed externally and
	// no defaults are applied. A zero ContainerIntent uses the flavor image and tag.
	Container *ContainerIntent

	Host     string
	Port     int
	Database string
	User     string
	Password PasswordProvider

	// Options are passed through verbatim to the resolved [Descriptor], for driver specific
	// settings such as sslmode or application_name.
	Options map[string]string
}

// ContainerIntent overrides the flavor image and tag. Empty fields fall back to the flavor.
type ContainerIntent struct {
	Image string
	Tag   string
}

// PasswordProvider supplies a password, possibly by fetching a secret.
type PasswordProvider interface {
	Password(ctx context.Context) (string, error)
}

// StaticPassword is a password known up front.
type StaticPassword string

func (p StaticPassword) Password(context.Context) (string, error) {
	return string(p), nil
}

// PasswordFunc fetches a password on demand.
type PasswordFunc func(ctx context.Context) (string, error)

func (f PasswordFunc) Password(ctx context.Context) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx)
}

// EnvPassword reads the password from the named environment variable when resolved.
func EnvPassword(key string) PasswordProvider {
	return PasswordFunc(func(context.Context) (string, error) {
		return os.Getenv(key), nil
	})
}

// Descriptor is everything needed to open a connection to the database.
type Descriptor struct {
	Host     string            `json:"host,omitempty"`
	Port     int               `json:"port,omitempty"`
	Database string            `json:"database,omitempty"`
	User     string            `json:"user,omitempty"`
	Password string            `json:"password,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	d.Options = maps.Clone(d.Options)
	return d
}
