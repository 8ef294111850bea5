package dbconfig

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/pressly/ephemeraldb/pkg/dockermanage"
)

const (
	// LocalHost is the host of every containerized database. Containers are always published on
	// the loopback interface.
	LocalHost = "localhost"

	healthInterval = "5s"
	healthTimeout  = "5s"
	healthRetries  = 5
)

// ErrConfigResolution is returned when a password provider fails.
var ErrConfigResolution = errors.New("config resolution failed")

// Resolved is the outcome of [Resolve]: how to reach the database and, optionally, the container
// that serves it.
type Resolved struct {
	Flavor     Flavor
	Descriptor Descriptor
	// Container is nil when no container is requested.
	Container *dockermanage.ContainerSpec
}

// DSN renders the connection string for the resolved descriptor.
func (r Resolved) DSN() (string, error) {
	if r.Flavor.DSN == nil {
		return "", fmt.Errorf("flavor %q has no DSN builder", r.Flavor.Name)
	}
	return r.Flavor.DSN(r.Descriptor)
}

// Resolve merges cfg with the flavor defaults.
//
// Without a container request the connection fields pass through unchanged. With one, unset fields
// are defaulted, the host is pinned to [LocalHost], and a container spec is derived whose port
// mapping and environment match the descriptor. An empty password, static or fetched, falls back
// to the flavor default.
//
// The only error is a failing password provider, reported as [ErrConfigResolution].
func Resolve(ctx context.Context, flavor Flavor, cfg Config) (Resolved, error) {
	password, err := resolvePassword(ctx, cfg.Password)
	if err != nil {
		return Resolved{}, err
	}
	desc := Descriptor{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: password,
		Options:  maps.Clone(cfg.Options),
	}
	if cfg.Container == nil || !flavor.CanContainerize() {
		return Resolved{Flavor: flavor, Descriptor: desc}, nil
	}

	desc.Host = LocalHost
	desc.Port = cmp.Or(desc.Port, flavor.DefaultPort)
	desc.Database = cmp.Or(desc.Database, flavor.DefaultDatabase)
	desc.User = cmp.Or(desc.User, flavor.DefaultUser)
	desc.Password = cmp.Or(desc.Password, flavor.DefaultPassword)

	spec := &dockermanage.ContainerSpec{
		Image: cmp.Or(cfg.Container.Image, flavor.Image),
		Tag:   cmp.Or(cfg.Container.Tag, flavor.Tag),
		Ports: []dockermanage.PortMapping{
			{HostPort: desc.Port, ContainerPort: flavor.DefaultPort},
		},
		Environment: containerEnv(flavor, desc),
	}
	if flavor.Probe != nil {
		spec.HealthCheck = &dockermanage.HealthCheck{
			Test:     flavor.Probe(desc),
			Interval: healthInterval,
			Timeout:  healthTimeout,
			Retries:  healthRetries,
		}
	}
	return Resolved{Flavor: flavor, Descriptor: desc, Container: spec}, nil
}

func resolvePassword(ctx context.Context, p PasswordProvider) (string, error) {
	if p == nil {
		return "", nil
	}
	password, err := p.Password(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: password provider: %w", ErrConfigResolution, err)
	}
	return password, nil
}

func containerEnv(flavor Flavor, d Descriptor) []dockermanage.EnvVar {
	env := []dockermanage.EnvVar{
		{Key: flavor.EnvDatabase, Value: d.Database},
		{Key: flavor.EnvUser, Value: d.User},
		{Key: flavor.EnvPassword, Value: d.Password},
	}
	if flavor.ExtraEnv != nil {
		env = append(env, flavor.ExtraEnv(d)...)
	}
	return slices.DeleteFunc(env, func(e dockermanage.EnvVar) bool { return e.Key == "" })
}

// Validate checks that the descriptor can reach the container: loopback host, a port mapping
// published on the descriptor port, and database, user and password matching the container
// environment. A resolved config without a container is always valid.
func (r Resolved) Validate() error {
	if r.Container == nil {
		return nil
	}
	d := r.Descriptor
	if d.Host != LocalHost {
		return fmt.Errorf("container host must be %s, got %q", LocalHost, d.Host)
	}
	if !slices.ContainsFunc(r.Container.Ports, func(p dockermanage.PortMapping) bool {
		return p.HostPort == d.Port && p.ContainerPort == r.Flavor.DefaultPort
	}) {
		return fmt.Errorf("no port mapping publishes %d on host port %d", r.Flavor.DefaultPort, d.Port)
	}
	for _, want := range []struct{ key, value string }{
		{r.Flavor.EnvDatabase, d.Database},
		{r.Flavor.EnvUser, d.User},
		{r.Flavor.EnvPassword, d.Password},
	} {
		if want.key == "" {
			continue
		}
		if got, ok := r.Container.Lookup(want.key); !ok || got != want.value {
			return fmt.Errorf("container env %s=%q does not match descriptor value %q", want.key, got, want.value)
		}
	}
	return nil
}
