package dockermanage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ContainerSpec describes a single container to run. It is treated as immutable once built.
type ContainerSpec struct {
	Image string `validate:"required"`
	Tag   string `validate:"required"`

	// Environment is applied in slice order.
	Environment []EnvVar `validate:"dive"`
	// Ports is applied in slice order.
	Ports       []PortMapping `validate:"dive"`
	HealthCheck *HealthCheck
}

// EnvVar is a single KEY=VALUE environment entry.
type EnvVar struct {
	Key   string `validate:"required,excludesall=="`
	Value string
}

// PortMapping publishes ContainerPort on HostPort.
type PortMapping struct {
	HostPort      int `validate:"gt=0,lte=65535"`
	ContainerPort int `validate:"gt=0,lte=65535"`
}

// HealthCheck is the container health probe. Empty strings and a non-positive Retries mean the
// field is absent.
type HealthCheck struct {
	Test        []string `validate:"required,min=1"`
	Interval    string
	Timeout     string
	Retries     int `validate:"gte=0"`
	StartPeriod string
}

// Env builds an ordered environment from alternating key, value pairs.
func Env(kv ...string) []EnvVar {
	if len(kv)%2 != 0 {
		panic("dockermanage: Env requires key, value pairs")
	}
	env := make([]EnvVar, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		env = append(env, EnvVar{Key: kv[i], Value: kv[i+1]})
	}
	return env
}

// Reference returns image:tag.
func (s ContainerSpec) Reference() string {
	return s.Image + ":" + s.Tag
}

// Lookup returns the value of the environment entry named key.
func (s ContainerSpec) Lookup(key string) (string, bool) {
	for _, e := range s.Environment {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate reports whether the spec can be turned into a run command.
func (s ContainerSpec) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid container spec: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid container spec: %w", err)
	}
	return nil
}
