package ephemeraldb

import (
	"errors"
	"fmt"

	"github.com/pressly/ephemeraldb/pkg/dbconfig"
	"github.com/pressly/ephemeraldb/pkg/dockermanage"
)

var (
	// ErrStart is the kind of a failure to launch the container or wait for it to become ready.
	ErrStart = dockermanage.ErrStart

	// ErrConfigResolution is the kind of a failure to resolve the configuration, such as a failing
	// password provider.
	ErrConfigResolution = dbconfig.ErrConfigResolution

	// ErrMigration is the kind of a failure to connect to the database or apply a migration.
	ErrMigration = errors.New("migration failed")

	// ErrSeed is the kind of a failure returned by the seed function.
	ErrSeed = errors.New("seed failed")

	// ErrAlreadyProvided is returned by [Context.Provide] when the key already holds a descriptor.
	ErrAlreadyProvided = errors.New("already provided")

	// ErrNotProvided is returned by [Context.Inject] when nothing was provided under the key.
	ErrNotProvided = errors.New("not provided")
)

// SetupError is returned by [Setup] when a stage fails. By the time it is returned any container
// started for the environment has been removed.
type SetupError struct {
	// Stage is the state the environment was in when the failure occurred.
	Stage State
	// Kind is one of ErrStart, ErrConfigResolution, ErrMigration or ErrSeed. It is
	// ErrAlreadyProvided if another setup published under the same key while this one ran.
	Kind error
	// Err is the underlying error.
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("ephemeraldb: setup failed (stage:%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
