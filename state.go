package ephemeraldb

// State is the stage an [Environment] has reached.
type State int

const (
	StateIdle State = iota
	StateContainerStarting
	StateMigrating
	StateSeeding
	StateReady
	StateTearingDown
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateContainerStarting:
		return "container_starting"
	case StateMigrating:
		return "migrating"
	case StateSeeding:
		return "seeding"
	case StateReady:
		return "ready"
	case StateTearingDown:
		return "tearing_down"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
