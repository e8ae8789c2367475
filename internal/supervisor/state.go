// Package supervisor owns the lifecycle of the supervised artifact: spawn,
// process identity, the exit-watcher, respawn, and terminal exit.
package supervisor

// State represents the current state of the supervised child.
type State int

const (
	// StateCreated is the initial state before the first spawn.
	StateCreated State = iota

	// StateStarting indicates a child instance is being spawned.
	StateStarting

	// StateRunning indicates a child instance is running.
	StateRunning

	// StateBackoff indicates the supervisor is waiting before a respawn.
	StateBackoff

	// StateStopped indicates supervision has ended.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while a child is running or about to be (re)started.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateBackoff
}

// IsTerminal returns true if the state is a terminal state (stopped).
func (s State) IsTerminal() bool {
	return s == StateStopped
}
