// Package event defines the supervisor's event model and the ordered queue
// that fans every producer (signal monitor, filesystem watcher) into the
// single coordinator loop.
package event

// Event is the kind of a supervisor event. Events carry no payload; everything
// needed to act on them lives in the configuration.
type Event int

const (
	// Signal asks the coordinator to deliver the restart signal to the child.
	Signal Event = iota + 1

	// Rebuild asks the coordinator to run the build.
	Rebuild

	// Shutdown asks the coordinator to begin a graceful process-wide shutdown.
	Shutdown
)

// String returns a human-readable name for the event.
func (e Event) String() string {
	switch e {
	case Signal:
		return "signal"
	case Rebuild:
		return "rebuild"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Sink accepts events. Producers only ever need to push.
type Sink interface {
	Push(e Event)
}
