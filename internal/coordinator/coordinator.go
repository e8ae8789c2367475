// Package coordinator is the single consumer of the event queue. It forwards
// restart signals to the child, runs builds, and records shutdown intent.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"syscall"

	"github.com/randomizedcoder/go-devserver/internal/builder"
	"github.com/randomizedcoder/go-devserver/internal/event"
	"github.com/randomizedcoder/go-devserver/internal/supervisor"
)

// State is the coordinator's lifecycle state.
type State int

const (
	// StateRunning is the normal state.
	StateRunning State = iota

	// StateShuttingDown means shutdown was requested; the next child exit
	// ends the program.
	StateShuttingDown

	// StateTerminated is set by the exit path just before the process exits.
	StateTerminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Builder runs one build synchronously.
type Builder interface {
	Build(ctx context.Context) builder.Result
}

// Signaler delivers a signal to the current child.
type Signaler interface {
	Signal(sig syscall.Signal) error
}

// Callbacks contains optional callback functions for coordinator activity.
type Callbacks struct {
	// OnEvent is called for every event taken off the queue.
	OnEvent func(e event.Event)

	// OnSignal is called after each delivery attempt; err is nil on success.
	OnSignal func(sig syscall.Signal, err error)

	// OnBuild is called after each build.
	OnBuild func(res builder.Result)

	// OnStateChange is called when the state changes.
	OnStateChange func(oldState, newState State)
}

// Config holds configuration for creating a Coordinator.
type Config struct {
	Queue    *event.Queue
	Builder  Builder
	Child    Signaler
	Shutdown *supervisor.ShutdownFlag
	Logger   *slog.Logger

	// RestartSignal is delivered to the child on a Signal event.
	RestartSignal syscall.Signal

	// Coalesce collapses events queued while a build ran: pending Rebuilds
	// are dropped and pending Signals become one.
	Coalesce bool

	Callbacks Callbacks
}

// Coordinator processes events strictly in arrival order.
type Coordinator struct {
	queue     *event.Queue
	builder   Builder
	child     Signaler
	shutdown  *supervisor.ShutdownFlag
	logger    *slog.Logger
	sig       syscall.Signal
	coalesce  bool
	callbacks Callbacks

	mu    sync.RWMutex
	state State
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	sig := cfg.RestartSignal
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	return &Coordinator{
		queue:     cfg.Queue,
		builder:   cfg.Builder,
		child:     cfg.Child,
		shutdown:  cfg.Shutdown,
		logger:    cfg.Logger,
		sig:       sig,
		coalesce:  cfg.Coalesce,
		callbacks: cfg.Callbacks,
		state:     StateRunning,
	}
}

// Run processes events until the queue is closed (returns nil), ctx is done
// (returns ctx.Err()), or the coordinator is marked terminated.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if c.State() == StateTerminated {
			return nil
		}

		e, err := c.queue.Pop(ctx)
		if errors.Is(err, event.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		c.Handle(ctx, e)
	}
}

// Handle applies one event.
func (c *Coordinator) Handle(ctx context.Context, e event.Event) {
	if c.callbacks.OnEvent != nil {
		c.callbacks.OnEvent(e)
	}

	switch e {
	case event.Signal:
		c.forwardSignal()
	case event.Rebuild:
		c.rebuild(ctx)
	case event.Shutdown:
		c.requestShutdown()
	default:
		c.logger.Warn("unknown_event", "event", int(e))
	}
}

// forwardSignal delivers the restart signal, also while shutting down: a
// second cooperative stop request completes the shutdown.
func (c *Coordinator) forwardSignal() {
	err := c.child.Signal(c.sig)
	switch {
	case err == nil:
		c.logger.Info("signal_forwarded", "signal", c.sig.String())
	case errors.Is(err, supervisor.ErrNoChild):
		c.logger.Debug("signal_skipped", "signal", c.sig.String(), "reason", "no running child")
	default:
		c.logger.Warn("signal_failed", "signal", c.sig.String(), "error", err)
	}

	if c.callbacks.OnSignal != nil {
		c.callbacks.OnSignal(c.sig, err)
	}
}

func (c *Coordinator) rebuild(ctx context.Context) {
	res := c.builder.Build(ctx)
	if c.callbacks.OnBuild != nil {
		c.callbacks.OnBuild(res)
	}

	if c.coalesce {
		if dropped := c.queue.Rewrite(Coalesce); dropped > 0 {
			c.logger.Debug("events_coalesced", "dropped", dropped)
		}
	}
}

func (c *Coordinator) requestShutdown() {
	if !c.shutdown.Set() {
		return
	}
	c.logger.Info("shutdown_requested", "state", c.State().String())
	c.setState(StateShuttingDown)
}

// MarkTerminated records that the program is about to exit.
func (c *Coordinator) MarkTerminated() {
	c.setState(StateTerminated)
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(newState State) {
	c.mu.Lock()
	oldState := c.state
	c.state = newState
	c.mu.Unlock()

	if c.callbacks.OnStateChange != nil && oldState != newState {
		c.callbacks.OnStateChange(oldState, newState)
	}
}

// Coalesce rewrites pending events after a build: Rebuilds are dropped, the
// first Signal is kept and later ones dropped, Shutdown is always kept.
// Relative order of kept events is preserved.
func Coalesce(pending []event.Event) []event.Event {
	out := pending[:0]
	seenSignal := false
	for _, e := range pending {
		switch e {
		case event.Rebuild:
			continue
		case event.Signal:
			if seenSignal {
				continue
			}
			seenSignal = true
		}
		out = append(out, e)
	}
	return out
}
