// Package signals turns the process signals the devserver reacts to into
// events on the coordinator queue.
package signals

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-devserver/internal/event"
)

// Handled is the set of signals the monitor subscribes to.
var Handled = []os.Signal{unix.SIGHUP, unix.SIGINT, unix.SIGTERM}

// Translate maps a process signal to an event. ok is false for signals the
// devserver does not act on.
func Translate(sig os.Signal) (e event.Event, ok bool) {
	s, isUnix := sig.(unix.Signal)
	if !isUnix {
		return 0, false
	}
	switch s {
	case unix.SIGHUP:
		return event.Signal, true
	case unix.SIGINT, unix.SIGTERM:
		return event.Shutdown, true
	default:
		return 0, false
	}
}

// Monitor forwards SIGHUP, SIGINT and SIGTERM to a sink.
type Monitor struct {
	sink   event.Sink
	logger *slog.Logger

	sigCh    chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Monitor that pushes translated signals to sink.
func New(sink event.Sink, logger *slog.Logger) *Monitor {
	return &Monitor{
		sink:   sink,
		logger: logger,
		sigCh:  make(chan os.Signal, 16),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the handled signals and begins forwarding them.
func (m *Monitor) Start() {
	signal.Notify(m.sigCh, Handled...)

	m.wg.Add(1)
	go m.loop()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case sig := <-m.sigCh:
			e, ok := Translate(sig)
			if !ok {
				continue
			}
			m.logger.Info("signal_received", "signal", sig.String(), "event", e.String())
			if e == event.Shutdown {
				m.logger.Info("shutdown_requested", "signal", sig.String())
			}
			m.sink.Push(e)
		}
	}
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
// Production never stops the monitor; the process exit ends it.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		signal.Stop(m.sigCh)
		close(m.done)
	})
	m.wg.Wait()
}
