package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultExitCode is propagated on shutdown when the child's own exit code is
// unavailable, e.g. it was killed by a signal.
const DefaultExitCode = 1

var (
	// ErrSpawn wraps a failure to start the first child instance.
	ErrSpawn = errors.New("failed to spawn child")

	// ErrNoChild is returned by Signal when there is no live child to signal.
	ErrNoChild = errors.New("no running child")
)

// CommandBuilder creates the command for one child instance.
// This interface keeps the supervisor decoupled from how the artifact is run.
type CommandBuilder interface {
	// BuildCommand returns a ready-to-start command. It must not be started.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a child instance starts.
	OnStart func(pid int, generation int)

	// OnExit is called when a child instance exits.
	OnExit func(pid int, exitCode int, uptime time.Duration)

	// OnRestart is called before a respawn attempt.
	OnRestart func(attempt int, delay time.Duration)

	// OnTerminate is called right before the terminal exit function.
	OnTerminate func(exitCode int)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Builder   CommandBuilder
	Backoff   *Backoff
	Logger    *slog.Logger
	Callbacks Callbacks

	// PID is the shared identity cell. Required.
	PID *PIDCell

	// Shutdown is the shared shutdown intent. Required.
	Shutdown *ShutdownFlag

	// Exit ends the program with the given code (default: os.Exit).
	Exit func(code int)
}

// Supervisor runs the artifact and respawns it whenever it exits, until
// shutdown has been requested; then the next exit ends the whole program.
type Supervisor struct {
	builder   CommandBuilder
	backoff   *Backoff
	logger    *slog.Logger
	callbacks Callbacks
	pid       *PIDCell
	shutdown  *ShutdownFlag
	exit      func(code int)

	// State management
	state   State
	stateMu sync.RWMutex

	// Current instance
	cmd        *exec.Cmd
	done       chan struct{} // closed once cmd has been reaped
	startTime  time.Time
	generation int
	cmdMu      sync.Mutex
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoff(time.Now().UnixNano(), DefaultBackoffConfig())
	}
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}

	return &Supervisor{
		builder:   cfg.Builder,
		backoff:   backoff,
		logger:    cfg.Logger,
		callbacks: cfg.Callbacks,
		pid:       cfg.PID,
		shutdown:  cfg.Shutdown,
		exit:      exit,
		state:     StateCreated,
	}
}

// Spawn starts the first child instance. A failure here is fatal to the run.
func (s *Supervisor) Spawn(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return nil
}

// Watch is the exit-watcher. It blocks on the current child's exit; on each
// exit it either ends the program (shutdown requested) or respawns. It only
// returns early when ctx is done, which production never does.
func (s *Supervisor) Watch(ctx context.Context) {
	for {
		s.cmdMu.Lock()
		cmd := s.cmd
		done := s.done
		started := s.startTime
		s.cmdMu.Unlock()

		if cmd == nil {
			s.logger.Error("watch_without_child")
			return
		}

		waitErr := cmd.Wait()
		// The pid may be recycled once reaped.
		s.pid.Invalidate()
		close(done)
		uptime := time.Since(started)
		exitCode := extractExitCode(waitErr)
		pid := cmd.Process.Pid

		s.logger.Info("child_exited",
			"pid", pid,
			"exit_code", exitCode,
			"uptime", uptime.String(),
		)

		if s.callbacks.OnExit != nil {
			s.callbacks.OnExit(pid, exitCode, uptime)
		}

		if s.shutdown.IsSet() {
			s.terminate(exitCode)
			return
		}

		if !s.respawn(ctx, uptime, exitCode) {
			return
		}
	}
}

// respawn restarts the child after the backoff delay, retrying failed starts.
// It returns false if supervision ended instead.
func (s *Supervisor) respawn(ctx context.Context, uptime time.Duration, exitCode int) bool {
	if s.backoff.ShouldReset(uptime, exitCode) {
		s.backoff.Reset()
	}

	for {
		delay := s.backoff.Next()
		attempt := s.backoff.Attempts()

		if s.callbacks.OnRestart != nil {
			s.callbacks.OnRestart(attempt, delay)
		}

		s.setState(StateBackoff)
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return false
		case <-time.After(delay):
		}

		if s.shutdown.IsSet() {
			s.terminate(exitCode)
			return false
		}

		err := s.start(ctx)
		if err == nil {
			s.logger.Info("child_restarted",
				"generation", s.Generation(),
				"attempt", attempt,
				"delay", delay.String(),
			)
			return true
		}

		s.logger.Error("respawn_failed", "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return false
		}
	}
}

// start launches one child instance and publishes its pid.
func (s *Supervisor) start(ctx context.Context) error {
	s.setState(StateStarting)

	cmd, err := s.builder.BuildCommand(ctx)
	if err != nil {
		return fmt.Errorf("build command: %w", err)
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = sysProcAttr()
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	s.cmdMu.Lock()
	s.cmd = cmd
	s.done = make(chan struct{})
	s.startTime = time.Now()
	s.generation++
	generation := s.generation
	s.cmdMu.Unlock()

	pid := cmd.Process.Pid
	s.pid.Set(pid)
	s.setState(StateRunning)

	s.logger.Info("child_started", "pid", pid, "generation", generation)

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(pid, generation)
	}
	return nil
}

// terminate ends supervision and the program with the child's exit code.
func (s *Supervisor) terminate(exitCode int) {
	s.pid.Invalidate()
	s.setState(StateStopped)

	s.logger.Info("shutdown_complete", "exit_code", exitCode)

	if s.callbacks.OnTerminate != nil {
		s.callbacks.OnTerminate(exitCode)
	}
	s.exit(exitCode)
}

// Signal delivers sig to the child currently in the PID cell. A child that is
// already gone is reported as ErrNoChild and is never fatal.
func (s *Supervisor) Signal(sig syscall.Signal) error {
	pid, ok := s.pid.Get()
	if !ok {
		return ErrNoChild
	}

	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return ErrNoChild
	}
	if err != nil {
		return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
	}
	return nil
}

// Stop terminates the current child: SIGTERM, then SIGKILL after timeout.
// It relies on Watch to reap the child. Callers raise the shutdown flag first
// when the child must not be respawned.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.cmdMu.Lock()
	cmd := s.cmd
	done := s.done
	s.cmdMu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	s.logger.Warn("force_killing_child", "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil {
		s.logger.Warn("child_kill_failed", "pid", cmd.Process.Pid, "error", err)
	}
	return errors.New("child did not exit gracefully")
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// Generation returns how many child instances have been started.
func (s *Supervisor) Generation() int {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.generation
}

// Uptime returns the current child's uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	if s.State() != StateRunning {
		return 0
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return time.Since(s.startTime)
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Exited() {
			return status.ExitStatus()
		}
	}

	// Killed by a signal or unknown error
	return DefaultExitCode
}
