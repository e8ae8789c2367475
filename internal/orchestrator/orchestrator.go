// Package orchestrator sequences startup and wires the devserver components
// together: socket, build, watcher, supervisor, signal monitor, coordinator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-devserver/internal/builder"
	"github.com/randomizedcoder/go-devserver/internal/config"
	"github.com/randomizedcoder/go-devserver/internal/console"
	"github.com/randomizedcoder/go-devserver/internal/coordinator"
	"github.com/randomizedcoder/go-devserver/internal/event"
	"github.com/randomizedcoder/go-devserver/internal/metrics"
	"github.com/randomizedcoder/go-devserver/internal/preflight"
	"github.com/randomizedcoder/go-devserver/internal/process"
	"github.com/randomizedcoder/go-devserver/internal/project"
	"github.com/randomizedcoder/go-devserver/internal/signals"
	"github.com/randomizedcoder/go-devserver/internal/socket"
	"github.com/randomizedcoder/go-devserver/internal/stats"
	"github.com/randomizedcoder/go-devserver/internal/supervisor"
	"github.com/randomizedcoder/go-devserver/internal/watcher"
)

var (
	// ErrPreflight is returned when a required preflight check fails.
	ErrPreflight = errors.New("preflight checks failed (use -skip-preflight to override)")

	// ErrInitialBuild is returned when the artifact is missing and the first
	// build fails.
	ErrInitialBuild = errors.New("initial build failed")
)

// stopTimeout bounds how long Close waits for the child.
const stopTimeout = 5 * time.Second

// Options holds process-level dependencies. Zero values use the real process.
type Options struct {
	Version string

	// Stdout and Stderr are inherited by the child; Stderr also receives the
	// banner, build failures and the exit summary.
	Stdout io.Writer
	Stderr io.Writer

	// Exit ends the program (default: os.Exit).
	Exit func(code int)

	// Lister replaces the build tool's package listing.
	Lister project.Lister

	// NoSignals skips installing the OS signal monitor.
	NoSignals bool
}

// Orchestrator owns every component of one devserver session.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	opts   Options

	session    string
	queue      *event.Queue
	pids       *supervisor.PIDCell
	shutdown   *supervisor.ShutdownFlag
	sessionSt  *stats.Session
	buildStats *stats.BuildStats
	registry   *prometheus.Registry

	listener      *socket.Listener
	project       *project.Project
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	builder       *builder.Runner
	watcher       *watcher.Watcher
	supervisor    *supervisor.Supervisor
	coordinator   *coordinator.Coordinator
	monitor       *signals.Monitor

	// exited is closed once the exit function returns, which os.Exit never
	// does. closed is closed by Close.
	exited chan struct{}
	closed chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		opts:       opts,
		session:    uuid.NewString(),
		queue:      event.NewQueue(),
		pids:       &supervisor.PIDCell{},
		shutdown:   &supervisor.ShutdownFlag{},
		sessionSt:  stats.NewSession(),
		buildStats: stats.NewBuildStats(),
		registry:   registry,
		exited:     make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Run starts every component and processes events. In production it never
// returns on success: the supervisor ends the process with the child's exit
// code once shutdown was requested and the child exited.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	return o.serve(ctx)
}

// serve runs the coordinator. After termination it blocks until the exit
// function has returned, so the caller can never end the process first.
func (o *Orchestrator) serve(ctx context.Context) error {
	if err := o.coordinator.Run(ctx); err != nil {
		return err
	}
	select {
	case <-o.exited:
	case <-o.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (o *Orchestrator) exit(code int) {
	o.opts.Exit(code)
	close(o.exited)
}

// Start performs the startup sequence and launches the background goroutines.
// Errors are fatal and wrap one of ErrPreflight, socket.ErrNoBindableAddress,
// project.ErrUnresolvable, ErrInitialBuild, supervisor.ErrSpawn, or
// watcher.ErrPathNotExist.
func (o *Orchestrator) Start(ctx context.Context) error {
	cfg := o.config

	if !cfg.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			BuildTool: cfg.BuildTool,
			Cwd:       cfg.Cwd,
			Watch:     cfg.Watch,
		})
		if !result.Passed {
			preflight.PrintResults(o.opts.Stderr, result)
			return ErrPreflight
		}
	}

	restartSignal, err := config.ParseSignal(cfg.Signal)
	if err != nil {
		return fmt.Errorf("signal: %w", err)
	}

	// The socket exists before any child does and outlives all of them
	o.listener, err = socket.Open(ctx, cfg.Host, cfg.Port, o.logger)
	if err != nil {
		return fmt.Errorf("open socket: %w", err)
	}

	o.project, err = project.Resolve(ctx, project.Options{
		Cwd:     cfg.Cwd,
		Tool:    cfg.BuildTool,
		Target:  cfg.Target,
		Release: cfg.Release,
		Bin:     cfg.Bin,
		Lister:  o.opts.Lister,
	})
	if err != nil {
		return err
	}
	o.logger.Info("project_resolved",
		"name", o.project.Name,
		"artifact", o.project.Artifact,
		"explicit", o.project.Explicit,
	)

	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:  o.opts.Version,
		Artifact: o.project.Artifact,
		Mode:     project.Mode(cfg.Release),
	}, o.registry)

	o.builder = builder.New(builder.Config{
		Tool:       cfg.BuildTool,
		Cwd:        cfg.Cwd,
		Artifact:   o.project.Artifact,
		Target:     cfg.Target,
		Release:    cfg.Release,
		ExtraFlags: cfg.BuildFlag,
		Stderr:     o.opts.Stderr,
	}, o.logger, o.metrics)

	if !o.project.Exists() {
		o.logger.Info("artifact_missing", "artifact", o.project.Artifact)
		res := o.builder.Build(ctx)
		o.recordBuild(res)
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrInitialBuild, o.project.Artifact)
		}
	}

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.registry, o.logger)
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	o.watcher, err = watcher.New(watcher.Config{
		Paths:    cfg.Watch,
		Artifact: o.project.Artifact,
		Cwd:      cfg.Cwd,
		Ignore:   []string{filepath.Join(cfg.Cwd, project.OutputDir)},
		Debounce: cfg.Debounce,
		OnError:  o.onWatchError,
	}, o.queue, o.logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	var runner process.Runner = process.NewArtifactRunner(process.ArtifactConfig{
		Path:    o.project.Artifact,
		Cwd:     cfg.Cwd,
		Args:    cfg.Args,
		Session: o.session,
		Handoff: o.listener.Handoff(),
		Stdout:  o.opts.Stdout,
		Stderr:  o.opts.Stderr,
	})

	backoffCfg := supervisor.DefaultBackoffConfig()
	backoffCfg.Initial = cfg.BackoffInitial
	backoffCfg.Max = cfg.BackoffMax

	o.supervisor = supervisor.New(supervisor.Config{
		Builder:  runner,
		Backoff:  supervisor.NewBackoff(time.Now().UnixNano(), backoffCfg),
		Logger:   o.logger,
		PID:      o.pids,
		Shutdown: o.shutdown,
		Exit:     o.exit,
		Callbacks: supervisor.Callbacks{
			OnStateChange: o.onStateChange,
			OnStart:       o.onStart,
			OnExit:        o.onExit,
			OnRestart:     o.onRestart,
			OnTerminate:   o.onTerminate,
		},
	})

	o.coordinator = coordinator.New(coordinator.Config{
		Queue:         o.queue,
		Builder:       o.builder,
		Child:         o.supervisor,
		Shutdown:      o.shutdown,
		Logger:        o.logger,
		RestartSignal: restartSignal,
		Coalesce:      cfg.Coalesce,
		Callbacks: coordinator.Callbacks{
			OnEvent:  o.onEvent,
			OnSignal: o.onSignal,
			OnBuild:  o.recordBuild,
		},
	})

	// Installed before the first child exists so no child is ever orphaned.
	if !o.opts.NoSignals {
		o.monitor = signals.New(o.queue, o.logger)
		o.monitor.Start()
	}

	if err := o.supervisor.Spawn(ctx); err != nil {
		if o.monitor != nil {
			o.monitor.Stop()
		}
		return err
	}

	fmt.Fprintln(o.opts.Stderr, console.Banner(console.BannerInfo{
		Version:  o.opts.Version,
		Addr:     o.listener.Addr().String(),
		Artifact: o.project.Artifact,
		Mode:     project.Mode(cfg.Release),
		Watch:    cfg.Watch,
		Metrics:  o.metricsAddr(),
	}))

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.supervisor.Watch(ctx)
	}()
	go func() {
		defer o.wg.Done()
		o.watcher.Run()
	}()

	o.logger.Info("devserver_started",
		"addr", o.listener.Addr().String(),
		"session", o.session,
		"runner", runner.Name(),
		"coalesce", cfg.Coalesce,
	)
	return nil
}

// Close stops every component without ending the process. Production never
// calls it; the process exit releases everything.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.closed)
		if o.monitor != nil {
			o.monitor.Stop()
		}
		if o.watcher != nil {
			o.watcher.Close()
		}
		if o.supervisor != nil {
			o.shutdown.Set()
			if err := o.supervisor.Stop(stopTimeout); err != nil {
				o.logger.Warn("child_stop_incomplete", "error", err)
			}
		}
		o.queue.Close()
		o.wg.Wait()

		if o.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := o.metricsServer.Shutdown(ctx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}
		if o.listener != nil {
			o.listener.Close()
		}
	})
}

// Callback handlers

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	o.logger.Debug("supervisor_state", "from", oldState.String(), "to", newState.String())
}

func (o *Orchestrator) onStart(pid int, generation int) {
	o.metrics.ChildStarted(pid)
	o.sessionSt.ChildStarted()
}

func (o *Orchestrator) onExit(pid int, exitCode int, uptime time.Duration) {
	o.metrics.RecordExit(exitCode, uptime)
	o.sessionSt.ChildExited(exitCode)
}

func (o *Orchestrator) onRestart(attempt int, delay time.Duration) {
	o.metrics.ChildRestarted()
	o.sessionSt.ChildRestarted()

	if o.config.Verbose {
		o.logger.Debug("child_restart_scheduled",
			"attempt", attempt,
			"delay", delay.String(),
		)
	}
}

// onTerminate runs on the exit-watcher goroutine right before the process
// exits with the child's code.
func (o *Orchestrator) onTerminate(exitCode int) {
	o.coordinator.MarkTerminated()
	o.queue.Close()
	o.printExitSummary(exitCode)
}

func (o *Orchestrator) onEvent(e event.Event) {
	o.metrics.RecordEvent(e.String())
}

func (o *Orchestrator) onSignal(sig syscall.Signal, err error) {
	switch {
	case err == nil:
		o.metrics.SignalForwarded(sig.String())
		o.sessionSt.SignalForwarded()
	case errors.Is(err, supervisor.ErrNoChild):
	default:
		o.metrics.SignalFailed()
	}
}

func (o *Orchestrator) onWatchError(err error) {
	o.metrics.WatchError()
}

func (o *Orchestrator) recordBuild(res builder.Result) {
	o.buildStats.Record(res.Duration, res.Success)
	snap := o.buildStats.Snapshot()
	o.metrics.SetBuildPercentiles(snap.P50, snap.P95, snap.P99)
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary(exitCode int) {
	summary := o.sessionSt.SummaryConfig(o.buildStats.Snapshot(), exitCode, o.metricsAddr())
	fmt.Fprint(o.opts.Stderr, stats.FormatExitSummary(summary))
}

// BuildCommandLine resolves the artifact and returns the shell form of the
// build command every Rebuild runs.
func BuildCommandLine(ctx context.Context, cfg *config.Config, lister project.Lister, logger *slog.Logger) (string, error) {
	p, err := project.Resolve(ctx, project.Options{
		Cwd:     cfg.Cwd,
		Tool:    cfg.BuildTool,
		Target:  cfg.Target,
		Release: cfg.Release,
		Bin:     cfg.Bin,
		Lister:  lister,
	})
	if err != nil {
		return "", err
	}

	r := builder.New(builder.Config{
		Tool:       cfg.BuildTool,
		Cwd:        cfg.Cwd,
		Artifact:   p.Artifact,
		Target:     cfg.Target,
		Release:    cfg.Release,
		ExtraFlags: cfg.BuildFlag,
	}, logger)

	parts := []string{cfg.BuildTool}
	for _, arg := range r.Args() {
		if strings.ContainsAny(arg, " \t\"'") {
			arg = strconv.Quote(arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " "), nil
}

// Session returns the id exported to every child as DEVSERVER_SESSION.
func (o *Orchestrator) Session() string {
	return o.session
}

// Addr returns the bound listening address. Valid after Start.
func (o *Orchestrator) Addr() string {
	return o.listener.Addr().String()
}

// Project returns the resolved build target. Valid after Start.
func (o *Orchestrator) Project() *project.Project {
	return o.project
}
