// Package builder runs the project's build command and reports the outcome.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/randomizedcoder/go-devserver/internal/console"
	"github.com/randomizedcoder/go-devserver/internal/logging"
	"github.com/randomizedcoder/go-devserver/internal/process"
)

// Config holds configuration for the build command.
type Config struct {
	// Tool is the build tool binary (default: "go").
	Tool string

	// Cwd is the directory the build runs in.
	Cwd string

	// Artifact is the output path passed to -o.
	Artifact string

	// Target is the package to build (default: ".").
	Target string

	// Release selects optimized, stripped output instead of a debug build.
	Release bool

	// ExtraFlags are appended after the mode flags.
	ExtraFlags []string

	// Stderr receives the compiler output of failed builds (default: os.Stderr).
	Stderr io.Writer
}

// Result captures the outcome of one build.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the tool could not be started
	Duration time.Duration
	Err      error
}

// Recorder observes finished builds.
type Recorder interface {
	RecordBuild(success bool, d time.Duration)
}

// Runner runs builds synchronously. It is not safe for concurrent use; the
// coordinator calls it from a single goroutine.
type Runner struct {
	config    Config
	logger    *slog.Logger
	output    *logging.BuildOutput
	recorders []Recorder
}

// New creates a Runner. Recorders are notified after every build.
func New(cfg Config, logger *slog.Logger, recorders ...Recorder) *Runner {
	if cfg.Tool == "" {
		cfg.Tool = "go"
	}
	if cfg.Target == "" {
		cfg.Target = "."
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Runner{
		config:    cfg,
		logger:    logger,
		output:    logging.NewBuildOutput(logger),
		recorders: recorders,
	}
}

// Args returns the build tool arguments.
func (r *Runner) Args() []string {
	args := []string{"build", "-o", r.config.Artifact}
	if r.config.Release {
		args = append(args, "-trimpath", "-ldflags=-s -w")
	} else {
		args = append(args, "-gcflags=all=-N -l")
	}
	args = append(args, r.config.ExtraFlags...)
	return append(args, r.config.Target)
}

// Build runs the build to completion. A failed build never changes process
// state: its stderr is written to the operator's stream and the result is
// returned.
func (r *Runner) Build(ctx context.Context) Result {
	args := r.Args()
	r.logger.Info("build_started", "tool", r.config.Tool, "args", args)

	if err := os.MkdirAll(filepath.Dir(r.config.Artifact), 0o755); err != nil {
		return r.finish(Result{ExitCode: -1, Err: fmt.Errorf("create output directory: %w", err)})
	}

	r.output.Reset()
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.config.Tool, args...)
	cmd.Dir = r.config.Cwd
	cmd.Env = process.MarkerEnv("")
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, r.output)

	start := time.Now()
	err := cmd.Run()
	r.output.Flush()

	res := Result{
		Success:  err == nil,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Err:      err,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}
	return r.finish(res)
}

func (r *Runner) finish(res Result) Result {
	for _, rec := range r.recorders {
		rec.RecordBuild(res.Success, res.Duration)
	}

	if res.Success {
		r.logger.Info("build_finished", "duration", res.Duration.String())
		return res
	}

	if res.ExitCode == -1 {
		r.logger.Error("build_launch_failed", "tool", r.config.Tool, "error", res.Err)
		fmt.Fprintln(r.config.Stderr, console.BuildLaunchFailed(r.config.Tool, res.Err))
		return res
	}

	errorLines := r.output.ErrorCount()
	r.logger.Warn("build_failed",
		"exit_code", res.ExitCode,
		"duration", res.Duration.String(),
		"error_lines", errorLines,
		"patterns", r.output.CountErrors(),
	)
	fmt.Fprintln(r.config.Stderr, console.BuildFailedHeader(res.ExitCode, res.Duration, errorLines))
	io.WriteString(r.config.Stderr, res.Stderr)
	return res
}
