package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ErrNoArtifact is returned when the artifact is missing at spawn time.
var ErrNoArtifact = errors.New("artifact not found")

// Applier attaches the inherited listener to a command.
type Applier interface {
	Apply(cmd *exec.Cmd)
}

// ArtifactConfig holds configuration for running the supervised artifact.
type ArtifactConfig struct {
	// Path is the absolute path of the built executable.
	Path string

	// Cwd is the child's working directory.
	Cwd string

	// Args are passed to the artifact unchanged.
	Args []string

	// Session is exported as DEVSERVER_SESSION.
	Session string

	// Handoff attaches the listening socket. Optional in tests.
	Handoff Applier

	// Stdout and Stderr default to the devserver's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// ArtifactRunner implements Runner for the built executable.
type ArtifactRunner struct {
	config ArtifactConfig
}

// NewArtifactRunner creates a runner for cfg.
func NewArtifactRunner(cfg ArtifactConfig) *ArtifactRunner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &ArtifactRunner{config: cfg}
}

// Name returns "artifact".
func (r *ArtifactRunner) Name() string {
	return "artifact"
}

// BuildCommand creates the command for one child instance.
//
// The command is not bound to ctx; a child instance ends only by signal or
// on its own.
func (r *ArtifactRunner) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	if _, err := os.Stat(r.config.Path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoArtifact, r.config.Path, err)
	}

	cmd := exec.Command(r.config.Path, r.config.Args...)
	cmd.Dir = r.config.Cwd
	cmd.Env = MarkerEnv(r.config.Session)
	cmd.Stdin = os.Stdin
	cmd.Stdout = r.config.Stdout
	cmd.Stderr = r.config.Stderr

	if r.config.Handoff != nil {
		r.config.Handoff.Apply(cmd)
	}
	return cmd, nil
}
