package builder

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	results []bool
}

func (r *recorder) RecordBuild(success bool, d time.Duration) {
	r.mu.Lock()
	r.results = append(r.results, success)
	r.mu.Unlock()
}

// fakeTool writes an executable that stands in for the build tool.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakego")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// succeeding records its arguments and marker, then creates the -o target.
const succeeding = `printf '%s\n' "$@" > args.txt
echo "$DEVSERVER" > marker.txt
echo "compiled" > "$3"`

const failing = `echo "# example.com/app" >&2
echo "./main.go:3:1: undefined: x" >&2
exit 2`

func newTestRunner(t *testing.T, cfg Config, recs ...Recorder) (*Runner, *bytes.Buffer) {
	t.Helper()
	var stderr bytes.Buffer
	cfg.Stderr = &stderr
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), recs...), &stderr
}

func TestRunner_Args(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "debug",
			cfg:  Config{Artifact: "/w/bin/debug/app"},
			want: []string{"build", "-o", "/w/bin/debug/app", "-gcflags=all=-N -l", "."},
		},
		{
			name: "release",
			cfg:  Config{Artifact: "/w/bin/release/app", Release: true},
			want: []string{"build", "-o", "/w/bin/release/app", "-trimpath", "-ldflags=-s -w", "."},
		},
		{
			name: "target and extra flags",
			cfg:  Config{Artifact: "/w/app", Target: "./cmd/app", ExtraFlags: []string{"-race", "-tags=dev"}},
			want: []string{"build", "-o", "/w/app", "-gcflags=all=-N -l", "-race", "-tags=dev", "./cmd/app"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRunner(t, tc.cfg)
			assert.Equal(t, tc.want, r.Args())
		})
	}
}

func TestRunner_BuildSuccess(t *testing.T) {
	cwd := t.TempDir()
	artifact := filepath.Join(cwd, "bin", "debug", "app")
	rec := &recorder{}

	r, stderr := newTestRunner(t, Config{
		Tool:     fakeTool(t, succeeding),
		Cwd:      cwd,
		Artifact: artifact,
	}, rec)

	res := r.Build(context.Background())
	require.True(t, res.Success, "build failed: %v %s", res.Err, res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err)
	assert.Positive(t, res.Duration)

	assert.FileExists(t, artifact)
	marker, err := os.ReadFile(filepath.Join(cwd, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(string(marker)))

	args, err := os.ReadFile(filepath.Join(cwd, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(r.Args(), "\n"), strings.TrimSpace(string(args)))

	assert.Empty(t, stderr.String(), "successful builds print nothing")
	assert.Equal(t, []bool{true}, rec.results)
}

func TestRunner_BuildFailure(t *testing.T) {
	cwd := t.TempDir()
	rec := &recorder{}

	r, stderr := newTestRunner(t, Config{
		Tool:     fakeTool(t, failing),
		Cwd:      cwd,
		Artifact: filepath.Join(cwd, "bin", "debug", "app"),
	}, rec)

	res := r.Build(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.ExitCode)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Stderr, "undefined: x")

	out := stderr.String()
	assert.Contains(t, out, "build failed")
	assert.Contains(t, out, "1 error line")
	assert.Contains(t, out, "# example.com/app\n./main.go:3:1: undefined: x\n", "compiler output is surfaced verbatim")
	assert.NoFileExists(t, filepath.Join(cwd, "bin", "debug", "app"))
	assert.Equal(t, []bool{false}, rec.results)
}

func TestRunner_LaunchFailure(t *testing.T) {
	cwd := t.TempDir()
	rec := &recorder{}

	r, stderr := newTestRunner(t, Config{
		Tool:     filepath.Join(cwd, "no-such-tool"),
		Cwd:      cwd,
		Artifact: filepath.Join(cwd, "bin", "app"),
	}, rec)

	res := r.Build(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Error(t, res.Err)
	assert.Contains(t, stderr.String(), "build not started")
	assert.Equal(t, []bool{false}, rec.results)
}

func TestRunner_RepeatedBuildsResetOutput(t *testing.T) {
	cwd := t.TempDir()
	r, stderr := newTestRunner(t, Config{
		Tool:     fakeTool(t, failing),
		Cwd:      cwd,
		Artifact: filepath.Join(cwd, "app"),
	})

	r.Build(context.Background())
	r.Build(context.Background())

	// Each failure reports only its own error lines.
	assert.Equal(t, 2, strings.Count(stderr.String(), "1 error line"))
}
