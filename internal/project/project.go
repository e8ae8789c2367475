// Package project resolves which executable the devserver supervises.
//
// Unless an explicit artifact path is configured, the build tool is asked to
// describe the target package (go list -json) and the artifact is placed at
// <cwd>/bin/<debug|release>/<name>.
package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"

	"github.com/tidwall/gjson"
)

// ErrUnresolvable is returned when the artifact path cannot be determined.
var ErrUnresolvable = errors.New("cannot resolve artifact")

// OutputDir is the directory, relative to the working directory, that holds
// built artifacts.
const OutputDir = "bin"

// Lister runs the build tool's package listing and returns its stdout.
type Lister func(ctx context.Context, dir, tool string, args ...string) ([]byte, error)

// Options controls artifact resolution.
type Options struct {
	Cwd     string
	Tool    string // build tool, "go" by default
	Target  string // package to build, "." by default
	Release bool
	Bin     string // explicit artifact path; skips resolution
	Lister  Lister // defaults to running the tool
}

// Project describes the resolved build target.
type Project struct {
	Name       string // executable name
	ImportPath string
	Dir        string // package directory
	ModulePath string
	Artifact   string // absolute artifact path
	Explicit   bool   // Artifact came from Options.Bin
}

// Mode returns "release" or "debug".
func Mode(release bool) string {
	if release {
		return "release"
	}
	return "debug"
}

// Resolve determines the artifact path for opts.
func Resolve(ctx context.Context, opts Options) (*Project, error) {
	if opts.Bin != "" {
		bin := opts.Bin
		if !filepath.IsAbs(bin) {
			bin = filepath.Join(opts.Cwd, bin)
		}
		return &Project{
			Name:     filepath.Base(bin),
			Artifact: filepath.Clean(bin),
			Explicit: true,
		}, nil
	}

	tool := opts.Tool
	if tool == "" {
		tool = "go"
	}
	target := opts.Target
	if target == "" {
		target = "."
	}
	lister := opts.Lister
	if lister == nil {
		lister = runLister
	}

	out, err := lister(ctx, opts.Cwd, tool, "list", "-json", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s list %s: %w", ErrUnresolvable, tool, target, err)
	}

	p, err := Parse(out)
	if err != nil {
		return nil, err
	}
	p.Artifact = ArtifactPath(opts.Cwd, p.Name, opts.Release)
	return p, nil
}

// Parse reads the JSON description of a single package.
func Parse(data []byte) (*Project, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid package listing", ErrUnresolvable)
	}

	pkg := gjson.ParseBytes(data)
	if e := pkg.Get("Error.Err"); e.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvable, e.String())
	}

	importPath := pkg.Get("ImportPath").String()
	if importPath == "" {
		return nil, fmt.Errorf("%w: package listing has no import path", ErrUnresolvable)
	}
	if name := pkg.Get("Name").String(); name != "main" {
		return nil, fmt.Errorf("%w: %s is package %s, not a command", ErrUnresolvable, importPath, name)
	}

	return &Project{
		Name:       ExecutableName(importPath),
		ImportPath: importPath,
		Dir:        pkg.Get("Dir").String(),
		ModulePath: pkg.Get("Module.Path").String(),
	}, nil
}

var majorVersion = regexp.MustCompile(`^v([2-9]|[1-9][0-9]+)$`)

// ExecutableName returns the name go build gives a command: the last
// import path element, skipping a major version suffix.
func ExecutableName(importPath string) string {
	base := path.Base(importPath)
	if majorVersion.MatchString(base) {
		if parent := path.Dir(importPath); parent != "." && parent != "/" {
			return path.Base(parent)
		}
	}
	return base
}

// ArtifactPath returns <cwd>/bin/<mode>/<name>.
func ArtifactPath(cwd, name string, release bool) string {
	return filepath.Join(cwd, OutputDir, Mode(release), name)
}

// Exists reports whether the artifact is present as a regular file.
func (p *Project) Exists() bool {
	info, err := os.Stat(p.Artifact)
	return err == nil && info.Mode().IsRegular()
}

func runLister(ctx context.Context, dir, tool string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
