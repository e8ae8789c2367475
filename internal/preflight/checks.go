// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-devserver/internal/console"
)

// MinFileDescriptors is the soft limit below which a warning is shown. Each
// watched directory costs a descriptor on kqueue platforms.
const MinFileDescriptors = 1024

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll checks.
type Options struct {
	BuildTool string
	Cwd       string
	Watch     []string // relative entries are resolved against Cwd
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := console.Marker(console.StatusOK)
	if !c.Passed {
		status = console.Marker(console.StatusError)
	} else if c.Warning {
		status = console.Marker(console.StatusWarning)
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 3+len(opts.Watch)),
		Passed: true,
	}

	result.add(checkBuildTool(opts.BuildTool))

	cwdCheck := checkWorkingDirectory(opts.Cwd)
	result.add(cwdCheck)

	// Watch paths are only meaningful inside an existing working directory
	if cwdCheck.Passed {
		for _, p := range opts.Watch {
			result.add(checkWatchPath(opts.Cwd, p))
		}
	}

	// Warning only
	result.add(checkFileDescriptors())

	return result
}

// checkBuildTool verifies the build tool is on PATH and reports its version.
func checkBuildTool(tool string) Check {
	path, err := exec.LookPath(tool)
	if err != nil {
		return Check{
			Name:    "build_tool",
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", tool, err),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version := "unknown"
	if out, err := exec.CommandContext(ctx, path, "version").Output(); err == nil {
		// "go version go1.22.1 linux/amd64"
		if fields := strings.Fields(string(out)); len(fields) >= 3 {
			version = fields[2]
		}
	}

	return Check{
		Name:    "build_tool",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, version),
	}
}

// checkWorkingDirectory verifies the working directory exists.
func checkWorkingDirectory(dir string) Check {
	info, err := os.Stat(dir)
	if err != nil {
		return Check{
			Name:    "working_directory",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", dir, err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "working_directory",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a directory", dir),
		}
	}
	return Check{Name: "working_directory", Passed: true, Message: dir}
}

// checkWatchPath verifies a watch path exists.
func checkWatchPath(cwd, p string) Check {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(cwd, p)
	}

	if _, err := os.Stat(full); err != nil {
		return Check{
			Name:    "watch_path",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", p, err),
		}
	}
	return Check{Name: "watch_path", Passed: true, Message: p}
}

// checkFileDescriptors warns when the soft descriptor limit is low.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<31-1) {
		actual = 1<<31 - 1
	}

	return Check{
		Name:     "file_descriptors",
		Required: MinFileDescriptors,
		Actual:   actual,
		Passed:   true, // Don't fail on this
		Warning:  actual < MinFileDescriptors,
		Message:  fmt.Sprintf("ulimit -n %d (recommend %d)", actual, MinFileDescriptors),
	}
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "build_tool":
		return "install Go (https://go.dev/dl) or pass -build-tool"
	case "working_directory":
		return "pass an existing directory to -cwd"
	case "watch_path":
		return "create the path or adjust -watch"
	default:
		return "see documentation"
	}
}
