package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes the environment fallback of every flag.
	EnvPrefix = "DEVSERVER"

	// FileName is the optional config file looked up in the working directory.
	FileName = ".devserver"
)

// stringList is a repeatable flag. The first Set replaces the default.
type stringList struct {
	values  *[]string
	changed bool
}

func (s *stringList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s *stringList) Set(value string) error {
	if !s.changed {
		*s.values = nil
		s.changed = true
	}
	*s.values = append(*s.values, value)
	return nil
}

// ParseFlags parses os.Args. It returns flag.ErrHelp when -h was given.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs builds a Config from args layered over DEVSERVER_* environment
// variables and .devserver.yaml. Flags win over env, env over the file.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := newFlagSet(cfg, output)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	v, err := loadLayers(cfg.Cwd, explicit["cwd"])
	if err != nil {
		return nil, err
	}
	if err := applyLayers(fs, v, explicit); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.Cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	cfg.Cwd = abs

	return cfg, nil
}

func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("go-devserver", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Usage = func() {
		fmt.Fprintf(output, `go-devserver - rebuild and restart a Go server on change, keeping its socket

Usage:
  go-devserver [flags] [-- child args...]

Socket:
`)
		printFlagCategory(fs, output, []string{"host", "port"})

		fmt.Fprintf(output, "\nProject:\n")
		printFlagCategory(fs, output, []string{"cwd", "watch", "bin", "release", "target", "build-tool", "build-flag"})

		fmt.Fprintf(output, "\nEvents:\n")
		printFlagCategory(fs, output, []string{"signal", "debounce", "coalesce"})

		fmt.Fprintf(output, "\nRestart Policy:\n")
		printFlagCategory(fs, output, []string{"backoff-initial", "backoff-max"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "log-format", "v"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"print-cmd", "skip-preflight", "version"})

		fmt.Fprintf(output, `
Every flag can also be set as %s_<NAME> (dashes become underscores) or
as a key in %s.yaml in the working directory.

Examples:
  # Serve ./cmd/api on port 3000
  go-devserver -port 3000 -target ./cmd/api

  # Watch only the internal tree and restart with SIGINT
  go-devserver -watch ./internal -signal INT

`, EnvPrefix, FileName)
	}

	// Socket
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to bind the listening socket on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to bind the listening socket on")

	// Project
	fs.StringVar(&cfg.Cwd, "cwd", cfg.Cwd, "Working directory for builds and the child")
	fs.Var(&stringList{values: &cfg.Watch}, "watch", "Path to watch for changes (can repeat)")
	fs.StringVar(&cfg.Bin, "bin", cfg.Bin, "Artifact to run (default: resolved from the main package)")
	fs.BoolVar(&cfg.Release, "release", cfg.Release, "Build in release mode")
	fs.StringVar(&cfg.Target, "target", cfg.Target, "Main package to build (default: the working directory)")
	fs.StringVar(&cfg.BuildTool, "build-tool", cfg.BuildTool, "Build tool binary")
	fs.Var(&stringList{values: &cfg.BuildFlag}, "build-flag", "Extra build flag (can repeat)")

	// Events
	fs.StringVar(&cfg.Signal, "signal", cfg.Signal, `Signal sent to the child when the artifact changes, e.g. "TERM", "INT", "HUP"`)
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "Window for batching file notifications (0 disables)")
	fs.BoolVar(&cfg.Coalesce, "coalesce", cfg.Coalesce, "Drop rebuilds and collapse signals queued during a build")

	// Restart policy
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial delay before respawning a crashed child")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum respawn delay")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the build command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	return fs
}

// loadLayers reads the environment and the optional config file. The file is
// looked up in the working directory given by -cwd, DEVSERVER_CWD, or ".".
func loadLayers(cwd string, cwdExplicit bool) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if !cwdExplicit {
		if env := os.Getenv(EnvPrefix + "_CWD"); env != "" {
			cwd = env
		}
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cwd)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// applyLayers sets every flag not given on the command line from v.
func applyLayers(fs *flag.FlagSet, v *viper.Viper, explicit map[string]bool) error {
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] || f.Name == "version" || !v.IsSet(f.Name) {
			return
		}
		for _, value := range layerValues(v.Get(f.Name), isList(f)) {
			if err := fs.Set(f.Name, value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}

func isList(f *flag.Flag) bool {
	_, ok := f.Value.(*stringList)
	return ok
}

// layerValues flattens a viper value into flag strings. List flags accept a
// YAML sequence or a comma-separated string.
func layerValues(raw any, list bool) []string {
	switch val := raw.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return val
	}

	s := fmt.Sprint(raw)
	if !list {
		return []string{s}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
