// Package config provides configuration management for go-devserver.
package config

import "time"

// Config holds all configuration options. It is immutable once the
// orchestrator starts.
type Config struct {
	// Listening socket
	Host string `json:"host"`
	Port int    `json:"port"`

	// Project
	Watch     []string `json:"watch"`
	Bin       string   `json:"bin"` // explicit artifact path; resolved when empty
	Cwd       string   `json:"cwd"`
	Release   bool     `json:"release"`
	Target    string   `json:"target"`
	BuildTool string   `json:"build_tool"`
	BuildFlag []string `json:"build_flag"`

	// Events
	Signal   string        `json:"signal"`
	Debounce time.Duration `json:"debounce"`
	Coalesce bool          `json:"coalesce"`

	// Restart policy
	BackoffInitial time.Duration `json:"backoff_initial"`
	BackoffMax     time.Duration `json:"backoff_max"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	LogFormat   string `json:"log_format"`   // json, text
	Verbose     bool   `json:"verbose"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight"`
	ShowVersion   bool `json:"show_version"`

	// Args are passed to every child instance after the artifact path.
	Args []string `json:"args"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: "localhost",
		Port: 8080,

		Watch:     []string{"."},
		Cwd:       ".",
		BuildTool: "go",

		Signal:   "TERM",
		Debounce: 250 * time.Millisecond,

		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     5 * time.Second,

		LogFormat: "text",
	}
}
