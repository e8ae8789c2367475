package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or all problems joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Host == "" {
		errs = append(errs, ValidationError{Field: "host", Message: "must not be empty"})
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be between 0 and 65535 (got %d)", cfg.Port),
		})
	}

	if len(cfg.Watch) == 0 {
		errs = append(errs, ValidationError{Field: "watch", Message: "at least one path is required"})
	}
	for _, p := range cfg.Watch {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, ValidationError{Field: "watch", Message: "paths must not be empty"})
			break
		}
	}

	if cfg.Cwd == "" {
		errs = append(errs, ValidationError{Field: "cwd", Message: "must not be empty"})
	}

	if cfg.BuildTool == "" {
		errs = append(errs, ValidationError{Field: "build_tool", Message: "must not be empty"})
	}

	if _, err := ParseSignal(cfg.Signal); err != nil {
		errs = append(errs, ValidationError{Field: "signal", Message: err.Error()})
	}

	if cfg.Debounce < 0 {
		errs = append(errs, ValidationError{Field: "debounce", Message: "must not be negative"})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.BackoffInitial <= 0 {
		errs = append(errs, ValidationError{Field: "backoff_initial", Message: "must be positive"})
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		errs = append(errs, ValidationError{Field: "backoff_max", Message: "must be >= backoff_initial"})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ParseSignal accepts "TERM", "SIGTERM", "term" or a signal number.
func ParseSignal(name string) (syscall.Signal, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if s == "" {
		return 0, errors.New("must not be empty")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || unix.SignalName(syscall.Signal(n)) == "" {
			return 0, fmt.Errorf("unknown signal number %d", n)
		}
		return syscall.Signal(n), nil
	}

	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	sig := unix.SignalNum(s)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
