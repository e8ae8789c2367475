package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryConfig holds everything printed in the exit summary.
type SummaryConfig struct {
	// Duration is the total session duration
	Duration time.Duration

	// Builds are the build statistics at exit
	Builds BuildSnapshot

	ChildStarts      int64
	ChildRestarts    int64
	SignalsForwarded int64

	// ExitCodes maps child exit codes to counts
	ExitCodes map[int]int64

	// FinalExitCode is the code the devserver exits with
	FinalExitCode int

	// MetricsAddr is the Prometheus endpoint, empty when disabled
	MetricsAddr string
}

// FormatExitSummary formats the session summary shown at program exit.
func FormatExitSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("═══════════════════════════════════════════════════════════\n")
	b.WriteString("                  go-devserver session summary\n")
	b.WriteString("═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(&b, "Duration:            %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Exit code:           %d %s\n", cfg.FinalExitCode, exitCodeLabel(cfg.FinalExitCode))

	b.WriteString("\nBuilds:\n")
	fmt.Fprintf(&b, "  Total:             %d (%d ok, %d failed)\n",
		cfg.Builds.Total, cfg.Builds.Succeeded, cfg.Builds.Failed)
	if cfg.Builds.Total > 0 {
		fmt.Fprintf(&b, "  Duration p50:      %s\n", FormatMs(cfg.Builds.P50))
		fmt.Fprintf(&b, "  Duration p95:      %s\n", FormatMs(cfg.Builds.P95))
		fmt.Fprintf(&b, "  Duration max:      %s\n", FormatMs(cfg.Builds.Max))
	}

	b.WriteString("\nChild:\n")
	fmt.Fprintf(&b, "  Starts:            %d\n", cfg.ChildStarts)
	fmt.Fprintf(&b, "  Restarts:          %d\n", cfg.ChildRestarts)
	fmt.Fprintf(&b, "  Signals forwarded: %d\n", cfg.SignalsForwarded)

	if len(cfg.ExitCodes) > 0 {
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		b.WriteString("  Exit codes:\n")
		for _, code := range codes {
			fmt.Fprintf(&b, "    %3d %-10s %d\n", code, exitCodeLabel(code), cfg.ExitCodes[code])
		}
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "\nMetrics were served at http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString("═══════════════════════════════════════════════════════════\n")

	return b.String()
}

func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 2:
		return "(panic)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
