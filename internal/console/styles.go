// Package console renders the few styled lines the devserver prints to the
// operator's terminal: the startup banner, build result headers, and status
// markers. Everything else goes through the structured logger.
package console

import (
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)
)

// Status is the outcome shown by a marker.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusInfo
)

// Marker returns the styled one-character marker for a status.
func Marker(s Status) string {
	switch s {
	case StatusOK:
		return statusOK.Render("✓")
	case StatusWarning:
		return statusWarning.Render("⚠")
	case StatusError:
		return statusError.Render("✗")
	default:
		return statusInfo.Render("•")
	}
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}
