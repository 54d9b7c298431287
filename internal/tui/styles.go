package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/tailexplorer/internal/logparse"
)

var (
	ColorAccent = lipgloss.Color("39")
	ColorDim    = lipgloss.Color("240")
	ColorGreen  = lipgloss.Color("42")
	ColorYellow = lipgloss.Color("220")
	ColorOrange = lipgloss.Color("214")
	ColorRed    = lipgloss.Color("9")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	dimStyle      = lipgloss.NewStyle().Foreground(ColorDim)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("24"))
	errorStyle    = lipgloss.NewStyle().Foreground(ColorRed)
	statusBar     = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Background(lipgloss.Color("236")).Padding(0, 1)
)

// severityStyle colors a log line by its level. Unknown lines keep the
// terminal's default color.
func severityStyle(s logparse.Severity) lipgloss.Style {
	switch s {
	case logparse.Fatal, logparse.Error:
		return lipgloss.NewStyle().Foreground(ColorRed)
	case logparse.Warn:
		return lipgloss.NewStyle().Foreground(ColorOrange)
	case logparse.Debug, logparse.Trace:
		return lipgloss.NewStyle().Foreground(ColorDim)
	default:
		return lipgloss.NewStyle()
	}
}

// stateStyle colors a supervisor state name.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "streaming":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "starting", "draining":
		return lipgloss.NewStyle().Foreground(ColorYellow)
	case "stopping":
		return lipgloss.NewStyle().Foreground(ColorOrange)
	default:
		return dimStyle
	}
}
