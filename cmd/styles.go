package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Output palette.
var (
	ColorIce   = lipgloss.Color("#A8D8EA")
	ColorDeep  = lipgloss.Color("#596E79")
	ColorAlert = lipgloss.Color("#FF6B6B")
	ColorGood  = lipgloss.Color("#4ECDC4")
	ColorWarn  = lipgloss.Color("#FFE66D")
	ColorMuted = lipgloss.Color("#6c757d")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorIce).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(ColorDeep)

	StyleTitle = lipgloss.NewStyle().Foreground(ColorIce).Bold(true)
	StyleMuted = lipgloss.NewStyle().Foreground(ColorMuted)

	StyleStatusGood = lipgloss.NewStyle().Foreground(ColorGood).Bold(true)
	StyleStatusBad  = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
	StyleStatusWarn = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)

	StyleDiffAdd    = lipgloss.NewStyle().Foreground(ColorGood)
	StyleDiffRemove = lipgloss.NewStyle().Foreground(ColorAlert)
	StyleDiffHunk   = lipgloss.NewStyle().Foreground(ColorDeep)
)

func header(title string) {
	Printer.Fprintln(Stdout, StyleHeader.Render(title))
}

// Status lines use fmt so ports and pids print without digit grouping.
func ok(format string, args ...any) {
	Printer.Fprintln(Stdout, StyleStatusGood.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	Printer.Fprintln(Stdout, StyleStatusWarn.Render("!")+" "+fmt.Sprintf(format, args...))
}

func fail(format string, args ...any) {
	Printer.Fprintln(Stdout, StyleStatusBad.Render("✗")+" "+fmt.Sprintf(format, args...))
}
