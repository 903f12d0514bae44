package toolcfg

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Styles used by the tools' terminal output.
var (
	Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.ANSIColor(6))
	Label = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.ANSIColor(3))
	Dim   = lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(8))
	Value = lipgloss.NewStyle().Foreground(lipgloss.ANSIColor(2))
	Err   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.ANSIColor(7)).Background(lipgloss.ANSIColor(1))
)

// Fatal prints the message to stderr and exits.
func Fatal(format string, args ...any) {
	_, _ = fmt.Fprintln(os.Stderr, Err.Render("error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
