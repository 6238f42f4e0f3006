package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
)

// statusBadge renders a data source status in its colour.
func statusBadge(s domain.DataSourceStatus) string {
	switch s {
	case domain.SourceCompleted:
		return successStyle.Render(string(s))
	case domain.SourceError:
		return errorStyle.Render(string(s))
	case domain.SourceProcessing:
		return warningStyle.Render(string(s))
	default:
		return mutedStyle.Render(string(s))
	}
}
