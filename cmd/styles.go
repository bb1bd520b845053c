package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"stackctl/internal/services"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	waitingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // amber
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
)

// phaseStyle picks the render style for a lifecycle phase.
func phaseStyle(p services.Phase) lipgloss.Style {
	switch p {
	case services.PhaseHealthy:
		return healthyStyle
	case services.PhaseFailed, services.PhaseUnhealthy:
		return failedStyle
	case services.PhaseStopped, services.PhaseStopping:
		return dimStyle
	default:
		return waitingStyle
	}
}
