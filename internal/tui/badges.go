// internal/tui/badges.go
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/refiner/internal/settings"
)

var (
	modelBadgeStyle = lipgloss.NewStyle().Background(lipgloss.Color("229")).Foreground(lipgloss.Color("0")).Padding(0, 1).MarginLeft(1)
	onBadgeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("34")).Foreground(lipgloss.Color("230")).Padding(0, 1).MarginLeft(1)
	offBadgeStyle   = lipgloss.NewStyle().Background(lipgloss.Color("238")).Foreground(lipgloss.Color("250")).Padding(0, 1).MarginLeft(1)
)

// formatModels returns the model pairing, e.g. "Gemma-2B → GPT-4".
func formatModels(cfg settings.Configuration) string {
	return fmt.Sprintf("%s → %s", cfg.SecondaryModel, cfg.PrimaryModel)
}

// formatToggle renders a boolean setting as "Label: on|off".
func formatToggle(label string, on bool) string {
	if on {
		return label + ": on"
	}
	return label + ": off"
}

func renderToggleBadge(label string, on bool) string {
	if on {
		return onBadgeStyle.Render(formatToggle(label, on))
	}
	return offBadgeStyle.Render(formatToggle(label, on))
}

// renderBadges returns the configuration summary shown under the header.
func renderBadges(cfg settings.Configuration) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		modelBadgeStyle.Render(formatModels(cfg)),
		modelBadgeStyle.Render(fmt.Sprintf("chunk %d • %s • %s", cfg.ChunkSize, cfg.Quantization, cfg.OptimizationLevel)),
		renderToggleBadge("Accelerator", cfg.UseAccelerator),
		renderToggleBadge("Privacy", cfg.PrivacyMode),
	)
}
