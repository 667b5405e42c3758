package engine

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/param"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	unitStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7f849c"))
)

// renderSummary formats posterior summaries one parameter per row.
func renderSummary(rows []bundle.ParameterSummary) string {
	width := len("parameter")
	for _, r := range rows {
		width = max(width, len(r.Twig))
	}
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-*s  %12s  %12s  %12s  %12s", width, "parameter", "median", "-1sigma", "+1sigma", "std")))
	for _, r := range rows {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%-*s  %12s  %12s  %12s  %12s",
			width, r.Twig,
			param.FormatFloat(r.Median),
			param.FormatFloat(r.Median-r.Lower),
			param.FormatFloat(r.Upper-r.Median),
			param.FormatFloat(r.Std),
		)
		if r.Unit != "" {
			sb.WriteString(" " + unitStyle.Render(r.Unit))
		}
	}
	return sb.String()
}
