package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Cell is one step of a rendered track row
type Cell struct {
	Symbol rune
	Color  lipgloss.Color
	Bold   bool
}

// RenderCell renders a single colored step
func RenderCell(c Cell) string {
	style := lipgloss.NewStyle().Foreground(c.Color).Bold(c.Bold)
	return style.Render(string(c.Symbol))
}

// RenderStepRow renders cells with a space between each and a bar every
// group cells (0 disables grouping)
func RenderStepRow(cells []Cell, group int, bar lipgloss.Color) string {
	sep := lipgloss.NewStyle().Foreground(bar).Render("│")

	var out strings.Builder
	for i, c := range cells {
		if i > 0 {
			if group > 0 && i%group == 0 {
				out.WriteString(" " + sep + " ")
			} else {
				out.WriteString(" ")
			}
		}
		out.WriteString(RenderCell(c))
	}
	return out.String()
}

// RenderStepRuler numbers the beats above a row rendered by RenderStepRow
func RenderStepRuler(steps, group int, color lipgloss.Color) string {
	var out strings.Builder
	for i := 0; i < steps; i++ {
		if i > 0 {
			if group > 0 && i%group == 0 {
				out.WriteString("   ")
			} else {
				out.WriteString(" ")
			}
		}
		if group > 0 && i%group == 0 {
			out.WriteString(fmt.Sprintf("%d", (i/group+1)%10))
		} else {
			out.WriteString(" ")
		}
	}
	return lipgloss.NewStyle().Foreground(color).Render(out.String())
}

// RenderLegendItem renders a single legend item: "■ Name - description"
func RenderLegendItem(color lipgloss.Color, name, desc string) string {
	pad := lipgloss.NewStyle().Foreground(color).Render("■")
	return fmt.Sprintf("  %s %s - %s", pad, name, desc)
}
