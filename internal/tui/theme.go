package tui

import "github.com/charmbracelet/lipgloss"

// Theme keeps all monitor colors in one place.
type Theme struct {
	Frame   lipgloss.Style
	Heading lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Good    lipgloss.Style
	Alert   lipgloss.Style

	glyphs map[string]string
	states map[string]lipgloss.Style
}

func NewTheme() Theme {
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	amber := lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("#F85149"))
	grey := lipgloss.NewStyle().Foreground(lipgloss.Color("#8B949E"))

	return Theme{
		Frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#30363D")).
			Padding(0, 1),
		Heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E6EDF3")),
		Muted:   grey,
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#58A6FF")),
		Good:    green,
		Alert:   red,

		glyphs: map[string]string{
			stateQueued:   "○",
			stateRunning:  "◐",
			stateFinished: "●",
			statePanicked: "✗",
		},
		states: map[string]lipgloss.Style{
			stateQueued:   grey,
			stateRunning:  amber,
			stateFinished: green,
			statePanicked: red,
		},
	}
}

// Glyph renders the colored status symbol for a job state.
func (t Theme) Glyph(state string) string {
	g, ok := t.glyphs[state]
	if !ok {
		return t.Muted.Render("?")
	}
	return t.states[state].Render(g)
}
