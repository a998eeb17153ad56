package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/keymend/keymend/internal/domain"
)

// styles holds the lipgloss styles the wizard renders with. One fixed
// palette; the wizard runs for minutes, not hours, so there is no theming.
type styles struct {
	Title    lipgloss.Style
	PageName lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style
	KeyHint  lipgloss.Style

	StateGood lipgloss.Style
	StateWarn lipgloss.Style
	StateBad  lipgloss.Style

	Success lipgloss.Style
	Failure lipgloss.Style

	Severity map[domain.IssueSeverity]lipgloss.Style

	Box lipgloss.Style
}

func defaultStyles() styles {
	var (
		text    = lipgloss.Color("#f8f8f2")
		muted   = lipgloss.Color("#6272a4")
		accent  = lipgloss.Color("#bd93f9")
		success = lipgloss.Color("#50fa7b")
		warning = lipgloss.Color("#f1fa8c")
		danger  = lipgloss.Color("#ff5555")
	)

	return styles{
		Title: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true),

		PageName: lipgloss.NewStyle().
			Foreground(text).
			Bold(true),

		Body: lipgloss.NewStyle().
			Foreground(text),

		Muted: lipgloss.NewStyle().
			Foreground(muted),

		KeyHint: lipgloss.NewStyle().
			Foreground(muted),

		StateGood: lipgloss.NewStyle().
			Foreground(success).
			Bold(true),

		StateWarn: lipgloss.NewStyle().
			Foreground(warning).
			Bold(true),

		StateBad: lipgloss.NewStyle().
			Foreground(danger).
			Bold(true),

		Success: lipgloss.NewStyle().
			Foreground(success),

		Failure: lipgloss.NewStyle().
			Foreground(danger),

		Severity: map[domain.IssueSeverity]lipgloss.Style{
			domain.SeverityInfo:     lipgloss.NewStyle().Foreground(muted),
			domain.SeverityWarning:  lipgloss.NewStyle().Foreground(warning),
			domain.SeverityError:    lipgloss.NewStyle().Foreground(danger),
			domain.SeverityCritical: lipgloss.NewStyle().Foreground(danger).Bold(true),
		},

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
	}
}

// stateStyle picks the badge style for a synthesized state.
func (s styles) stateStyle(kind domain.SystemStateKind) lipgloss.Style {
	switch kind {
	case domain.StateActive:
		return s.StateGood
	case domain.StateReady, domain.StateServiceNotRunning:
		return s.StateWarn
	default:
		return s.StateBad
	}
}
