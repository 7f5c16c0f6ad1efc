package tui

import (
	catppuccin "github.com/catppuccin/go"
	"github.com/charmbracelet/lipgloss"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/store"
)

// palette is the subset of a catppuccin flavor the monitor draws with
type palette interface {
	Red() catppuccin.Color
	Peach() catppuccin.Color
	Yellow() catppuccin.Color
	Green() catppuccin.Color
	Teal() catppuccin.Color
	Blue() catppuccin.Color
	Mauve() catppuccin.Color
	Lavender() catppuccin.Color
	Text() catppuccin.Color
	Subtext0() catppuccin.Color
	Overlay0() catppuccin.Color
	Surface0() catppuccin.Color
	Surface1() catppuccin.Color
	Base() catppuccin.Color
}

func flavorFor(name string) palette {
	switch name {
	case "latte":
		return catppuccin.Latte
	case "frappe":
		return catppuccin.Frappe
	case "macchiato":
		return catppuccin.Macchiato
	default:
		return catppuccin.Mocha
	}
}

func color(c catppuccin.Color) lipgloss.Color {
	return lipgloss.Color(c.Hex)
}

// Theme holds every style the monitor renders with
type Theme struct {
	Title      lipgloss.Style
	Status     lipgloss.Style
	Error      lipgloss.Style
	Help       lipgloss.Style
	Muted      lipgloss.Style
	Label      lipgloss.Style
	Selected   lipgloss.Style
	Normal     lipgloss.Style
	ActiveTab  lipgloss.Style
	Tab        lipgloss.Style
	TabGap     lipgloss.Style
	Column     lipgloss.Style
	Active     lipgloss.Style
	Inactive   lipgloss.Style
	Timestamp  lipgloss.Style
	Badge      lipgloss.Style
	Code       lipgloss.Style
	PanelTitle lipgloss.Style

	kinds      map[store.EventKind]lipgloss.Style
	severities map[classify.Severity]lipgloss.Style
	failed     lipgloss.Style
	highlight  lipgloss.Color
}

// NewTheme builds the styles for a catppuccin flavor name.
// Unknown names fall back to mocha.
func NewTheme(name string) *Theme {
	p := flavorFor(name)

	t := &Theme{
		Title:      lipgloss.NewStyle().Bold(true).Foreground(color(p.Mauve())),
		Status:     lipgloss.NewStyle().Foreground(color(p.Subtext0())),
		Error:      lipgloss.NewStyle().Foreground(color(p.Red())).Bold(true).Padding(1),
		Help:       lipgloss.NewStyle().Foreground(color(p.Overlay0())),
		Muted:      lipgloss.NewStyle().Foreground(color(p.Overlay0())),
		Label:      lipgloss.NewStyle().Foreground(color(p.Lavender())).Bold(true),
		Selected:   lipgloss.NewStyle().Background(color(p.Surface1())).Foreground(color(p.Text())).Bold(true),
		Normal:     lipgloss.NewStyle().Foreground(color(p.Text())),
		ActiveTab:  lipgloss.NewStyle().Bold(true).Background(color(p.Mauve())).Foreground(color(p.Base())).Padding(0, 2),
		Tab:        lipgloss.NewStyle().Foreground(color(p.Overlay0())).Padding(0, 2),
		TabGap:     lipgloss.NewStyle().Foreground(color(p.Surface1())),
		Column:     lipgloss.NewStyle().Foreground(color(p.Subtext0())).Bold(true),
		Active:     lipgloss.NewStyle().Foreground(color(p.Green())).Bold(true),
		Inactive:   lipgloss.NewStyle().Foreground(color(p.Overlay0())),
		Timestamp:  lipgloss.NewStyle().Foreground(color(p.Overlay0())).Width(8),
		Badge:      lipgloss.NewStyle().Background(color(p.Surface0())).Foreground(color(p.Text())).Padding(0, 1),
		Code:       lipgloss.NewStyle().Background(color(p.Surface0())).Foreground(color(p.Text())).Padding(0, 1),
		PanelTitle: lipgloss.NewStyle().Bold(true).Foreground(color(p.Base())).Background(color(p.Lavender())).Padding(0, 1),
		failed:     lipgloss.NewStyle().Foreground(color(p.Red())).Bold(true),
		highlight:  color(p.Surface1()),
	}

	t.kinds = map[store.EventKind]lipgloss.Style{
		store.KindFile:    lipgloss.NewStyle().Foreground(color(p.Blue())),
		store.KindWindow:  lipgloss.NewStyle().Foreground(color(p.Teal())),
		store.KindCommand: lipgloss.NewStyle().Foreground(color(p.Mauve())),
	}
	t.severities = map[classify.Severity]lipgloss.Style{
		classify.SeverityCritical: lipgloss.NewStyle().Foreground(color(p.Red())).Bold(true),
		classify.SeverityHigh:     lipgloss.NewStyle().Foreground(color(p.Peach())),
		classify.SeverityMedium:   lipgloss.NewStyle().Foreground(color(p.Yellow())),
		classify.SeverityLow:      lipgloss.NewStyle().Foreground(color(p.Green())),
	}
	return t
}

// ForEvent returns the style of an event row; failed commands stand out
func (t *Theme) ForEvent(ev store.Event) lipgloss.Style {
	if ev.Kind == store.KindCommand && ev.Command.ExitCode != 0 {
		return t.failed
	}
	if s, ok := t.kinds[ev.Kind]; ok {
		return s
	}
	return t.Normal
}

// ForSeverity returns the style for a severity label
func (t *Theme) ForSeverity(sev classify.Severity) lipgloss.Style {
	if s, ok := t.severities[sev]; ok {
		return s
	}
	return t.Muted
}
