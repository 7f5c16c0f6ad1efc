package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the UI based on the model state
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.err != nil {
		return m.theme.Error.Render(fmt.Sprintf("Error: %v", m.err))
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	b.WriteString(m.renderViewTabs())
	b.WriteString("\n")

	switch m.viewMode {
	case ViewSessions:
		b.WriteString(m.renderColumns("  Session"))
		b.WriteString("\n")
		b.WriteString(m.sessionList.View())
	case ViewEvents:
		header := fmt.Sprintf("%s  %s  %s",
			padRight("Time", TimestampWidth),
			padRight("Kind", KindWidth),
			"Event",
		)
		b.WriteString(m.renderColumns(header))
		b.WriteString("\n")
		b.WriteString(m.withDetail(m.eventList.View()))
	case ViewIssues:
		header := fmt.Sprintf("%s %s %s",
			padRight("Severity", SeverityWidth),
			padRight(" Source", TypeWidth+2),
			"Summary",
		)
		b.WriteString(m.renderColumns(header))
		b.WriteString("\n")
		if len(m.issueList.Items()) == 0 {
			b.WriteString(m.theme.Muted.Render("  No issues detected"))
		} else {
			b.WriteString(m.withDetail(m.issueList.View()))
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

// withDetail places the detail panel beside list when it is open
func (m Model) withDetail(list string) string {
	if !m.detailOpen {
		return list
	}
	listWidth := max(m.width-4, 20)
	panelWidth := listWidth - int(float64(listWidth)*0.58) - 2
	panel := m.renderDetailPanel(panelWidth, max(m.height-9, 5))
	return lipgloss.JoinHorizontal(lipgloss.Top, list, "  ", panel)
}

// renderHeader renders the top header bar
func (m Model) renderHeader() string {
	title := m.theme.Title.Render("Dev Session Monitor")

	active := 0
	for _, s := range m.sessions {
		if s.IsActive() {
			active++
		}
	}

	var status string
	if len(m.sessions) == 0 {
		status = m.theme.Status.Render("No sessions recorded")
	} else {
		status = m.theme.Status.Render(fmt.Sprintf("%d sessions (%d active)", len(m.sessions), active))
	}

	current := ""
	if sess := m.ActiveSession(); sess != nil {
		label := " [" + m.activeName() + "]"
		if sess.IsActive() {
			current = m.theme.Active.Render(label)
		} else {
			current = m.theme.Inactive.Render(label)
		}
	}

	spacing := max(m.width-lipgloss.Width(title)-lipgloss.Width(status)-lipgloss.Width(current)-4, 1)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		title,
		strings.Repeat(" ", spacing),
		status,
		current,
	)
}

// renderViewTabs renders the tab bar for view modes
func (m Model) renderViewTabs() string {
	tabs := []struct {
		name string
		mode ViewMode
		key  string
	}{
		{"Sessions", ViewSessions, "1"},
		{"Events", ViewEvents, "2"},
		{fmt.Sprintf("Issues (%d)", len(m.issueList.Items())), ViewIssues, "3"},
	}

	rendered := make([]string, len(tabs))
	for i, t := range tabs {
		label := fmt.Sprintf("%s %s", t.key, t.name)
		if t.mode == m.viewMode {
			rendered[i] = m.theme.ActiveTab.Render(label)
		} else {
			rendered[i] = m.theme.Tab.Render(label)
		}
	}

	row := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	gap := strings.Repeat("─", max(0, m.width-lipgloss.Width(row)-2))

	return row + m.theme.TabGap.Render(gap)
}

// renderHelp renders the help footer
func (m Model) renderHelp() string {
	var help []string

	switch m.viewMode {
	case ViewSessions:
		help = []string{"j/k:navigate", "enter:open", "tab:next session", "h/l:switch view", "r:refresh", "q:quit"}
	case ViewEvents, ViewIssues:
		help = []string{"j/k:navigate", "enter:details", "tab:next session", "h/l:switch view", "esc:back", "q:quit"}
	}

	return m.theme.Help.Render(strings.Join(help, " | "))
}

func (m Model) renderColumns(header string) string {
	return m.theme.Column.Width(max(m.width-4, 20)).Render(header)
}

// padRight pads a string with spaces on the right to reach target width
func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
