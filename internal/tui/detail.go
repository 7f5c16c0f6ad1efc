package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/store"
)

const outputLines = 8

// renderDetailPanel renders the side panel for the selected row
func (m Model) renderDetailPanel(width, height int) string {
	var b strings.Builder

	title := "Event Details"
	if m.viewMode == ViewIssues {
		title = "Issue Details"
	}
	b.WriteString(m.theme.PanelTitle.Width(width).Render(title))
	b.WriteString("\n")

	var content string
	switch m.viewMode {
	case ViewEvents:
		if ev, ok := m.selectedEvent(); ok {
			content = m.formatEvent(ev, width-2)
		}
	case ViewIssues:
		if r := m.selectedIssue(); r != nil {
			content = m.formatIssue(r, width-2)
		}
	}
	if content == "" {
		content = m.theme.Muted.Render("Nothing selected")
	}
	b.WriteString(content)

	return lipgloss.NewStyle().Width(width).Height(height).Render(b.String())
}

func (m Model) formatEvent(ev store.Event, width int) string {
	switch ev.Kind {
	case store.KindFile:
		return m.formatFileDetail(ev.File, width)
	case store.KindWindow:
		return m.formatWindowDetail(ev.Window, width)
	case store.KindCommand:
		return m.formatCommandDetail(ev.Command, width)
	}
	return ""
}

func (m Model) field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(m.theme.Label.Render(label + ": "))
	b.WriteString(value)
	b.WriteString("\n")
}

func (m Model) formatFileDetail(f *store.FileEvent, width int) string {
	var b strings.Builder
	m.field(&b, "Change", string(f.Change))
	b.WriteString(m.theme.Label.Render("Path:"))
	b.WriteString("\n")
	b.WriteString(m.theme.Code.Render(wrapText(f.Path, width-4)))
	b.WriteString("\n\n")
	if f.Size != nil {
		m.field(&b, "Size", fmt.Sprintf("%d bytes", *f.Size))
	}
	m.field(&b, "Time", f.Timestamp.Local().Format(time.DateTime))
	return b.String()
}

func (m Model) formatWindowDetail(w *store.WindowEvent, width int) string {
	var b strings.Builder
	m.field(&b, "App", w.AppName)
	if w.Title != "" {
		b.WriteString(m.theme.Label.Render("Title:"))
		b.WriteString("\n")
		b.WriteString(wrapText(w.Title, width))
		b.WriteString("\n")
	}
	m.field(&b, "Path", w.AppPath)
	if w.PID > 0 {
		m.field(&b, "PID", fmt.Sprint(w.PID))
	}
	m.field(&b, "Focused", w.Timestamp.Local().Format(time.DateTime))
	if w.DurationMS != nil {
		m.field(&b, "Duration", formatDuration(w.Duration()))
	} else {
		b.WriteString(m.theme.Muted.Render("still focused"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) formatCommandDetail(c *store.CommandEvent, width int) string {
	var b strings.Builder

	if risks := classify.Risks(c.Command); len(risks) > 0 {
		b.WriteString(m.theme.ForSeverity(classify.SeverityCritical).Render("! Risky command"))
		b.WriteString("\n")
		for _, r := range risks {
			b.WriteString(m.theme.ForSeverity(r.Severity).Render("  - " + r.Description))
			b.WriteString("\n")
			if r.Remediation != "" {
				b.WriteString(m.theme.Muted.Render(wrapText("    "+r.Remediation, width)))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(m.theme.Label.Render("Command:"))
	b.WriteString("\n")
	b.WriteString(m.theme.Code.Render(wrapText(c.Command, width-4)))
	b.WriteString("\n\n")

	exit := fmt.Sprint(c.ExitCode)
	if c.ExitCode != 0 {
		exit = m.theme.failed.Render(exit)
	}
	m.field(&b, "Exit", exit)
	m.field(&b, "Duration", formatDuration(time.Duration(c.DurationMS)*time.Millisecond))
	m.field(&b, "Shell", c.Shell)
	if c.WorkingDir != "" {
		b.WriteString(m.theme.Muted.Render("CWD: " + c.WorkingDir))
		b.WriteString("\n")
	}

	b.WriteString(m.formatOutput("Stdout", c.Stdout, false, width))
	b.WriteString(m.formatOutput("Stderr", c.Stderr, c.ExitCode != 0, width))
	return b.String()
}

// formatOutput renders a truncated output section if there is any
func (m Model) formatOutput(label, text string, failed bool, width int) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(m.theme.Label.Render(label + ":"))
	b.WriteString("\n")

	out := clampLines(text, width-4, outputLines)
	if failed {
		b.WriteString(m.theme.failed.Render(out))
	} else {
		b.WriteString(m.theme.Code.Render(out))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) formatIssue(r *store.AnalysisResult, width int) string {
	var b strings.Builder

	sev := severityOf(r)
	b.WriteString(m.theme.ForSeverity(sev).Render(strings.ToUpper(string(sev))))
	b.WriteString("  ")
	b.WriteString(m.theme.Badge.Render(r.AnalysisType))
	b.WriteString("\n\n")

	b.WriteString(wrapText(r.Summary, width))
	b.WriteString("\n\n")

	if cmd, ok := r.Metadata["command"].(string); ok && cmd != "" {
		b.WriteString(m.theme.Label.Render("Command:"))
		b.WriteString("\n")
		b.WriteString(m.theme.Code.Render(wrapText(cmd, width-4)))
		b.WriteString("\n\n")
	}
	if len(r.KeyPhrases) > 0 {
		b.WriteString(m.theme.Label.Render("Matched:"))
		b.WriteString("\n")
		for _, p := range r.KeyPhrases {
			b.WriteString("  - " + truncate(p, width-4) + "\n")
		}
	}
	if actions := stringList(r.Metadata["suggested_actions"]); len(actions) > 0 {
		b.WriteString(m.theme.Label.Render("Suggested:"))
		b.WriteString("\n")
		for _, a := range actions {
			b.WriteString(wrapText("  - "+a, width))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	m.field(&b, "Confidence", fmt.Sprintf("%.0f%%", r.Confidence*100))
	m.field(&b, "Model", r.Model)
	m.field(&b, "At", r.CreatedAt.Local().Format(time.DateTime))
	return b.String()
}

// stringList reads a []string that may have been decoded as []any
func stringList(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// wrapText word-wraps text to width
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

// clampLines keeps the first maxLines lines of text, cut to width, and
// notes how many were hidden.
func clampLines(text string, width, maxLines int) string {
	lines := strings.Split(strings.TrimRight(strings.ReplaceAll(text, "\t", "  "), "\n"), "\n")
	if hidden := len(lines) - maxLines; hidden > 0 {
		lines = append(lines[:maxLines:maxLines], fmt.Sprintf("... %d more lines", hidden))
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.Join(lines, "\n"))
}
