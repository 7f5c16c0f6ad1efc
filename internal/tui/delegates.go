package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"devsession_mon/internal/store"
)

// Column widths shared by delegates and headers
const (
	TimestampWidth = 8
	KindWidth      = 8
	SeverityWidth  = 9
	TypeWidth      = 10
)

// ============================================================================
// Session Item
// ============================================================================

type sessionItem struct {
	session *store.Session
}

func (i sessionItem) FilterValue() string { return i.session.ProjectPath }

type sessionDelegate struct {
	theme *Theme
	width int
}

func newSessionDelegate(theme *Theme) *sessionDelegate {
	return &sessionDelegate{theme: theme}
}

// SetWidth updates the render width
func (d *sessionDelegate) SetWidth(w int) { d.width = w }

func (d *sessionDelegate) Height() int                             { return 2 }
func (d *sessionDelegate) Spacing() int                            { return 1 }
func (d *sessionDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d *sessionDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(sessionItem)
	if !ok {
		return
	}
	s := i.session

	indicator := d.theme.Inactive.Render("  ")
	nameStyle := d.theme.Inactive
	if s.IsActive() {
		indicator = d.theme.Active.Render("● ")
		nameStyle = d.theme.Active
	}
	if index == m.Index() {
		nameStyle = d.theme.Selected
	}

	name := s.ProjectName
	if name == "" {
		name = filepath.Base(s.ProjectPath)
	}
	desc := fmt.Sprintf("  %s | %s | started %s",
		s.Status,
		formatDuration(s.Duration(time.Now())),
		formatTimeAgo(s.StartTime),
	)

	fmt.Fprintf(w, "%s%s\n%s", indicator, nameStyle.Render(name), d.theme.Muted.Render(truncate(desc, d.width)))
}

// ============================================================================
// Event Item
// ============================================================================

type eventItem struct {
	event store.Event
}

func (i eventItem) FilterValue() string { return describeEvent(i.event) }

type eventDelegate struct {
	theme *Theme
	width int
}

func newEventDelegate(theme *Theme) *eventDelegate {
	return &eventDelegate{theme: theme}
}

// SetWidth updates the render width
func (d *eventDelegate) SetWidth(w int) { d.width = w }

func (d *eventDelegate) Height() int                             { return 1 }
func (d *eventDelegate) Spacing() int                            { return 0 }
func (d *eventDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d *eventDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(eventItem)
	if !ok {
		return
	}

	style := d.theme.ForEvent(i.event)
	if index == m.Index() {
		style = style.Background(d.theme.highlight)
	}

	ts := d.theme.Timestamp.Render(i.event.Timestamp.Local().Format(time.TimeOnly))
	kind := style.Render(padRight(string(i.event.Kind), KindWidth))
	room := max(d.width-TimestampWidth-KindWidth-4, 10)

	fmt.Fprintf(w, "%s  %s  %s", ts, kind, truncate(describeEvent(i.event), room))
}

// describeEvent renders the one-line summary of an event
func describeEvent(ev store.Event) string {
	switch ev.Kind {
	case store.KindFile:
		f := ev.File
		path := f.Name
		if rel, ok := f.Metadata["relative_path"].(string); ok && rel != "" {
			path = rel
		}
		return fmt.Sprintf("%s %s", f.Change, path)
	case store.KindWindow:
		win := ev.Window
		s := win.AppName
		if win.Title != "" {
			s += ": " + win.Title
		}
		if win.DurationMS != nil {
			s += " (" + formatDuration(win.Duration()) + ")"
		}
		return s
	case store.KindCommand:
		c := ev.Command
		status := "ok"
		if c.ExitCode != 0 {
			status = fmt.Sprintf("exit %d", c.ExitCode)
		}
		return fmt.Sprintf("[%s] %s", status, firstLine(c.Command))
	}
	return string(ev.Kind)
}

// ============================================================================
// Issue Item
// ============================================================================

type issueItem struct {
	result *store.AnalysisResult
}

func (i issueItem) FilterValue() string { return i.result.Summary }

type issueDelegate struct {
	theme *Theme
	width int
}

func newIssueDelegate(theme *Theme) *issueDelegate {
	return &issueDelegate{theme: theme}
}

// SetWidth updates the render width
func (d *issueDelegate) SetWidth(w int) { d.width = w }

func (d *issueDelegate) Height() int                             { return 2 }
func (d *issueDelegate) Spacing() int                            { return 0 }
func (d *issueDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d *issueDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(issueItem)
	if !ok {
		return
	}
	r := i.result

	style := d.theme.ForSeverity(severityOf(r))
	if index == m.Index() {
		style = style.Background(d.theme.highlight)
	}

	sev := style.Render(padRight(string(severityOf(r)), SeverityWidth))
	kind := d.theme.Badge.Render(padRight(r.AnalysisType, TypeWidth))
	room := max(d.width-SeverityWidth-TypeWidth-6, 10)
	phrases := strings.Join(r.KeyPhrases, ", ")

	fmt.Fprintf(w, "%s %s %s\n   %s",
		sev,
		kind,
		truncate(r.Summary, room),
		d.theme.Muted.Render(truncate(phrases, room)),
	)
}

// ============================================================================
// Helper Functions
// ============================================================================

// formatTimeAgo returns a human-readable relative time string
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}

// formatDuration renders d at second precision
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Hour:
		return d.Truncate(time.Second).String()
	default:
		return d.Truncate(time.Minute).String()
	}
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
