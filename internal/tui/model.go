// Package tui renders a live terminal monitor over recorded sessions.
package tui

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/store"
)

// ViewMode represents the current view
type ViewMode int

const (
	ViewSessions ViewMode = iota // Session list
	ViewEvents                   // Event log for selected session
	ViewIssues                   // Classified issues and summaries
	viewCount
)

const (
	refreshInterval = 2 * time.Second
	eventLimit      = 500
	loadTimeout     = 5 * time.Second
)

// Source is the read side the monitor needs
type Source interface {
	ListSessions(ctx context.Context, status store.SessionStatus) ([]*store.Session, error)
	GetSessionEvents(ctx context.Context, sessionID string, kinds []store.EventKind, limit int) ([]store.Event, error)
	GetAnalyses(ctx context.Context, sessionID string) ([]*store.AnalysisResult, error)
}

// ModelOptions configures a Model
type ModelOptions struct {
	// Live delivers events as collectors publish them; nil disables live updates
	Live <-chan store.Event

	// Focus preselects a session, typically the one the monitor command started
	Focus string

	Theme string
}

// Model represents the application state
type Model struct {
	src      Source
	live     <-chan store.Event
	theme    *Theme
	sessions []*store.Session
	activeID string
	viewMode ViewMode

	sessionList list.Model
	eventList   list.Model
	issueList   list.Model

	sessionDelegate *sessionDelegate
	eventDelegate   *eventDelegate
	issueDelegate   *issueDelegate

	// Detail panel state
	detailOpen bool

	width  int
	height int

	err error
}

// NewModel creates a new Model over src
func NewModel(src Source, opts ModelOptions) Model {
	theme := NewTheme(opts.Theme)

	sessionDel := newSessionDelegate(theme)
	eventDel := newEventDelegate(theme)
	issueDel := newIssueDelegate(theme)

	m := Model{
		src:             src,
		live:            opts.Live,
		theme:           theme,
		activeID:        opts.Focus,
		viewMode:        ViewSessions,
		sessionDelegate: sessionDel,
		eventDelegate:   eventDel,
		issueDelegate:   issueDel,
	}

	m.sessionList = newList(sessionDel)
	m.eventList = newList(eventDel)
	m.issueList = newList(issueDel)

	if opts.Focus != "" {
		m.viewMode = ViewEvents
	}
	return m
}

func newList(d list.ItemDelegate) list.Model {
	l := list.New([]list.Item{}, d, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()
	return l
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadSessionsCmd(),
		m.loadActiveCmd(),
		m.watchLiveCmd(),
		m.tickCmd(),
	)
}

// Message types
type (
	sessionsLoadedMsg []*store.Session
	eventsLoadedMsg   struct {
		sessionID string
		events    []store.Event
	}
	analysesLoadedMsg struct {
		sessionID string
		results   []*store.AnalysisResult
	}
	liveEventMsg store.Event
	liveClosedMsg struct{}
	tickMsg      time.Time
	errMsg       struct{ error }
)

func (m Model) loadSessionsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		sessions, err := m.src.ListSessions(ctx, "")
		if err != nil {
			return errMsg{err}
		}
		return sessionsLoadedMsg(sessions)
	}
}

// loadActiveCmd reloads events and issues of the active session
func (m Model) loadActiveCmd() tea.Cmd {
	if m.activeID == "" {
		return nil
	}
	return tea.Batch(m.loadEventsCmd(), m.loadIssuesCmd())
}

func (m Model) loadEventsCmd() tea.Cmd {
	id := m.activeID
	if id == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		events, err := m.src.GetSessionEvents(ctx, id, nil, 0)
		if err != nil {
			return errMsg{err}
		}
		return eventsLoadedMsg{sessionID: id, events: events}
	}
}

func (m Model) loadIssuesCmd() tea.Cmd {
	id := m.activeID
	if id == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		results, err := m.src.GetAnalyses(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return analysesLoadedMsg{sessionID: id, results: results}
	}
}

// refreshCmd is run on every tick. Events arrive live when subscribed,
// analyses are written asynchronously and always need a reload.
func (m Model) refreshCmd() tea.Cmd {
	if m.live == nil {
		return tea.Batch(m.loadSessionsCmd(), m.loadActiveCmd())
	}
	return tea.Batch(m.loadSessionsCmd(), m.loadIssuesCmd())
}

// watchLiveCmd waits for the next published event
func (m Model) watchLiveCmd() tea.Cmd {
	if m.live == nil {
		return nil
	}
	live := m.live
	return func() tea.Msg {
		ev, ok := <-live
		if !ok {
			return liveClosedMsg{}
		}
		return liveEventMsg(ev)
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) updateSessionList() Model {
	items := make([]list.Item, len(m.sessions))
	selected := -1
	for i, s := range m.sessions {
		items[i] = sessionItem{session: s}
		if s.ID == m.activeID {
			selected = i
		}
	}
	m.sessionList.SetItems(items)
	if selected >= 0 {
		m.sessionList.Select(selected)
	}
	return m
}

// setEvents replaces the event list, newest first
func (m Model) setEvents(events []store.Event) Model {
	wasAtTop := m.eventList.Index() == 0
	previousCount := len(m.eventList.Items())

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b store.Event) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(sorted) > eventLimit {
		sorted = sorted[:eventLimit]
	}

	items := make([]list.Item, len(sorted))
	for i, ev := range sorted {
		items[i] = eventItem{event: ev}
	}
	m.eventList.SetItems(items)

	if wasAtTop || previousCount == 0 {
		m.eventList.Select(0)
	}
	return m
}

// addLiveEvent prepends a published event for the active session
func (m Model) addLiveEvent(ev store.Event) (Model, tea.Cmd) {
	if ev.SessionID() != m.activeID {
		return m, nil
	}
	// window durations arrive as updates of a known row
	idx := slices.IndexFunc(m.eventList.Items(), func(it list.Item) bool {
		e := it.(eventItem).event
		return e.Kind == ev.Kind && e.ID() == ev.ID()
	})
	if idx >= 0 {
		return m, m.eventList.SetItem(idx, eventItem{event: ev})
	}

	wasAtTop := m.eventList.Index() == 0
	cmd := m.eventList.InsertItem(0, eventItem{event: ev})
	if n := len(m.eventList.Items()); n > eventLimit {
		m.eventList.RemoveItem(n - 1)
	}
	if wasAtTop {
		m.eventList.Select(0)
	}
	return m, cmd
}

// setIssues keeps analyses that point at a problem, worst first
func (m Model) setIssues(results []*store.AnalysisResult) Model {
	issues := make([]*store.AnalysisResult, 0, len(results))
	for _, r := range results {
		if severityOf(r).AtLeast(classify.SeverityLow) {
			issues = append(issues, r)
		}
	}
	slices.SortStableFunc(issues, func(a, b *store.AnalysisResult) int {
		if d := severityOf(b).Rank() - severityOf(a).Rank(); d != 0 {
			return d
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	items := make([]list.Item, len(issues))
	for i, r := range issues {
		items[i] = issueItem{result: r}
	}
	m.issueList.SetItems(items)
	return m
}

// severityOf reads the severity label stored with an analysis
func severityOf(r *store.AnalysisResult) classify.Severity {
	if s, ok := r.Metadata["severity"].(string); ok {
		return classify.Severity(s)
	}
	return classify.SeverityInfo
}

// updateListSizes updates list dimensions based on terminal size
func (m Model) updateListSizes() Model {
	// header (2), tabs (2), column headers (1), help (2), margins (2)
	listHeight := max(m.height-9, 5)
	listWidth := max(m.width-4, 20)

	eventWidth := listWidth
	if m.detailOpen && m.viewMode != ViewSessions {
		eventWidth = int(float64(listWidth) * 0.58)
	}

	m.sessionDelegate.SetWidth(listWidth)
	m.eventDelegate.SetWidth(eventWidth)
	m.issueDelegate.SetWidth(eventWidth)

	m.sessionList.SetSize(listWidth, listHeight)
	m.eventList.SetSize(eventWidth, listHeight)
	m.issueList.SetSize(eventWidth, listHeight)
	return m
}

// ActiveSession returns the currently selected session or nil
func (m Model) ActiveSession() *store.Session {
	for _, s := range m.sessions {
		if s.ID == m.activeID {
			return s
		}
	}
	return nil
}

func (m Model) activeName() string {
	if s := m.ActiveSession(); s != nil {
		if s.ProjectName != "" {
			return s.ProjectName
		}
		return filepath.Base(s.ProjectPath)
	}
	return ""
}

// selectedEvent returns the event under the cursor
func (m Model) selectedEvent() (store.Event, bool) {
	it, ok := m.eventList.SelectedItem().(eventItem)
	if !ok {
		return store.Event{}, false
	}
	return it.event, true
}

// selectedIssue returns the analysis under the cursor
func (m Model) selectedIssue() *store.AnalysisResult {
	it, ok := m.issueList.SelectedItem().(issueItem)
	if !ok {
		return nil
	}
	return it.result
}
