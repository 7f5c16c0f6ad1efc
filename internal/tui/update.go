package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"devsession_mon/internal/store"
)

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m = m.updateListSizes()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionsLoadedMsg:
		m.sessions = msg
		m.err = nil
		if m.activeID == "" && len(m.sessions) > 0 {
			m.activeID = m.sessions[0].ID
			m = m.updateSessionList()
			return m, m.loadActiveCmd()
		}
		m = m.updateSessionList()
		return m, nil

	case eventsLoadedMsg:
		if msg.sessionID == m.activeID {
			m = m.setEvents(msg.events)
		}
		return m, nil

	case analysesLoadedMsg:
		if msg.sessionID == m.activeID {
			m = m.setIssues(msg.results)
		}
		return m, nil

	case liveEventMsg:
		var cmd tea.Cmd
		m, cmd = m.addLiveEvent(store.Event(msg))
		return m, tea.Batch(cmd, m.watchLiveCmd())

	case liveClosedMsg:
		m.live = nil
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())

	case errMsg:
		m.err = msg.error
		return m, nil
	}

	return m.updateActiveList(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "esc":
		if m.detailOpen {
			m.detailOpen = false
			m = m.updateListSizes()
			return m, nil
		}
		m.viewMode = ViewSessions
		m = m.updateListSizes()
		return m, nil
	case "l", "right":
		m.viewMode = (m.viewMode + 1) % viewCount
		m = m.updateListSizes()
		return m, nil
	case "h", "left":
		m.viewMode = (m.viewMode + viewCount - 1) % viewCount
		m = m.updateListSizes()
		return m, nil
	case "1":
		m.viewMode = ViewSessions
		m = m.updateListSizes()
		return m, nil
	case "2":
		m.viewMode = ViewEvents
		m = m.updateListSizes()
		return m, nil
	case "3":
		m.viewMode = ViewIssues
		m = m.updateListSizes()
		return m, nil
	case "tab":
		return m.cycleSession()
	case "r":
		return m, tea.Batch(m.loadSessionsCmd(), m.loadActiveCmd())
	case "enter":
		switch m.viewMode {
		case ViewSessions:
			it, ok := m.sessionList.SelectedItem().(sessionItem)
			if !ok {
				return m, nil
			}
			m = m.selectSession(it.session.ID)
			m.viewMode = ViewEvents
			m = m.updateListSizes()
			return m, m.loadActiveCmd()
		default:
			m.detailOpen = !m.detailOpen
			m = m.updateListSizes()
			return m, nil
		}
	}
	return m.updateActiveList(msg)
}

// cycleSession moves the active session to the next one in the list
func (m Model) cycleSession() (tea.Model, tea.Cmd) {
	if len(m.sessions) == 0 {
		return m, nil
	}
	next := 0
	for i, s := range m.sessions {
		if s.ID == m.activeID {
			next = (i + 1) % len(m.sessions)
			break
		}
	}
	m = m.selectSession(m.sessions[next].ID)
	m.sessionList.Select(next)
	return m, m.loadActiveCmd()
}

// selectSession switches the active session and clears its views
func (m Model) selectSession(id string) Model {
	if id == m.activeID {
		return m
	}
	m.activeID = id
	m.detailOpen = false
	m.eventList.SetItems(nil)
	m.issueList.SetItems(nil)
	return m
}

func (m Model) updateActiveList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.viewMode {
	case ViewSessions:
		m.sessionList, cmd = m.sessionList.Update(msg)
	case ViewEvents:
		m.eventList, cmd = m.eventList.Update(msg)
	case ViewIssues:
		m.issueList, cmd = m.issueList.Update(msg)
	}
	return m, cmd
}
