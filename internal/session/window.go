package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"devsession_mon/internal/config"
	"devsession_mon/internal/logging"
	"devsession_mon/internal/store"
)

const (
	// minFocusDuration is the shortest hold that gets a duration recorded
	minFocusDuration = time.Second

	historyLimit = 100
	historyKeep  = 50
)

// WindowInfo identifies the foreground window
type WindowInfo struct {
	Title   string
	AppName string
	AppPath string
	PID     int
}

// sameWindow compares windows by title, owning process name and pid
func sameWindow(a, b *WindowInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Title == b.Title && a.AppName == b.AppName && a.PID == b.PID
}

// WindowSource reports the current foreground window.
// A nil window without error means nothing has focus.
type WindowSource interface {
	ActiveWindow(ctx context.Context) (*WindowInfo, error)
}

// windowSession is a tracked session's view of the focus stream
type windowSession struct {
	joined    time.Time
	openEvent int64 // id of the event awaiting its duration, 0 if none
	history   []*store.WindowEvent
}

// WindowTracker polls the foreground window once for the whole process and
// fans focus changes out to every joined session. The poll loop runs while
// at least one session is joined.
type WindowTracker struct {
	source WindowSource
	sink   EventWriter
	bus    *Bus
	cfg    config.WindowConfig
	logger *slog.Logger
	now    func() time.Time

	// autoPoll is false in tests, which drive poll directly
	autoPoll bool

	mu           sync.Mutex
	sessions     map[string]*windowSession
	running      bool
	observed     bool
	current      *WindowInfo
	currentSince time.Time
	stop         chan struct{}
	done         chan struct{}
}

// NewWindowTracker creates a tracker over source
func NewWindowTracker(cfg config.WindowConfig, source WindowSource, sink EventWriter, bus *Bus) *WindowTracker {
	return &WindowTracker{
		source:   source,
		sink:     sink,
		bus:      bus,
		cfg:      cfg,
		logger:   logging.For("window-tracker"),
		now:      time.Now,
		autoPoll: true,
		sessions: make(map[string]*windowSession),
	}
}

// Join adds sessionID to the tracked set, starting the poll loop if it is
// the first. The current window, if already known, is recorded for the
// session right away.
func (t *WindowTracker) Join(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[sessionID]; ok {
		return nil
	}

	if !t.running {
		if _, err := t.source.ActiveWindow(ctx); err != nil {
			return err
		}
		t.observed = false
		t.current = nil
	}

	now := t.now()
	ws := &windowSession{joined: now}
	t.sessions[sessionID] = ws

	if t.observed && (t.current != nil || t.cfg.TrackInactive) {
		t.record(ctx, sessionID, ws, t.current, now)
	}

	if !t.running {
		t.running = true
		if t.autoPoll {
			t.stop = make(chan struct{})
			t.done = make(chan struct{})
			go t.loop(t.stop, t.done)
		}
	}
	return nil
}

// Leave flushes the pending duration for sessionID and removes it. The poll
// loop stops when the last session leaves.
func (t *WindowTracker) Leave(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	ws, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return ErrNotActive
	}

	t.flush(ctx, sessionID, ws, t.now())
	delete(t.sessions, sessionID)

	var stop, done chan struct{}
	if len(t.sessions) == 0 && t.running {
		stop, done = t.stop, t.done
		t.stop, t.done = nil, nil
		t.running = false
		t.observed = false
		t.current = nil
	}
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
		t.logger.Debug("window poll loop stopped")
	}
	return nil
}

// Tracking reports whether sessionID is joined
func (t *WindowTracker) Tracking(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// Running reports whether the shared poll loop is active
func (t *WindowTracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// History returns the recent window events recorded for sessionID
func (t *WindowTracker) History(sessionID string) []store.WindowEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	ws, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]store.WindowEvent, len(ws.history))
	for i, ev := range ws.history {
		out[i] = *ev
	}
	return out
}

func (t *WindowTracker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := t.cfg.PollInterval()
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.poll(context.Background())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.poll(context.Background())
		}
	}
}

// poll samples the foreground window and handles a focus change
func (t *WindowTracker) poll(ctx context.Context) {
	win, err := t.source.ActiveWindow(ctx)
	if err != nil {
		t.logger.Debug("cannot read active window", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.observed && sameWindow(t.current, win) {
		return
	}

	now := t.now()
	if t.observed && now.Sub(t.currentSince) >= minFocusDuration {
		for id, ws := range t.sessions {
			t.flush(ctx, id, ws, now)
		}
	}
	for _, ws := range t.sessions {
		ws.openEvent = 0
	}

	t.observed = true
	t.current = win
	t.currentSince = now

	if win == nil && !t.cfg.TrackInactive {
		return
	}
	for id, ws := range t.sessions {
		t.record(ctx, id, ws, win, now)
	}
}

// flush writes the duration of the session's open window event.
// Must be called with t.mu held.
func (t *WindowTracker) flush(ctx context.Context, sessionID string, ws *windowSession, now time.Time) {
	if ws.openEvent == 0 {
		return
	}
	from := t.currentSince
	if ws.joined.After(from) {
		from = ws.joined
	}
	d := now.Sub(from)
	if d < 0 {
		d = 0
	}

	if _, err := t.sink.SetWindowDuration(ctx, ws.openEvent, d); err != nil {
		t.logger.Warn("cannot store window duration", "session", sessionID, "error", err)
	}
	ms := d.Milliseconds()
	for _, ev := range ws.history {
		if ev.ID == ws.openEvent && ev.DurationMS == nil {
			ev.DurationMS = &ms
		}
	}
	ws.openEvent = 0
}

// record writes a focus event for one session.
// Must be called with t.mu held.
func (t *WindowTracker) record(ctx context.Context, sessionID string, ws *windowSession, win *WindowInfo, now time.Time) {
	ev := &store.WindowEvent{
		SessionID: sessionID,
		Timestamp: now,
	}
	if win != nil {
		ev.Title = win.Title
		ev.AppName = win.AppName
		ev.AppPath = win.AppPath
		ev.PID = win.PID
	} else {
		ev.Metadata = map[string]any{"inactive": true}
	}

	if err := t.sink.InsertWindowEvent(ctx, ev); err != nil {
		t.logger.Warn("cannot store window event", "session", sessionID, "error", err)
		return
	}
	ws.openEvent = ev.ID

	ws.history = append(ws.history, ev)
	if len(ws.history) > historyLimit {
		ws.history = append([]*store.WindowEvent(nil), ws.history[len(ws.history)-historyKeep:]...)
	}
	published := *ev
	t.bus.Publish(store.WindowEventOf(&published))
}
