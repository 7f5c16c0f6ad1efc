package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/config"
	"devsession_mon/internal/logging"
	"devsession_mon/internal/report"
	"devsession_mon/internal/store"
	"devsession_mon/internal/summarize"
)

const (
	analysisBuffer = 256

	// PatternAnalysis is the analysis type of classifier results
	PatternAnalysis = "pattern"
	patternModel    = "pattern-classifier"
)

// Options select the collectors started for a session
type Options struct {
	WatchFiles     bool           `json:"watch_files"`
	TrackWindows   bool           `json:"track_windows"`
	RecordCommands bool           `json:"record_commands"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DefaultOptions enables every collector
func DefaultOptions() Options {
	return Options{WatchFiles: true, TrackWindows: true, RecordCommands: true}
}

// StartResult is a started session and the collectors that failed to attach
type StartResult struct {
	Session  *store.Session `json:"session"`
	Warnings []string       `json:"warnings,omitempty"`
}

// running tracks which collectors this process started for a session
type running struct {
	files    bool
	windows  bool
	commands bool
}

// Manager owns the collectors and is the entry point for session operations
type Manager struct {
	cfg        *config.Config
	store      *store.Store
	bus        *Bus
	files      *FileCollector
	windows    *WindowTracker
	commands   *CommandCollector
	classifier *classify.Classifier
	summarizer *summarize.Summarizer
	reports    *report.Builder
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*running
	closed   bool

	unsubscribe func()
	loopDone    chan struct{}
	analyses    errgroup.Group
}

// NewManager wires the collectors to st. A nil source queries the platform
// window system; a nil summarizer gives rule-based summaries only.
func NewManager(cfg *config.Config, st *store.Store, source WindowSource, summarizer *summarize.Summarizer) *Manager {
	if source == nil {
		source = NewExecWindowSource()
	}
	if summarizer == nil {
		summarizer = summarize.New(cfg.AI, nil)
	}

	bus := NewBus()
	classifier := classify.New(nil)
	m := &Manager{
		cfg:        cfg,
		store:      st,
		bus:        bus,
		files:      NewFileCollector(cfg.Files, st, bus),
		windows:    NewWindowTracker(cfg.Window, source, st, bus),
		commands:   NewCommandCollector(st, bus),
		classifier: classifier,
		summarizer: summarizer,
		reports:    report.NewBuilder(st, classifier, summarizer, cfg.Report),
		logger:     logging.For("session-manager"),
		now:        time.Now,
		sessions:   make(map[string]*running),
	}

	if cfg.AI.AutoAnalyze {
		limit := cfg.AI.Concurrency
		if limit <= 0 {
			limit = 3
		}
		m.analyses.SetLimit(limit)

		events, unsubscribe := bus.Subscribe(analysisBuffer)
		m.unsubscribe = unsubscribe
		m.loopDone = make(chan struct{})
		go m.analyzeLoop(events)
	}
	return m
}

// Subscribe returns live events from every collector
func (m *Manager) Subscribe(buffer int) (<-chan store.Event, func()) {
	return m.bus.Subscribe(buffer)
}

// Start creates a session over projectPath and starts its collectors.
// A collector that fails to attach is reported in Warnings; the session
// continues without it.
func (m *Manager) Start(ctx context.Context, projectName, projectPath string, opts Options) (*StartResult, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, projectPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, projectPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, projectPath)
	}
	if projectName == "" {
		projectName = filepath.Base(abs)
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	sess := &store.Session{
		ID:          uuid.NewString(),
		ProjectName: projectName,
		ProjectPath: abs,
		StartTime:   m.now(),
		Status:      store.StatusActive,
		Metadata:    copyMetadata(opts.Metadata),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	run := &running{}
	var warnings []string
	var collectors []string
	warn := func(name string, err error) {
		err = fmt.Errorf("%w: %s: %v", ErrCollectorStart, name, err)
		warnings = append(warnings, err.Error())
		m.logger.Warn("collector did not start", "session", sess.ID, "collector", name, "error", err)
	}

	if opts.WatchFiles {
		if err := m.files.Start(sess.ID, abs); err != nil {
			warn("files", err)
		} else {
			run.files = true
			collectors = append(collectors, "files")
		}
	}
	if opts.TrackWindows && m.cfg.Window.Enabled {
		if err := m.windows.Join(ctx, sess.ID); err != nil {
			warn("windows", err)
		} else {
			run.windows = true
			collectors = append(collectors, "windows")
		}
	}
	if opts.RecordCommands {
		m.commands.Attach(sess.ID)
		run.commands = true
		collectors = append(collectors, "commands")
	}

	m.mu.Lock()
	m.sessions[sess.ID] = run
	m.mu.Unlock()

	sess.Metadata["collectors"] = collectors
	if len(warnings) > 0 {
		sess.Metadata["warnings"] = warnings
	}
	if err := m.store.UpdateSessionMetadata(ctx, sess.ID, sess.Metadata); err != nil {
		m.stopCollectors(ctx, sess.ID)
		return nil, err
	}

	m.logger.Info("session started", "session", sess.ID, "project", projectName, "path", abs, "collectors", strings.Join(collectors, ","))
	return &StartResult{Session: sess, Warnings: warnings}, nil
}

// Stop ends a session. Without force, stopping a session that is not
// active fails with ErrNotActive. Debounced file events and model calls
// already in flight still complete and are written.
func (m *Manager) Stop(ctx context.Context, sessionID string, force bool) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() && !force {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	}

	m.stopCollectors(ctx, sessionID)
	if err := m.store.CompleteSession(ctx, sessionID, m.now()); err != nil {
		return nil, err
	}

	m.logger.Info("session stopped", "session", sessionID, "forced", force)
	return m.store.GetSession(ctx, sessionID)
}

// stopCollectors detaches every collector this process started for sessionID
func (m *Manager) stopCollectors(ctx context.Context, sessionID string) {
	m.mu.Lock()
	run, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	if run.commands {
		m.commands.Detach(sessionID)
	}
	if run.files {
		if err := m.files.Stop(sessionID); err != nil {
			m.logger.Warn("stop file collector", "session", sessionID, "error", err)
		}
	}
	if run.windows {
		if err := m.windows.Leave(ctx, sessionID); err != nil {
			m.logger.Warn("stop window collector", "session", sessionID, "error", err)
		}
	}
}

// Running reports whether this process is collecting for sessionID
func (m *Manager) Running(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// GetSession returns a session by id
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// ListSessions returns sessions with the given status, or all for ""
func (m *Manager) ListSessions(ctx context.Context, status store.SessionStatus) ([]*store.Session, error) {
	return m.store.ListSessions(ctx, status)
}

// ListActiveSessions returns every active session
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*store.Session, error) {
	return m.store.ListSessions(ctx, store.StatusActive)
}

// GetSessionEvents returns a session's events in time order, optionally
// restricted to some kinds. A positive limit keeps the most recent events.
func (m *Manager) GetSessionEvents(ctx context.Context, sessionID string, kinds []store.EventKind, limit int) ([]store.Event, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.SessionEvents(ctx, sessionID, store.EventQuery{Kinds: kinds, Limit: limit})
}

// GetSessionStats returns aggregate counts for a session
func (m *Manager) GetSessionStats(ctx context.Context, sessionID string) (*store.SessionStats, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.SessionStats(ctx, sessionID)
}

// GetAnalyses returns the stored analysis results of a session
func (m *Manager) GetAnalyses(ctx context.Context, sessionID string) ([]*store.AnalysisResult, error) {
	return m.store.AnalysisForSession(ctx, sessionID)
}

// CollectorStatus is what this process is collecting for one session
type CollectorStatus struct {
	SessionID     string              `json:"session_id"`
	Files         bool                `json:"files"`
	Windows       bool                `json:"windows"`
	Commands      bool                `json:"commands"`
	RecentWindows []store.WindowEvent `json:"recent_windows,omitempty"`
}

// Status describes the collectors running in this process
type Status struct {
	Sessions      []CollectorStatus `json:"sessions"`
	WindowPolling bool              `json:"window_polling"`
	DroppedEvents int64             `json:"dropped_events"`
}

// recentWindows bounds the focus history returned per session
const recentWindows = 10

// Status reports the running collectors, sorted by session id
func (m *Manager) Status() Status {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	runs := make(map[string]running, len(m.sessions))
	for id, run := range m.sessions {
		ids = append(ids, id)
		runs[id] = *run
	}
	m.mu.Unlock()
	slices.Sort(ids)

	st := Status{
		Sessions:      make([]CollectorStatus, 0, len(ids)),
		WindowPolling: m.windows.Running(),
		DroppedEvents: m.bus.Dropped(),
	}
	for _, id := range ids {
		run := runs[id]
		cs := CollectorStatus{
			SessionID: id,
			Files:     run.files && m.files.Active(id),
			Windows:   run.windows && m.windows.Tracking(id),
			Commands:  run.commands && m.commands.Attached(id),
		}
		if cs.Windows {
			h := m.windows.History(id)
			if len(h) > recentWindows {
				h = h[len(h)-recentWindows:]
			}
			cs.RecentWindows = h
		}
		st.Sessions = append(st.Sessions, cs)
	}
	return st
}

// ListReports returns the stored reports of a session, newest first
func (m *Manager) ListReports(ctx context.Context, sessionID string) ([]*store.Report, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.ReportsForSession(ctx, sessionID)
}

// GenerateReport builds a report for a session
func (m *Manager) GenerateReport(ctx context.Context, sessionID string, opts report.Options) (*report.Report, error) {
	return m.reports.Generate(ctx, sessionID, opts)
}

// AnalyzeLog summarizes text. Model failures come back as a low-confidence
// result; when the context names a session the result is stored and a
// store failure is returned.
func (m *Manager) AnalyzeLog(ctx context.Context, text string, lc summarize.LogContext) (summarize.Analysis, error) {
	a := m.summarizer.AnalyzeLog(ctx, text, lc)
	if lc.SessionID == "" {
		return a, nil
	}
	if err := m.store.InsertAnalysis(ctx, a.ToResult(lc.SessionID)); err != nil {
		return a, err
	}
	return a, nil
}

// RecordCommand stores a completed command for an active session
func (m *Manager) RecordCommand(ctx context.Context, sessionID string, rec CommandRecord) (*store.CommandEvent, error) {
	return m.commands.Record(ctx, sessionID, rec)
}

// Purge stops a session's collectors and deletes it with everything it owns
func (m *Manager) Purge(ctx context.Context, sessionID string) error {
	m.stopCollectors(ctx, sessionID)
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	m.logger.Info("session purged", "session", sessionID)
	return nil
}

// Close stops every session started by this manager and waits for
// background analysis to finish.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.Stop(ctx, id, true); err != nil {
			errs = append(errs, err)
		}
	}

	if m.unsubscribe != nil {
		m.unsubscribe()
		<-m.loopDone
		_ = m.analyses.Wait()
	}
	return errors.Join(errs...)
}

// analyzeLoop classifies every recorded command and hands triggered
// output to the summarizer in the background.
func (m *Manager) analyzeLoop(events <-chan store.Event) {
	defer close(m.loopDone)

	for ev := range events {
		if ev.Kind != store.KindCommand {
			continue
		}
		cmd := ev.Command
		text := cmd.Output()
		if strings.TrimSpace(text) == "" {
			continue
		}

		m.storePatterns(cmd, text)

		if !m.summarizer.HasModel() || !m.Running(cmd.SessionID) {
			continue
		}
		exit := cmd.ExitCode
		id := cmd.ID
		lc := summarize.LogContext{
			Command:    cmd.Command,
			WorkingDir: cmd.WorkingDir,
			ExitCode:   &exit,
			Source:     "command",
			SessionID:  cmd.SessionID,
			EventID:    &id,
			EventKind:  store.KindCommand,
		}
		if cmd.Stdout == "" {
			lc.Stream = "stderr"
		}
		if !m.summarizer.ShouldTrigger(text, lc) {
			continue
		}
		m.analyses.Go(func() error {
			if _, err := m.AnalyzeLog(context.Background(), text, lc); err != nil {
				m.logger.Warn("cannot store command analysis", "session", lc.SessionID, "error", err)
			}
			return nil
		})
	}
}

// storePatterns records the classifier's view of a command's output
func (m *Manager) storePatterns(cmd *store.CommandEvent, text string) {
	res := m.classifier.Classify(text)
	if len(res.Patterns) == 0 {
		return
	}

	phrases := make([]string, 0, len(res.Patterns))
	for _, p := range res.Patterns {
		phrases = append(phrases, p.Rule)
	}
	id := cmd.ID
	result := &store.AnalysisResult{
		SessionID:    cmd.SessionID,
		EventID:      &id,
		EventKind:    store.KindCommand,
		AnalysisType: PatternAnalysis,
		Summary:      patternSummary(res),
		KeyLines:     []int{},
		KeyPhrases:   phrases,
		Confidence:   res.Confidence,
		Model:        patternModel,
		CreatedAt:    m.now(),
		Metadata: map[string]any{
			"severity":   string(res.Severity),
			"categories": res.Categories,
			"language":   res.Language,
			"command":    cmd.Command,
		},
	}
	if err := m.store.InsertAnalysis(context.Background(), result); err != nil {
		m.logger.Warn("cannot store pattern analysis", "session", cmd.SessionID, "error", err)
	}
}

func patternSummary(res classify.Result) string {
	if !res.HasIssues() {
		return "No issues detected"
	}
	category := res.PrimaryCategory()
	if category == "" {
		category = "general"
	}
	return fmt.Sprintf("%s severity %s issue (%d patterns)", res.Severity, category, len(res.Patterns))
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
