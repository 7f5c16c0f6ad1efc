package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devsession_mon/internal/config"
	"devsession_mon/internal/report"
	"devsession_mon/internal/store"
	"devsession_mon/internal/summarize"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *fakeSource) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Files.DebounceMS = int(testDebounce / time.Millisecond)
	cfg.Window.PollIntervalMS = 10
	cfg.AI.AutoAnalyze = true

	src := &fakeSource{win: editor}
	m := NewManager(cfg, st, src, nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, st, src
}

func startSession(t *testing.T, m *Manager, opts Options) (*store.Session, string) {
	t.Helper()

	dir := t.TempDir()
	res, err := m.Start(context.Background(), "demo", dir, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res.Session, dir
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartAndGetSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.Start(ctx, "demo", t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	got, err := m.GetSession(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != store.StatusActive || got.EndTime != nil {
		t.Errorf("session = %+v, want active with no end time", got)
	}
	collectors, _ := got.Metadata["collectors"].([]any)
	if len(collectors) != 3 {
		t.Errorf("collectors = %v, want all three", got.Metadata["collectors"])
	}
	if !m.Running(got.ID) {
		t.Error("manager not collecting for the session")
	}

	active, err := m.ListActiveSessions(ctx)
	if err != nil || len(active) != 1 {
		t.Errorf("ListActiveSessions = %v, %v", active, err)
	}
}

func TestStartInvalidPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	file := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, file, "x")

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(t.TempDir(), "nope")},
		{"not a directory", file},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Start(context.Background(), "demo", tt.path, DefaultOptions())
			if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("err = %v, want ErrInvalidPath", err)
			}
		})
	}
}

func TestStopTwice(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, DefaultOptions())

	stopped, err := m.Stop(ctx, sess.ID, false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Status != store.StatusCompleted || stopped.EndTime == nil {
		t.Fatalf("stopped = %+v", stopped)
	}

	if _, err := m.Stop(ctx, sess.ID, false); !errors.Is(err, ErrNotActive) {
		t.Errorf("second Stop err = %v, want ErrNotActive", err)
	}

	forced, err := m.Stop(ctx, sess.ID, true)
	if err != nil {
		t.Fatalf("forced Stop: %v", err)
	}
	if !forced.EndTime.Equal(*stopped.EndTime) {
		t.Errorf("forced stop moved end time from %v to %v", stopped.EndTime, forced.EndTime)
	}

	if _, err := m.Stop(ctx, "unknown", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown Stop err = %v, want ErrNotFound", err)
	}
}

func TestCollectorFailureIsWarning(t *testing.T) {
	m, _, src := newTestManager(t)
	src.err = ErrNoWindowSystem
	ctx := context.Background()

	res, err := m.Start(ctx, "demo", t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "windows") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], ErrCollectorStart.Error()) {
		t.Errorf("warning %q does not name the collector failure", res.Warnings[0])
	}

	got, err := m.GetSession(ctx, res.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w, _ := got.Metadata["warnings"].([]any); len(w) != 1 {
		t.Errorf("stored warnings = %v", got.Metadata["warnings"])
	}
}

func TestNewFileYieldsOneAddEvent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, dir := startSession(t, m, Options{WatchFiles: true})

	writeFile(t, filepath.Join(dir, "result.csv"), "a,b\n1,2\n")

	kinds := []store.EventKind{store.KindFile}
	eventually(t, "file event", func() bool {
		events, err := m.GetSessionEvents(ctx, sess.ID, kinds, 0)
		return err == nil && len(events) > 0
	})
	time.Sleep(4 * testDebounce)

	events, err := m.GetSessionEvents(ctx, sess.ID, kinds, 0)
	if err != nil {
		t.Fatalf("GetSessionEvents: %v", err)
	}
	if len(events) != 1 || events[0].File.Change != store.FileAdd {
		t.Fatalf("events = %+v, want exactly one add", events)
	}
	if events[0].File.Extension != ".csv" || events[0].File.Name != "result.csv" {
		t.Errorf("file event = %+v", events[0].File)
	}
}

func TestRecordCommandAndAutoAnalysis(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, dir := startSession(t, m, Options{RecordCommands: true})

	ev, err := m.RecordCommand(ctx, sess.ID, CommandRecord{
		Command:    "./server",
		WorkingDir: dir,
		ExitCode:   139,
		Stderr:     "Segmentation fault (core dumped)",
	})
	if err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	var patterns []*store.AnalysisResult
	eventually(t, "pattern analysis", func() bool {
		results, err := m.GetAnalyses(ctx, sess.ID)
		if err != nil {
			return false
		}
		patterns = patterns[:0]
		for _, r := range results {
			if r.AnalysisType == PatternAnalysis {
				patterns = append(patterns, r)
			}
		}
		return len(patterns) > 0
	})
	p := patterns[0]
	if p.EventID == nil || *p.EventID != ev.ID || p.EventKind != store.KindCommand {
		t.Errorf("analysis not linked to the command: %+v", p)
	}
	if p.Metadata["severity"] != "high" {
		t.Errorf("severity = %v, want high", p.Metadata["severity"])
	}

	if _, err := m.Stop(ctx, sess.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RecordCommand(ctx, sess.ID, CommandRecord{Command: "ls"}); !errors.Is(err, ErrNotActive) {
		t.Errorf("record after stop err = %v, want ErrNotActive", err)
	}
}

func TestAnalyzeLogPersistsWithSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, Options{})

	text := "step 1\nERROR: connection refused\n"
	a, err := m.AnalyzeLog(ctx, text, summarize.LogContext{})
	if err != nil {
		t.Fatalf("AnalyzeLog: %v", err)
	}
	if a.Kind != summarize.KindRuleBased {
		t.Errorf("kind = %q, want rule-based without credentials", a.Kind)
	}

	if _, err := m.AnalyzeLog(ctx, text, summarize.LogContext{SessionID: sess.ID}); err != nil {
		t.Fatalf("AnalyzeLog: %v", err)
	}
	results, err := m.GetAnalyses(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].AnalysisType != summarize.KindRuleBased {
		t.Errorf("stored results = %+v", results)
	}

	if _, err := m.AnalyzeLog(ctx, text, summarize.LogContext{SessionID: "gone"}); !errors.Is(err, store.ErrStorage) {
		t.Errorf("unknown session err = %v, want ErrStorage", err)
	}
}

func TestPurge(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, Options{RecordCommands: true})

	if _, err := m.RecordCommand(ctx, sess.ID, CommandRecord{Command: "make"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Purge(ctx, sess.ID); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := m.GetSession(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession after purge err = %v", err)
	}
	if m.Running(sess.ID) {
		t.Error("collectors still running after purge")
	}
	events, err := st.SessionEvents(ctx, sess.ID, store.EventQuery{})
	if err != nil || len(events) != 0 {
		t.Errorf("events after purge = %v, %v", events, err)
	}
	if _, err := m.GetSessionEvents(ctx, sess.ID, nil, 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSessionEvents err = %v, want ErrNotFound", err)
	}
}

func TestGenerateReportThroughManager(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, Options{RecordCommands: true})

	for _, code := range []int{0, 1} {
		if _, err := m.RecordCommand(ctx, sess.ID, CommandRecord{Command: "go test", ExitCode: code}); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := m.GetSessionStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSessionStats: %v", err)
	}
	if stats.CommandEvents != 2 || stats.FailedCommands != 1 {
		t.Errorf("stats = %+v", stats)
	}

	r, err := m.GenerateReport(ctx, sess.ID, report.Options{Type: report.TypeDetailed})
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if r.KeyMetrics.TotalEvents != 2 || len(r.Timeline) != 2 {
		t.Errorf("report metrics = %+v, timeline = %d", r.KeyMetrics, len(r.Timeline))
	}
}

func TestCloseStopsSessions(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, DefaultOptions())

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := m.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %s after Close", got.Status)
	}
	if m.windows.Running() {
		t.Error("window loop running after Close")
	}
	if _, err := m.Start(ctx, "late", t.TempDir(), DefaultOptions()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close err = %v, want ErrClosed", err)
	}
}

func TestTailCommandLog(t *testing.T) {
	m, _, _ := newTestManager(t)
	sess, dir := startSession(t, m, Options{RecordCommands: true})
	logPath := filepath.Join(dir, "hook", "commands.jsonl")

	if err := AppendCommandLog(logPath, CommandRecord{Command: "echo before"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.TailCommandLog(ctx, sess.ID, logPath) }()
	time.Sleep(50 * time.Millisecond)

	if err := AppendCommandLog(logPath, CommandRecord{Command: "pytest", ExitCode: 1}); err != nil {
		t.Fatal(err)
	}

	kinds := []store.EventKind{store.KindCommand}
	eventually(t, "tailed command", func() bool {
		events, err := m.GetSessionEvents(context.Background(), sess.ID, kinds, 0)
		return err == nil && len(events) > 0
	})
	cancel()
	if err := <-done; err != nil {
		t.Errorf("TailCommandLog: %v", err)
	}

	events, _ := m.GetSessionEvents(context.Background(), sess.ID, kinds, 0)
	if len(events) != 1 || events[0].Command.Command != "pytest" {
		t.Errorf("events = %+v, want only the command appended while tailing", events)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Error(err)
	}
}

func TestStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, DefaultOptions())

	st := m.Status()
	if len(st.Sessions) != 1 || !st.WindowPolling {
		t.Fatalf("status = %+v, want one session and window polling", st)
	}
	cs := st.Sessions[0]
	if cs.SessionID != sess.ID || !cs.Files || !cs.Windows || !cs.Commands {
		t.Errorf("collectors = %+v, want all running", cs)
	}
	eventually(t, "focus history", func() bool {
		s := m.Status()
		return len(s.Sessions) == 1 && len(s.Sessions[0].RecentWindows) > 0
	})
	if got := m.Status().Sessions[0].RecentWindows[0].AppName; got != editor.AppName {
		t.Errorf("recent window app = %q, want %q", got, editor.AppName)
	}

	if _, err := m.Stop(ctx, sess.ID, false); err != nil {
		t.Fatal(err)
	}
	if st := m.Status(); len(st.Sessions) != 0 || st.WindowPolling {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestListReports(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _ := startSession(t, m, Options{RecordCommands: true})

	if _, err := m.GenerateReport(ctx, sess.ID, report.Options{Type: report.TypeSummary, Persist: true}); err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	reports, err := m.ListReports(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 1 || reports[0].Type != report.TypeSummary {
		t.Errorf("reports = %+v", reports)
	}
	if _, err := m.ListReports(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
