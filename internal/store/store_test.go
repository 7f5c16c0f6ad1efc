package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// openTestStore creates a store in a temp directory.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestSession(t *testing.T, s *Store, id string, start time.Time) *Session {
	t.Helper()

	sess := &Session{
		ID:          id,
		ProjectName: "demo",
		ProjectPath: "/tmp/demo",
		StartTime:   start,
		Status:      StatusActive,
		Metadata:    map[string]any{"experiment": "a"},
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func ptr[T any](v T) *T { return &v }

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	start := time.UnixMilli(1_700_000_000_000)

	createTestSession(t, s, "sess-1", start)

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusActive || got.EndTime != nil {
		t.Errorf("new session = %+v, want active with nil end time", got)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, start)
	}
	if got.Metadata["experiment"] != "a" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	end := start.Add(time.Hour)
	if err := s.CompleteSession(ctx, "sess-1", end); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	got, _ = s.GetSession(ctx, "sess-1")
	if got.Status != StatusCompleted || got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("completed session = %+v", got)
	}

	// A second completion keeps the first end time
	if err := s.CompleteSession(ctx, "sess-1", end.Add(time.Hour)); err != nil {
		t.Fatalf("CompleteSession again: %v", err)
	}
	got, _ = s.GetSession(ctx, "sess-1")
	if !got.EndTime.Equal(end) {
		t.Errorf("EndTime changed to %v", got.EndTime)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.CompleteSession(context.Background(), "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListSessionsByStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	createTestSession(t, s, "old", now.Add(-time.Hour))
	createTestSession(t, s, "new", now)
	if err := s.CompleteSession(ctx, "old", now); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSessions(ctx, "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 || all[0].ID != "new" {
		t.Errorf("ListSessions(all) = %d sessions, first %q", len(all), all[0].ID)
	}

	active, err := s.ListSessions(ctx, StatusActive)
	if err != nil {
		t.Fatalf("ListSessions(active): %v", err)
	}
	if len(active) != 1 || active[0].ID != "new" {
		t.Errorf("active sessions = %v", active)
	}
}

func TestSessionEventsMergedAndFiltered(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)
	createTestSession(t, s, "sess", base)

	file := &FileEvent{SessionID: "sess", Change: FileAdd, Path: "/tmp/demo/a.go",
		Name: "a.go", Extension: ".go", Size: ptr(int64(42)), Timestamp: base.Add(2 * time.Second)}
	win := &WindowEvent{SessionID: "sess", Title: "editor", AppName: "code", PID: 10,
		Timestamp: base.Add(1 * time.Second)}
	cmd := &CommandEvent{SessionID: "sess", Command: "go test ./...", ExitCode: 1,
		StartTime: base.Add(3 * time.Second), EndTime: base.Add(5 * time.Second), DurationMS: 2000,
		Stderr: "FAIL", Env: map[string]string{"GOFLAGS": "-count=1"}}

	for _, err := range []error{
		s.InsertFileEvent(ctx, file),
		s.InsertWindowEvent(ctx, win),
		s.InsertCommandEvent(ctx, cmd),
	} {
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if file.ID == 0 || win.ID == 0 || cmd.ID == 0 {
		t.Fatal("inserted events should receive ids")
	}

	events, err := s.SessionEvents(ctx, "sess", EventQuery{})
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	kinds := []EventKind{}
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{KindWindow, KindFile, KindCommand}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v, want %v", kinds, want)
			break
		}
	}

	onlyFiles, _ := s.SessionEvents(ctx, "sess", EventQuery{Kinds: []EventKind{KindFile}})
	if len(onlyFiles) != 1 || onlyFiles[0].File.Size == nil || *onlyFiles[0].File.Size != 42 {
		t.Errorf("file filter = %+v", onlyFiles)
	}

	limited, _ := s.SessionEvents(ctx, "sess", EventQuery{Limit: 2})
	if len(limited) != 2 || limited[1].Kind != KindCommand {
		t.Errorf("limit should keep the most recent events, got %+v", limited)
	}

	ranged, _ := s.SessionEvents(ctx, "sess", EventQuery{Since: base.Add(2 * time.Second), Until: base.Add(3 * time.Second)})
	if len(ranged) != 1 || ranged[0].Kind != KindFile {
		t.Errorf("range query = %+v", ranged)
	}

	cmds, _ := s.CommandEvents(ctx, "sess", EventQuery{})
	if len(cmds) != 1 || cmds[0].Env["GOFLAGS"] != "-count=1" || cmds[0].Stderr != "FAIL" {
		t.Errorf("command round trip = %+v", cmds)
	}
}

func TestSetWindowDurationOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	createTestSession(t, s, "sess", time.Now())

	win := &WindowEvent{SessionID: "sess", Title: "terminal", AppName: "kitty", Timestamp: time.Now()}
	if err := s.InsertWindowEvent(ctx, win); err != nil {
		t.Fatal(err)
	}

	ok, err := s.SetWindowDuration(ctx, win.ID, 3*time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetWindowDuration = %v, %v", ok, err)
	}
	ok, err = s.SetWindowDuration(ctx, win.ID, 9*time.Second)
	if err != nil || ok {
		t.Fatalf("second SetWindowDuration = %v, %v; want false", ok, err)
	}

	events, _ := s.WindowEvents(ctx, "sess", EventQuery{})
	if events[0].Duration() != 3*time.Second {
		t.Errorf("duration = %v, want 3s", events[0].Duration())
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	createTestSession(t, s, "sess", time.Now())

	_ = s.InsertFileEvent(ctx, &FileEvent{SessionID: "sess", Change: FileAdd, Path: "/a", Name: "a", Timestamp: time.Now()})
	_ = s.InsertAnalysis(ctx, &AnalysisResult{SessionID: "sess", AnalysisType: "rule-based", Summary: "ok", Confidence: 0.3})
	_ = s.InsertReport(ctx, &Report{SessionID: "sess", Type: "summary", Title: "t", Content: "{}", Format: "json"})

	if err := s.DeleteSession(ctx, "sess"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	files, _ := s.FileEvents(ctx, "sess", EventQuery{})
	results, _ := s.AnalysisForSession(ctx, "sess")
	reports, _ := s.ReportsForSession(ctx, "sess")
	if len(files)+len(results)+len(reports) != 0 {
		t.Errorf("orphans left: %d files, %d results, %d reports", len(files), len(results), len(reports))
	}

	// Writes against a purged session are rejected
	err := s.InsertFileEvent(ctx, &FileEvent{SessionID: "sess", Change: FileAdd, Path: "/b", Name: "b", Timestamp: time.Now()})
	if !errors.Is(err, ErrStorage) {
		t.Errorf("insert after purge error = %v, want ErrStorage", err)
	}
}

func TestAnalysisAndReportsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	createTestSession(t, s, "sess", time.Now())

	r := &AnalysisResult{
		SessionID:    "sess",
		EventID:      ptr(int64(7)),
		EventKind:    KindCommand,
		AnalysisType: "ai",
		Summary:      "build failed",
		KeyLines:     []int{2, 5},
		KeyPhrases:   []string{"undefined: foo"},
		Confidence:   0.8,
		Model:        "gpt-4o-mini",
		Metadata:     map[string]any{"severity": "high"},
	}
	if err := s.InsertAnalysis(ctx, r); err != nil {
		t.Fatalf("InsertAnalysis: %v", err)
	}

	results, err := s.AnalysisForSession(ctx, "sess")
	if err != nil || len(results) != 1 {
		t.Fatalf("AnalysisForSession = %v, %v", results, err)
	}
	got := results[0]
	if *got.EventID != 7 || got.EventKind != KindCommand || len(got.KeyLines) != 2 || got.KeyLines[1] != 5 {
		t.Errorf("analysis round trip = %+v", got)
	}
	if got.Metadata["severity"] != "high" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	for i := 0; i < 2; i++ {
		if err := s.InsertReport(ctx, &Report{SessionID: "sess", Type: "summary", Title: "t",
			Content: "{}", Format: "json", GeneratedAt: time.UnixMilli(int64(1000 + i))}); err != nil {
			t.Fatalf("InsertReport: %v", err)
		}
	}
	reports, _ := s.ReportsForSession(ctx, "sess")
	if len(reports) != 2 || reports[0].GeneratedAt.UnixMilli() != 1001 {
		t.Errorf("reports should be newest first, got %+v", reports)
	}
}

func TestSessionStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)
	createTestSession(t, s, "sess", base)

	_ = s.InsertFileEvent(ctx, &FileEvent{SessionID: "sess", Change: FileAdd, Path: "/a", Name: "a", Timestamp: base.Add(time.Second)})
	w := &WindowEvent{SessionID: "sess", Title: "x", AppName: "y", Timestamp: base.Add(2 * time.Second)}
	_ = s.InsertWindowEvent(ctx, w)
	_, _ = s.SetWindowDuration(ctx, w.ID, 4*time.Second)
	_ = s.InsertCommandEvent(ctx, &CommandEvent{SessionID: "sess", Command: "false", ExitCode: 1,
		StartTime: base.Add(3 * time.Second), EndTime: base.Add(3 * time.Second)})
	_ = s.InsertCommandEvent(ctx, &CommandEvent{SessionID: "sess", Command: "true", ExitCode: 0,
		StartTime: base.Add(4 * time.Second), EndTime: base.Add(4 * time.Second)})

	stats, err := s.SessionStats(ctx, "sess")
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if stats.TotalEvents != 4 || stats.FileEvents != 1 || stats.WindowEvents != 1 || stats.CommandEvents != 2 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.FailedCommands != 1 {
		t.Errorf("FailedCommands = %d, want 1", stats.FailedCommands)
	}
	if stats.WindowTimeMS != 4000 {
		t.Errorf("WindowTimeMS = %d, want 4000", stats.WindowTimeMS)
	}
	if stats.FirstEvent == nil || !stats.FirstEvent.Equal(base.Add(time.Second)) {
		t.Errorf("FirstEvent = %v", stats.FirstEvent)
	}
	if stats.LastEvent == nil || !stats.LastEvent.Equal(base.Add(4*time.Second)) {
		t.Errorf("LastEvent = %v", stats.LastEvent)
	}

	empty := "empty"
	createTestSession(t, s, empty, base)
	stats, err = s.SessionStats(ctx, empty)
	if err != nil || stats.TotalEvents != 0 || stats.FirstEvent != nil {
		t.Errorf("empty session stats = %+v, %v", stats, err)
	}
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	createTestSession(t, s, "sess", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.InsertFileEvent(ctx, &FileEvent{SessionID: "sess", Change: FileChanged,
				Path: "/f", Name: "f", Timestamp: time.Now()})
		}(i)
	}
	wg.Wait()

	files, err := s.FileEvents(ctx, "sess", EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 20 {
		t.Errorf("got %d events, want 20", len(files))
	}
}
