package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"devsession_mon/internal/config"
	"devsession_mon/internal/store"
)

const testDebounce = 30 * time.Millisecond

func testFileConfig() config.FileConfig {
	cfg := config.DefaultConfig().Files
	cfg.DebounceMS = int(testDebounce / time.Millisecond)
	return cfg
}

// newTestWatch builds watcher state without an OS watcher, for driving handle directly
func newTestWatch(root string) *fileWatch {
	return &fileWatch{
		sessionID: "s1",
		root:      root,
		done:      make(chan struct{}),
		pending:   make(map[debounceKey]*pendingChange),
		dirs:      map[string]bool{root: true},
	}
}

// settle waits until sink holds at least n file events, then one more
// debounce window to catch stragglers.
func settle(t *testing.T, sink *memorySink, n int) []store.FileEvent {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for len(sink.fileEvents()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(4 * testDebounce)
	return sink.fileEvents()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDebounceCollapsesBurst(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	writeFile(t, path, "package main\n")

	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())
	w := newTestWatch(root)

	start := time.Now()
	var last time.Time
	for i := 0; i < 10; i++ {
		last = start.Add(time.Duration(i) * time.Millisecond)
		c.handle(w, fsnotify.Event{Name: path, Op: fsnotify.Write}, last)
	}

	events := settle(t, sink, 1)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Change != store.FileChanged || ev.Path != path {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(last) {
		t.Errorf("timestamp = %v, want last event time %v", ev.Timestamp, last)
	}
	if ev.Size == nil || *ev.Size != int64(len("package main\n")) {
		t.Errorf("size = %v", ev.Size)
	}
	if ev.Metadata["relative_path"] != "main.go" {
		t.Errorf("relative_path = %v", ev.Metadata["relative_path"])
	}
}

func TestDebounceKeysByChangeAndPath(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())
	w := newTestWatch(root)
	now := time.Now()

	c.handle(w, fsnotify.Event{Name: a, Op: fsnotify.Write}, now)
	c.handle(w, fsnotify.Event{Name: b, Op: fsnotify.Write}, now)
	c.handle(w, fsnotify.Event{Name: a, Op: fsnotify.Remove}, now)

	events := settle(t, sink, 3)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	seen := make(map[debounceKey]int)
	for _, ev := range events {
		seen[debounceKey{change: ev.Change, path: ev.Path}]++
	}
	for _, key := range []debounceKey{{store.FileChanged, a}, {store.FileChanged, b}, {store.FileRemove, a}} {
		if seen[key] != 1 {
			t.Errorf("%v recorded %d times, want 1", key, seen[key])
		}
	}
}

func TestCreateThenWriteIsOneAdd(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.md")
	writeFile(t, path, "# notes")

	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())
	w := newTestWatch(root)
	now := time.Now()

	c.handle(w, fsnotify.Event{Name: path, Op: fsnotify.Create}, now)
	c.handle(w, fsnotify.Event{Name: path, Op: fsnotify.Write}, now.Add(time.Millisecond))
	c.handle(w, fsnotify.Event{Name: path, Op: fsnotify.Write}, now.Add(2*time.Millisecond))

	events := settle(t, sink, 1)
	if len(events) != 1 || events[0].Change != store.FileAdd {
		t.Fatalf("events = %+v, want a single add", events)
	}
}

func TestIgnoredFilesProduceNoEvents(t *testing.T) {
	root := t.TempDir()
	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())
	w := newTestWatch(root)

	for _, name := range []string{".DS_Store", "main.go.swp", "debug.log", "draft~"} {
		path := filepath.Join(root, name)
		writeFile(t, path, "x")
		c.handle(w, fsnotify.Event{Name: path, Op: fsnotify.Write}, time.Now())
	}

	time.Sleep(4 * testDebounce)
	if events := sink.fileEvents(); len(events) != 0 {
		t.Errorf("got %d events for ignored files: %+v", len(events), events)
	}
}

func TestRemovedDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pkg")

	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())
	w := newTestWatch(root)
	w.dirs[dir] = true

	c.handle(w, fsnotify.Event{Name: dir, Op: fsnotify.Remove}, time.Now())

	events := settle(t, sink, 1)
	if len(events) != 1 || events[0].Change != store.FileRemoveDir {
		t.Fatalf("events = %+v, want one removeDir", events)
	}
	if events[0].Size != nil {
		t.Error("removal carries a size")
	}
}

func TestStopLetsPendingEventsFire(t *testing.T) {
	root := t.TempDir()
	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())

	if err := c.Start("s1", root); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.mu.Lock()
	w := c.watches["s1"]
	c.mu.Unlock()

	path := filepath.Join(root, "late.txt")
	writeFile(t, path, "late")
	c.handle(w, fsnotify.Event{Name: path, Op: fsnotify.Write}, time.Now())

	if err := c.Stop("s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Active("s1") {
		t.Error("still active after Stop")
	}
	if events := settle(t, sink, 1); len(events) == 0 {
		t.Error("pending event lost on stop")
	}
	if err := c.Stop("s1"); err == nil {
		t.Error("second Stop succeeded")
	}
}

func TestWatchNewFileAndSubdirectory(t *testing.T) {
	root := t.TempDir()
	sink := &memorySink{}
	c := NewFileCollector(testFileConfig(), sink, NewBus())
	if err := c.Start("s1", root); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop("s1") })

	writeFile(t, filepath.Join(root, "hello.txt"), "hi")
	events := settle(t, sink, 1)
	if len(events) != 1 || events[0].Change != store.FileAdd {
		t.Fatalf("events = %+v, want exactly one add", events)
	}

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	settle(t, sink, 2)
	nested := filepath.Join(sub, "deep.txt")
	writeFile(t, nested, "deep")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range sink.fileEvents() {
			if ev.Path == nested {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("no event for file in new subdirectory: %+v", sink.fileEvents())
}

func TestDepth(t *testing.T) {
	c := NewFileCollector(testFileConfig(), &memorySink{}, NewBus())
	root := filepath.FromSlash("/p")
	tests := []struct {
		path string
		want int
	}{
		{"/p", 0},
		{"/p/a", 1},
		{"/p/a/b/c", 3},
	}
	for _, tt := range tests {
		if got := c.depth(root, filepath.FromSlash(tt.path)); got != tt.want {
			t.Errorf("depth(%s) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestSizeCeiling(t *testing.T) {
	root := t.TempDir()
	cfg := testFileConfig()
	cfg.MaxFileSizeMB = 1
	c := NewFileCollector(cfg, &memorySink{}, NewBus())
	w := newTestWatch(root)

	small := filepath.Join(root, "small.txt")
	writeFile(t, small, "tiny")
	large := filepath.Join(root, "large.bin")
	writeFile(t, large, strings.Repeat("x", 2*1024*1024))

	tests := []struct {
		name   string
		change store.FileChange
		path   string
		keep   bool
	}{
		{"small add", store.FileAdd, small, true},
		{"large add", store.FileAdd, large, false},
		{"large change", store.FileChanged, large, false},
		{"large remove", store.FileRemove, large, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, keep := c.buildEvent(w, tt.change, tt.path, time.Now())
			if keep != tt.keep {
				t.Fatalf("keep = %v, want %v", keep, tt.keep)
			}
			if keep && tt.change == store.FileAdd && (ev.Size == nil || *ev.Size != 4) {
				t.Errorf("size = %v, want 4", ev.Size)
			}
		})
	}
}

func TestSymlinksNotFollowed(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Mkdir(filepath.Join(outside, "vendor"), 0o755); err != nil {
		t.Fatal(err)
	}
	big := filepath.Join(outside, "big.bin")
	writeFile(t, big, strings.Repeat("x", 2*1024*1024))
	if err := os.Mkdir(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	linkDir := filepath.Join(root, "linked")
	linkFile := filepath.Join(root, "big-link")
	if err := os.Symlink(outside, linkDir); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(big, linkFile); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	cfg := testFileConfig()
	cfg.MaxFileSizeMB = 1
	c := NewFileCollector(cfg, &memorySink{}, NewBus())
	if err := c.Start("s1", root); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop("s1") })

	c.mu.Lock()
	w := c.watches["s1"]
	c.mu.Unlock()
	w.mu.Lock()
	dirs := len(w.dirs)
	_, watchedLink := w.dirs[linkDir]
	_, watchedSrc := w.dirs[filepath.Join(root, "src")]
	w.mu.Unlock()
	if watchedLink || !watchedSrc || dirs != 2 {
		t.Errorf("watched %d dirs (link %v, src %v), want root and src only", dirs, watchedLink, watchedSrc)
	}

	// the link itself is small even though its target is over the ceiling
	ev, keep := c.buildEvent(w, store.FileAdd, linkFile, time.Now())
	if !keep || ev.Size == nil || *ev.Size >= 1024*1024 {
		t.Errorf("link event = %+v, keep %v; want the link's own size", ev, keep)
	}
}
