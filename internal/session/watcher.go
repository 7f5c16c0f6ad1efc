package session

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"devsession_mon/internal/config"
	"devsession_mon/internal/logging"
	"devsession_mon/internal/store"
)

// FileCollector watches each active session's project tree and records
// debounced file events.
type FileCollector struct {
	cfg    config.FileConfig
	sink   EventWriter
	bus    *Bus
	logger *slog.Logger

	mu      sync.Mutex
	watches map[string]*fileWatch // keyed by session id
}

// debounceKey identifies one burst: the same kind of change on the same path
type debounceKey struct {
	change store.FileChange
	path   string
}

type pendingChange struct {
	timer *time.Timer
	last  time.Time
}

// fileWatch is the per-session watcher state
type fileWatch struct {
	sessionID string
	root      string
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once

	mu      sync.Mutex
	pending map[debounceKey]*pendingChange
	dirs    map[string]bool // watched directories
}

// NewFileCollector creates a collector writing to sink
func NewFileCollector(cfg config.FileConfig, sink EventWriter, bus *Bus) *FileCollector {
	return &FileCollector{
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		logger:  logging.For("file-collector"),
		watches: make(map[string]*fileWatch),
	}
}

// Start begins watching root for sessionID
func (c *FileCollector) Start(sessionID, root string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.watches[sessionID]; exists {
		return fmt.Errorf("session %s is already watched", sessionID)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	w := &fileWatch{
		sessionID: sessionID,
		root:      root,
		fsWatcher: fsw,
		done:      make(chan struct{}),
		pending:   make(map[debounceKey]*pendingChange),
		dirs:      make(map[string]bool),
	}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", root, err)
	}
	w.dirs[root] = true
	c.addTree(w, root)

	c.watches[sessionID] = w
	go c.watchLoop(w)

	c.logger.Info("watching project", "session", sessionID, "path", root, "dirs", len(w.dirs))
	return nil
}

// Stop closes the session's watcher. Debounced events already pending
// still fire and are written.
func (c *FileCollector) Stop(sessionID string) error {
	c.mu.Lock()
	w, ok := c.watches[sessionID]
	delete(c.watches, sessionID)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	}

	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// Active reports whether sessionID has a running watcher
func (c *FileCollector) Active(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watches[sessionID]
	return ok
}

// addTree adds every directory under dir within the depth bound.
// Symlinks are not followed and ignored directories are skipped.
func (c *FileCollector) addTree(w *fileWatch, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == dir {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.IsDir() {
			return nil
		}
		if c.cfg.ShouldIgnoreDir(d.Name()) || c.depth(w.root, path) > c.cfg.MaxDepth {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			c.logger.Debug("cannot watch directory", "path", path, "error", err)
			return filepath.SkipDir
		}
		w.mu.Lock()
		w.dirs[path] = true
		w.mu.Unlock()
		return nil
	})
}

// depth counts the path components of path below root
func (c *FileCollector) depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// watchLoop handles fsnotify events until the watch is stopped
func (c *FileCollector) watchLoop(w *fileWatch) {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			c.handle(w, event, time.Now())

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watcher error", "session", w.sessionID, "error", err)
		}
	}
}

// handle maps a raw notification to a change kind and debounces it
func (c *FileCollector) handle(w *fileWatch, event fsnotify.Event, at time.Time) {
	path := event.Name

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !c.cfg.ShouldIgnoreDir(info.Name()) && c.depth(w.root, path) <= c.cfg.MaxDepth {
				if err := w.fsWatcher.Add(path); err == nil {
					w.mu.Lock()
					w.dirs[path] = true
					w.mu.Unlock()
					c.addTree(w, path)
				}
			}
			c.debounce(w, store.FileAddDir, path, at)
			return
		}
		c.debounce(w, store.FileAdd, path, at)

	case event.Has(fsnotify.Write):
		c.debounce(w, store.FileChanged, path, at)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		wasDir := w.dirs[path]
		delete(w.dirs, path)
		w.mu.Unlock()
		if wasDir {
			c.debounce(w, store.FileRemoveDir, path, at)
			return
		}
		c.debounce(w, store.FileRemove, path, at)
	}
}

// debounce (re)arms the timer for (change, path). A change arriving while
// an add is pending for the same path extends the add instead.
func (c *FileCollector) debounce(w *fileWatch, change store.FileChange, path string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := debounceKey{change: change, path: path}
	if change == store.FileChanged {
		addKey := debounceKey{change: store.FileAdd, path: path}
		if _, ok := w.pending[addKey]; ok {
			key = addKey
		}
	}

	if p, ok := w.pending[key]; ok {
		p.timer.Reset(c.cfg.Debounce())
		p.last = at
		return
	}

	p := &pendingChange{last: at}
	p.timer = time.AfterFunc(c.cfg.Debounce(), func() { c.fire(w, key, p) })
	w.pending[key] = p
}

// fire runs when a burst has been quiet for the debounce window.
// A timer re-armed after it already expired finds its entry gone and does nothing.
func (c *FileCollector) fire(w *fileWatch, key debounceKey, p *pendingChange) {
	w.mu.Lock()
	if w.pending[key] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	at := p.last
	w.mu.Unlock()

	ev, keep := c.buildEvent(w, key.change, key.path, at)
	if !keep {
		return
	}

	if err := c.sink.InsertFileEvent(context.Background(), ev); err != nil {
		c.logger.Warn("cannot store file event", "session", w.sessionID, "path", key.path, "error", err)
		return
	}
	c.bus.Publish(store.FileEventOf(ev))
}

// buildEvent applies the ignore filters and size ceiling; false drops the event
func (c *FileCollector) buildEvent(w *fileWatch, change store.FileChange, path string, at time.Time) (*store.FileEvent, bool) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)

	if c.cfg.ShouldIgnoreName(name) || c.cfg.ShouldIgnoreExt(ext) {
		return nil, false
	}
	if (change == store.FileAddDir || change == store.FileRemoveDir) && c.cfg.ShouldIgnoreDir(name) {
		return nil, false
	}

	var size *int64
	if change == store.FileAdd || change == store.FileChanged {
		info, err := os.Lstat(path)
		if err != nil {
			c.logger.Debug("size lookup failed", "path", path, "error", err)
		} else {
			n := info.Size()
			if limit := c.cfg.MaxFileSize(); limit > 0 && n > limit {
				return nil, false
			}
			size = &n
		}
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	return &store.FileEvent{
		SessionID: w.sessionID,
		Change:    change,
		Path:      path,
		Name:      name,
		Extension: ext,
		Size:      size,
		Timestamp: at,
		Metadata:  map[string]any{"relative_path": rel},
	}, true
}
