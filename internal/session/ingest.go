package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// maxLogLine bounds one JSONL line; command output can be large
const maxLogLine = 4 * 1024 * 1024

// LogPosition is how far a command log has been read. Line counts the
// lines consumed since reading started at offset zero. The ids read so far
// travel with the position, so a repeated id is skipped across reads.
type LogPosition struct {
	Offset int64
	Line   int

	seen map[string]bool
}

// logEntry is one line of a command log written by a shell hook.
// ID, when set, deduplicates repeated lines.
type logEntry struct {
	ID string `json:"id"`
	CommandRecord
}

// logState holds state for incremental command log parsing
type logState struct {
	records []CommandRecord
	seen    map[string]bool
	pos     LogPosition
}

// processLine parses one line and returns the bytes consumed
func (ls *logState) processLine(line []byte) int {
	n := len(line) + 1
	ls.pos.Line++

	if len(line) == 0 {
		return n
	}
	var entry logEntry
	if err := json.Unmarshal(line, &entry); err != nil || entry.Command == "" {
		return n
	}
	if entry.ID != "" {
		if ls.seen[entry.ID] {
			return n
		}
		ls.seen[entry.ID] = true
	}
	ls.records = append(ls.records, entry.CommandRecord)
	return n
}

// ReadCommandLog parses complete lines of a command log from pos.
// A trailing line without a newline is left for the next read.
func ReadCommandLog(path string, pos LogPosition) ([]CommandRecord, LogPosition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pos, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, pos, err
	}
	if info.Size() < pos.Offset {
		// truncated or replaced; start over
		pos = LogPosition{}
	}
	if pos.Offset > 0 {
		if _, err := f.Seek(pos.Offset, io.SeekStart); err != nil {
			return nil, pos, err
		}
	}

	if pos.seen == nil {
		pos.seen = make(map[string]bool)
	}
	ls := &logState{seen: pos.seen, pos: pos}
	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// a partial last line stays unread
			break
		}
		if err != nil {
			return ls.records, ls.pos, err
		}
		if len(line) > maxLogLine {
			ls.pos.Offset += int64(len(line))
			ls.pos.Line++
			continue
		}
		ls.pos.Offset += int64(ls.processLine(line[:len(line)-1]))
	}
	return ls.records, ls.pos, nil
}

// TailCommandLog records every command appended to path into sessionID
// until ctx is cancelled. Lines already in the file when tailing starts
// are skipped.
func (m *Manager) TailCommandLog(ctx context.Context, sessionID, path string) error {
	var pos LogPosition
	info, err := os.Stat(path)
	switch {
	case err == nil:
		pos.Offset = info.Size()
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
	default:
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	// watch the directory so a rotated log is picked up
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	logger := m.logger.With("session", sessionID, "log", path)
	ingest := func() {
		records, next, err := ReadCommandLog(path, pos)
		if err != nil {
			logger.Warn("cannot read command log", "error", err)
			return
		}
		pos = next
		for _, rec := range records {
			if _, err := m.RecordCommand(ctx, sessionID, rec); err != nil {
				logger.Warn("cannot record command", "command", rec.Command, "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				ingest()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("command log watcher error", "error", err)
		}
	}
}

// AppendCommandLog writes rec as one line to the log at path. It is what a
// shell hook calls after each command.
func AppendCommandLog(path string, rec CommandRecord) error {
	if rec.EndTime.IsZero() {
		rec.EndTime = time.Now()
	}
	entry := logEntry{
		ID:            uuid.NewString(),
		CommandRecord: rec,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
