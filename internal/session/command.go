package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"devsession_mon/internal/logging"
	"devsession_mon/internal/store"
)

const redacted = "[REDACTED]"

// sensitiveKeyParts mark environment variables whose values are never stored
var sensitiveKeyParts = []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "PASSWD", "CREDENTIAL", "AUTH"}

// CommandRecord is a completed command as reported by a shell hook or wrapper
type CommandRecord struct {
	Command    string            `json:"command"`
	Shell      string            `json:"shell"`
	WorkingDir string            `json:"working_directory"`
	ExitCode   int               `json:"exit_code"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Stdout     string            `json:"stdout"`
	Stderr     string            `json:"stderr"`
	Env        map[string]string `json:"environment"`
	Metadata   map[string]any    `json:"metadata"`
}

// CommandCollector accepts command records for attached sessions
type CommandCollector struct {
	sink   EventWriter
	bus    *Bus
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]bool
}

// NewCommandCollector creates a collector writing to sink
func NewCommandCollector(sink EventWriter, bus *Bus) *CommandCollector {
	return &CommandCollector{
		sink:     sink,
		bus:      bus,
		logger:   logging.For("command-collector"),
		now:      time.Now,
		sessions: make(map[string]bool),
	}
}

// Attach starts accepting records for sessionID
func (c *CommandCollector) Attach(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = true
	c.mu.Unlock()
}

// Detach stops accepting records for sessionID
func (c *CommandCollector) Detach(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// Attached reports whether sessionID accepts records
func (c *CommandCollector) Attached(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[sessionID]
}

// Record stores a completed command for sessionID.
// Store failures are returned to the caller.
func (c *CommandCollector) Record(ctx context.Context, sessionID string, rec CommandRecord) (*store.CommandEvent, error) {
	if !c.Attached(sessionID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	}
	if strings.TrimSpace(rec.Command) == "" {
		return nil, fmt.Errorf("empty command")
	}

	end := rec.EndTime
	if end.IsZero() {
		end = c.now()
	}
	start := rec.StartTime
	if start.IsZero() || start.After(end) {
		start = end
	}

	ev := &store.CommandEvent{
		SessionID:  sessionID,
		Command:    rec.Command,
		Shell:      rec.Shell,
		WorkingDir: rec.WorkingDir,
		ExitCode:   rec.ExitCode,
		StartTime:  start,
		EndTime:    end,
		DurationMS: end.Sub(start).Milliseconds(),
		Stdout:     rec.Stdout,
		Stderr:     rec.Stderr,
		Env:        RedactEnv(rec.Env),
		Metadata:   rec.Metadata,
	}
	if err := c.sink.InsertCommandEvent(ctx, ev); err != nil {
		return nil, err
	}

	c.logger.Debug("command recorded", "session", sessionID, "command", rec.Command, "exit_code", rec.ExitCode)
	c.bus.Publish(store.CommandEventOf(ev))
	return ev, nil
}

// RedactEnv copies env, masking values of credential-like variables
func RedactEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitive(key string) bool {
	upper := strings.ToUpper(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(upper, part) {
			return true
		}
	}
	return false
}
