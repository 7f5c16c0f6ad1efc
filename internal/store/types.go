package store

import "time"

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Session is one instrumented span of time over a single project path
type Session struct {
	ID          string         `json:"id"`
	ProjectName string         `json:"project_name"`
	ProjectPath string         `json:"project_path"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time"` // nil while active
	Status      SessionStatus  `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsActive reports whether the session is still collecting
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// Duration returns the wall-clock span of the session, up to now if active
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// EventKind discriminates the event union
type EventKind string

const (
	KindFile    EventKind = "file"
	KindWindow  EventKind = "window"
	KindCommand EventKind = "command"
)

// ParseEventKind maps a user-supplied filter to a kind
func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case KindFile, KindWindow, KindCommand:
		return EventKind(s), true
	}
	return "", false
}

// FileChange is the kind of filesystem change
type FileChange string

const (
	FileAdd       FileChange = "add"
	FileChanged   FileChange = "change"
	FileRemove    FileChange = "remove"
	FileAddDir    FileChange = "addDir"
	FileRemoveDir FileChange = "removeDir"
)

// FileEvent records one debounced filesystem change
type FileEvent struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Change    FileChange     `json:"event_type"`
	Path      string         `json:"file_path"`
	Name      string         `json:"file_name"`
	Extension string         `json:"file_extension"`
	Size      *int64         `json:"file_size"` // nil for removals or failed lookups
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WindowEvent records a focus change to a window
type WindowEvent struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"session_id"`
	Title      string         `json:"window_title"`
	AppName    string         `json:"app_name"`
	AppPath    string         `json:"app_path"`
	PID        int            `json:"process_id"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS *int64         `json:"duration_ms"` // set once, when focus moves on
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Duration returns the observed focus duration, zero if still unknown
func (w *WindowEvent) Duration() time.Duration {
	if w.DurationMS == nil {
		return 0
	}
	return time.Duration(*w.DurationMS) * time.Millisecond
}

// CommandEvent records one completed shell command
type CommandEvent struct {
	ID         int64             `json:"id"`
	SessionID  string            `json:"session_id"`
	Command    string            `json:"command"`
	Shell      string            `json:"shell"`
	WorkingDir string            `json:"working_directory"`
	ExitCode   int               `json:"exit_code"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	DurationMS int64             `json:"duration_ms"`
	Stdout     string            `json:"stdout"`
	Stderr     string            `json:"stderr"`
	Env        map[string]string `json:"environment,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// Output returns stdout and stderr joined for classification
func (c *CommandEvent) Output() string {
	switch {
	case c.Stdout == "":
		return c.Stderr
	case c.Stderr == "":
		return c.Stdout
	default:
		return c.Stdout + "\n" + c.Stderr
	}
}

// Event is the tagged union of the three event kinds.
// Exactly one of File, Window, Command is set, matching Kind.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	File      *FileEvent    `json:"file,omitempty"`
	Window    *WindowEvent  `json:"window,omitempty"`
	Command   *CommandEvent `json:"command,omitempty"`
}

// ID returns the row id of the wrapped event
func (e Event) ID() int64 {
	switch e.Kind {
	case KindFile:
		return e.File.ID
	case KindWindow:
		return e.Window.ID
	case KindCommand:
		return e.Command.ID
	}
	return 0
}

// SessionID returns the owning session of the wrapped event
func (e Event) SessionID() string {
	switch e.Kind {
	case KindFile:
		return e.File.SessionID
	case KindWindow:
		return e.Window.SessionID
	case KindCommand:
		return e.Command.SessionID
	}
	return ""
}

// FileEventOf wraps a file event
func FileEventOf(f *FileEvent) Event {
	return Event{Kind: KindFile, Timestamp: f.Timestamp, File: f}
}

// WindowEventOf wraps a window event
func WindowEventOf(w *WindowEvent) Event {
	return Event{Kind: KindWindow, Timestamp: w.Timestamp, Window: w}
}

// CommandEventOf wraps a command event; its timestamp is the start time
func CommandEventOf(c *CommandEvent) Event {
	return Event{Kind: KindCommand, Timestamp: c.StartTime, Command: c}
}

// EventQuery filters SessionEvents
type EventQuery struct {
	Kinds []EventKind // empty means all kinds
	Since time.Time   // inclusive, zero means unbounded
	Until time.Time   // exclusive, zero means unbounded
	Limit int         // 0 means unlimited
}

func (q EventQuery) wants(kind EventKind) bool {
	if len(q.Kinds) == 0 {
		return true
	}
	for _, k := range q.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// AnalysisResult is an append-only classifier or summarizer output
type AnalysisResult struct {
	ID           int64          `json:"id"`
	SessionID    string         `json:"session_id"`
	EventID      *int64         `json:"event_id,omitempty"`
	EventKind    EventKind      `json:"event_type,omitempty"`
	AnalysisType string         `json:"analysis_type"`
	Summary      string         `json:"summary"`
	KeyLines     []int          `json:"key_lines"`
	KeyPhrases   []string       `json:"key_phrases"`
	Confidence   float64        `json:"confidence"`
	Model        string         `json:"ai_model"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Report is a generated, serialized session report
type Report struct {
	ID          int64          `json:"id"`
	SessionID   string         `json:"session_id"`
	Type        string         `json:"report_type"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Format      string         `json:"format"`
	GeneratedAt time.Time      `json:"generated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SessionStats aggregates counts for one session
type SessionStats struct {
	SessionID       string     `json:"session_id"`
	FileEvents      int        `json:"file_events"`
	WindowEvents    int        `json:"window_events"`
	CommandEvents   int        `json:"command_events"`
	TotalEvents     int        `json:"total_events"`
	FailedCommands  int        `json:"failed_commands"`
	WindowTimeMS    int64      `json:"window_time_ms"`
	AnalysisResults int        `json:"analysis_results"`
	Reports         int        `json:"reports"`
	FirstEvent      *time.Time `json:"first_event,omitempty"`
	LastEvent       *time.Time `json:"last_event,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
}
