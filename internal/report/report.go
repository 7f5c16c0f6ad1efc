// Package report composes stored session data, pattern matches and model
// summaries into session reports.
package report

import (
	"errors"
	"time"
)

// Report types
const (
	TypeSummary       = "summary"
	TypeDetailed      = "detailed"
	TypeErrors        = "errors"
	TypeComprehensive = "comprehensive"
)

var (
	// ErrUnknownType is returned for a report type outside the four supported ones
	ErrUnknownType = errors.New("unknown report type")

	// ErrUnknownFormat is returned for an unsupported export format
	ErrUnknownFormat = errors.New("unknown report format")
)

// Report is a built session report. It is plain data: exporting it never
// touches the store.
type Report struct {
	SessionID   string          `json:"sessionId"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generatedAt"`
	BasicInfo   BasicInfo       `json:"basicInfo"`
	KeyMetrics  KeyMetrics      `json:"keyMetrics"`
	KeyMoments  []TimelineEntry `json:"keyMoments"`
	Timeline    []TimelineEntry `json:"timeline,omitempty"`
	Activity    *Activity       `json:"activity,omitempty"`
	Patterns    *Patterns       `json:"patterns,omitempty"`
	AIAnalysis  []Insight       `json:"aiAnalysis,omitempty"`
	Anomalies   []Anomaly       `json:"anomalies,omitempty"`
	Issues      []Issue         `json:"issues,omitempty"`
	Suggestions []Suggestion    `json:"suggestions,omitempty"`

	// StoredID is the id of the persisted copy, 0 if not persisted
	StoredID int64 `json:"-"`
}

// BasicInfo describes the session itself
type BasicInfo struct {
	ProjectName string     `json:"projectName"`
	ProjectPath string     `json:"projectPath"`
	Status      string     `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	DurationMS  int64      `json:"durationMs"`
}

// KeyMetrics are the headline counts
type KeyMetrics struct {
	TotalEvents    int     `json:"totalEvents"`
	FileEvents     int     `json:"fileEvents"`
	WindowEvents   int     `json:"windowEvents"`
	CommandEvents  int     `json:"commandEvents"`
	FailedCommands int     `json:"failedCommands"`
	FilesTouched   int     `json:"filesTouched"`
	WindowTimeMS   int64   `json:"windowTimeMs"`
	SuccessRate    float64 `json:"commandSuccessRate"`
}

// TimelineEntry is one event on the merged timeline
type TimelineEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	EventID     int64     `json:"eventId"`
	Description string    `json:"description"`
	Importance  float64   `json:"importance"`
	Severity    string    `json:"severity,omitempty"`
}

// Count is a named tally
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Activity aggregates events by type and time of day
type Activity struct {
	ByType      map[string]int `json:"byType"`
	ByHour      []int          `json:"byHour"` // 24 buckets, local time
	TopFiles    []Count        `json:"topFiles"`
	TopApps     []Count        `json:"topApps"`
	TopCommands []Count        `json:"topCommands"`
}

// RuleHit summarizes one classifier rule across the session's commands
type RuleHit struct {
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Remediation string `json:"remediation,omitempty"`
	Matches     int    `json:"matches"`
	Events      int    `json:"events"`
}

// Patterns is the classifier's view of command output
type Patterns struct {
	AnalyzedCommands int       `json:"analyzedCommands"`
	Severity         string    `json:"severity"`
	Categories       []string  `json:"categories"`
	Languages        []string  `json:"languages"`
	Rules            []RuleHit `json:"rules"`
}

// Insight is a model (or fallback) summary of one error event
type Insight struct {
	EventID          int64    `json:"eventId"`
	Command          string   `json:"command"`
	ExitCode         int      `json:"exitCode"`
	Summary          string   `json:"summary"`
	ErrorType        string   `json:"errorType"`
	Severity         string   `json:"severity"`
	SuggestedActions []string `json:"suggestedActions"`
	Confidence       float64  `json:"confidence"`
	Model            string   `json:"model"`
	AnalysisType     string   `json:"analysisType"`
}

// Anomaly is an unusual pattern in the event stream
type Anomaly struct {
	Type        string     `json:"type"`
	Severity    string     `json:"severity"`
	Description string     `json:"description"`
	At          *time.Time `json:"at,omitempty"`
}

// Issue is a problem found in the session
type Issue struct {
	Source   string `json:"source"` // "anomaly" or "pattern"
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
}

// Suggestion is a recommended next step
type Suggestion struct {
	Source   string `json:"source"` // "ai", "pattern" or "general"
	Priority string `json:"priority"`
	Text     string `json:"text"`
}
