// Package summarize turns log excerpts into structured summaries, using a
// language model when one is configured and worth calling.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"devsession_mon/internal/config"
	"devsession_mon/internal/logging"
	"devsession_mon/internal/store"
)

// Analysis kinds
const (
	KindAI          = "ai"
	KindRuleBased   = "rule-based"
	KindLightweight = "lightweight"
	KindFallback    = "fallback"
)

const (
	maxAttempts       = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 30 * time.Second

	modelRuleBased = "rule-based"
	modelFallback  = "fallback"
	modelNone      = "none"
)

// LogContext describes where an analyzed text came from
type LogContext struct {
	Command    string          `json:"command,omitempty"`
	WorkingDir string          `json:"working_directory,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	Stream     string          `json:"stream,omitempty"` // "stdout", "stderr" or empty
	Source     string          `json:"source,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	EventID    *int64          `json:"event_id,omitempty"`
	EventKind  store.EventKind `json:"event_type,omitempty"`
}

// Analysis is the structured summary of one log excerpt.
// Confidence is always within [0,1] and key lines are 1-based line numbers of the text.
type Analysis struct {
	Summary          string     `json:"summary"`
	KeyLines         []int      `json:"key_lines"`
	KeyPhrases       []string   `json:"key_phrases"`
	ErrorType        string     `json:"error_type"`
	Severity         string     `json:"severity"`
	SuggestedActions []string   `json:"suggested_actions"`
	Confidence       float64    `json:"confidence"`
	Model            string     `json:"ai_model"`
	Kind             string     `json:"analysis_type"`
	Error            string     `json:"error,omitempty"`
	Context          LogContext `json:"context"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ToResult converts the analysis into a storable result for sessionID
func (a Analysis) ToResult(sessionID string) *store.AnalysisResult {
	meta := map[string]any{
		"error_type":        a.ErrorType,
		"severity":          a.Severity,
		"suggested_actions": a.SuggestedActions,
	}
	if a.Error != "" {
		meta["error"] = a.Error
	}
	if a.Context.Command != "" {
		meta["command"] = a.Context.Command
	}
	if a.Context.ExitCode != nil {
		meta["exit_code"] = *a.Context.ExitCode
	}
	return &store.AnalysisResult{
		SessionID:    sessionID,
		EventID:      a.Context.EventID,
		EventKind:    a.Context.EventKind,
		AnalysisType: a.Kind,
		Summary:      a.Summary,
		KeyLines:     a.KeyLines,
		KeyPhrases:   a.KeyPhrases,
		Confidence:   a.Confidence,
		Model:        a.Model,
		CreatedAt:    a.CreatedAt,
		Metadata:     meta,
	}
}

// Summarizer decides whether a model call is worthwhile, makes it, and
// validates the reply. It never returns an error: failures become a
// low-confidence fallback analysis.
type Summarizer struct {
	cfg        config.AIConfig
	backend    Backend
	logger     *slog.Logger
	timeout    time.Duration
	retryDelay time.Duration
	now        func() time.Time
}

// New creates a summarizer. A nil backend means rule-based summaries only.
func New(cfg config.AIConfig, backend Backend) *Summarizer {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Summarizer{
		cfg:        cfg,
		backend:    backend,
		logger:     logging.For("summarizer"),
		timeout:    timeout,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}
}

// HasModel reports whether a model backend is configured
func (s *Summarizer) HasModel() bool {
	return s.backend != nil
}

// AnalyzeLog summarizes text. Every failure is absorbed into the result.
func (s *Summarizer) AnalyzeLog(ctx context.Context, text string, lc LogContext) (a Analysis) {
	defer func() {
		if r := recover(); r != nil {
			a = s.fallback(text, lc, fmt.Errorf("analysis panicked: %v", r))
		}
	}()

	if s.backend == nil {
		return s.ruleBased(text, lc)
	}
	if !s.ShouldTrigger(text, lc) {
		return s.lightweight(text, lc)
	}

	raw, err := s.call(ctx, Prompt{
		System:      systemPrompt,
		User:        buildPrompt(text, lc, s.cfg.MaxPromptChars),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return s.fallback(text, lc, err)
	}

	obj, err := ExtractJSON(raw)
	if err != nil {
		return s.fallback(text, lc, err)
	}

	a = validate(obj, len(splitLines(text)))
	a.Kind = KindAI
	a.Model = s.backend.Model()
	a.Context = lc
	a.CreatedAt = s.now()
	return a
}

// BatchItem is one input to AnalyzeBatch
type BatchItem struct {
	Text    string
	Context LogContext
}

// AnalyzeBatch analyzes items with bounded concurrency. Results are in
// input order; one failing item does not affect the others.
func (s *Summarizer) AnalyzeBatch(ctx context.Context, items []BatchItem) []Analysis {
	results := make([]Analysis, len(items))

	limit := s.cfg.Concurrency
	if limit <= 0 {
		limit = 3
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = s.AnalyzeLog(ctx, item.Text, item.Context)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ShouldTrigger reports whether text warrants a model call: it is long,
// mentions an error or warning keyword, came from a failed command, or was
// written to stderr.
func (s *Summarizer) ShouldTrigger(text string, lc LogContext) bool {
	if len(text) > s.cfg.MinTextLength {
		return true
	}
	if lc.ExitCode != nil && *lc.ExitCode != 0 {
		return true
	}
	if lc.Stream == "stderr" {
		return true
	}
	lower := strings.ToLower(text)
	return containsAny(lower, s.cfg.ErrorKeywords) || containsAny(lower, s.cfg.WarningKeywords)
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// call runs the backend under a per-attempt timeout, retrying with a
// delay proportional to the attempt number.
func (s *Summarizer) call(ctx context.Context, p Prompt) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * s.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		out, err := s.backend.Complete(callCtx, p)
		cancel()
		if err == nil {
			return out, nil
		}

		lastErr = err
		s.logger.Warn("model call failed", "attempt", attempt, "model", s.backend.Model(), "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", maxAttempts, lastErr)
}

// keywordScan finds the lines mentioning configured error or warning keywords
type keywordScan struct {
	errorLines   []int
	warningLines []int
	phrases      []string
	fatal        bool
}

func (s *Summarizer) scan(text string) keywordScan {
	var res keywordScan
	seen := make(map[string]bool)
	note := func(kw string) {
		if !seen[kw] && len(res.phrases) < maxKeyPhrases {
			seen[kw] = true
			res.phrases = append(res.phrases, kw)
		}
	}

	for i, line := range splitLines(text) {
		lower := strings.ToLower(line)
		matched := false
		for _, kw := range s.cfg.ErrorKeywords {
			kw = strings.ToLower(kw)
			if kw != "" && strings.Contains(lower, kw) {
				if !matched {
					res.errorLines = append(res.errorLines, i+1)
					matched = true
				}
				if kw == "fatal" || kw == "panic" {
					res.fatal = true
				}
				note(kw)
			}
		}
		if matched {
			continue
		}
		for _, kw := range s.cfg.WarningKeywords {
			kw = strings.ToLower(kw)
			if kw != "" && strings.Contains(lower, kw) {
				res.warningLines = append(res.warningLines, i+1)
				note(kw)
				break
			}
		}
	}
	return res
}

func (k keywordScan) keyLines() []int {
	lines := append(append([]int{}, k.errorLines...), k.warningLines...)
	if len(lines) > maxKeyLines {
		lines = lines[:maxKeyLines]
	}
	sort.Ints(lines)
	return lines
}

func (k keywordScan) severity() string {
	switch {
	case k.fatal:
		return "high"
	case len(k.errorLines) > 0:
		return "medium"
	default:
		return "low"
	}
}

func (s *Summarizer) ruleBased(text string, lc LogContext) Analysis {
	k := s.scan(text)

	summary := "No errors or warnings detected"
	errorType := "none"
	var actions []string
	switch {
	case len(k.errorLines) > 0:
		summary = fmt.Sprintf("Found %d error line(s) and %d warning line(s)", len(k.errorLines), len(k.warningLines))
		errorType = k.phrases[0]
		actions = []string{fmt.Sprintf("Inspect line %d", k.errorLines[0])}
	case len(k.warningLines) > 0:
		summary = fmt.Sprintf("Found %d warning line(s)", len(k.warningLines))
		errorType = "warning"
	}

	return Analysis{
		Summary:          summary,
		KeyLines:         k.keyLines(),
		KeyPhrases:       nonNil(k.phrases),
		ErrorType:        errorType,
		Severity:         k.severity(),
		SuggestedActions: nonNil(actions),
		Confidence:       0.3,
		Model:            modelRuleBased,
		Kind:             KindRuleBased,
		Context:          lc,
		CreatedAt:        s.now(),
	}
}

func (s *Summarizer) lightweight(text string, lc LogContext) Analysis {
	lines := len(splitLines(text))
	return Analysis{
		Summary:          fmt.Sprintf("Routine output (%d line(s)), no model analysis needed", lines),
		KeyLines:         []int{},
		KeyPhrases:       []string{},
		ErrorType:        "none",
		Severity:         "low",
		SuggestedActions: []string{},
		Confidence:       0.2,
		Model:            modelNone,
		Kind:             KindLightweight,
		Context:          lc,
		CreatedAt:        s.now(),
	}
}

func (s *Summarizer) fallback(text string, lc LogContext, err error) Analysis {
	s.logger.Warn("analysis fell back", "error", err)

	a := Analysis{
		Summary:          truncate("Analysis unavailable: "+err.Error(), maxSummaryLen),
		KeyLines:         []int{},
		KeyPhrases:       []string{},
		ErrorType:        defaultErrorType,
		Severity:         "low",
		SuggestedActions: []string{},
		Confidence:       0.1,
		Model:            modelFallback,
		Kind:             KindFallback,
		Error:            err.Error(),
		Context:          lc,
		CreatedAt:        s.now(),
	}

	// The keyword scan cannot fail, keep its hints
	func() {
		defer func() { _ = recover() }()
		k := s.scan(text)
		a.KeyLines = k.keyLines()
		a.KeyPhrases = nonNil(k.phrases)
		a.Severity = k.severity()
	}()
	return a
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
