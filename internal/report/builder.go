package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/config"
	"devsession_mon/internal/logging"
	"devsession_mon/internal/store"
	"devsession_mon/internal/summarize"
)

const (
	keyMomentThreshold = 0.7
	maxAISamples       = 5
	maxKeyMoments      = 20
)

// Source is the store surface the builder reads from
type Source interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	SessionEvents(ctx context.Context, sessionID string, q store.EventQuery) ([]store.Event, error)
	SessionStats(ctx context.Context, sessionID string) (*store.SessionStats, error)
	InsertReport(ctx context.Context, r *store.Report) error
}

// Options control one report generation
type Options struct {
	Type         string `json:"type"`
	Format       string `json:"format"`
	IncludeAI    *bool  `json:"include_ai,omitempty"` // nil means on
	MaxAISamples int    `json:"max_ai_samples"`
	Persist      bool   `json:"persist"`
}

// Builder generates session reports
type Builder struct {
	src        Source
	classifier *classify.Classifier
	summarizer *summarize.Summarizer
	cfg        config.ReportConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewBuilder creates a builder. A nil summarizer disables AI analysis.
func NewBuilder(src Source, classifier *classify.Classifier, summarizer *summarize.Summarizer, cfg config.ReportConfig) *Builder {
	if classifier == nil {
		classifier = classify.New(nil)
	}
	return &Builder{
		src:        src,
		classifier: classifier,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logging.For("report-builder"),
		now:        time.Now,
	}
}

// Generate builds a report for sessionID and, if asked, stores its export
func (b *Builder) Generate(ctx context.Context, sessionID string, opts Options) (*Report, error) {
	opts = b.withDefaults(opts)
	switch opts.Type {
	case TypeSummary, TypeDetailed, TypeErrors, TypeComprehensive:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Type)
	}
	if opts.Persist && !validFormat(opts.Format) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}

	sess, err := b.src.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := b.src.SessionEvents(ctx, sessionID, store.EventQuery{})
	if err != nil {
		return nil, err
	}
	stats, err := b.src.SessionStats(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := b.now()
	r := &Report{
		SessionID:   sessionID,
		Type:        opts.Type,
		Title:       fmt.Sprintf("%s report: %s", title(opts.Type), sess.ProjectName),
		GeneratedAt: now,
		BasicInfo:   basicInfo(sess, now),
		KeyMetrics:  keyMetrics(events, stats),
	}

	// Classify each command's output once
	classified := make(map[int64]classify.Result)
	for _, ev := range events {
		if ev.Kind == store.KindCommand {
			classified[ev.Command.ID] = b.classifier.Classify(ev.Command.Output())
		}
	}

	timeline := buildTimeline(events, classified)
	r.KeyMoments = keyMoments(timeline)

	switch opts.Type {
	case TypeSummary:
		r.Activity = buildActivity(events)

	case TypeDetailed:
		r.Timeline = timeline
		r.Activity = buildActivity(events)
		r.Patterns = buildPatterns(events, classified)

	case TypeErrors:
		r.Timeline = errorTimeline(timeline, events)
		r.Patterns = buildPatterns(events, classified)
		r.AIAnalysis = b.analyzeErrors(ctx, events, opts)

	case TypeComprehensive:
		r.Timeline = timeline
		r.Activity = buildActivity(events)
		r.Patterns = buildPatterns(events, classified)
		r.AIAnalysis = b.analyzeErrors(ctx, events, opts)
		r.Anomalies = detectAnomalies(events)
		r.Issues, r.Suggestions = synthesize(r.Anomalies, r.Patterns, r.AIAnalysis)
	}

	if opts.Persist {
		if err := b.persist(ctx, r, opts.Format); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// aiEnabled reports whether errors and comprehensive reports should
// summarize failed commands. It is on unless explicitly disabled.
func (o Options) aiEnabled() bool {
	return o.IncludeAI == nil || *o.IncludeAI
}

func (b *Builder) withDefaults(opts Options) Options {
	if opts.Type == "" {
		opts.Type = b.cfg.DefaultType
	}
	if opts.Type == "" {
		opts.Type = TypeSummary
	}
	if opts.Format == "" {
		opts.Format = b.cfg.DefaultFormat
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.MaxAISamples <= 0 {
		opts.MaxAISamples = b.cfg.MaxAISamples
	}
	if opts.MaxAISamples <= 0 || opts.MaxAISamples > maxAISamples {
		opts.MaxAISamples = maxAISamples
	}
	return opts
}

func (b *Builder) persist(ctx context.Context, r *Report, format string) error {
	content, err := Export(r, format)
	if err != nil {
		return err
	}
	stored := &store.Report{
		SessionID:   r.SessionID,
		Type:        r.Type,
		Title:       r.Title,
		Content:     content,
		Format:      format,
		GeneratedAt: r.GeneratedAt,
		Metadata: map[string]any{
			"total_events": r.KeyMetrics.TotalEvents,
			"issues":       len(r.Issues),
		},
	}
	if err := b.src.InsertReport(ctx, stored); err != nil {
		return err
	}
	r.StoredID = stored.ID
	return nil
}

// IsErrorEvent reports whether ev counts as an error for report filtering:
// a command that exited non-zero. Output alone does not make an error event.
func IsErrorEvent(ev store.Event) bool {
	return ev.Kind == store.KindCommand && ev.Command.ExitCode != 0
}

// analyzeErrors summarizes the most recent error events, bounded by
// opts.MaxAISamples to cap model spend.
func (b *Builder) analyzeErrors(ctx context.Context, events []store.Event, opts Options) []Insight {
	if !opts.aiEnabled() || b.summarizer == nil {
		return nil
	}

	var errs []*store.CommandEvent
	for i := len(events) - 1; i >= 0 && len(errs) < opts.MaxAISamples; i-- {
		if IsErrorEvent(events[i]) {
			errs = append(errs, events[i].Command)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	b.logger.Debug("analyzing error events", "session", errs[0].SessionID, "count", len(errs))
	items := make([]summarize.BatchItem, len(errs))
	for i, c := range errs {
		exit := c.ExitCode
		id := c.ID
		items[i] = summarize.BatchItem{
			Text: c.Output(),
			Context: summarize.LogContext{
				Command:    c.Command,
				WorkingDir: c.WorkingDir,
				ExitCode:   &exit,
				SessionID:  c.SessionID,
				EventID:    &id,
				EventKind:  store.KindCommand,
				Source:     "report",
			},
		}
	}

	results := b.summarizer.AnalyzeBatch(ctx, items)
	insights := make([]Insight, len(results))
	for i, a := range results {
		insights[i] = Insight{
			EventID:          errs[i].ID,
			Command:          errs[i].Command,
			ExitCode:         errs[i].ExitCode,
			Summary:          a.Summary,
			ErrorType:        a.ErrorType,
			Severity:         a.Severity,
			SuggestedActions: a.SuggestedActions,
			Confidence:       a.Confidence,
			Model:            a.Model,
			AnalysisType:     a.Kind,
		}
	}
	return insights
}

func basicInfo(sess *store.Session, now time.Time) BasicInfo {
	return BasicInfo{
		ProjectName: sess.ProjectName,
		ProjectPath: sess.ProjectPath,
		Status:      string(sess.Status),
		StartTime:   sess.StartTime,
		EndTime:     sess.EndTime,
		DurationMS:  sess.Duration(now).Milliseconds(),
	}
}

func keyMetrics(events []store.Event, stats *store.SessionStats) KeyMetrics {
	m := KeyMetrics{
		TotalEvents:    stats.TotalEvents,
		FileEvents:     stats.FileEvents,
		WindowEvents:   stats.WindowEvents,
		CommandEvents:  stats.CommandEvents,
		FailedCommands: stats.FailedCommands,
		WindowTimeMS:   stats.WindowTimeMS,
	}
	files := make(map[string]bool)
	for _, ev := range events {
		if ev.Kind == store.KindFile {
			files[ev.File.Path] = true
		}
	}
	m.FilesTouched = len(files)
	if m.CommandEvents > 0 {
		m.SuccessRate = round2(float64(m.CommandEvents-m.FailedCommands) / float64(m.CommandEvents))
	}
	return m
}

func title(reportType string) string {
	if reportType == "" {
		return ""
	}
	return strings.ToUpper(reportType[:1]) + reportType[1:]
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
