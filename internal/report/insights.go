package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/store"
)

// Anomaly thresholds
const (
	failureRateLimit   = 0.5
	minCommandsForRate = 3
	hotFileChanges     = 20
	idleGap            = 30 * time.Minute
	longCommand        = 10 * time.Minute
)

const keepMonitoring = "No significant issues found. Keep monitoring the session for new errors."

// detectAnomalies scans the event stream for unusual patterns
func detectAnomalies(events []store.Event) []Anomaly {
	out := []Anomaly{}

	var commands, failed int
	fileChanges := make(map[string]int)
	for _, ev := range events {
		switch ev.Kind {
		case store.KindCommand:
			commands++
			if ev.Command.ExitCode != 0 {
				failed++
			}
			if d := time.Duration(ev.Command.DurationMS) * time.Millisecond; d > longCommand {
				at := ev.Timestamp
				out = append(out, Anomaly{
					Type:        "long_command",
					Severity:    string(classify.SeverityLow),
					Description: fmt.Sprintf("%q ran for %s", ev.Command.Command, d.Round(time.Second)),
					At:          &at,
				})
			}
		case store.KindFile:
			fileChanges[ev.File.Path]++
		}
	}

	if commands >= minCommandsForRate {
		if rate := float64(failed) / float64(commands); rate > failureRateLimit {
			out = append(out, Anomaly{
				Type:        "high_failure_rate",
				Severity:    string(classify.SeverityHigh),
				Description: fmt.Sprintf("%d of %d commands failed (%.0f%%)", failed, commands, rate*100),
			})
		}
	}

	paths := make([]string, 0, len(fileChanges))
	for p, n := range fileChanges {
		if n >= hotFileChanges {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		out = append(out, Anomaly{
			Type:        "file_churn",
			Severity:    string(classify.SeverityMedium),
			Description: fmt.Sprintf("%s changed %d times", shortPath(p), fileChanges[p]),
		})
	}

	for i := 1; i < len(events); i++ {
		gap := events[i].Timestamp.Sub(events[i-1].Timestamp)
		if gap > idleGap {
			at := events[i-1].Timestamp
			out = append(out, Anomaly{
				Type:        "idle_gap",
				Severity:    string(classify.SeverityLow),
				Description: fmt.Sprintf("no activity for %s", gap.Round(time.Minute)),
				At:          &at,
			})
		}
	}
	return out
}

// synthesize derives issues and suggestions from the other sections
func synthesize(anomalies []Anomaly, patterns *Patterns, insights []Insight) ([]Issue, []Suggestion) {
	issues := []Issue{}
	for _, a := range anomalies {
		if !classify.Severity(a.Severity).AtLeast(classify.SeverityMedium) {
			continue
		}
		issues = append(issues, Issue{
			Source:   "anomaly",
			Severity: a.Severity,
			Title:    strings.ReplaceAll(a.Type, "_", " "),
			Detail:   a.Description,
		})
	}
	if patterns != nil {
		for _, r := range patterns.Rules {
			if !classify.Severity(r.Severity).AtLeast(classify.SeverityHigh) {
				continue
			}
			issues = append(issues, Issue{
				Source:   "pattern",
				Severity: r.Severity,
				Title:    r.Description,
				Detail:   fmt.Sprintf("%d matches in %d commands", r.Matches, r.Events),
			})
		}
	}

	suggestions := []Suggestion{}
	seen := make(map[string]bool)
	add := func(source, priority, text string) {
		key := strings.ToLower(strings.TrimSpace(text))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		suggestions = append(suggestions, Suggestion{Source: source, Priority: priority, Text: text})
	}

	for _, in := range insights {
		for _, action := range in.SuggestedActions {
			add("ai", in.Severity, action)
		}
	}
	if patterns != nil {
		for _, r := range patterns.Rules {
			if r.Remediation != "" && classify.Severity(r.Severity).AtLeast(classify.SeverityMedium) {
				add("pattern", r.Severity, r.Remediation)
			}
		}
	}

	if len(issues) == 0 && len(suggestions) == 0 {
		add("general", string(classify.SeverityLow), keepMonitoring)
	}
	return issues, suggestions
}
