package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"devsession_mon/internal/classify"
	"devsession_mon/internal/store"
)

const topN = 10

// buildTimeline turns events, already in time order, into scored entries
func buildTimeline(events []store.Event, classified map[int64]classify.Result) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(events))
	for _, ev := range events {
		e := TimelineEntry{
			Timestamp: ev.Timestamp,
			Kind:      string(ev.Kind),
			EventID:   ev.ID(),
		}
		switch ev.Kind {
		case store.KindFile:
			e.Description = fmt.Sprintf("%s %s", ev.File.Change, ev.File.Path)
			e.Importance = fileImportance(ev.File.Change)
		case store.KindWindow:
			e.Description = windowLabel(ev.Window)
			e.Importance = windowImportance(ev.Window)
		case store.KindCommand:
			c := ev.Command
			res := classified[c.ID]
			e.Description = fmt.Sprintf("$ %s (exit %d)", c.Command, c.ExitCode)
			e.Importance = commandImportance(c, res)
			if res.HasIssues() {
				e.Severity = string(res.Severity)
			}
		}
		out = append(out, e)
	}
	return out
}

func fileImportance(change store.FileChange) float64 {
	switch change {
	case store.FileAdd, store.FileRemove:
		return 0.4
	case store.FileAddDir, store.FileRemoveDir:
		return 0.35
	default:
		return 0.3
	}
}

func windowImportance(w *store.WindowEvent) float64 {
	if w.Duration() > 5*time.Minute {
		return 0.3
	}
	return 0.2
}

func commandImportance(c *store.CommandEvent, res classify.Result) float64 {
	score := 0.5
	if c.ExitCode != 0 {
		score = 0.8
	}
	switch {
	case res.Severity == classify.SeverityCritical:
		score = 1.0
	case res.Severity == classify.SeverityHigh && score < 0.9:
		score = 0.9
	}
	if c.DurationMS > time.Minute.Milliseconds() {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func windowLabel(w *store.WindowEvent) string {
	switch {
	case w.AppName == "" && w.Title == "":
		return "no focused window"
	case w.AppName == "":
		return w.Title
	case w.Title == "":
		return w.AppName
	default:
		return fmt.Sprintf("%s: %s", w.AppName, w.Title)
	}
}

// keyMoments picks the most important entries, kept in time order
func keyMoments(timeline []TimelineEntry) []TimelineEntry {
	var picked []TimelineEntry
	for _, e := range timeline {
		if e.Importance > keyMomentThreshold {
			picked = append(picked, e)
		}
	}
	if len(picked) > maxKeyMoments {
		sort.SliceStable(picked, func(i, j int) bool {
			return picked[i].Importance > picked[j].Importance
		})
		picked = picked[:maxKeyMoments]
		sort.SliceStable(picked, func(i, j int) bool {
			return picked[i].Timestamp.Before(picked[j].Timestamp)
		})
	}
	if picked == nil {
		picked = []TimelineEntry{}
	}
	return picked
}

// errorTimeline keeps only the entries for error events.
// timeline and events are parallel slices.
func errorTimeline(timeline []TimelineEntry, events []store.Event) []TimelineEntry {
	out := []TimelineEntry{}
	for i, ev := range events {
		if IsErrorEvent(ev) {
			out = append(out, timeline[i])
		}
	}
	return out
}

func buildActivity(events []store.Event) *Activity {
	a := &Activity{
		ByType: map[string]int{
			string(store.KindFile):    0,
			string(store.KindWindow):  0,
			string(store.KindCommand): 0,
		},
		ByHour: make([]int, 24),
	}
	files := make(map[string]int)
	apps := make(map[string]int)
	commands := make(map[string]int)

	for _, ev := range events {
		a.ByType[string(ev.Kind)]++
		a.ByHour[ev.Timestamp.Local().Hour()]++
		switch ev.Kind {
		case store.KindFile:
			files[ev.File.Path]++
		case store.KindWindow:
			if ev.Window.AppName != "" {
				apps[ev.Window.AppName]++
			}
		case store.KindCommand:
			commands[classify.CommandKey(ev.Command.Command)]++
		}
	}

	a.TopFiles = topCounts(files)
	a.TopApps = topCounts(apps)
	a.TopCommands = topCounts(commands)
	return a
}

// topCounts returns the largest tallies, ties broken by name
func topCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		if name == "" {
			continue
		}
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// buildPatterns aggregates classifier results across all commands
func buildPatterns(events []store.Event, classified map[int64]classify.Result) *Patterns {
	p := &Patterns{
		Severity:   string(classify.SeverityInfo),
		Categories: []string{},
		Languages:  []string{},
		Rules:      []RuleHit{},
	}
	hits := make(map[string]*RuleHit)
	var order []string
	categories := make(map[string]bool)
	languages := make(map[string]bool)
	overall := classify.SeverityInfo

	for _, ev := range events {
		if ev.Kind != store.KindCommand {
			continue
		}
		p.AnalyzedCommands++
		res := classified[ev.Command.ID]
		if res.Language != "" && res.Language != "unknown" && !languages[res.Language] {
			languages[res.Language] = true
			p.Languages = append(p.Languages, res.Language)
		}
		for _, m := range res.Patterns {
			if m.Bucket == classify.BucketSuccess {
				continue
			}
			if m.Severity.Rank() > overall.Rank() {
				overall = m.Severity
			}
			if !categories[m.Category] {
				categories[m.Category] = true
				p.Categories = append(p.Categories, m.Category)
			}
			h, ok := hits[m.Rule]
			if !ok {
				h = &RuleHit{
					Rule:        m.Rule,
					Severity:    string(m.Severity),
					Category:    m.Category,
					Description: m.Description,
					Remediation: m.Remediation,
				}
				hits[m.Rule] = h
				order = append(order, m.Rule)
			}
			h.Matches += m.Count
			h.Events++
		}
	}

	p.Severity = string(overall)
	for _, name := range order {
		p.Rules = append(p.Rules, *hits[name])
	}
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return classify.Severity(p.Rules[i].Severity).Rank() > classify.Severity(p.Rules[j].Severity).Rank()
	})
	return p
}

// shortPath trims a path to its last two elements for display
func shortPath(p string) string {
	dir, file := filepath.Split(p)
	parent := filepath.Base(filepath.Clean(dir))
	if parent == "." || parent == string(filepath.Separator) {
		return file
	}
	return filepath.Join(parent, file)
}
