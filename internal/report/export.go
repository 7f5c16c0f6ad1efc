package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Export formats
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

func validFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatJSON, FormatMarkdown, "md", FormatHTML:
		return true
	}
	return false
}

// Export renders r in the given format. It reads only r.
func Export(r *Report, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return ExportJSON(r)
	case FormatMarkdown, "md":
		return ExportMarkdown(r), nil
	case FormatHTML:
		return ExportHTML(r)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ExportJSON renders r as indented JSON
func ExportJSON(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return string(data), nil
}

// ExportMarkdown renders r as a Markdown document
func ExportMarkdown(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	fmt.Fprintf(&b, "Generated %s\n\n", r.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Session\n\n")
	fmt.Fprintf(&b, "- **Project:** %s (`%s`)\n", r.BasicInfo.ProjectName, r.BasicInfo.ProjectPath)
	fmt.Fprintf(&b, "- **Status:** %s\n", r.BasicInfo.Status)
	fmt.Fprintf(&b, "- **Started:** %s\n", r.BasicInfo.StartTime.Format(time.RFC3339))
	if r.BasicInfo.EndTime != nil {
		fmt.Fprintf(&b, "- **Ended:** %s\n", r.BasicInfo.EndTime.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- **Duration:** %s\n\n", formatMS(r.BasicInfo.DurationMS))

	m := r.KeyMetrics
	b.WriteString("## Key Metrics\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total events | %d |\n", m.TotalEvents)
	fmt.Fprintf(&b, "| File events | %d |\n", m.FileEvents)
	fmt.Fprintf(&b, "| Window events | %d |\n", m.WindowEvents)
	fmt.Fprintf(&b, "| Command events | %d |\n", m.CommandEvents)
	fmt.Fprintf(&b, "| Failed commands | %d |\n", m.FailedCommands)
	fmt.Fprintf(&b, "| Files touched | %d |\n", m.FilesTouched)
	fmt.Fprintf(&b, "| Command success rate | %.0f%% |\n\n", m.SuccessRate*100)

	if len(r.KeyMoments) > 0 {
		b.WriteString("## Key Moments\n\n")
		for _, e := range r.KeyMoments {
			fmt.Fprintf(&b, "- `%s` %s\n", e.Timestamp.Format(time.TimeOnly), mdEscape(e.Description))
		}
		b.WriteString("\n")
	}

	if r.Activity != nil {
		b.WriteString("## Activity\n\n")
		writeCounts(&b, "Top files", r.Activity.TopFiles)
		writeCounts(&b, "Top applications", r.Activity.TopApps)
		writeCounts(&b, "Top commands", r.Activity.TopCommands)
	}

	if r.Patterns != nil && len(r.Patterns.Rules) > 0 {
		fmt.Fprintf(&b, "## Patterns (overall severity: %s)\n\n", r.Patterns.Severity)
		b.WriteString("| Rule | Severity | Category | Matches |\n|---|---|---|---|\n")
		for _, h := range r.Patterns.Rules {
			fmt.Fprintf(&b, "| %s | %s | %s | %d |\n", h.Description, h.Severity, h.Category, h.Matches)
		}
		b.WriteString("\n")
	}

	if len(r.AIAnalysis) > 0 {
		b.WriteString("## Error Analysis\n\n")
		for _, in := range r.AIAnalysis {
			fmt.Fprintf(&b, "### `%s` (exit %d)\n\n", in.Command, in.ExitCode)
			fmt.Fprintf(&b, "%s\n\n", mdEscape(in.Summary))
			fmt.Fprintf(&b, "_%s, severity %s, confidence %.2f (%s)_\n\n", in.ErrorType, in.Severity, in.Confidence, in.AnalysisType)
		}
	}

	if len(r.Anomalies) > 0 {
		b.WriteString("## Anomalies\n\n")
		for _, a := range r.Anomalies {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", a.Type, a.Severity, mdEscape(a.Description))
		}
		b.WriteString("\n")
	}

	if len(r.Issues) > 0 {
		b.WriteString("## Issues\n\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "- **[%s]** %s: %s\n", is.Severity, mdEscape(is.Title), mdEscape(is.Detail))
		}
		b.WriteString("\n")
	}

	if len(r.Suggestions) > 0 {
		b.WriteString("## Suggestions\n\n")
		for _, s := range r.Suggestions {
			fmt.Fprintf(&b, "- [%s] %s\n", s.Priority, mdEscape(s.Text))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeCounts(b *strings.Builder, heading string, counts []Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s**\n\n", heading)
	for _, c := range counts {
		fmt.Fprintf(b, "- %s: %d\n", mdEscape(c.Name), c.Count)
	}
	b.WriteString("\n")
}

var mdReplacer = strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "`", "'", "\n", " ")

func mdEscape(s string) string {
	return mdReplacer.Replace(s)
}

func formatMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"ts":       func(t time.Time) string { return t.Format(time.RFC3339) },
	"clock":    func(t time.Time) string { return t.Format(time.TimeOnly) },
	"duration": formatMS,
	"percent":  func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2em auto; color: #4c4f69; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccd0da; padding: 4px 8px; text-align: left; }
.critical, .high { color: #d20f39; }
.medium { color: #fe640b; }
.low, .info { color: #40a02b; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{ts .GeneratedAt}}</p>

<h2>Session</h2>
<ul>
<li>Project: {{.BasicInfo.ProjectName}} (<code>{{.BasicInfo.ProjectPath}}</code>)</li>
<li>Status: {{.BasicInfo.Status}}</li>
<li>Started: {{ts .BasicInfo.StartTime}}</li>
{{with .BasicInfo.EndTime}}<li>Ended: {{ts .}}</li>{{end}}
<li>Duration: {{duration .BasicInfo.DurationMS}}</li>
</ul>

<h2>Key Metrics</h2>
<table>
<tr><th>Total events</th><td>{{.KeyMetrics.TotalEvents}}</td></tr>
<tr><th>File events</th><td>{{.KeyMetrics.FileEvents}}</td></tr>
<tr><th>Window events</th><td>{{.KeyMetrics.WindowEvents}}</td></tr>
<tr><th>Command events</th><td>{{.KeyMetrics.CommandEvents}}</td></tr>
<tr><th>Failed commands</th><td>{{.KeyMetrics.FailedCommands}}</td></tr>
<tr><th>Files touched</th><td>{{.KeyMetrics.FilesTouched}}</td></tr>
<tr><th>Command success rate</th><td>{{percent .KeyMetrics.SuccessRate}}</td></tr>
</table>

{{if .KeyMoments}}
<h2>Key Moments</h2>
<ul>
{{range .KeyMoments}}<li class="{{.Severity}}"><code>{{clock .Timestamp}}</code> {{.Description}}</li>
{{end}}</ul>
{{end}}

{{with .Patterns}}{{if .Rules}}
<h2>Patterns</h2>
<table>
<tr><th>Rule</th><th>Severity</th><th>Category</th><th>Matches</th></tr>
{{range .Rules}}<tr><td>{{.Description}}</td><td class="{{.Severity}}">{{.Severity}}</td><td>{{.Category}}</td><td>{{.Matches}}</td></tr>
{{end}}</table>
{{end}}{{end}}

{{if .AIAnalysis}}
<h2>Error Analysis</h2>
{{range .AIAnalysis}}<h3><code>{{.Command}}</code> (exit {{.ExitCode}})</h3>
<p>{{.Summary}}</p>
<p class="{{.Severity}}">{{.ErrorType}}, severity {{.Severity}}, confidence {{printf "%.2f" .Confidence}} ({{.AnalysisType}})</p>
{{end}}
{{end}}

{{if .Anomalies}}
<h2>Anomalies</h2>
<ul>
{{range .Anomalies}}<li class="{{.Severity}}"><strong>{{.Type}}</strong>: {{.Description}}</li>
{{end}}</ul>
{{end}}

{{if .Issues}}
<h2>Issues</h2>
<ul>
{{range .Issues}}<li class="{{.Severity}}"><strong>{{.Title}}</strong>: {{.Detail}}</li>
{{end}}</ul>
{{end}}

{{if .Suggestions}}
<h2>Suggestions</h2>
<ul>
{{range .Suggestions}}<li class="{{.Priority}}">{{.Text}}</li>
{{end}}</ul>
{{end}}
</body>
</html>
`))

// ExportHTML renders r as a standalone HTML page
func ExportHTML(r *Report) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
