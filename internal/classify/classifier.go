// Package classify is a rule-based classifier for command output and logs.
package classify

import "math"

const (
	// maxSamples bounds the matched substrings kept per rule
	maxSamples = 3

	unknownLanguage = "unknown"
)

// Match is one rule that fired against the text
type Match struct {
	Rule        string   `json:"rule"`
	Bucket      Bucket   `json:"bucket"`
	Language    string   `json:"language,omitempty"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Remediation string   `json:"remediation,omitempty"`
	Count       int      `json:"count"`
	Samples     []string `json:"samples"`
	Confidence  float64  `json:"confidence"`
}

// Result is the outcome of classifying one text
type Result struct {
	Patterns   []Match  `json:"patterns"`
	Severity   Severity `json:"severity"`
	Categories []string `json:"categories"`
	Confidence float64  `json:"confidence"`
	Language   string   `json:"language"`
}

// HasIssues reports whether any error, warning or stack rule matched
func (r Result) HasIssues() bool {
	for _, m := range r.Patterns {
		if m.Bucket != BucketSuccess {
			return true
		}
	}
	return false
}

// PrimaryCategory is the category of the first match at the overall severity
func (r Result) PrimaryCategory() string {
	for _, m := range r.Patterns {
		if m.Severity == r.Severity {
			return m.Category
		}
	}
	return ""
}

// Classifier evaluates a RuleSet. It holds no mutable state.
type Classifier struct {
	rules *RuleSet
}

// New creates a classifier over rules; nil means DefaultRules.
func New(rules *RuleSet) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

var defaultClassifier = New(nil)

// Classify runs the default rule table over text
func Classify(text string) Result {
	return defaultClassifier.Classify(text)
}

// Classify matches every rule against text and aggregates the matches.
func (c *Classifier) Classify(text string) Result {
	res := Result{
		Patterns:   []Match{},
		Severity:   SeverityInfo,
		Categories: []string{},
		Language:   unknownLanguage,
	}
	if text == "" {
		return res
	}

	damping := lengthDamping(len(text))
	apply := func(bucket Bucket, language string, rules []Rule) int {
		fired := 0
		for _, r := range rules {
			found := r.Pattern.FindAllString(text, -1)
			if len(found) == 0 {
				continue
			}
			fired += len(found)
			res.Patterns = append(res.Patterns, Match{
				Rule:        r.Name,
				Bucket:      bucket,
				Language:    language,
				Severity:    r.Severity,
				Category:    r.Category,
				Description: r.Description,
				Remediation: r.Remediation,
				Count:       len(found),
				Samples:     samples(found),
				Confidence:  ruleConfidence(found, damping),
			})
		}
		return fired
	}

	apply(BucketError, "", c.rules.Error)
	apply(BucketWarning, "", c.rules.Warning)
	apply(BucketSuccess, "", c.rules.Success)

	best := 0
	for _, stack := range c.rules.Stack {
		if n := apply(BucketStack, stack.Language, stack.Rules); n > best {
			best = n
			res.Language = stack.Language
		}
	}

	if len(res.Patterns) == 0 {
		return res
	}

	seen := make(map[string]bool)
	var sum float64
	for _, m := range res.Patterns {
		if m.Severity.Rank() > res.Severity.Rank() {
			res.Severity = m.Severity
		}
		if !seen[m.Category] {
			seen[m.Category] = true
			res.Categories = append(res.Categories, m.Category)
		}
		sum += m.Confidence
	}

	n := float64(len(res.Patterns))
	mean := sum / n
	res.Confidence = round(mean * math.Min(1, n/5) * math.Min(1, float64(len(text))/500))
	return res
}

// ruleConfidence combines a count term capped at 0.8 with a per-match
// specificity bonus, damped for long texts.
func ruleConfidence(found []string, damping float64) float64 {
	base := math.Min(0.8, 0.2*float64(len(found)))
	var bonus float64
	for _, m := range found {
		bonus += math.Min(0.05, float64(len(m))/200)
	}
	return round(math.Min(1, (base+bonus)*damping))
}

// lengthDamping lowers confidence for long texts, bounded to [0.5, 1]
func lengthDamping(n int) float64 {
	d := 1 - float64(n)/10000
	return math.Max(0.5, math.Min(1, d))
}

func samples(found []string) []string {
	if len(found) > maxSamples {
		found = found[:maxSamples]
	}
	out := make([]string, len(found))
	copy(out, found)
	return out
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
