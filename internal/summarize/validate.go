package summarize

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxSummaryLen    = 200
	maxKeyLines      = 5
	maxKeyPhrases    = 5
	maxActions       = 3
	defaultSummary   = "No summary provided"
	defaultErrorType = "unknown"
	defaultSeverity  = "medium"
	defaultConf      = 0.5
)

var validSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// validate turns a decoded model reply into an Analysis, checking each field
// on its own. lineCount bounds the accepted key line numbers.
func validate(obj map[string]any, lineCount int) Analysis {
	return Analysis{
		Summary:          validSummary(obj["summary"]),
		KeyLines:         validKeyLines(obj["key_lines"], lineCount),
		KeyPhrases:       validStrings(obj["key_phrases"], maxKeyPhrases),
		ErrorType:        validErrorType(obj["error_type"]),
		Severity:         validSeverity(obj["severity"]),
		SuggestedActions: validStrings(obj["suggested_actions"], maxActions),
		Confidence:       validConfidence(obj["confidence"]),
	}
}

func validSummary(v any) string {
	s, ok := v.(string)
	if !ok {
		return defaultSummary
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultSummary
	}
	return truncate(s, maxSummaryLen)
}

func validKeyLines(v any, lineCount int) []int {
	items, _ := v.([]any)
	lines := []int{}
	seen := make(map[int]bool)
	for _, item := range items {
		if len(lines) == maxKeyLines {
			break
		}
		f, ok := item.(float64)
		if !ok || f != math.Trunc(f) {
			continue
		}
		n := int(f)
		if n < 1 || n > lineCount || seen[n] {
			continue
		}
		seen[n] = true
		lines = append(lines, n)
	}
	return lines
}

func validStrings(v any, limit int) []string {
	items, _ := v.([]any)
	out := []string{}
	for _, item := range items {
		if len(out) == limit {
			break
		}
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, truncate(s, maxSummaryLen))
		}
	}
	return out
}

func validErrorType(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return defaultErrorType
	}
	return truncate(strings.TrimSpace(s), 64)
}

func validSeverity(v any) string {
	s, ok := v.(string)
	if !ok {
		return defaultSeverity
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !validSeverities[s] {
		return defaultSeverity
	}
	return s
}

func validConfidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return defaultConf
		}
		f = parsed
	default:
		return defaultConf
	}
	if math.IsNaN(f) {
		return defaultConf
	}
	return clamp01(f)
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
