package summarize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no strategy finds a JSON object in a model reply
var ErrNoJSON = errors.New("no JSON object in model response")

// extractor proposes a JSON candidate from raw model text
type extractor struct {
	name    string
	extract func(string) (string, bool)
}

// extractors are tried in order; the first candidate that decodes wins.
var extractors = []extractor{
	{"direct", extractDirect},
	{"fenced", extractFenced},
	{"braces", extractBraces},
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ExtractJSON decodes the first JSON object found in a model reply
func ExtractJSON(raw string) (map[string]any, error) {
	for _, e := range extractors {
		candidate, ok := e.extract(raw)
		if !ok {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}
	return nil, ErrNoJSON
}

func extractDirect(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	return s, s != ""
}

func extractFenced(raw string) (string, bool) {
	m := fencePattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// extractBraces returns the first balanced {...} span, skipping braces inside strings
func extractBraces(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
