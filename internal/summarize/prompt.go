package summarize

import (
	"fmt"
	"strings"
)

const systemPrompt = `You analyze output captured from a developer's terminal session.
Respond with a single JSON object and nothing else, using exactly these fields:
{
  "summary": "one or two sentences, at most 200 characters",
  "key_lines": [line numbers, as shown in the log, of the most important lines, at most 5],
  "key_phrases": ["short phrases that identify the problem, at most 5"],
  "error_type": "short identifier such as compile_error, test_failure, network, permission, none",
  "severity": "low | medium | high | critical",
  "suggested_actions": ["concrete next steps, at most 3"],
  "confidence": number between 0 and 1
}`

// buildPrompt renders the context fields and the numbered, truncated log
func buildPrompt(text string, lc LogContext, maxChars int) string {
	var b strings.Builder

	b.WriteString("Context:\n")
	if lc.Command != "" {
		fmt.Fprintf(&b, "- command: %s\n", lc.Command)
	}
	if lc.WorkingDir != "" {
		fmt.Fprintf(&b, "- working directory: %s\n", lc.WorkingDir)
	}
	if lc.ExitCode != nil {
		fmt.Fprintf(&b, "- exit code: %d\n", *lc.ExitCode)
	}
	if lc.Stream != "" {
		fmt.Fprintf(&b, "- stream: %s\n", lc.Stream)
	}
	if lc.Source != "" {
		fmt.Fprintf(&b, "- source: %s\n", lc.Source)
	}

	b.WriteString("\nLog (each line prefixed with its line number):\n")
	b.WriteString(numberLines(splitLines(text), maxChars))
	return b.String()
}

// numberLines prefixes each line with its 1-based number. When the result
// would exceed maxChars, the middle is elided and the head and tail kept,
// so line numbers still refer to the original text.
func numberLines(lines []string, maxChars int) string {
	numbered := make([]string, len(lines))
	total := 0
	for i, line := range lines {
		numbered[i] = fmt.Sprintf("%d: %s", i+1, line)
		total += len(numbered[i]) + 1
	}
	if maxChars <= 0 || total <= maxChars {
		return strings.Join(numbered, "\n")
	}

	budget := maxChars / 2
	var head, tail []string
	used := 0
	for _, l := range numbered {
		if used+len(l)+1 > budget {
			break
		}
		head = append(head, l)
		used += len(l) + 1
	}
	used = 0
	for i := len(numbered) - 1; i >= len(head); i-- {
		l := numbered[i]
		if used+len(l)+1 > budget {
			break
		}
		tail = append([]string{l}, tail...)
		used += len(l) + 1
	}

	omitted := len(numbered) - len(head) - len(tail)
	if len(head) == 0 && len(tail) == 0 {
		// A single huge line: keep its prefix
		return truncate(numbered[0], maxChars) + fmt.Sprintf("\n... (%d more lines omitted) ...", len(numbered)-1)
	}
	parts := append(head, fmt.Sprintf("... (%d lines omitted) ...", omitted))
	return strings.Join(append(parts, tail...), "\n")
}

func splitLines(text string) []string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
