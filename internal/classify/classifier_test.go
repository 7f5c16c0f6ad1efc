package classify

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func TestClassifySegfault(t *testing.T) {
	stderr := "bash: line 1: 48213 Segmentation fault (core dumped) ./bin/solver --input data.bin"

	res := Classify(stderr)

	if res.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", res.Severity)
	}
	if res.PrimaryCategory() != "runtime" {
		t.Errorf("PrimaryCategory = %q, want runtime", res.PrimaryCategory())
	}
	for _, m := range res.Patterns {
		if m.Severity == SeverityCritical {
			t.Errorf("critical rule %q should not match a segfault", m.Rule)
		}
	}
}

func TestClassifyNoMatch(t *testing.T) {
	for _, text := range []string{"", "compiling 3 files", "hello world"} {
		res := Classify(text)
		if res.Severity != SeverityInfo {
			t.Errorf("Classify(%q).Severity = %q, want info", text, res.Severity)
		}
		if len(res.Patterns) != 0 || res.Confidence != 0 {
			t.Errorf("Classify(%q) = %+v, want empty", text, res)
		}
		if res.Language != "unknown" {
			t.Errorf("Classify(%q).Language = %q", text, res.Language)
		}
	}
}

func TestClassifyIsPure(t *testing.T) {
	text := `Traceback (most recent call last):
  File "train.py", line 12, in <module>
    import torch
ModuleNotFoundError: No module named 'torch'
Error: process exited with status 1`

	first := Classify(text)
	second := Classify(text)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Classify is not deterministic:\n%+v\n%+v", first, second)
	}
	if first.Language != "python" {
		t.Errorf("Language = %q, want python", first.Language)
	}
	if first.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", first.Severity)
	}
}

func TestClassifySeverityRanking(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Severity
	}{
		{"warning only", "warning: unused variable x", SeverityLow},
		{"permission", "open /etc/shadow: permission denied", SeverityMedium},
		{"oom", "fatal error: runtime: out of memory", SeverityCritical},
		{"go panic", "panic: runtime error: index out of range [3] with length 3", SeverityCritical},
		{"success only", "Build succeeded\nall tests passed", SeverityInfo},
		{"disk full", "write /var/lib/data: no space left on device", SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text).Severity; got != tt.want {
				t.Errorf("Classify(%q).Severity = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestConfidenceBounds(t *testing.T) {
	short := Classify("error: x")
	long := Classify(strings.Repeat("error: build failed, connection refused, permission denied, warning\n", 20))

	for _, res := range []Result{short, long} {
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Errorf("Confidence %v out of range", res.Confidence)
		}
		for _, m := range res.Patterns {
			if m.Confidence < 0 || m.Confidence > 1 {
				t.Errorf("rule %s confidence %v out of range", m.Rule, m.Confidence)
			}
			if len(m.Samples) > maxSamples {
				t.Errorf("rule %s kept %d samples", m.Rule, len(m.Samples))
			}
		}
	}

	// A single short match is scaled down by both rule count and text length
	if short.Confidence >= long.Confidence {
		t.Errorf("short confidence %v should be below long confidence %v", short.Confidence, long.Confidence)
	}
}

func TestLengthDamping(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 1},
		{2500, 0.75},
		{5000, 0.5},
		{50000, 0.5},
	}
	for _, tt := range tests {
		if got := lengthDamping(tt.n); got != tt.want {
			t.Errorf("lengthDamping(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestCustomRuleSet(t *testing.T) {
	c := New(&RuleSet{
		Error: []Rule{{
			Name:     "quota",
			Pattern:  regexp.MustCompile(`quota exceeded`),
			Severity: SeverityHigh,
			Category: "resource",
		}},
	})

	res := c.Classify("upload: quota exceeded for bucket")
	if len(res.Patterns) != 1 || res.Patterns[0].Rule != "quota" {
		t.Fatalf("Patterns = %+v", res.Patterns)
	}
	if res.Categories[0] != "resource" || !res.HasIssues() {
		t.Errorf("Result = %+v", res)
	}
}

func TestSuccessIsNotAnIssue(t *testing.T) {
	res := Classify("ok  \tgithub.com/acme/tool\t0.412s")
	if res.HasIssues() {
		t.Errorf("success output reported issues: %+v", res.Patterns)
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) || SeverityLow.AtLeast(SeverityMedium) {
		t.Error("severity ordering is wrong")
	}
	if Severity("bogus").Rank() != SeverityInfo.Rank() {
		t.Error("unknown severity should rank as info")
	}
}
