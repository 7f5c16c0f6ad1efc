package classify

import "regexp"

// Severity is the ordinal rank of a detected issue
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank orders severities; unknown values rank with info.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is ranked at or above other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Bucket groups rules by the kind of signal they detect
type Bucket string

const (
	BucketError   Bucket = "error"
	BucketWarning Bucket = "warning"
	BucketSuccess Bucket = "success"
	BucketStack   Bucket = "stack"
)

// Rule is one named regular expression with the classification it implies
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Severity    Severity
	Category    string
	Description string
	Remediation string
}

// StackRules are the rules specific to one language or tool
type StackRules struct {
	Language string
	Rules    []Rule
}

// RuleSet is the full declarative classification table.
// Rules are evaluated in order; the order is part of the output.
type RuleSet struct {
	Error   []Rule
	Warning []Rule
	Success []Rule
	Stack   []StackRules
}

func rule(name, pattern string, sev Severity, category, description, remediation string) Rule {
	return Rule{
		Name:        name,
		Pattern:     regexp.MustCompile(pattern),
		Severity:    sev,
		Category:    category,
		Description: description,
		Remediation: remediation,
	}
}

// DefaultRules returns the built-in rule table
func DefaultRules() *RuleSet {
	return &RuleSet{
		Error: []Rule{
			rule("generic-error", `(?i)\berror\b[:\s]`, SeverityMedium, "general",
				"Error reported in output", "Read the first error line; later errors are often consequences of it"),
			rule("exception", `(?i)\b\w*exception\b`, SeverityMedium, "runtime",
				"Exception raised", "Inspect the exception type and the frame that raised it"),
			rule("segfault", `(?i)segmentation fault|\bsegfault\b|\bSIGSEGV\b`, SeverityHigh, "runtime",
				"Process crashed with a segmentation fault", "Run under a debugger or sanitizer to locate the invalid memory access"),
			rule("out-of-memory", `(?i)out of memory|\bOOM\b|cannot allocate memory|heap out of memory`, SeverityCritical, "resource",
				"Process ran out of memory", "Reduce the working set or raise the memory limit"),
			rule("killed", `(?i)\bkilled\b|\bSIGKILL\b`, SeverityHigh, "resource",
				"Process was killed", "Check for OOM kills or external supervisors terminating the process"),
			rule("permission-denied", `(?i)permission denied|\bEACCES\b|operation not permitted`, SeverityMedium, "permission",
				"Permission denied", "Check file ownership and mode, or the privileges of the running user"),
			rule("not-found", `(?i)no such file or directory|command not found|\bENOENT\b|cannot find module|module not found`, SeverityMedium, "filesystem",
				"Missing file, module or command", "Verify paths and that dependencies are installed"),
			rule("network", `(?i)connection (refused|reset|timed out)|\bECONNREFUSED\b|\bETIMEDOUT\b|network is unreachable|could not resolve host`, SeverityMedium, "network",
				"Network connection failed", "Check that the remote service is up and reachable"),
			rule("timeout", `(?i)\btimed? ?out\b|deadline exceeded`, SeverityMedium, "performance",
				"Operation timed out", "Increase the timeout or find what is blocking"),
			rule("syntax", `(?i)syntax ?error|unexpected token|parse error`, SeverityHigh, "syntax",
				"Syntax error", "Fix the syntax at the reported location"),
			rule("compile", `(?i)compilation (failed|error)|undefined reference|cannot find symbol|build failed`, SeverityHigh, "build",
				"Build failed", "Resolve the first compiler error and rebuild"),
			rule("failed", `(?i)\bfail(ed|ure)?\b`, SeverityLow, "general",
				"Something failed", ""),
			rule("fatal", `(?i)\bfatal\b`, SeverityHigh, "general",
				"Fatal error", "The process could not continue; address the reported cause first"),
			rule("panic", `(?i)\bpanic:|kernel panic`, SeverityCritical, "runtime",
				"Unrecovered panic", "Read the panic message and the top of the goroutine trace"),
			rule("disk-full", `(?i)no space left on device|disk (is )?full|\bENOSPC\b`, SeverityCritical, "resource",
				"Disk is full", "Free disk space or move output elsewhere"),
		},
		Warning: []Rule{
			rule("warning", `(?i)\bwarn(ing)?\b`, SeverityLow, "general",
				"Warning reported", ""),
			rule("deprecated", `(?i)\bdeprecat(ed|ion)\b`, SeverityLow, "maintenance",
				"Deprecated API in use", "Migrate to the replacement before it is removed"),
			rule("retry", `(?i)\bretrying\b|\bretry \d+|\battempt \d+`, SeverityLow, "reliability",
				"Operation retried", "Look for the underlying flakiness"),
			rule("vulnerability", `(?i)\b\d+ (low|moderate|high|critical) severity vulnerabilit`, SeverityMedium, "security",
				"Dependency vulnerabilities reported", "Run the package manager's audit fix or upgrade the flagged packages"),
		},
		Success: []Rule{
			rule("tests-passed", `(?i)\btests? passed\b|\ball tests passed\b|(?m)^(ok|PASS)\b`, SeverityInfo, "testing",
				"Tests passed", ""),
			rule("build-success", `(?i)build (succeeded|successful)|compiled successfully|successfully built`, SeverityInfo, "build",
				"Build succeeded", ""),
			rule("done", `(?im)^\s*done\.?\s*$|finished in \d`, SeverityInfo, "general",
				"Completed", ""),
		},
		Stack: []StackRules{
			{Language: "python", Rules: []Rule{
				rule("python-traceback", `Traceback \(most recent call last\)`, SeverityHigh, "runtime",
					"Python traceback", "The last frame of the traceback is where the exception was raised"),
				rule("python-import", `\b(ModuleNotFoundError|ImportError)\b`, SeverityMedium, "dependency",
					"Python module could not be imported", "Install the package into the active environment"),
				rule("python-error", `\b(TypeError|ValueError|KeyError|AttributeError|NameError|IndexError|ZeroDivisionError):`, SeverityMedium, "runtime",
					"Python runtime error", ""),
			}},
			{Language: "javascript", Rules: []Rule{
				rule("npm-error", `npm ERR!|ERR_PNPM_\w+|error An unexpected error occurred`, SeverityMedium, "dependency",
					"Package manager error", "Remove node_modules and the lockfile cache and reinstall"),
				rule("js-stack-frame", `at \S+ \(\S+\.[cm]?[jt]sx?:\d+:\d+\)`, SeverityMedium, "runtime",
					"JavaScript stack trace", ""),
				rule("js-unhandled", `UnhandledPromiseRejection|\b(ReferenceError|RangeError):`, SeverityHigh, "runtime",
					"Unhandled JavaScript error", "Handle the rejected promise or the thrown error"),
			}},
			{Language: "go", Rules: []Rule{
				rule("go-goroutine", `goroutine \d+ \[`, SeverityHigh, "runtime",
					"Go goroutine dump", ""),
				rule("go-compile", `\.go:\d+(:\d+)?: `, SeverityMedium, "build",
					"Go compiler diagnostic", ""),
				rule("go-test-fail", `--- FAIL: `, SeverityMedium, "testing",
					"Go test failed", "Re-run the failing test with -run and -v"),
				rule("go-undefined", `undefined: \w+`, SeverityHigh, "build",
					"Undefined identifier", "Check imports and spelling"),
			}},
			{Language: "rust", Rules: []Rule{
				rule("rust-error", `error\[E\d{4}\]`, SeverityHigh, "build",
					"Rust compiler error", "rustc --explain gives the details for the error code"),
				rule("rust-panic", `thread '[^']*' panicked at`, SeverityCritical, "runtime",
					"Rust thread panicked", "Set RUST_BACKTRACE=1 for a backtrace"),
			}},
			{Language: "java", Rules: []Rule{
				rule("java-exception", `Exception in thread "`, SeverityHigh, "runtime",
					"Uncaught Java exception", ""),
				rule("java-frame", `at [\w$.]+\(\w+\.java:\d+\)`, SeverityMedium, "runtime",
					"Java stack trace", ""),
				rule("maven-failure", `BUILD FAILURE`, SeverityHigh, "build",
					"Maven build failure", ""),
			}},
			{Language: "docker", Rules: []Rule{
				rule("docker-daemon", `(?i)error response from daemon`, SeverityHigh, "infrastructure",
					"Docker daemon rejected the request", "Check the daemon logs and the container configuration"),
				rule("docker-image", `(?i)no such image|pull access denied|manifest unknown`, SeverityMedium, "infrastructure",
					"Docker image unavailable", "Check the image name, tag and registry login"),
			}},
			{Language: "git", Rules: []Rule{
				rule("git-conflict", `CONFLICT \(|(?i)merge conflict`, SeverityMedium, "vcs",
					"Merge conflict", "Resolve the conflicting hunks and commit"),
				rule("git-push-rejected", `(?i)\[rejected\]|failed to push some refs|non-fast-forward`, SeverityMedium, "vcs",
					"Push rejected", "Pull and rebase onto the remote branch before pushing"),
				rule("git-not-repo", `(?i)not a git repository`, SeverityMedium, "vcs",
					"Not inside a git repository", ""),
			}},
		},
	}
}
