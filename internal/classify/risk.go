package classify

// cmdStart anchors a command word at the start of a line or after a separator
const cmdStart = `(?i)(^|[\s;&|(])`

// riskRules flag shell commands that destroy data or need elevated rights.
// They are checked in order.
var riskRules = []Rule{
	rule("rm-recursive", cmdStart+`rm\s+(-\w*[rR]\w*|--recursive)\b`, SeverityCritical, "risk",
		"Recursive file deletion", "Double-check the target path before running it again"),
	rule("rm", cmdStart+`rm\s`, SeverityMedium, "risk",
		"File deletion", ""),
	rule("sudo", cmdStart+`sudo\s`, SeverityHigh, "risk",
		"Runs with elevated privileges", ""),
	rule("chmod", cmdStart+`chmod\s`, SeverityMedium, "risk",
		"Changes file permissions", ""),
	rule("chown", cmdStart+`chown\s`, SeverityMedium, "risk",
		"Changes file ownership", ""),
	rule("pipe-to-shell", `(?i)\b(curl|wget)\s[^|]*\|\s*(sudo\s+)?(ba|z)?sh\b`, SeverityCritical, "risk",
		"Downloads and pipes to shell", "Download the script and read it before running it"),
	rule("dd", cmdStart+`dd\s.*\bof=`, SeverityCritical, "risk",
		"Direct disk/device operation", ""),
	rule("mkfs", `(?i)\bmkfs(\.\w+)?\b`, SeverityCritical, "risk",
		"Filesystem creation", ""),
	rule("kill", cmdStart+`(kill|pkill|killall)\s`, SeverityMedium, "risk",
		"Process termination", ""),
	rule("force-push", `(?i)\bgit\s+push\b.*(\s-f\b|\s--force)`, SeverityHigh, "risk",
		"Force push to remote", "Prefer --force-with-lease"),
	rule("hard-reset", `(?i)\bgit\s+reset\s+--hard\b`, SeverityHigh, "risk",
		"Hard reset (discards changes)", "Stash or commit work before resetting"),
}

// Risks returns the risk rules a shell command matches, in table order.
// A recursive delete is not also reported as a plain one.
func Risks(command string) []Rule {
	var out []Rule
	recursive := false
	for _, r := range riskRules {
		if !r.Pattern.MatchString(command) {
			continue
		}
		switch r.Name {
		case "rm-recursive":
			recursive = true
		case "rm":
			if recursive {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
