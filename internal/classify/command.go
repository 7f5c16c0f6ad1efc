package classify

import "strings"

// keyDepth is how many subcommand words are kept for a tool in its command key.
// Tools missing from the table are keyed by the executable alone.
var keyDepth = map[string]int{
	// Version control
	"git": 1,
	"gh":  1,
	"hg":  1,

	// Containers and orchestration
	"docker":  1,
	"podman":  1,
	"kubectl": 1,
	"helm":    1,

	// Services
	"systemctl": 1,
	"launchctl": 1,

	// Build tools and package managers
	"go":     1,
	"cargo":  1,
	"npm":    1,
	"yarn":   1,
	"pnpm":   1,
	"pip":    1,
	"uv":     1,
	"poetry": 1,
	"make":   1,
	"mvn":    1,
	"gradle": 1,
	"dotnet": 1,

	// Nix
	"nix":           1,
	"nixos-rebuild": 1,

	// Terminal multiplexer
	"tmux": 1,

	// Migrations
	"alembic": 1,
}

// CommandKey reduces a command line to the tool and subcommand that identify it,
// e.g. "sudo FOO=1 git commit -m x" becomes "git commit". Environment
// assignments, sudo, common wrappers and "sh -c" indirection are peeled off.
func CommandKey(command string) string {
	words := strings.Fields(strings.TrimSpace(command))
	words = skipAssignments(words)
	if len(words) > 0 && words[0] == "sudo" {
		words = skipSudoFlags(words[1:])
		words = skipAssignments(words)
	}
	words = unwrap(words)
	if len(words) > 0 && isShell(words[0]) {
		words = shellCommand(words)
		words = skipAssignments(words)
	}
	if len(words) == 0 {
		return ""
	}

	tool := baseName(words[0])
	parts := []string{tool}
	args := words[1:]
	for i := 0; i < keyDepth[tool]; i++ {
		args = skipFlags(args)
		if len(args) == 0 {
			break
		}
		parts = append(parts, args[0])
		args = args[1:]
	}
	return strings.Join(parts, " ")
}

func baseName(cmd string) string {
	if i := strings.LastIndex(cmd, "/"); i >= 0 && i < len(cmd)-1 {
		return cmd[i+1:]
	}
	return cmd
}

func skipFlags(args []string) []string {
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		args = args[1:]
	}
	return args
}

// skipAssignments drops leading VAR=value words
func skipAssignments(words []string) []string {
	for len(words) > 0 && strings.Contains(words[0], "=") && !strings.HasPrefix(words[0], "-") {
		words = words[1:]
	}
	return words
}

func skipSudoFlags(words []string) []string {
	for len(words) > 0 && strings.HasPrefix(words[0], "-") {
		switch words[0] {
		case "-u", "-g", "-C", "-D", "-h", "-p":
			if len(words) > 1 {
				words = words[2:]
				continue
			}
		}
		words = words[1:]
	}
	return words
}

func unwrap(words []string) []string {
	if len(words) == 0 {
		return words
	}
	switch words[0] {
	case "env":
		for i := 1; i < len(words); i++ {
			if !strings.Contains(words[i], "=") && !strings.HasPrefix(words[i], "-") {
				return words[i:]
			}
		}
		return nil
	case "time", "nohup", "strace", "ltrace", "exec":
		return unwrap(words[1:])
	case "nice":
		for i := 1; i < len(words); i++ {
			if words[i] == "-n" && i+1 < len(words) {
				i++
				continue
			}
			if !strings.HasPrefix(words[i], "-") {
				return words[i:]
			}
		}
		return nil
	case "xargs":
		return unwrap(skipFlags(words[1:]))
	}
	return words
}

func isShell(cmd string) bool {
	switch baseName(cmd) {
	case "bash", "sh", "zsh", "fish":
		return true
	}
	return false
}

// shellCommand pulls the inner command out of `sh -c "..."`
func shellCommand(words []string) []string {
	for i := 1; i < len(words); i++ {
		if words[i] == "-c" && i+1 < len(words) {
			inner := strings.Join(words[i+1:], " ")
			return strings.Fields(strings.Trim(inner, "'\""))
		}
	}
	return words
}
