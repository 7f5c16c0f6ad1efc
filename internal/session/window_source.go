package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ErrNoWindowSystem is returned when the foreground window cannot be queried on this host
var ErrNoWindowSystem = errors.New("no supported window system")

// ExecWindowSource queries the foreground window through platform tools:
// xdotool on X11 and osascript on macOS.
type ExecWindowSource struct {
	goos string
}

// NewExecWindowSource creates a source for the running platform
func NewExecWindowSource() *ExecWindowSource {
	return &ExecWindowSource{goos: runtime.GOOS}
}

// ActiveWindow returns the focused window, or nil if nothing has focus
func (s *ExecWindowSource) ActiveWindow(ctx context.Context) (*WindowInfo, error) {
	switch s.goos {
	case "linux", "freebsd", "openbsd":
		return s.x11(ctx)
	case "darwin":
		return s.macOS(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoWindowSystem, s.goos)
	}
}

func (s *ExecWindowSource) x11(ctx context.Context) (*WindowInfo, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, fmt.Errorf("%w: DISPLAY is not set", ErrNoWindowSystem)
	}
	if _, err := exec.LookPath("xdotool"); err != nil {
		return nil, fmt.Errorf("%w: xdotool not installed", ErrNoWindowSystem)
	}

	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow", "getwindowname", "getwindowpid").Output()
	if err != nil {
		// xdotool exits non-zero when no window has focus
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("xdotool: %w", err)
	}
	return parseXdotool(string(out), readProc), nil
}

// parseXdotool parses "<title>\n<pid>\n" and resolves the process name
func parseXdotool(out string, proc func(pid int) (name, path string)) *WindowInfo {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil
	}

	info := &WindowInfo{Title: lines[0]}
	if len(lines) > 1 {
		if pid, err := strconv.Atoi(strings.TrimSpace(lines[len(lines)-1])); err == nil {
			info.PID = pid
			info.AppName, info.AppPath = proc(pid)
		}
	}
	return info
}

func readProc(pid int) (string, string) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", ""
	}
	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	return strings.TrimSpace(string(comm)), exe
}

const frontmostScript = `tell application "System Events"
	set p to first application process whose frontmost is true
	set appName to name of p
	set appPID to unix id of p
	set appPath to ""
	try
		set appPath to POSIX path of (file of p as alias)
	end try
	set winTitle to ""
	try
		set winTitle to name of front window of p
	end try
end tell
return appName & "|" & appPID & "|" & appPath & "|" & winTitle`

func (s *ExecWindowSource) macOS(ctx context.Context) (*WindowInfo, error) {
	out, err := exec.CommandContext(ctx, "osascript", "-e", frontmostScript).Output()
	if err != nil {
		return nil, fmt.Errorf("osascript: %w", err)
	}
	return parseFrontmost(string(out)), nil
}

// parseFrontmost parses "name|pid|path|title"; the title may contain '|'
func parseFrontmost(out string) *WindowInfo {
	parts := strings.SplitN(strings.TrimSpace(out), "|", 4)
	if len(parts) < 2 || parts[0] == "" {
		return nil
	}
	info := &WindowInfo{AppName: parts[0]}
	info.PID, _ = strconv.Atoi(parts[1])
	if len(parts) > 2 {
		info.AppPath = strings.TrimSuffix(parts[2], "/")
	}
	if len(parts) > 3 {
		info.Title = parts[3]
	}
	if info.Title == "" {
		info.Title = filepath.Base(info.AppName)
	}
	return info
}
