package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Files.Debounce() != 300*time.Millisecond {
		t.Errorf("default debounce = %v, want 300ms", cfg.Files.Debounce())
	}
	if cfg.Files.MaxDepth != 10 {
		t.Errorf("default max depth = %d, want 10", cfg.Files.MaxDepth)
	}
	if cfg.Files.MaxFileSize() != 100*1024*1024 {
		t.Errorf("default max file size = %d, want 100MB", cfg.Files.MaxFileSize())
	}
	if cfg.Window.PollInterval() >= time.Second {
		t.Errorf("default poll interval should be sub-second, got %v", cfg.Window.PollInterval())
	}
	if cfg.AI.HasCredentials() {
		t.Error("DefaultConfig should not carry model credentials")
	}
	if cfg.Report.MaxAISamples != 5 {
		t.Errorf("default AI samples = %d, want 5", cfg.Report.MaxAISamples)
	}
	if cfg.Theme != "mocha" {
		t.Errorf("default theme = %q, want mocha", cfg.Theme)
	}
}

func TestShouldIgnoreName(t *testing.T) {
	f := DefaultConfig().Files

	tests := []struct {
		name     string
		expected bool
	}{
		{".DS_Store", true},
		{"Thumbs.db", true},
		{"main.go.swp", true},
		{"notes.txt~", true},
		{".#buffer.el", true},
		{"~$report.docx", true},
		{"4913", true},
		{"main.go", false},
		{"README.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ShouldIgnoreName(tt.name); got != tt.expected {
				t.Errorf("ShouldIgnoreName(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestShouldIgnoreExt(t *testing.T) {
	f := DefaultConfig().Files

	tests := []struct {
		ext      string
		expected bool
	}{
		{".tmp", true},
		{"TEMP", true},
		{".log", true},
		{".cache", true},
		{".go", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := f.ShouldIgnoreExt(tt.ext); got != tt.expected {
				t.Errorf("ShouldIgnoreExt(%q) = %v, want %v", tt.ext, got, tt.expected)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `database_path: /tmp/custom.db
files:
  debounce_ms: 50
  ignore_extensions:
    - bak
window:
  poll_interval_ms: 250
  track_inactive: true
ai:
  provider: openai
  min_text_length: 1000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DatabasePath != "/tmp/custom.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.Files.DebounceMS != 50 {
		t.Errorf("DebounceMS = %d, want 50", cfg.Files.DebounceMS)
	}
	if len(cfg.Files.IgnoreExtensions) != 1 || cfg.Files.IgnoreExtensions[0] != "bak" {
		t.Errorf("IgnoreExtensions = %v, want [bak]", cfg.Files.IgnoreExtensions)
	}
	// Unset fields keep their defaults
	if cfg.Files.MaxDepth != 10 {
		t.Errorf("MaxDepth = %d, want default 10", cfg.Files.MaxDepth)
	}
	if !cfg.Window.TrackInactive || cfg.Window.PollIntervalMS != 250 {
		t.Errorf("window config not loaded: %+v", cfg.Window)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.MinTextLength != 1000 {
		t.Errorf("ai config not loaded: %+v", cfg.AI)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() should not error for missing file, got: %v", err)
	}
	if cfg.Files.DebounceMS != 300 {
		t.Error("Should return default config")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DEVSESSION_DEBOUNCE_MS":    "75",
		"DEVSESSION_TRACK_INACTIVE": "true",
		"DEVSESSION_AI_PROVIDER":    "anthropic",
		"ANTHROPIC_API_KEY":         "sk-test",
		"OPENAI_API_KEY":            "sk-ignored",
		"DEVSESSION_WINDOW_POLL_MS": "not-a-number",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.ApplyEnv(lookup)

	if cfg.Files.DebounceMS != 75 {
		t.Errorf("DebounceMS = %d, want 75", cfg.Files.DebounceMS)
	}
	if !cfg.Window.TrackInactive {
		t.Error("TrackInactive should be true")
	}
	if cfg.Window.PollIntervalMS != 500 {
		t.Errorf("invalid number should be ignored, got %d", cfg.Window.PollIntervalMS)
	}
	if cfg.AI.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want provider key", cfg.AI.APIKey)
	}
	if !cfg.AI.HasCredentials() {
		t.Error("expected credentials after env overrides")
	}
}

func TestSetGlobal(t *testing.T) {
	custom := DefaultConfig()
	custom.ListenAddr = "127.0.0.1:9999"

	SetGlobal(custom)
	got := Global()

	if got.ListenAddr != "127.0.0.1:9999" {
		t.Error("SetGlobal did not set the global config correctly")
	}

	// Reset to nil so other tests use defaults
	SetGlobal(nil)
}
