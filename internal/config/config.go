package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileConfig controls the filesystem collector
type FileConfig struct {
	// DebounceMS is the quiet period before a burst of identical events is recorded
	DebounceMS int `yaml:"debounce_ms"`

	// MaxDepth bounds directory recursion below the project path
	MaxDepth int `yaml:"max_depth"`

	// MaxFileSizeMB drops events for files larger than this
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`

	// IgnorePatterns are file name patterns (supports a single * wildcard)
	IgnorePatterns []string `yaml:"ignore_patterns"`

	// IgnoreExtensions are extensions without the leading dot
	IgnoreExtensions []string `yaml:"ignore_extensions"`

	// IgnoreDirs are directory names that are never watched
	IgnoreDirs []string `yaml:"ignore_dirs"`
}

// WindowConfig controls the foreground window tracker
type WindowConfig struct {
	Enabled        bool `yaml:"enabled"`
	PollIntervalMS int  `yaml:"poll_interval_ms"`

	// TrackInactive records an event when no window has focus
	TrackInactive bool `yaml:"track_inactive"`
}

// AIConfig controls the log summarizer and its model backend
type AIConfig struct {
	// Provider is "openai", "anthropic" or empty for rule-based only
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_seconds"`

	// MinTextLength triggers a model call for texts longer than this
	MinTextLength   int      `yaml:"min_text_length"`
	ErrorKeywords   []string `yaml:"error_keywords"`
	WarningKeywords []string `yaml:"warning_keywords"`

	MaxPromptChars int  `yaml:"max_prompt_chars"`
	Concurrency    int  `yaml:"concurrency"`
	AutoAnalyze    bool `yaml:"auto_analyze"`
}

// ReportConfig holds report defaults
type ReportConfig struct {
	DefaultType   string `yaml:"default_type"`
	DefaultFormat string `yaml:"default_format"`
	MaxAISamples  int    `yaml:"max_ai_samples"`
}

// Config holds the application configuration
type Config struct {
	// DatabasePath is the SQLite file backing the event store
	DatabasePath string `yaml:"database_path"`

	// ListenAddr is the HTTP address used by the serve command
	ListenAddr string `yaml:"listen_addr"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Theme is the monitor color theme (mocha, macchiato, frappe, latte)
	Theme string `yaml:"theme"`

	Files  FileConfig   `yaml:"files"`
	Window WindowConfig `yaml:"window"`
	AI     AIConfig     `yaml:"ai"`
	Report ReportConfig `yaml:"report"`
}

// DataDir returns the directory holding the database and logs
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "devsession_mon")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "devsession_mon")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: filepath.Join(DataDir(), "sessions.db"),
		ListenAddr:   "127.0.0.1:8765",
		LogLevel:     "info",
		Theme:        "mocha",
		Files: FileConfig{
			DebounceMS:    300,
			MaxDepth:      10,
			MaxFileSizeMB: 100,
			IgnorePatterns: []string{
				".DS_Store",
				"Thumbs.db",
				"desktop.ini",
				"*.swp",
				"*.swo",
				"*~",
				".#*",
				"~$*",
				"4913",
			},
			IgnoreExtensions: []string{"tmp", "temp", "cache", "log"},
			IgnoreDirs:       []string{".git", "node_modules", ".cache", "__pycache__"},
		},
		Window: WindowConfig{
			Enabled:        true,
			PollIntervalMS: 500,
			TrackInactive:  false,
		},
		AI: AIConfig{
			Provider:        "",
			Model:           "gpt-4o-mini",
			MaxTokens:       800,
			Temperature:     0.2,
			TimeoutSec:      30,
			MinTextLength:   500,
			ErrorKeywords:   []string{"error", "exception", "failed", "fatal", "panic", "traceback"},
			WarningKeywords: []string{"warning", "warn", "deprecated"},
			MaxPromptChars:  4000,
			Concurrency:     3,
			AutoAnalyze:     true,
		},
		Report: ReportConfig{
			DefaultType:   "summary",
			DefaultFormat: "json",
			MaxAISamples:  5,
		},
	}
}

// Load reads the config from a YAML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) //nolint:gosec // config path from known locations
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDefaultPath attempts to load config from standard locations,
// then applies .env and environment overrides
func LoadFromDefaultPath() (*Config, error) {
	paths := []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "devsession_mon", "config.yaml"),
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "devsession_mon", "config.yaml"))
	}

	// A missing .env is the common case
	_ = godotenv.Load()

	cfg := DefaultConfig()
	for _, path := range paths {
		cleanPath := filepath.Clean(path)
		if _, err := os.Stat(cleanPath); err == nil {
			loaded, err := Load(cleanPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
			break
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from DEVSESSION_* variables and provider credentials.
// lookup has the signature of os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("DEVSESSION_DB", &c.DatabasePath)
	str("DEVSESSION_LISTEN", &c.ListenAddr)
	str("DEVSESSION_LOG_LEVEL", &c.LogLevel)
	num("DEVSESSION_DEBOUNCE_MS", &c.Files.DebounceMS)
	num("DEVSESSION_WINDOW_POLL_MS", &c.Window.PollIntervalMS)
	flag("DEVSESSION_TRACK_INACTIVE", &c.Window.TrackInactive)
	flag("DEVSESSION_WINDOW_ENABLED", &c.Window.Enabled)
	str("DEVSESSION_AI_PROVIDER", &c.AI.Provider)
	str("DEVSESSION_AI_MODEL", &c.AI.Model)
	str("DEVSESSION_AI_BASE_URL", &c.AI.BaseURL)
	num("DEVSESSION_AI_TIMEOUT", &c.AI.TimeoutSec)
	num("DEVSESSION_AI_MAX_TOKENS", &c.AI.MaxTokens)
	num("DEVSESSION_AI_MIN_TEXT_LENGTH", &c.AI.MinTextLength)
	str("DEVSESSION_REPORT_FORMAT", &c.Report.DefaultFormat)

	if c.AI.APIKey == "" {
		switch c.AI.Provider {
		case "openai":
			str("OPENAI_API_KEY", &c.AI.APIKey)
		case "anthropic":
			str("ANTHROPIC_API_KEY", &c.AI.APIKey)
		}
	}
	str("DEVSESSION_AI_API_KEY", &c.AI.APIKey)
}

// Debounce returns the debounce window as a duration
func (f FileConfig) Debounce() time.Duration {
	return time.Duration(f.DebounceMS) * time.Millisecond
}

// MaxFileSize returns the size ceiling in bytes
func (f FileConfig) MaxFileSize() int64 {
	return f.MaxFileSizeMB * 1024 * 1024
}

// ShouldIgnoreName returns true if a file name matches an ignore pattern
func (f FileConfig) ShouldIgnoreName(name string) bool {
	for _, p := range f.IgnorePatterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// ShouldIgnoreExt returns true if the extension (with or without dot) is denied
func (f FileConfig) ShouldIgnoreExt(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return false
	}
	for _, e := range f.IgnoreExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// ShouldIgnoreDir returns true if the directory name is never watched
func (f FileConfig) ShouldIgnoreDir(name string) bool {
	for _, d := range f.IgnoreDirs {
		if matchPattern(d, name) {
			return true
		}
	}
	return false
}

// PollInterval returns the window poll cadence
func (w WindowConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// Timeout returns the per-call model timeout
func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// HasCredentials reports whether a model backend can be constructed
func (a AIConfig) HasCredentials() bool {
	return a.Provider != "" && a.APIKey != ""
}

// matchPattern checks if a pattern matches (supports * wildcards)
func matchPattern(pattern, value string) bool {
	if pattern == value {
		return true
	}

	// Single * anywhere in the pattern, e.g. "*.swp" or ".#*"
	if strings.Contains(pattern, "*") {
		parts := strings.SplitN(pattern, "*", 2)
		if len(parts) == 2 {
			prefix := parts[0]
			suffix := parts[1]
			return len(value) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
		}
	}

	return false
}

// global config instance
var globalConfig *Config

// Global returns the global config instance, loading it if necessary
func Global() *Config {
	if globalConfig == nil {
		cfg, err := LoadFromDefaultPath()
		if err != nil {
			cfg = DefaultConfig()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// SetGlobal replaces the global config instance
func SetGlobal(cfg *Config) {
	globalConfig = cfg
}
