// Package config provides the configuration schema, loader and hot-reload
// watcher for the notestream server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the notestream server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreBackend selects where notes are persisted.
type StoreBackend string

const (
	// StoreMemory keeps notes in process memory. Nothing survives a restart.
	StoreMemory StoreBackend = "memory"

	// StorePostgres persists notes to PostgreSQL.
	StorePostgres StoreBackend = "postgres"

	// StoreSQLite persists notes to a local SQLite file.
	StoreSQLite StoreBackend = "sqlite"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultBatchSize         = 10
	DefaultSlidingWindowSize = 200
	DefaultMaxAttempts       = 3
	DefaultAttemptTimeout    = 60 * time.Second
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
)

// Config is the root configuration structure for notestream.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Models   []ModelEntry   `yaml:"models"`
	Store    StoreConfig    `yaml:"store"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, receives a JSON copy of every log record.
	LogFile string `yaml:"log_file"`
}

// PipelineConfig tunes transcript batching and model processing.
type PipelineConfig struct {
	// BatchSize is the number of new transcript words that triggers a batch.
	BatchSize int `yaml:"batch_size"`

	// SlidingWindowSize is the word ceiling of both context windows.
	SlidingWindowSize int `yaml:"sliding_window_size"`

	// MaxAttempts is how many times one batch is tried before it fails.
	MaxAttempts int `yaml:"max_attempts"`

	// AttemptTimeout bounds a single model call. A timeout counts as a failed
	// attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// ModelEntry describes one configured language model. The first entry with a
// non-blank APIKey is used for new batches.
type ModelEntry struct {
	// Name is the display name (e.g., "GPT-4o").
	Name string `yaml:"name"`

	// Model is the provider's model identifier (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// BaseURL is the API endpoint. For OpenAI-compatible models it defaults to
	// the public OpenAI API.
	BaseURL string `yaml:"base_url"`

	// IsOpenAI marks endpoints that speak the OpenAI chat completions protocol.
	IsOpenAI bool `yaml:"is_openai"`

	// Provider names the any-llm backend for models that are not
	// OpenAI-compatible (e.g., "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// APIKey is the credential. A value of the form ${NAME} is read from the
	// environment variable NAME.
	APIKey string `yaml:"api_key"`

	// DefaultColor is the accent colour for notes produced with this model.
	DefaultColor string `yaml:"default_color"`
}

// StoreConfig selects and configures the note store.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// DSN is the PostgreSQL connection string or the SQLite file path.
	DSN string `yaml:"dsn"`
}

// MCPConfig controls the Model Context Protocol surface.
type MCPConfig struct {
	// Stdio serves MCP tools over stdin/stdout alongside the HTTP server.
	Stdio bool `yaml:"stdio"`
}

// DefaultModels returns the models configured when none are listed.
func DefaultModels() []ModelEntry {
	return []ModelEntry{
		{Name: "GPT-4o", Model: "gpt-4o", BaseURL: DefaultOpenAIBaseURL, IsOpenAI: true, DefaultColor: "blue"},
		{Name: "GPT-4o-mini", Model: "gpt-4o-mini", BaseURL: DefaultOpenAIBaseURL, IsOpenAI: true, DefaultColor: "green"},
	}
}

// ApplyDefaults fills zero values in cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = DefaultBatchSize
	}
	if cfg.Pipeline.SlidingWindowSize == 0 {
		cfg.Pipeline.SlidingWindowSize = DefaultSlidingWindowSize
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Pipeline.AttemptTimeout == 0 {
		cfg.Pipeline.AttemptTimeout = DefaultAttemptTimeout
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		if m.IsOpenAI && m.BaseURL == "" {
			m.BaseURL = DefaultOpenAIBaseURL
		}
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
}
