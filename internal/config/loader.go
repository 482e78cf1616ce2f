package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the any-llm backends a non-OpenAI model may name.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, expands
// ${ENV} references in API keys and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	for i := range cfg.Models {
		cfg.Models[i].APIKey = os.ExpandEnv(cfg.Models[i].APIKey)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size %d must be positive", p.BatchSize))
	}
	if p.SlidingWindowSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sliding_window_size %d must be positive", p.SlidingWindowSize))
	}
	if p.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_attempts %d must be positive", p.MaxAttempts))
	}
	if p.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.attempt_timeout %s must be positive", p.AttemptTimeout))
	}

	// Models
	namesSeen := make(map[string]int, len(cfg.Models))
	withKey := 0
	for i, m := range cfg.Models {
		prefix := fmt.Sprintf("models[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[m.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of models[%d]", prefix, m.Name, prev))
			}
			namesSeen[m.Name] = i
		}
		if m.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if !m.IsOpenAI {
			if m.Provider == "" {
				errs = append(errs, fmt.Errorf("%s.provider is required when is_openai is false", prefix))
			} else if !slices.Contains(ValidProviderNames, m.Provider) {
				slog.Warn("unknown model provider name, may be a typo",
					"model", m.Name,
					"provider", m.Provider,
					"known", ValidProviderNames,
				)
			}
		}
		if strings.TrimSpace(m.APIKey) != "" {
			withKey++
		}
	}
	if len(cfg.Models) > 0 && withKey == 0 {
		slog.Warn("no model has an api_key; every batch will fail until one is configured")
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Backend))
	}
	if (cfg.Store.Backend == StorePostgres || cfg.Store.Backend == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for backend %q", cfg.Store.Backend))
	}

	return errors.Join(errs...)
}
