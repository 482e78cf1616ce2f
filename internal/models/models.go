// Package models holds the set of configured language models and builds
// [llm.Provider] values for them.
//
// The first model in configuration order that has a non-blank API key is the
// one used for new batches. The registry is safe for concurrent use and can be
// replaced wholesale on config reload.
package models

import (
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/notestream/internal/config"
)

// ErrNoModel is returned by [Registry.Available] when no configured model has
// an API key.
var ErrNoModel = errors.New("models: no model with an API key is configured")

// Model describes one language model endpoint.
type Model struct {
	// Name is the display name (e.g., "GPT-4o").
	Name string `json:"name"`

	// ID is the provider's model identifier (e.g., "gpt-4o").
	ID string `json:"model"`

	BaseURL  string `json:"baseUrl,omitempty"`
	IsOpenAI bool   `json:"isOpenAI"`

	// Provider names the any-llm backend when IsOpenAI is false.
	Provider string `json:"provider,omitempty"`

	APIKey string `json:"-"`

	DefaultColor string `json:"defaultColor,omitempty"`
}

// HasKey reports whether m carries a usable credential.
func (m Model) HasKey() bool {
	return strings.TrimSpace(m.APIKey) != ""
}

// FromConfig converts config entries into models, preserving order.
func FromConfig(entries []config.ModelEntry) []Model {
	out := make([]Model, 0, len(entries))
	for _, e := range entries {
		out = append(out, Model{
			Name:         e.Name,
			ID:           e.Model,
			BaseURL:      e.BaseURL,
			IsOpenAI:     e.IsOpenAI,
			Provider:     e.Provider,
			APIKey:       e.APIKey,
			DefaultColor: e.DefaultColor,
		})
	}
	return out
}

// Registry is an ordered, replaceable list of models.
type Registry struct {
	mu     sync.RWMutex
	models []Model
}

// NewRegistry returns a registry holding models in the given order.
func NewRegistry(models []Model) *Registry {
	r := &Registry{}
	r.Replace(models)
	return r
}

// List returns a copy of all models in configuration order.
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Available returns the first model with an API key, or [ErrNoModel].
func (r *Registry) Available() (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.HasKey() {
			return m, nil
		}
	}
	return Model{}, ErrNoModel
}

// Lookup returns the model with the given display name.
func (r *Registry) Lookup(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// Replace swaps the model list. Batches already submitted keep the model they
// were resolved with.
func (r *Registry) Replace(models []Model) {
	cp := make([]Model, len(models))
	copy(cp, models)
	r.mu.Lock()
	r.models = cp
	r.mu.Unlock()
}
