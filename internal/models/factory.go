package models

import (
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/notestream/pkg/provider/llm"
	"github.com/MrWong99/notestream/pkg/provider/llm/anyllm"
	"github.com/MrWong99/notestream/pkg/provider/llm/openai"
)

// Factory constructs a provider for a model.
type Factory func(m Model) (llm.Provider, error)

// NewProvider is the default [Factory]. OpenAI-compatible endpoints use the
// official OpenAI SDK; everything else goes through any-llm.
//
// The HTTP client timeout is left unset: per-attempt deadlines come from the
// caller's context.
func NewProvider(m Model) (llm.Provider, error) {
	if m.IsOpenAI {
		var opts []openai.Option
		if m.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(m.BaseURL))
		}
		p, err := openai.New(m.APIKey, m.ID, opts...)
		if err != nil {
			return nil, fmt.Errorf("models: build %q: %w", m.Name, err)
		}
		return p, nil
	}

	var opts []anyllmlib.Option
	if m.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(m.APIKey))
	}
	if m.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(m.BaseURL))
	}
	p, err := anyllm.New(m.Provider, m.ID, opts...)
	if err != nil {
		return nil, fmt.Errorf("models: build %q: %w", m.Name, err)
	}
	return p, nil
}

// Providers caches one provider per distinct model definition so repeated
// batches reuse HTTP connections.
type Providers struct {
	factory Factory

	mu    sync.Mutex
	cache map[Model]llm.Provider
}

// NewProviders returns a cache that builds providers with f. A nil f uses
// [NewProvider].
func NewProviders(f Factory) *Providers {
	if f == nil {
		f = NewProvider
	}
	return &Providers{factory: f, cache: make(map[Model]llm.Provider)}
}

// For returns the provider for m, building it on first use. A model whose
// credentials or endpoint changed is a different key and gets a fresh
// provider.
func (p *Providers) For(m Model) (llm.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prov, ok := p.cache[m]; ok {
		return prov, nil
	}
	prov, err := p.factory(m)
	if err != nil {
		return nil, err
	}
	p.cache[m] = prov
	return prov, nil
}

// Prune drops cached providers for models not present in keep.
func (p *Providers) Prune(keep []Model) {
	live := make(map[Model]struct{}, len(keep))
	for _, m := range keep {
		live[m] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for m := range p.cache {
		if _, ok := live[m]; !ok {
			delete(p.cache, m)
		}
	}
}

// Len reports how many providers are cached.
func (p *Providers) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
