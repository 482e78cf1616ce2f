package resilience

import (
	"context"

	"github.com/MrWong99/notestream/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider guards an [llm.Provider] with a [Breaker].
type Provider struct {
	inner   llm.Provider
	breaker *Breaker
}

// Guard wraps p with a breaker built from cfg.
func Guard(p llm.Provider, cfg Config) *Provider {
	return &Provider{inner: p, breaker: NewBreaker(cfg)}
}

// Complete forwards to the wrapped provider unless the breaker is open.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = p.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

// Capabilities returns the wrapped provider's capabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.inner.Capabilities()
}

// Breaker returns the breaker guarding p.
func (p *Provider) Breaker() *Breaker {
	return p.breaker
}
