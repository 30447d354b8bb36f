// internal/providers/multiplex/provider.go
// Package multiplex routes provider calls to different backends per operation.
package multiplex

import (
	"context"
	"fmt"

	"github.com/mwiater/refiner/internal/providers"
)

// Provider delegates each operation to the backend registered for it, falling
// back to a default backend.
type Provider struct {
	fallback providers.Provider
	routes   map[providers.Operation]providers.Provider
}

// New constructs a Provider. Operations missing from routes use fallback.
func New(fallback providers.Provider, routes map[providers.Operation]providers.Provider) (*Provider, error) {
	if fallback == nil {
		return nil, fmt.Errorf("multiplex: fallback provider is required")
	}
	copied := make(map[providers.Operation]providers.Provider, len(routes))
	for op, provider := range routes {
		if provider == nil {
			return nil, fmt.Errorf("multiplex: nil provider for operation %q", op)
		}
		copied[op] = provider
	}
	return &Provider{fallback: fallback, routes: copied}, nil
}

func (p *Provider) providerFor(op providers.Operation) providers.Provider {
	if provider, ok := p.routes[op]; ok {
		return provider
	}
	return p.fallback
}

// ParseWithSecondaryModel delegates to the parse backend.
func (p *Provider) ParseWithSecondaryModel(ctx context.Context, prompt string) (string, error) {
	return p.providerFor(providers.OpParse).ParseWithSecondaryModel(ctx, prompt)
}

// Optimize delegates to the optimize backend.
func (p *Provider) Optimize(ctx context.Context, prompt string, chunkSize int, useAccelerator bool) (string, error) {
	return p.providerFor(providers.OpOptimize).Optimize(ctx, prompt, chunkSize, useAccelerator)
}

// Enhance delegates to the enhance backend.
func (p *Provider) Enhance(ctx context.Context, prompt string) (providers.Enhanced, error) {
	return p.providerFor(providers.OpEnhance).Enhance(ctx, prompt)
}

// ProcessWithPrimaryModel delegates to the process backend.
func (p *Provider) ProcessWithPrimaryModel(ctx context.Context, prompt string) (providers.Response, error) {
	return p.providerFor(providers.OpProcess).ProcessWithPrimaryModel(ctx, prompt)
}

// BindModels forwards the binding to every backend that accepts it.
func (p *Provider) BindModels(primary, secondary string) {
	for _, provider := range p.distinct() {
		if b, ok := provider.(providers.ModelBinder); ok {
			b.BindModels(primary, secondary)
		}
	}
}

// Close closes each backend once and returns the first error.
func (p *Provider) Close() error {
	var firstErr error
	for _, provider := range p.distinct() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Provider) distinct() []providers.Provider {
	out := []providers.Provider{p.fallback}
	seen := map[providers.Provider]struct{}{p.fallback: {}}
	for _, op := range providers.Operations() {
		provider, ok := p.routes[op]
		if !ok {
			continue
		}
		if _, dup := seen[provider]; dup {
			continue
		}
		seen[provider] = struct{}{}
		out = append(out, provider)
	}
	return out
}
