// internal/metrics/provider.go
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/providers"
)

// Provider is a decorator that wraps a providers.Provider to record call statistics.
type Provider struct {
	wrapped    providers.Provider
	aggregator *Aggregator
	now        func() time.Time

	mu        sync.Mutex
	primary   string
	secondary string
}

// NewProvider creates a metrics-enabled provider. The model names label the
// recorded statistics: the primary model for ProcessWithPrimaryModel, the
// secondary model for the other operations.
func NewProvider(wrapped providers.Provider, aggregator *Aggregator, primary, secondary string) *Provider {
	logging.LogEvent("[METRICS] Wrapping provider with metrics provider")
	return &Provider{
		wrapped:    wrapped,
		aggregator: aggregator,
		primary:    primary,
		secondary:  secondary,
		now:        time.Now,
	}
}

// BindModels relabels later statistics and forwards the binding when the
// wrapped provider supports it.
func (p *Provider) BindModels(primary, secondary string) {
	p.mu.Lock()
	p.primary, p.secondary = primary, secondary
	p.mu.Unlock()
	if b, ok := p.wrapped.(providers.ModelBinder); ok {
		b.BindModels(primary, secondary)
	}
}

func (p *Provider) models() (primary, secondary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primary, p.secondary
}

func (p *Provider) record(op providers.Operation, model string, start time.Time, in, out int, err error) {
	if p.aggregator == nil {
		return
	}
	p.aggregator.Record(Call{
		Operation:    string(op),
		Model:        model,
		Latency:      p.now().Sub(start),
		InputTokens:  in,
		OutputTokens: out,
		Err:          err,
	})
}

// ParseWithSecondaryModel records the wrapped call.
func (p *Provider) ParseWithSecondaryModel(ctx context.Context, prompt string) (string, error) {
	start := p.now()
	out, err := p.wrapped.ParseWithSecondaryModel(ctx, prompt)
	_, secondary := p.models()
	p.record(providers.OpParse, secondary, start, providers.EstimateTokens(prompt), providers.EstimateTokens(out), err)
	return out, err
}

// Optimize records the wrapped call.
func (p *Provider) Optimize(ctx context.Context, prompt string, chunkSize int, useAccelerator bool) (string, error) {
	start := p.now()
	out, err := p.wrapped.Optimize(ctx, prompt, chunkSize, useAccelerator)
	_, secondary := p.models()
	p.record(providers.OpOptimize, secondary, start, providers.EstimateTokens(prompt), providers.EstimateTokens(out), err)
	return out, err
}

// Enhance records the wrapped call.
func (p *Provider) Enhance(ctx context.Context, prompt string) (providers.Enhanced, error) {
	start := p.now()
	out, err := p.wrapped.Enhance(ctx, prompt)
	_, secondary := p.models()
	p.record(providers.OpEnhance, secondary, start, providers.EstimateTokens(prompt), out.TokenCount, err)
	return out, err
}

// ProcessWithPrimaryModel records the wrapped call.
func (p *Provider) ProcessWithPrimaryModel(ctx context.Context, prompt string) (providers.Response, error) {
	start := p.now()
	out, err := p.wrapped.ProcessWithPrimaryModel(ctx, prompt)
	primary, _ := p.models()
	p.record(providers.OpProcess, primary, start, providers.EstimateTokens(prompt), out.TokenCount, err)
	return out, err
}

// Close passes the call through to the wrapped provider.
func (p *Provider) Close() error {
	return p.wrapped.Close()
}
