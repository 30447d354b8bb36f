// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/metrics"
	"github.com/mwiater/refiner/internal/providers"
	"github.com/mwiater/refiner/internal/providers/llamacpp"
	"github.com/mwiater/refiner/internal/providers/local"
	"github.com/mwiater/refiner/internal/providers/multiplex"
	"github.com/mwiater/refiner/internal/providers/ollama"
	"github.com/mwiater/refiner/internal/settings"
)

// NewProvider builds the provider named by the application configuration and
// binds it to the models of the pipeline settings. When provider.routes sends
// operations to other backends the result is a multiplex provider. Metrics
// collection wraps the result when metrics are enabled and an aggregator is given.
func NewProvider(cfg *appconfig.Config, pipeline settings.Configuration, aggregator *metrics.Aggregator) (providers.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("provider factory: %w", err)
	}

	primary, secondary := string(pipeline.PrimaryModel), string(pipeline.SecondaryModel)

	backends := make(map[string]providers.Provider)
	for _, kind := range cfg.Provider.Backends() {
		backends[kind] = newBackend(cfg, kind, primary, secondary)
	}

	provider := backends[cfg.Provider.Kind()]
	if len(backends) > 1 {
		routes := make(map[providers.Operation]providers.Provider)
		for _, op := range providers.Operations() {
			if kind := cfg.Provider.RouteFor(string(op)); kind != cfg.Provider.Kind() {
				routes[op] = backends[kind]
				logging.LogEvent("route %s -> %s", op, kind)
			}
		}
		mux, err := multiplex.New(provider, routes)
		if err != nil {
			return nil, err
		}
		provider = mux
	}

	if cfg.Metrics && aggregator != nil {
		provider = metrics.NewProvider(provider, aggregator, primary, secondary)
	}

	return provider, nil
}

func newBackend(cfg *appconfig.Config, kind, primary, secondary string) providers.Provider {
	switch kind {
	case appconfig.ProviderLlamaCpp:
		logging.LogEvent("llama.cpp provider ready: %s", cfg.Provider.URLFor(kind))
		return llamacpp.New(*cfg, primary, secondary)
	case appconfig.ProviderOllama:
		logging.LogEvent("ollama provider ready: %s", cfg.Provider.URLFor(kind))
		return ollama.New(*cfg, primary, secondary)
	default:
		logging.LogEvent("local provider ready")
		return local.New(local.WithModels(primary, secondary))
	}
}
