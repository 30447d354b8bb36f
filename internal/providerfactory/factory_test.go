// internal/providerfactory/factory_test.go
package providerfactory

import (
	"testing"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/metrics"
	"github.com/mwiater/refiner/internal/providers/llamacpp"
	"github.com/mwiater/refiner/internal/providers/local"
	"github.com/mwiater/refiner/internal/providers/multiplex"
	"github.com/mwiater/refiner/internal/providers/ollama"
	"github.com/mwiater/refiner/internal/settings"
)

func TestNewProviderErrorsOnNilConfig(t *testing.T) {
	if _, err := NewProvider(nil, settings.Default(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewProviderDefaultsToLocal(t *testing.T) {
	provider, err := NewProvider(&appconfig.Config{}, settings.Default(), nil)
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if _, ok := provider.(*local.Provider); !ok {
		t.Fatalf("expected local.Provider, got %T", provider)
	}
}

func TestNewProviderSelectsLlamaCpp(t *testing.T) {
	cfg := &appconfig.Config{Provider: appconfig.Provider{Type: "llamacpp", URL: "http://localhost:8080"}}
	provider, err := NewProvider(cfg, settings.Default(), nil)
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if _, ok := provider.(*llamacpp.Provider); !ok {
		t.Fatalf("expected llamacpp.Provider, got %T", provider)
	}
}

func TestNewProviderSelectsOllama(t *testing.T) {
	cfg := &appconfig.Config{Provider: appconfig.Provider{Type: "ollama", OllamaURL: "http://localhost:11434"}}
	provider, err := NewProvider(cfg, settings.Default(), nil)
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if _, ok := provider.(*ollama.Provider); !ok {
		t.Fatalf("expected ollama.Provider, got %T", provider)
	}
}

func TestNewProviderRejectsUnsupported(t *testing.T) {
	cfg := &appconfig.Config{Provider: appconfig.Provider{Type: "unsupported"}}
	if _, err := NewProvider(cfg, settings.Default(), nil); err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
}

func TestNewProviderWrapsWithMetrics(t *testing.T) {
	agg := metrics.NewAggregator("", 0)
	defer agg.Close()

	provider, err := NewProvider(&appconfig.Config{Metrics: true}, settings.Default(), agg)
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if _, ok := provider.(*metrics.Provider); !ok {
		t.Fatalf("expected metrics.Provider, got %T", provider)
	}
}

func TestNewProviderMultiplexesRoutes(t *testing.T) {
	cfg := &appconfig.Config{Provider: appconfig.Provider{
		URL:    "http://localhost:8080",
		Routes: map[string]string{"process": "llama.cpp"},
	}}
	provider, err := NewProvider(cfg, settings.Default(), nil)
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if _, ok := provider.(*multiplex.Provider); !ok {
		t.Fatalf("expected multiplex.Provider, got %T", provider)
	}
}
