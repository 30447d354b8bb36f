// internal/cli/app.go
package refiner

import (
	"errors"
	"fmt"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/events"
	"github.com/mwiater/refiner/internal/history"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/metrics"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/providerfactory"
	"github.com/mwiater/refiner/internal/providers"
	"github.com/mwiater/refiner/internal/settings"
)

// app holds the components a command works with. Close releases them in
// reverse order of construction.
type app struct {
	cfg          *appconfig.Config
	settings     *settings.Manager
	history      history.Store
	aggregator   *metrics.Aggregator
	provider     providers.Provider
	orchestrator *pipeline.Orchestrator
}

// orchestratorOptions is extended by tests to remove the simulated stage latency.
var orchestratorOptions []pipeline.Option

func newApp(cfg *appconfig.Config) (*app, error) {
	if cfg == nil {
		return nil, errors.New("configuration is not initialized")
	}
	a := &app{cfg: cfg}

	a.settings = settings.NewManager(settings.NewFileStore(cfg.SettingsFilePath()), settings.WithSaveDelay(cfg.SaveDelay()))
	current := a.settings.Load()

	if cfg.HistoryPath == "" {
		a.history = history.NewMemoryStore()
	} else {
		store, err := history.NewSQLiteStore(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.history = store
	}

	if cfg.Metrics {
		a.aggregator = metrics.NewAggregator(cfg.MetricsFilePath(), metrics.DefaultSaveInterval)
	}

	provider, err := providerfactory.NewProvider(cfg, current, a.aggregator)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.provider = provider

	orch, err := pipeline.New(provider, a.history, events.NewBus(events.DefaultRetain), orchestratorOptions...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.orchestrator = orch
	return a, nil
}

// Close closes the provider, history and metrics. Commands that edit settings
// flush them themselves.
func (a *app) Close() error {
	var errs []error
	if a.provider != nil {
		errs = append(errs, a.provider.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.aggregator != nil {
		errs = append(errs, a.aggregator.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		logging.LogEvent("[CLI] close: %v", err)
	}
	return err
}

// withApp builds the components from the loaded configuration, runs fn and closes them.
func withApp(fn func(a *app) error) (err error) {
	a, err := newApp(GetConfig())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
