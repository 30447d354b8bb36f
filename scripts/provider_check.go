// scripts/provider_check.go
//
// provider_check runs one refinement against the provider named in a config
// file and prints each stage as it happens. It is meant for checking a
// llama.cpp or Ollama server by hand:
//
//	go run ./scripts/provider_check.go -config config/config.json -prompt "Summarize this article"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/events"
	"github.com/mwiater/refiner/internal/history"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/providerfactory"
	"github.com/mwiater/refiner/internal/run"
	"github.com/mwiater/refiner/internal/settings"
)

func main() {
	configPath := flag.String("config", appconfig.DefaultConfigPath, "Path to config JSON")
	prompt := flag.String("prompt", "Summarize this article", "Prompt to refine")
	timeout := flag.Duration("timeout", 5*time.Minute, "Timeout for the whole run")
	flag.Parse()

	if err := check(*configPath, *prompt, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "provider check failed: %v\n", err)
		os.Exit(1)
	}
}

func check(configPath, prompt string, timeout time.Duration) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("Provider: %s\n", cfg.Provider.Kind())
	for _, kind := range cfg.Provider.Backends() {
		if kind != appconfig.ProviderLocal {
			fmt.Printf("  %s at %s\n", kind, cfg.Provider.URLFor(kind))
		}
	}

	pipelineCfg := settings.Default()
	provider, err := providerfactory.NewProvider(&cfg, pipelineCfg, nil)
	if err != nil {
		return err
	}
	defer provider.Close()

	bus := events.NewBus(events.DefaultRetain)
	orch, err := pipeline.New(provider, history.NewMemoryStore(), bus)
	if err != nil {
		return err
	}

	sub := bus.Subscribe(cfg.EventBufferSize())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.C {
			if e.Kind == events.KindStage && e.Status != run.StatusPending {
				fmt.Printf("  [%d] %-22s %s\n", e.StageIndex, e.StageName, e.Status)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res, err := orch.Execute(ctx, prompt, pipelineCfg)
	sub.Close()
	<-done
	if err != nil {
		return err
	}

	fmt.Printf("\nEnhanced prompt (%d tokens):\n%s\n", res.Run.TokenCount, *res.Run.EnhancedText)
	fmt.Printf("\nOutput:\n%s\n", *res.Run.OutputText)
	fmt.Printf("\nTotal: %s\n", res.Metrics.TotalProcessingTime.Round(time.Millisecond))
	return nil
}
