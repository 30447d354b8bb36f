package appconfig

import (
	"fmt"
	"io"
	"slices"
	"sort"
)

// ShowConfig prints the current configuration summary.
func ShowConfig(out io.Writer, file string, cfg Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)
	fmt.Fprintf(out, "  JSON Mode:       %v\n", cfg.JSONMode)
	fmt.Fprintf(out, "  Log File:        %s\n", cfg.LogFilePath())
	fmt.Fprintf(out, "  Settings Path:   %s\n", cfg.SettingsFilePath())
	if cfg.HistoryPath == "" {
		fmt.Fprintln(out, "  History:         in memory")
	} else {
		fmt.Fprintf(out, "  History:         %s\n", cfg.HistoryPath)
	}
	fmt.Fprintf(out, "  Listen:          %s\n", cfg.ListenAddr())
	fmt.Fprintf(out, "  Run Timeout:     %s\n", cfg.RunTimeout())
	fmt.Fprintf(out, "  Save Debounce:   %s\n", cfg.SaveDelay())
	fmt.Fprintf(out, "  Event Buffer:    %d\n", cfg.EventBufferSize())
	fmt.Fprintf(out, "  Metrics:         %v\n", cfg.Metrics)
	if cfg.Metrics {
		fmt.Fprintf(out, "  Metrics Path:    %s\n", cfg.MetricsFilePath())
	}
	fmt.Fprintf(out, "  Provider:        %s\n", cfg.Provider.Kind())
	for _, op := range routableOperations {
		if kind := cfg.Provider.RouteFor(op); kind != cfg.Provider.Kind() {
			fmt.Fprintf(out, "  Route %-10s -> %s\n", op, kind)
		}
	}
	backends := cfg.Provider.Backends()
	remote := false
	for _, kind := range []string{ProviderLlamaCpp, ProviderOllama} {
		if !slices.Contains(backends, kind) {
			continue
		}
		remote = true
		if kind == ProviderOllama && cfg.Provider.OllamaURL != "" {
			fmt.Fprintf(out, "  Ollama URL:      %s\n", cfg.Provider.URLFor(kind))
			continue
		}
		fmt.Fprintf(out, "  Provider URL:    %s\n", cfg.Provider.URLFor(kind))
	}
	if remote {
		fmt.Fprintf(out, "  Request Timeout: %s\n", cfg.RequestTimeout())
	}
	names := make([]string, 0, len(cfg.Provider.Models))
	for name := range cfg.Provider.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  Model %-10s -> %s\n", name, cfg.Provider.Models[name])
	}
}
