// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting the process configuration:
// where state lives, which provider backs the pipeline and how long runs may take.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// DefaultSettingsPath is where the pipeline settings blob is kept when none is configured.
	DefaultSettingsPath = "config/settings.json"
	// DefaultMetricsPath is where provider call statistics are saved.
	DefaultMetricsPath = "reports/data/provider_metrics.json"
	// DefaultListen is the HTTP listen address of the serve command.
	DefaultListen = ":8080"

	// ProviderLocal selects the in-process provider.
	ProviderLocal = "local"
	// ProviderLlamaCpp selects the llama.cpp OpenAI-compatible HTTP provider.
	ProviderLlamaCpp = "llama.cpp"
	// ProviderOllama selects the Ollama HTTP provider.
	ProviderOllama = "ollama"

	defaultRequestTimeout = 600 * time.Second
	defaultRunTimeout     = 120 * time.Second
	defaultSaveDelay      = time.Second
	defaultEventBuffer    = 64
)

var routableOperations = []string{"parse", "optimize", "enhance", "process"}

// Config represents the top-level application configuration.
type Config struct {
	Debug              bool     `json:"debug" mapstructure:"debug"`
	JSONMode           bool     `json:"jsonMode" mapstructure:"jsonMode"`
	LogFile            string   `json:"logFile,omitempty" mapstructure:"logFile"`
	SettingsPath       string   `json:"settingsPath,omitempty" mapstructure:"settingsPath"`
	HistoryPath        string   `json:"historyPath,omitempty" mapstructure:"historyPath"`
	Listen             string   `json:"listen,omitempty" mapstructure:"listen"`
	RunTimeoutSeconds  int      `json:"runTimeout,omitempty" mapstructure:"runTimeout"`
	SaveDebounceMillis int      `json:"saveDebounceMillis,omitempty" mapstructure:"saveDebounceMillis"`
	EventBuffer        int      `json:"eventBuffer,omitempty" mapstructure:"eventBuffer"`
	Metrics            bool     `json:"metrics" mapstructure:"metrics"`
	MetricsPath        string   `json:"metricsPath,omitempty" mapstructure:"metricsPath"`
	Provider           Provider `json:"provider" mapstructure:"provider"`
	ConfigPath         string   `json:"-" mapstructure:"-"`
}

// Provider selects and configures the model backend.
type Provider struct {
	Type           string            `json:"type" mapstructure:"type"`
	URL            string            `json:"url,omitempty" mapstructure:"url"`
	OllamaURL      string            `json:"ollamaUrl,omitempty" mapstructure:"ollamaUrl"`
	Models         map[string]string `json:"models,omitempty" mapstructure:"models"`
	TimeoutSeconds int               `json:"timeout,omitempty" mapstructure:"timeout"`
	// Routes sends individual operations (parse, optimize, enhance, process)
	// to a backend other than Type, for example {"process": "llama.cpp"}.
	Routes map[string]string `json:"routes,omitempty" mapstructure:"routes"`
}

// Kind returns the normalised provider type, defaulting to local.
func (p Provider) Kind() string {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "", ProviderLocal:
		return ProviderLocal
	case "llama.cpp", "llamacpp", "llama-cpp":
		return ProviderLlamaCpp
	case ProviderOllama:
		return ProviderOllama
	default:
		return strings.ToLower(strings.TrimSpace(p.Type))
	}
}

// RouteFor returns the backend kind that serves the named operation.
func (p Provider) RouteFor(operation string) string {
	if kind, ok := p.Routes[strings.ToLower(strings.TrimSpace(operation))]; ok {
		return Provider{Type: kind}.Kind()
	}
	return p.Kind()
}

// URLFor returns the base URL of a remote backend. Ollama uses ollamaUrl when
// set so it can sit next to a llama.cpp server; everything else uses url.
func (p Provider) URLFor(kind string) string {
	if kind == ProviderOllama && strings.TrimSpace(p.OllamaURL) != "" {
		return strings.TrimSpace(p.OllamaURL)
	}
	return strings.TrimSpace(p.URL)
}

// Backends lists the distinct backend kinds referenced by Type and Routes, the
// default kind first.
func (p Provider) Backends() []string {
	kinds := []string{p.Kind()}
	for _, op := range routableOperations {
		kind := p.RouteFor(op)
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Model maps a pipeline model name (for example "Gemma-2B") to the backend's model id.
// Unmapped names are returned unchanged. Names match case-insensitively since
// viper lower-cases map keys.
func (p Provider) Model(name string) string {
	if id, ok := p.Models[name]; ok && strings.TrimSpace(id) != "" {
		return id
	}
	for key, id := range p.Models {
		if strings.EqualFold(key, name) && strings.TrimSpace(id) != "" {
			return id
		}
	}
	return name
}

// RequestTimeout returns the timeout duration for provider HTTP requests, falling back to the default if not specified.
func (c Config) RequestTimeout() time.Duration {
	if c.Provider.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// RunTimeout bounds a single refinement run.
func (c Config) RunTimeout() time.Duration {
	if c.RunTimeoutSeconds <= 0 {
		return defaultRunTimeout
	}
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// SaveDelay is the debounce delay of settings writes.
func (c Config) SaveDelay() time.Duration {
	if c.SaveDebounceMillis <= 0 {
		return defaultSaveDelay
	}
	return time.Duration(c.SaveDebounceMillis) * time.Millisecond
}

// EventBufferSize is the channel buffer given to each event subscriber.
func (c Config) EventBufferSize() int {
	if c.EventBuffer <= 0 {
		return defaultEventBuffer
	}
	return c.EventBuffer
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return "refiner.log"
}

// SettingsFilePath returns the path of the pipeline settings blob.
func (c Config) SettingsFilePath() string {
	if path := strings.TrimSpace(c.SettingsPath); path != "" {
		return path
	}
	return DefaultSettingsPath
}

// MetricsFilePath returns the path provider statistics are saved to.
func (c Config) MetricsFilePath() string {
	if path := strings.TrimSpace(c.MetricsPath); path != "" {
		return path
	}
	return DefaultMetricsPath
}

// ListenAddr returns the HTTP listen address.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.Listen); addr != "" {
		return addr
	}
	return DefaultListen
}

// Validate reports configuration values that cannot be used.
func (c Config) Validate() error {
	var errs []error
	for op := range c.Provider.Routes {
		if !slices.Contains(routableOperations, strings.ToLower(strings.TrimSpace(op))) {
			errs = append(errs, fmt.Errorf("provider.routes: unknown operation %q", op))
		}
	}
	for _, kind := range c.Provider.Backends() {
		switch kind {
		case ProviderLocal:
		case ProviderLlamaCpp, ProviderOllama:
			if c.Provider.URLFor(kind) == "" {
				errs = append(errs, fmt.Errorf("provider.url is required for %s", kind))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported provider type %q", kind))
		}
	}
	if c.RunTimeoutSeconds < 0 {
		errs = append(errs, errors.New("runTimeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Load reads the application configuration from the specified path. A missing
// default file yields the defaults; a missing explicit file is an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	config, err := loadFromPath(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found at %q", path)
		}
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	config.ConfigPath = path
	return config, nil
}

// loadFromPath is a helper function that loads the configuration from a specific file path.
func loadFromPath(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}
