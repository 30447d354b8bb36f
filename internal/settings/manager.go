package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mwiater/refiner/internal/logging"
)

// DefaultSaveDelay is how long edits must be quiet before they are written.
const DefaultSaveDelay = time.Second

// Manager owns the active Configuration. Edits are serialized, and writes to
// the Store are debounced so bursts of edits produce one write.
type Manager struct {
	mu      sync.Mutex
	current Configuration

	writeMu sync.Mutex
	store   Store
	lastErr error

	debounced func(func())
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithSaveDelay overrides the debounce window.
func WithSaveDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.debounced = debounce.New(d)
		}
	}
}

// NewManager creates a Manager holding the default Configuration. Call Load to
// pick up the persisted value.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		current:   Default(),
		store:     store,
		debounced: debounce.New(DefaultSaveDelay),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the active Configuration with the stored one. Missing, unreadable,
// malformed or invalid blobs all degrade to Default; the failure is logged, never returned.
func (m *Manager) Load() Configuration {
	cfg := Default()
	data, err := m.store.Load()
	switch {
	case err != nil:
		logging.LogEvent("[SETTINGS] could not read stored configuration, using defaults: %v", err)
	case len(data) == 0:
	default:
		decoded, decodeErr := Decode(data)
		if decodeErr != nil {
			logging.LogEvent("[SETTINGS] stored configuration is corrupt, using defaults: %v", decodeErr)
		} else {
			cfg = decoded
		}
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return cfg
}

// Current returns a snapshot of the active Configuration.
func (m *Manager) Current() Configuration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Update applies fn to a copy of the active Configuration. The result replaces the
// active value only when fn succeeds and the result is valid; a debounced save follows.
func (m *Manager) Update(fn func(*Configuration) error) (Configuration, error) {
	m.mu.Lock()
	next := m.current
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return m.Current(), err
	}
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return m.Current(), err
	}
	m.current = next
	m.mu.Unlock()

	m.Save()
	return next, nil
}

// Set assigns one field by name, see Configuration.Apply.
func (m *Manager) Set(field, value string) (Configuration, error) {
	return m.Update(func(c *Configuration) error {
		return c.Apply(field, value)
	})
}

// SetChunkSize assigns the chunk size, clamping it into range.
func (m *Manager) SetChunkSize(size int) Configuration {
	cfg, _ := m.Update(func(c *Configuration) error {
		c.SetChunkSize(size)
		return nil
	})
	return cfg
}

// TogglePrivacyMode flips privacy mode and returns the new Configuration.
func (m *Manager) TogglePrivacyMode() Configuration {
	cfg, _ := m.Update(func(c *Configuration) error {
		c.SetPrivacyMode(!c.PrivacyMode)
		return nil
	})
	return cfg
}

// ToggleAccelerator flips hardware acceleration and returns the new Configuration.
func (m *Manager) ToggleAccelerator() Configuration {
	cfg, _ := m.Update(func(c *Configuration) error {
		c.SetUseAccelerator(!c.UseAccelerator)
		return nil
	})
	return cfg
}

// Save schedules a debounced write of the active Configuration. It never blocks
// on the store; failures are logged and reported by LastError.
func (m *Manager) Save() {
	m.debounced(func() {
		_ = m.persist()
	})
}

// Flush writes the active Configuration immediately.
func (m *Manager) Flush() error {
	return m.persist()
}

// Reset restores and persists the default Configuration.
func (m *Manager) Reset() Configuration {
	cfg := Default()
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	_ = m.persist()
	return cfg
}

// LastError returns the error from the most recent write, if any.
func (m *Manager) LastError() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.lastErr
}

func (m *Manager) persist() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	data, err := Encode(m.Current())
	if err == nil {
		err = m.store.Save(data)
	}
	m.lastErr = err
	if err != nil {
		logging.LogEvent("[SETTINGS] failed to persist configuration: %v", err)
	}
	return err
}

// Encode serializes a Configuration into the stored blob format.
func Encode(cfg Configuration) ([]byte, error) {
	return json.Marshal(cfg)
}

// Decode parses and validates a stored blob.
func Decode(data []byte) (Configuration, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(configurationSchema()), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Configuration{}, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return Configuration{}, fmt.Errorf("configuration failed validation: %s", strings.Join(details, "; "))
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// configurationSchema describes the stored blob. Cross-field rules such as the
// lightweight secondary model are left to Validate.
func configurationSchema() map[string]any {
	models := make([]any, 0, len(Models()))
	for _, m := range Models() {
		models = append(models, string(m))
	}
	levels := make([]any, 0, 3)
	for _, l := range OptimizationLevels() {
		levels = append(levels, string(l))
	}
	quants := make([]any, 0, 3)
	for _, q := range Quantizations() {
		quants = append(quants, string(q))
	}
	return map[string]any{
		"type": "object",
		"required": []any{
			FieldPrimaryModel, FieldSecondaryModel, FieldOptimizationLevel,
			FieldChunkSize, FieldUseAccelerator, FieldPrivacyMode, FieldQuantization,
		},
		"properties": map[string]any{
			FieldPrimaryModel:      map[string]any{"type": "string", "enum": models},
			FieldSecondaryModel:    map[string]any{"type": "string", "enum": models},
			FieldOptimizationLevel: map[string]any{"type": "string", "enum": levels},
			FieldChunkSize: map[string]any{
				"type":       "integer",
				"minimum":    MinChunkSize,
				"maximum":    MaxChunkSize,
				"multipleOf": ChunkSizeStep,
			},
			FieldUseAccelerator: map[string]any{"type": "boolean"},
			FieldPrivacyMode:    map[string]any{"type": "boolean"},
			FieldQuantization:   map[string]any{"type": "string", "enum": quants},
		},
	}
}
