// Package pipeline drives a prompt through the stage catalog, one run at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwiater/refiner/internal/events"
	"github.com/mwiater/refiner/internal/history"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/metrics"
	"github.com/mwiater/refiner/internal/providers"
	"github.com/mwiater/refiner/internal/run"
	"github.com/mwiater/refiner/internal/settings"
	"github.com/mwiater/refiner/internal/stages"
)

var (
	// ErrEmptyPrompt rejects a prompt with no visible characters.
	ErrEmptyPrompt = errors.New("pipeline: prompt is empty")
	// ErrBusy rejects a request while another run is active on the same orchestrator.
	ErrBusy = errors.New("pipeline: a run is already active")
)

// StageError reports the stage at which a run failed.
type StageError struct {
	Index int
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result is a finished run together with its metrics. Metrics is nil unless the
// run completed.
type Result struct {
	Run     run.Run                     `json:"run"`
	Metrics *metrics.PerformanceMetrics `json:"metrics,omitempty"`
}

// Orchestrator executes runs against a provider and records completed ones.
type Orchestrator struct {
	provider providers.Provider
	history  history.Store
	bus      *events.Bus
	catalog  []stages.Definition
	now      func() time.Time
	sleep    Sleeper
	newID    func() string
	sampler  metrics.MemorySampler

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	active *run.Run
	cancel context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRand sets the random source used for duration jitter.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithSleeper replaces the timer-based wait.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithCatalog replaces the stage catalog.
func WithCatalog(defs []stages.Definition) Option {
	return func(o *Orchestrator) {
		if len(defs) > 0 {
			o.catalog = append([]stages.Definition(nil), defs...)
		}
	}
}

// WithIDGenerator sets how run IDs are produced.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithMetricsSampler sets the memory reading used in run metrics.
func WithMetricsSampler(s metrics.MemorySampler) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sampler = s
		}
	}
}

// New creates an Orchestrator. A nil store keeps history in memory and a nil
// bus gets a private one.
func New(provider providers.Provider, store history.Store, bus *events.Bus, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("pipeline: provider is required")
	}
	if store == nil {
		store = history.NewMemoryStore()
	}
	if bus == nil {
		bus = events.NewBus(0)
	}
	o := &Orchestrator{
		provider: provider,
		history:  store,
		bus:      bus,
		catalog:  stages.Catalog(),
		now:      time.Now,
		sleep:    sleepContext,
		newID:    uuid.NewString,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sampler == nil {
		o.sampler = metrics.UniformMemorySampler(nil)
	}
	return o, nil
}

// Bus returns the event bus the orchestrator publishes to.
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// History returns the store completed runs are appended to.
func (o *Orchestrator) History() history.Store {
	return o.history
}

// Catalog returns the stage definitions the orchestrator executes.
func (o *Orchestrator) Catalog() []stages.Definition {
	return append([]stages.Definition(nil), o.catalog...)
}

// Active returns a snapshot of the in-flight run.
func (o *Orchestrator) Active() (run.Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return run.Run{}, false
	}
	return o.active.Snapshot(), true
}

// Cancel stops the in-flight run. It reports whether there was one.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Refine runs prompt through every stage with cfg and returns the final run.
// A failed run is returned together with a *StageError.
func (o *Orchestrator) Refine(ctx context.Context, prompt string, cfg settings.Configuration) (*run.Run, error) {
	res, err := o.Execute(ctx, prompt, cfg)
	if res == nil {
		return nil, err
	}
	return &res.Run, err
}

// Execute is Refine that also returns the metrics of a completed run.
func (o *Orchestrator) Execute(ctx context.Context, prompt string, cfg settings.Configuration) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	r := run.New(o.newID(), prompt, o.catalog, cfg, o.now())
	o.active = r
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active = nil
		o.cancel = nil
		o.mu.Unlock()
	}()

	if b, ok := o.provider.(providers.ModelBinder); ok {
		b.BindModels(string(cfg.PrimaryModel), string(cfg.SecondaryModel))
	}

	logging.LogEvent("[PIPELINE] run=%s started primary=%s secondary=%s accelerator=%t chunk=%d", r.ID, cfg.PrimaryModel, cfg.SecondaryModel, cfg.UseAccelerator, cfg.ChunkSize)
	o.bus.Publish(events.Event{Time: r.StartedAt, RunID: r.ID, Kind: events.KindRun, Outcome: run.OutcomeRunning})

	text := prompt
	for _, def := range o.catalog {
		o.transition(r, def, func() error { return r.Advance(def.Index, run.StatusProcessing, nil) }, nil)

		sampled := o.jitter(def.BaseDuration(cfg))
		start := o.now()
		out, err := o.invoke(runCtx, def, text, cfg)
		elapsed := o.now().Sub(start)
		if err == nil && sampled > elapsed {
			err = o.sleep(runCtx, sampled-elapsed)
		}
		if err != nil {
			return o.fail(r, def, err)
		}

		d := max(sampled, elapsed)
		o.transition(r, def, func() error {
			if err := r.Advance(def.Index, run.StatusCompleted, &d); err != nil {
				return err
			}
			switch def.Index {
			case stages.PromptEnhance:
				return r.RecordEnhancement(out.text, out.tokens)
			case stages.PrimaryModelProcess:
				return r.RecordOutput(out.text, out.tokens)
			}
			return nil
		}, &d)
		if out.text != "" {
			text = out.text
		}
	}

	return o.complete(ctx, r)
}

type stageOutput struct {
	text   string
	tokens int
}

// invoke calls the provider operation bound to the stage. Stages without one pass the text through.
func (o *Orchestrator) invoke(ctx context.Context, def stages.Definition, text string, cfg settings.Configuration) (stageOutput, error) {
	switch def.Index {
	case stages.SecondaryModelParse:
		parsed, err := o.provider.ParseWithSecondaryModel(ctx, text)
		return stageOutput{text: parsed}, err
	case stages.AcceleratorOptimize:
		optimized, err := o.provider.Optimize(ctx, text, cfg.ChunkSize, cfg.UseAccelerator)
		return stageOutput{text: optimized}, err
	case stages.PromptEnhance:
		enhanced, err := o.provider.Enhance(ctx, text)
		return stageOutput{text: enhanced.Text, tokens: enhanced.TokenCount}, err
	case stages.PrimaryModelProcess:
		resp, err := o.provider.ProcessWithPrimaryModel(ctx, text)
		return stageOutput{text: resp.Content, tokens: resp.TokenCount}, err
	}
	return stageOutput{}, ctx.Err()
}

// transition applies mutate under the run lock and publishes the resulting stage state.
// An invalid transition is a programming error and panics.
func (o *Orchestrator) transition(r *run.Run, def stages.Definition, mutate func() error, d *time.Duration) {
	o.mu.Lock()
	err := mutate()
	var status run.Status
	if s, ok := r.Stage(def.Index); ok {
		status = s.Status
	}
	o.mu.Unlock()
	if err != nil {
		panic(fmt.Sprintf("pipeline: run %s: %v", r.ID, err))
	}

	logging.LogTransition(r.ID, def.Index, def.Name, string(status), d)
	o.bus.Publish(events.Event{
		Time:       o.now(),
		RunID:      r.ID,
		Kind:       events.KindStage,
		StageIndex: def.Index,
		StageName:  def.Name,
		Status:     status,
		Duration:   d,
	})
}

func (o *Orchestrator) fail(r *run.Run, def stages.Definition, cause error) (*Result, error) {
	stageErr := &StageError{Index: def.Index, Name: def.Name, Err: cause}
	now := o.now()

	o.mu.Lock()
	err := r.Fail(def.Index, cause, now)
	snap := r.Snapshot()
	o.mu.Unlock()
	if err != nil {
		panic(fmt.Sprintf("pipeline: run %s: %v", r.ID, err))
	}

	logging.LogTransition(r.ID, def.Index, def.Name, string(run.StatusFailed), nil)
	logging.LogEvent("[PIPELINE] run=%s failed: %v", r.ID, stageErr)
	o.bus.Publish(events.Event{
		Time:       now,
		RunID:      r.ID,
		Kind:       events.KindStage,
		StageIndex: def.Index,
		StageName:  def.Name,
		Status:     run.StatusFailed,
		Error:      cause.Error(),
	})
	o.bus.Publish(events.Event{
		Time:    now,
		RunID:   r.ID,
		Kind:    events.KindRun,
		Outcome: run.OutcomeFailed,
		Error:   stageErr.Error(),
	})
	return &Result{Run: snap}, stageErr
}

func (o *Orchestrator) complete(ctx context.Context, r *run.Run) (*Result, error) {
	now := o.now()

	o.mu.Lock()
	err := r.Complete(now)
	snap := r.Snapshot()
	o.mu.Unlock()
	if err != nil {
		panic(fmt.Sprintf("pipeline: run %s: %v", r.ID, err))
	}

	m, err := metrics.Compute(snap, o.sampler)
	if err != nil {
		panic(fmt.Sprintf("pipeline: run %s: %v", r.ID, err))
	}
	res := &Result{Run: snap, Metrics: &m}

	// The run is complete; a late cancellation must not lose its history entry.
	var appendErr error
	if err := o.history.Append(context.WithoutCancel(ctx), history.NewEntry(snap, m, now)); err != nil {
		logging.LogEvent("[PIPELINE] run=%s history append failed: %v", r.ID, err)
		appendErr = fmt.Errorf("pipeline: record history: %w", err)
	}

	logging.LogEvent("[PIPELINE] run=%s completed total=%s memory=%.1fMB", r.ID, m.TotalProcessingTime, m.MemoryUsageMB)
	o.bus.Publish(events.Event{
		Time:    now,
		RunID:   r.ID,
		Kind:    events.KindRun,
		Outcome: run.OutcomeCompleted,
		Metrics: &m,
	})
	return res, appendErr
}

func (o *Orchestrator) jitter(base time.Duration) time.Duration {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return stages.Jitter(base, o.rng)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
