// Package stages defines the fixed, ordered catalog of refinement stages and
// the timing policy each one follows.
package stages

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/mwiater/refiner/internal/settings"
)

// Stage indexes. They are contiguous and start at 1.
const (
	InputReceived = iota + 1
	SecondaryModelParse
	AcceleratorOptimize
	PromptEnhance
	PrimaryModelProcess
	ResultsDeliver
)

// Count is the number of stages in the catalog.
const Count = ResultsDeliver

// JitterFraction bounds the symmetric random perturbation applied to a base duration.
const JitterFraction = 0.3

// DurationPolicy returns the expected duration of a stage under a configuration.
type DurationPolicy func(settings.Configuration) time.Duration

// Definition describes one stage.
type Definition struct {
	Index       int
	Name        string
	Description string
	Component   string
	Base        DurationPolicy
}

// BaseDuration evaluates the stage's policy for cfg.
func (d Definition) BaseDuration(cfg settings.Configuration) time.Duration {
	if d.Base == nil {
		return 0
	}
	return d.Base(cfg)
}

// External reports whether the stage calls the model-invocation provider.
func (d Definition) External() bool {
	return d.Index > InputReceived && d.Index < ResultsDeliver
}

func fixed(d time.Duration) DurationPolicy {
	return func(settings.Configuration) time.Duration { return d }
}

var catalog = []Definition{
	{
		Index:       InputReceived,
		Name:        "input-received",
		Description: "Processing initial prompt from user",
		Component:   "PromptInput",
		Base:        fixed(10 * time.Millisecond),
	},
	{
		Index:       SecondaryModelParse,
		Name:        "secondary-model-parse",
		Description: "Lightweight model analyzing prompt structure",
		Component:   "SecondaryModel",
		Base:        fixed(150 * time.Millisecond),
	},
	{
		Index:       AcceleratorOptimize,
		Name:        "accelerator-optimize",
		Description: "Hardware-accelerated chunk processing",
		Component:   "Accelerator",
		Base: func(cfg settings.Configuration) time.Duration {
			if cfg.UseAccelerator {
				return 50 * time.Millisecond
			}
			return 200 * time.Millisecond
		},
	},
	{
		Index:       PromptEnhance,
		Name:        "prompt-enhance",
		Description: "Generating refined prompt structure",
		Component:   "PromptService",
		Base:        fixed(120 * time.Millisecond),
	},
	{
		Index:       PrimaryModelProcess,
		Name:        "primary-model-process",
		Description: "Primary model processing enhanced prompt",
		Component:   "PrimaryModel",
		Base:        fixed(300 * time.Millisecond),
	},
	{
		Index:       ResultsDeliver,
		Name:        "results-deliver",
		Description: "Presenting optimized results to user",
		Component:   "Output",
		Base:        fixed(10 * time.Millisecond),
	},
}

// Catalog returns the stage definitions in execution order. The returned slice
// is a copy; callers may not alter the shared catalog.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the definition with the given index.
func Lookup(index int) (Definition, error) {
	if index < 1 || index > len(catalog) {
		return Definition{}, fmt.Errorf("stage index %d out of range [1,%d]", index, len(catalog))
	}
	return catalog[index-1], nil
}

// Jitter perturbs base by a uniform amount in [-30%, +30%] of base and floors the result at zero.
func Jitter(base time.Duration, r *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	spread := JitterFraction * float64(base)
	var u float64
	if r != nil {
		u = r.Float64()
	} else {
		u = rand.Float64()
	}
	actual := time.Duration(float64(base) + (2*u-1)*spread)
	if actual < 0 {
		return 0
	}
	return actual
}
