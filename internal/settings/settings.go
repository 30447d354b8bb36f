// internal/settings/settings.go
// Package settings models the refinement Configuration: which models run the
// pipeline, how aggressively it is tuned, and how it is persisted.
package settings

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MinChunkSize is the smallest accepted chunk size in tokens.
	MinChunkSize = 64
	// MaxChunkSize is the largest accepted chunk size in tokens.
	MaxChunkSize = 512
	// ChunkSizeStep is the granularity of the chunk size setting.
	ChunkSizeStep = 64
)

// ErrInvalidConfiguration is returned when a value violates a Configuration invariant.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Model identifies a supported language model.
type Model string

const (
	ModelGPT4      Model = "GPT-4"
	ModelClaude3   Model = "Claude-3"
	ModelGeminiPro Model = "Gemini-Pro"
	ModelGemma2B   Model = "Gemma-2B"
	ModelPhi3      Model = "Phi-3"
	ModelLLaMA7B   Model = "LLaMA-7B"
)

// Models returns every supported model in display order.
func Models() []Model {
	return []Model{ModelGPT4, ModelClaude3, ModelGeminiPro, ModelGemma2B, ModelPhi3, ModelLLaMA7B}
}

// IsLightweight reports whether the model belongs to the on-device subset that
// may serve as the secondary model.
func (m Model) IsLightweight() bool {
	switch m {
	case ModelGemma2B, ModelPhi3, ModelLLaMA7B:
		return true
	default:
		return false
	}
}

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	for _, known := range Models() {
		if m == known {
			return true
		}
	}
	return false
}

// Description returns a short human description of the model.
func (m Model) Description() string {
	switch m {
	case ModelGPT4:
		return "OpenAI's most capable model"
	case ModelClaude3:
		return "Anthropic's advanced reasoning model"
	case ModelGeminiPro:
		return "Google's multimodal model"
	case ModelGemma2B:
		return "Efficient 2B parameter model"
	case ModelPhi3:
		return "Microsoft's small language model"
	case ModelLLaMA7B:
		return "Meta's 7B parameter model"
	default:
		return ""
	}
}

// OptimizationLevel trades speed against resource usage.
type OptimizationLevel string

const (
	OptimizationPerformance OptimizationLevel = "Performance"
	OptimizationBalanced    OptimizationLevel = "Balanced"
	OptimizationEfficiency  OptimizationLevel = "Efficiency"
)

// OptimizationLevels returns every optimization level in display order.
func OptimizationLevels() []OptimizationLevel {
	return []OptimizationLevel{OptimizationPerformance, OptimizationBalanced, OptimizationEfficiency}
}

// Valid reports whether l is a known optimization level.
func (l OptimizationLevel) Valid() bool {
	switch l {
	case OptimizationPerformance, OptimizationBalanced, OptimizationEfficiency:
		return true
	default:
		return false
	}
}

// Description returns a short human description of the level.
func (l OptimizationLevel) Description() string {
	switch l {
	case OptimizationPerformance:
		return "Maximum speed and accuracy"
	case OptimizationBalanced:
		return "Optimized balance of speed and quality"
	case OptimizationEfficiency:
		return "Minimum resource usage"
	default:
		return ""
	}
}

// Quantization is the weight precision used for inference.
type Quantization string

const (
	Quantization4Bit  Quantization = "4-bit"
	Quantization8Bit  Quantization = "8-bit"
	Quantization16Bit Quantization = "16-bit"
)

// Quantizations returns every quantization level in display order.
func Quantizations() []Quantization {
	return []Quantization{Quantization4Bit, Quantization8Bit, Quantization16Bit}
}

// Valid reports whether q is a known quantization level.
func (q Quantization) Valid() bool {
	switch q {
	case Quantization4Bit, Quantization8Bit, Quantization16Bit:
		return true
	default:
		return false
	}
}

// Description returns a short human description of the quantization level.
func (q Quantization) Description() string {
	switch q {
	case Quantization4Bit:
		return "Maximum compression, good performance"
	case Quantization8Bit:
		return "Balanced compression and quality"
	case Quantization16Bit:
		return "Minimal compression, best quality"
	default:
		return ""
	}
}

// Configuration describes how a refinement run is executed. It is a plain value:
// copies are snapshots and never observe later edits.
type Configuration struct {
	PrimaryModel      Model             `json:"primaryModel" yaml:"primaryModel"`
	SecondaryModel    Model             `json:"secondaryModel" yaml:"secondaryModel"`
	OptimizationLevel OptimizationLevel `json:"optimizationLevel" yaml:"optimizationLevel"`
	ChunkSize         int               `json:"chunkSize" yaml:"chunkSize"`
	UseAccelerator    bool              `json:"useAccelerator" yaml:"useAccelerator"`
	PrivacyMode       bool              `json:"privacyMode" yaml:"privacyMode"`
	Quantization      Quantization      `json:"quantization" yaml:"quantization"`
}

// Default returns the first-launch configuration.
func Default() Configuration {
	return Configuration{
		PrimaryModel:      ModelGPT4,
		SecondaryModel:    ModelGemma2B,
		OptimizationLevel: OptimizationBalanced,
		ChunkSize:         128,
		UseAccelerator:    true,
		PrivacyMode:       false,
		Quantization:      Quantization4Bit,
	}
}

// Validate checks every field invariant and reports all violations at once.
func (c Configuration) Validate() error {
	var problems []string
	if !c.PrimaryModel.Valid() {
		problems = append(problems, fmt.Sprintf("unknown primary model %q", c.PrimaryModel))
	} else if c.PrimaryModel.IsLightweight() {
		problems = append(problems, fmt.Sprintf("primary model %q must not be a lightweight model", c.PrimaryModel))
	}
	if !c.SecondaryModel.Valid() {
		problems = append(problems, fmt.Sprintf("unknown secondary model %q", c.SecondaryModel))
	} else if !c.SecondaryModel.IsLightweight() {
		problems = append(problems, fmt.Sprintf("secondary model %q must be a lightweight model", c.SecondaryModel))
	}
	if !c.OptimizationLevel.Valid() {
		problems = append(problems, fmt.Sprintf("unknown optimization level %q", c.OptimizationLevel))
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize || c.ChunkSize%ChunkSizeStep != 0 {
		problems = append(problems, fmt.Sprintf("chunk size %d outside [%d,%d] step %d", c.ChunkSize, MinChunkSize, MaxChunkSize, ChunkSizeStep))
	}
	if !c.Quantization.Valid() {
		problems = append(problems, fmt.Sprintf("unknown quantization %q", c.Quantization))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(problems, "; "))
}

// ClampChunkSize pulls size into [MinChunkSize, MaxChunkSize] and snaps it to the
// nearest ChunkSizeStep, rounding ties up.
func ClampChunkSize(size int) int {
	if size < MinChunkSize {
		return MinChunkSize
	}
	if size > MaxChunkSize {
		return MaxChunkSize
	}
	snapped := ((size + ChunkSizeStep/2) / ChunkSizeStep) * ChunkSizeStep
	if snapped > MaxChunkSize {
		return MaxChunkSize
	}
	return snapped
}

// SetPrimaryModel assigns the primary model. Lightweight models are rejected.
func (c *Configuration) SetPrimaryModel(m Model) error {
	if !m.Valid() {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidConfiguration, m)
	}
	if m.IsLightweight() {
		return fmt.Errorf("%w: %q cannot be the primary model", ErrInvalidConfiguration, m)
	}
	c.PrimaryModel = m
	return nil
}

// SetSecondaryModel assigns the secondary model. Only lightweight models are accepted.
func (c *Configuration) SetSecondaryModel(m Model) error {
	if !m.Valid() {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidConfiguration, m)
	}
	if !m.IsLightweight() {
		return fmt.Errorf("%w: %q cannot be the secondary model", ErrInvalidConfiguration, m)
	}
	c.SecondaryModel = m
	return nil
}

// SetOptimizationLevel assigns the optimization level.
func (c *Configuration) SetOptimizationLevel(l OptimizationLevel) error {
	if !l.Valid() {
		return fmt.Errorf("%w: unknown optimization level %q", ErrInvalidConfiguration, l)
	}
	c.OptimizationLevel = l
	return nil
}

// SetChunkSize assigns the chunk size, clamping out-of-range values instead of rejecting them.
func (c *Configuration) SetChunkSize(size int) {
	c.ChunkSize = ClampChunkSize(size)
}

// SetUseAccelerator toggles hardware acceleration.
func (c *Configuration) SetUseAccelerator(on bool) { c.UseAccelerator = on }

// SetPrivacyMode toggles privacy-preserving processing.
func (c *Configuration) SetPrivacyMode(on bool) { c.PrivacyMode = on }

// SetQuantization assigns the quantization level.
func (c *Configuration) SetQuantization(q Quantization) error {
	if !q.Valid() {
		return fmt.Errorf("%w: unknown quantization %q", ErrInvalidConfiguration, q)
	}
	c.Quantization = q
	return nil
}
