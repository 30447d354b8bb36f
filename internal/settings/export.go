package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Technique is one optimization the pipeline applies, with the offline
// benchmark figure it is credited with.
type Technique struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Performance string `json:"performance" yaml:"performance"`
}

// Technique names.
const (
	TechniqueAccelerator  = "NPU Acceleration"
	TechniqueDualModel    = "Dual-Model Refinement"
	TechniqueQuantized    = "Quantized Inference"
	TechniqueTokenOptimal = "Token Optimization"
	TechniquePrivacy      = "Privacy Preserving"
	TechniqueChunked      = "Chunked Processing"
)

// Techniques returns the technique catalogue in display order.
func Techniques() []Technique {
	return []Technique{
		{Name: TechniqueAccelerator, Description: "Hardware-optimized inference pipeline", Performance: "22.4x faster"},
		{Name: TechniqueDualModel, Description: "Multi-model collaboration for enhanced accuracy", Performance: "+21.6% accuracy"},
		{Name: TechniqueQuantized, Description: "Low-precision weights for efficient processing", Performance: "67.8% UX improvement"},
		{Name: TechniqueTokenOptimal, Description: "Smart token reduction and compression", Performance: "47% token reduction"},
		{Name: TechniquePrivacy, Description: "Federated learning with differential privacy", Performance: "83% privacy boost"},
		{Name: TechniqueChunked, Description: "Fixed-size token segments with overlap maintenance", Performance: "30.7x energy savings"},
	}
}

// AppliedTechniques lists the techniques a run with cfg exercises.
func AppliedTechniques(cfg Configuration) []string {
	applied := []string{TechniqueDualModel, TechniqueQuantized, TechniqueTokenOptimal, TechniqueChunked}
	if cfg.UseAccelerator {
		applied = append([]string{TechniqueAccelerator}, applied...)
	}
	if cfg.PrivacyMode {
		applied = append(applied, TechniquePrivacy)
	}
	return applied
}

// Export is the shareable document produced by ExportDocument.
type Export struct {
	Settings   Configuration `json:"settings" yaml:"settings"`
	Techniques []Technique   `json:"techniques" yaml:"techniques"`
	Timestamp  string        `json:"timestamp" yaml:"timestamp"`
}

// ExportDocument encodes cfg with the technique catalogue as "yaml" or "json".
func ExportDocument(cfg Configuration, format string, now time.Time) ([]byte, error) {
	doc := Export{
		Settings:   cfg,
		Techniques: Techniques(),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml", "yml":
		return yaml.Marshal(doc)
	case "json":
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported export format %q (expected yaml or json)", format)
	}
}
