// internal/providers/provider.go

// Package providers defines the contract between the refinement pipeline and the
// model backends that transform prompt text. Implementations may run in process
// (local) or call a remote OpenAI-compatible server (llamacpp).
package providers

import "context"

// Operation names one of the four provider calls. They label logs and metrics.
type Operation string

const (
	OpParse    Operation = "parse"
	OpOptimize Operation = "optimize"
	OpEnhance  Operation = "enhance"
	OpProcess  Operation = "process"
)

// Operations returns the provider operations in pipeline order.
func Operations() []Operation {
	return []Operation{OpParse, OpOptimize, OpEnhance, OpProcess}
}

// Enhanced is the result of the enhance operation.
type Enhanced struct {
	Text       string `json:"text"`
	TokenCount int    `json:"tokenCount"`
}

// Response is the result of the primary model call.
type Response struct {
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount"`
}

// Provider is the interface every model backend implements. Each call is a
// suspension point and must return promptly once ctx is done.
type Provider interface {
	// ParseWithSecondaryModel lets the lightweight model analyse the prompt structure.
	ParseWithSecondaryModel(ctx context.Context, prompt string) (string, error)
	// Optimize splits the prompt into chunks of chunkSize tokens for accelerated processing.
	Optimize(ctx context.Context, prompt string, chunkSize int, useAccelerator bool) (string, error)
	// Enhance produces the refined prompt and its token count.
	Enhance(ctx context.Context, prompt string) (Enhanced, error)
	// ProcessWithPrimaryModel sends the refined prompt to the primary model.
	ProcessWithPrimaryModel(ctx context.Context, prompt string) (Response, error)
	// Close releases any resources held by the provider.
	Close() error
}

// ModelBinder is implemented by providers whose backend models follow the
// pipeline configuration. The orchestrator binds the run's models before the
// first stage.
type ModelBinder interface {
	BindModels(primary, secondary string)
}

// EstimateTokens approximates a token count as one token per four characters,
// with a floor of one token for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
