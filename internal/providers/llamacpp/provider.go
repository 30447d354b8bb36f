// internal/providers/llamacpp/provider.go
// Package llamacpp provides a Provider backed by llama.cpp's OpenAI-compatible HTTP API.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/providers"
)

const (
	parseSystemPrompt = "You are a lightweight prompt parser running on-device. Restructure the user's prompt into labelled sections " +
		"(Context, Constraints, Format, Task). Keep the task wording intact and reply with the sections only."
	optimizeSystemPrompt = "Reduce the token count of the prompt while preserving its intent. Work in segments of at most %d tokens " +
		"and keep the section labels."
	enhanceSystemPrompt = "Rewrite the prompt into a refined prompt for a larger model. Add an Optimization and a Quality section " +
		"and reply with the refined prompt only."
)

// Provider implements providers.Provider using llama.cpp HTTP APIs.
type Provider struct {
	client  *http.Client
	url     string
	timeout time.Duration
	cfg     appconfig.Provider

	mu        sync.Mutex
	primary   string
	secondary string
	ready     map[string]bool
}

// New constructs a Provider configured with the application's provider settings.
// primary and secondary are pipeline model names; they are mapped to backend ids
// through the configured model table.
func New(cfg appconfig.Config, primary, secondary string) *Provider {
	timeout := cfg.RequestTimeout()
	p := &Provider{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		url:     strings.TrimRight(cfg.Provider.URLFor(appconfig.ProviderLlamaCpp), "/"),
		timeout: timeout,
		cfg:     cfg.Provider,
		ready:   make(map[string]bool),
	}
	p.BindModels(primary, secondary)
	return p
}

// BindModels selects the backend models used for subsequent calls.
func (p *Provider) BindModels(primary, secondary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.primary = p.cfg.Model(primary)
	p.secondary = p.cfg.Model(secondary)
}

func (p *Provider) models() (primary, secondary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primary, p.secondary
}

// ParseWithSecondaryModel asks the secondary model to structure the prompt.
func (p *Provider) ParseWithSecondaryModel(ctx context.Context, prompt string) (string, error) {
	_, secondary := p.models()
	resp, err := p.complete(ctx, providers.OpParse, secondary, parseSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return resp.content, nil
}

// Optimize asks the secondary model to compress the prompt segment by segment.
// The accelerator flag has no remote meaning and is only logged.
func (p *Provider) Optimize(ctx context.Context, prompt string, chunkSize int, useAccelerator bool) (string, error) {
	_, secondary := p.models()
	logging.LogEvent("llama.cpp: optimize chunkSize=%d accelerator=%t", chunkSize, useAccelerator)
	resp, err := p.complete(ctx, providers.OpOptimize, secondary, fmt.Sprintf(optimizeSystemPrompt, chunkSize), prompt)
	if err != nil {
		return "", err
	}
	return resp.content, nil
}

// Enhance asks the secondary model for the refined prompt.
func (p *Provider) Enhance(ctx context.Context, prompt string) (providers.Enhanced, error) {
	_, secondary := p.models()
	resp, err := p.complete(ctx, providers.OpEnhance, secondary, enhanceSystemPrompt, prompt)
	if err != nil {
		return providers.Enhanced{}, err
	}
	return providers.Enhanced{Text: resp.content, TokenCount: resp.tokens}, nil
}

// ProcessWithPrimaryModel sends the refined prompt to the primary model as a plain user message.
func (p *Provider) ProcessWithPrimaryModel(ctx context.Context, prompt string) (providers.Response, error) {
	primary, _ := p.models()
	resp, err := p.complete(ctx, providers.OpProcess, primary, "", prompt)
	if err != nil {
		return providers.Response{}, err
	}
	return providers.Response{Content: resp.content, TokenCount: resp.tokens}, nil
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type completion struct {
	content string
	tokens  int
}

func (p *Provider) complete(ctx context.Context, op providers.Operation, model, system, prompt string) (completion, error) {
	if strings.TrimSpace(model) != "" {
		if err := p.ensureModelReady(ctx, model); err != nil {
			return completion{}, err
		}
	}

	messages := []openAIMessage{}
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: strings.TrimSpace(prompt)})

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return completion{}, err
	}
	logging.LogRequest("REFINER->LLM", p.url, model, string(op), body)

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.url+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return completion{}, fmt.Errorf("llama.cpp %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion{}, err
	}
	logging.LogRequest("LLM->REFINER", p.url, model, string(op), raw)

	if resp.StatusCode != http.StatusOK {
		return completion{}, fmt.Errorf("llama.cpp: /v1/chat/completions returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return completion{}, fmt.Errorf("llama.cpp %s: decode response: %w", op, err)
	}
	if len(parsed.Choices) == 0 {
		return completion{}, fmt.Errorf("llama.cpp: chat response contained no choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return completion{}, fmt.Errorf("llama.cpp %s: empty completion", op)
	}
	tokens := parsed.Usage.CompletionTokens
	if tokens <= 0 {
		tokens = providers.EstimateTokens(content)
	}
	return completion{content: content, tokens: tokens}, nil
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
