// internal/providers/ollama/provider.go
// Package ollama provides a Provider backed by Ollama-compatible HTTP endpoints.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/providers"
)

const (
	parseSystemPrompt = "Restructure the user's prompt into labelled sections (Context, Constraints, Format, Task). " +
		"Keep the task wording intact and reply with the sections only."
	optimizeSystemPrompt = "Shorten the prompt without changing its intent. Treat it as segments of at most %d tokens " +
		"and keep the section labels."
	enhanceSystemPrompt = "Turn the prompt into a refined prompt for a larger model. Append an Optimization and a Quality " +
		"section and reply with the refined prompt only."
)

// Provider implements providers.Provider using Ollama HTTP APIs.
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

// New constructs a Provider configured with the application's request timeout.
// primary and secondary are pipeline model names mapped through the configured
// model table.
func New(cfg appconfig.Config, primary, secondary string) *Provider {
	timeout := cfg.RequestTimeout()
	p := &Provider{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		url:     strings.TrimRight(cfg.Provider.URLFor(appconfig.ProviderOllama), "/"),
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

// ollamaPsResponse defines the structure of the response from the /api/ps endpoint.
type ollamaPsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// chatResponse is the non-streaming /api/chat reply.
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	TotalDuration   int64 `json:"total_duration"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadedModels returns the models currently loaded in memory on the host.
func (p *Provider) LoadedModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := p.url + "/api/ps"
	logging.LogRequest("REFINER->LLM", p.url, "", "ps", map[string]string{"method": http.MethodGet, "url": endpoint})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: /api/ps returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.LogRequest("LLM->REFINER", p.url, "", "ps", body)

	var ps ollamaPsResponse
	if err := json.Unmarshal(body, &ps); err != nil {
		return nil, err
	}

	names := make([]string, len(ps.Models))
	for i, m := range ps.Models {
		names[i] = m.Name
	}
	return names, nil
}

// EnsureModelReady loads model with an empty generate request unless /api/ps
// already lists it. A model that was ready once is not checked again.
func (p *Provider) EnsureModelReady(ctx context.Context, model string) error {
	p.mu.Lock()
	ready := p.ready[model]
	p.mu.Unlock()
	if ready {
		return nil
	}

	if loaded, err := p.LoadedModels(ctx); err == nil && slices.Contains(loaded, model) {
		p.markReady(model)
		return nil
	}

	body, err := json.Marshal(map[string]any{"model": model})
	if err != nil {
		return err
	}
	logging.LogRequest("REFINER->LLM", p.url, model, "load", body)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: load %s: %w", model, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logging.LogRequest("LLM->REFINER", p.url, model, "load", respBody)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: /api/generate returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	p.markReady(model)
	return nil
}

func (p *Provider) markReady(model string) {
	p.mu.Lock()
	p.ready[model] = true
	p.mu.Unlock()
}

// ParseWithSecondaryModel asks the secondary model to structure the prompt.
func (p *Provider) ParseWithSecondaryModel(ctx context.Context, prompt string) (string, error) {
	_, secondary := p.models()
	out, _, err := p.chat(ctx, providers.OpParse, secondary, parseSystemPrompt, prompt)
	return out, err
}

// Optimize asks the secondary model to compress the prompt. The accelerator
// flag has no remote meaning and is only logged.
func (p *Provider) Optimize(ctx context.Context, prompt string, chunkSize int, useAccelerator bool) (string, error) {
	_, secondary := p.models()
	logging.LogEvent("ollama: optimize chunkSize=%d accelerator=%t", chunkSize, useAccelerator)
	out, _, err := p.chat(ctx, providers.OpOptimize, secondary, fmt.Sprintf(optimizeSystemPrompt, chunkSize), prompt)
	return out, err
}

// Enhance asks the secondary model for the refined prompt.
func (p *Provider) Enhance(ctx context.Context, prompt string) (providers.Enhanced, error) {
	_, secondary := p.models()
	out, tokens, err := p.chat(ctx, providers.OpEnhance, secondary, enhanceSystemPrompt, prompt)
	if err != nil {
		return providers.Enhanced{}, err
	}
	return providers.Enhanced{Text: out, TokenCount: tokens}, nil
}

// ProcessWithPrimaryModel sends the refined prompt to the primary model as a plain user message.
func (p *Provider) ProcessWithPrimaryModel(ctx context.Context, prompt string) (providers.Response, error) {
	primary, _ := p.models()
	out, tokens, err := p.chat(ctx, providers.OpProcess, primary, "", prompt)
	if err != nil {
		return providers.Response{}, err
	}
	return providers.Response{Content: out, TokenCount: tokens}, nil
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// chat issues one non-streaming /api/chat request and returns the reply with
// its eval count, estimated when the server omits it.
func (p *Provider) chat(ctx context.Context, op providers.Operation, model, system, prompt string) (string, int, error) {
	if err := p.EnsureModelReady(ctx, model); err != nil {
		return "", 0, err
	}

	messages := []chatMessage{}
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: strings.TrimSpace(prompt)})

	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return "", 0, err
	}
	logging.LogRequest("REFINER->LLM", p.url, model, string(op), body)

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("ollama %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	logging.LogRequest("LLM->REFINER", p.url, model, string(op), raw)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("ollama: /api/chat returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var result chatResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", 0, fmt.Errorf("ollama %s: decode response: %w", op, err)
	}
	content := strings.TrimSpace(result.Message.Content)
	if content == "" {
		return "", 0, fmt.Errorf("ollama %s: empty reply", op)
	}
	tokens := result.EvalCount
	if tokens <= 0 {
		tokens = providers.EstimateTokens(content)
	}
	return content, tokens, nil
}
