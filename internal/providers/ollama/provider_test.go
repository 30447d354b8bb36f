package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/providers"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type fakeOllama struct {
	mu       sync.Mutex
	loaded   []string
	loads    []string
	chats    []chatRequest
	reply    string
	evals    int
	chatCode int
}

func (f *fakeOllama) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/api/ps":
			resp := ollamaPsResponse{}
			for _, name := range f.loaded {
				resp.Models = append(resp.Models, struct {
					Name string `json:"name"`
				}{Name: name})
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/api/generate":
			var req struct {
				Model string `json:"model"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode generate: %v", err)
			}
			f.loads = append(f.loads, req.Model)
			f.loaded = append(f.loaded, req.Model)
			_, _ = w.Write([]byte(`{"done":true}`))
		case "/api/chat":
			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode chat: %v", err)
			}
			f.chats = append(f.chats, req)
			if f.chatCode != 0 {
				w.WriteHeader(f.chatCode)
				_, _ = w.Write([]byte(`{"error":"model not found"}`))
				return
			}
			resp := map[string]any{
				"model":      req.Model,
				"message":    map[string]any{"role": "assistant", "content": f.reply},
				"done":       true,
				"eval_count": f.evals,
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}
}

func newTestProvider(t *testing.T, f *fakeOllama) *Provider {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	cfg := appconfig.Config{Provider: appconfig.Provider{
		Type:           "ollama",
		URL:            "http://unused:8080",
		OllamaURL:      server.URL + "/",
		Models:         map[string]string{"GPT-4": "llama3.1:8b", "Gemma-2B": "gemma2:2b"},
		TimeoutSeconds: 5,
	}}
	return New(cfg, "GPT-4", "Gemma-2B")
}

func TestChatUsesMappedModels(t *testing.T) {
	t.Parallel()
	f := &fakeOllama{reply: "structured prompt", loaded: []string{"gemma2:2b"}}
	p := newTestProvider(t, f)
	ctx := context.Background()

	out, err := p.ParseWithSecondaryModel(ctx, "Summarize this article")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != "structured prompt" {
		t.Fatalf("parse output = %q", out)
	}
	if _, err := p.Optimize(ctx, out, 256, false); err != nil {
		t.Fatalf("optimize: %v", err)
	}
	resp, err := p.ProcessWithPrimaryModel(ctx, "refined")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.TokenCount != providers.EstimateTokens("structured prompt") {
		t.Fatalf("token count = %d", resp.TokenCount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chats) != 3 {
		t.Fatalf("chats = %d, want 3", len(f.chats))
	}
	parse, optimize, process := f.chats[0], f.chats[1], f.chats[2]
	if parse.Model != "gemma2:2b" || parse.Stream {
		t.Fatalf("unexpected parse request: %+v", parse)
	}
	if len(parse.Messages) != 2 || parse.Messages[0].Role != "system" || parse.Messages[1].Content != "Summarize this article" {
		t.Fatalf("unexpected parse messages: %+v", parse.Messages)
	}
	if !strings.Contains(optimize.Messages[0].Content, "at most 256 tokens") {
		t.Fatalf("optimize system prompt missing chunk size: %s", optimize.Messages[0].Content)
	}
	if process.Model != "llama3.1:8b" || len(process.Messages) != 1 {
		t.Fatalf("unexpected process request: %+v", process)
	}
	// gemma2:2b was already listed by /api/ps; only the primary needed loading.
	if len(f.loads) != 1 || f.loads[0] != "llama3.1:8b" {
		t.Fatalf("loads = %v", f.loads)
	}
}

func TestEnhanceUsesEvalCount(t *testing.T) {
	t.Parallel()
	f := &fakeOllama{reply: "refined prompt", evals: 17}
	p := newTestProvider(t, f)

	out, err := p.Enhance(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if out.Text != "refined prompt" || out.TokenCount != 17 {
		t.Fatalf("unexpected enhanced: %+v", out)
	}
}

func TestLoadedModels(t *testing.T) {
	t.Parallel()
	f := &fakeOllama{loaded: []string{"a", "b"}}
	p := newTestProvider(t, f)

	names, err := p.LoadedModels(context.Background())
	if err != nil {
		t.Fatalf("loaded models: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()
	f := &fakeOllama{chatCode: http.StatusNotFound}
	p := newTestProvider(t, f)
	if _, err := p.ParseWithSecondaryModel(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}

	empty := &fakeOllama{reply: "  "}
	p = newTestProvider(t, empty)
	if _, err := p.Enhance(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty reply")
	}
}
