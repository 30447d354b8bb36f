// internal/appconfig/appconfig_test.go
package appconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad verifies a valid file is decoded and that malformed, invalid or
// missing explicit files are reported.
func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
        "debug": true,
        "historyPath": "data/history.db",
        "runTimeout": 30,
        "provider": {
            "type": "llamacpp",
            "url": "http://localhost:8080",
            "models": {"GPT-4": "qwen2.5-7b-instruct", "Gemma-2B": "gemma-2-2b-it"},
            "timeout": 45
        }
    }`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() with valid config failed: %v", err)
	}
	if !cfg.Debug || cfg.ConfigPath != path {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Provider.Kind() != ProviderLlamaCpp {
		t.Fatalf("provider kind = %s", cfg.Provider.Kind())
	}
	if cfg.RequestTimeout() != 45*time.Second {
		t.Fatalf("request timeout = %v", cfg.RequestTimeout())
	}
	if cfg.RunTimeout() != 30*time.Second {
		t.Fatalf("run timeout = %v", cfg.RunTimeout())
	}
	if cfg.Provider.Model("Gemma-2B") != "gemma-2-2b-it" || cfg.Provider.Model("Phi-3") != "Phi-3" {
		t.Fatal("model mapping not applied")
	}

	if _, err := Load(writeConfig(t, `{"provider": `)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if _, err := Load(writeConfig(t, `{"provider": {"type": "llama.cpp"}}`)); err == nil {
		t.Fatal("expected error for llama.cpp without url")
	}
	if _, err := Load(writeConfig(t, `{"provider": {"type": "ollama"}}`)); err == nil {
		t.Fatal("expected error for ollama without url")
	}
	if _, err := Load(writeConfig(t, `{"provider": {"type": "vllm", "url": "http://llm:8000"}}`)); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestLoadMissingDefaultUsesDefaults(t *testing.T) {
	oldCwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Provider.Kind() != ProviderLocal {
		t.Fatalf("default provider = %s", cfg.Provider.Kind())
	}
}

func TestAccessorDefaults(t *testing.T) {
	var cfg Config
	if cfg.RequestTimeout() != 600*time.Second {
		t.Fatalf("request timeout = %v", cfg.RequestTimeout())
	}
	if cfg.RunTimeout() != 120*time.Second {
		t.Fatalf("run timeout = %v", cfg.RunTimeout())
	}
	if cfg.SaveDelay() != time.Second {
		t.Fatalf("save delay = %v", cfg.SaveDelay())
	}
	if cfg.EventBufferSize() != 64 {
		t.Fatalf("event buffer = %d", cfg.EventBufferSize())
	}
	if cfg.LogFilePath() != "refiner.log" || cfg.SettingsFilePath() != DefaultSettingsPath ||
		cfg.MetricsFilePath() != DefaultMetricsPath || cfg.ListenAddr() != DefaultListen {
		t.Fatalf("unexpected path defaults: %+v", cfg)
	}

	cfg.SaveDebounceMillis = 250
	cfg.EventBuffer = 8
	if cfg.SaveDelay() != 250*time.Millisecond || cfg.EventBufferSize() != 8 {
		t.Fatal("explicit values should win over defaults")
	}
}

func TestShowConfig(t *testing.T) {
	var buf bytes.Buffer
	ShowConfig(&buf, "", Config{
		Metrics:  true,
		Provider: Provider{Type: "llama.cpp", URL: "http://llm:8080", Models: map[string]string{"GPT-4": "qwen"}},
	})
	out := buf.String()
	for _, want := range []string{"No config file loaded", "History:         in memory", "Provider:        llama.cpp", "Provider URL:    http://llm:8080", "Metrics Path:", "-> qwen"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProviderRoutes(t *testing.T) {
	p := Provider{Type: "local", URL: "http://llm:8080", Routes: map[string]string{"process": "llamacpp"}}
	if p.RouteFor("process") != ProviderLlamaCpp || p.RouteFor("parse") != ProviderLocal {
		t.Fatalf("unexpected routing: process=%s parse=%s", p.RouteFor("process"), p.RouteFor("parse"))
	}
	if got := p.Backends(); len(got) != 2 || got[0] != ProviderLocal || got[1] != ProviderLlamaCpp {
		t.Fatalf("backends = %v", got)
	}
	if err := (Config{Provider: p}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p.URL = ""
	if err := (Config{Provider: p}).Validate(); err == nil {
		t.Fatal("expected error for routed llama.cpp without url")
	}
	if err := (Config{Provider: Provider{Routes: map[string]string{"deliver": "local"}}}).Validate(); err == nil {
		t.Fatal("expected error for unknown operation")
	}

	var buf bytes.Buffer
	ShowConfig(&buf, "", Config{Provider: Provider{URL: "http://llm:8080", Routes: map[string]string{"process": "llama.cpp"}}})
	if !strings.Contains(buf.String(), "Route process") || !strings.Contains(buf.String(), "Provider URL:") {
		t.Fatalf("routes not shown:\n%s", buf.String())
	}
}

func TestProviderURLFor(t *testing.T) {
	p := Provider{Type: "llamacpp", URL: "http://llm:8080", Routes: map[string]string{"parse": "ollama"}}
	if got := p.URLFor(ProviderOllama); got != "http://llm:8080" {
		t.Fatalf("ollama without ollamaUrl = %q", got)
	}
	p.OllamaURL = " http://ollama:11434 "
	if got := p.URLFor(ProviderOllama); got != "http://ollama:11434" {
		t.Fatalf("ollama url = %q", got)
	}
	if got := p.URLFor(ProviderLlamaCpp); got != "http://llm:8080" {
		t.Fatalf("llama.cpp url = %q", got)
	}
	if err := (Config{Provider: p}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var buf bytes.Buffer
	ShowConfig(&buf, "", Config{Provider: p})
	for _, want := range []string{"Route parse      -> ollama", "Provider URL:    http://llm:8080", "Ollama URL:      http://ollama:11434"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("show output missing %q:\n%s", want, buf.String())
		}
	}
}
