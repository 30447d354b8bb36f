// internal/providers/multiplex/provider_test.go
package multiplex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mwiater/refiner/internal/providers"
	"github.com/mwiater/refiner/internal/providers/local"
)

type closeCounter struct {
	*local.Provider
	closed int
	err    error
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.err
}

func TestNewRequiresFallback(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil fallback")
	}
	if _, err := New(local.New(), map[providers.Operation]providers.Provider{providers.OpParse: nil}); err == nil {
		t.Fatal("expected error for nil route")
	}
}

func TestOperationsAreRouted(t *testing.T) {
	fallback := local.New()
	remote := local.New()
	p, err := New(fallback, map[providers.Operation]providers.Provider{providers.OpProcess: remote})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := p.ParseWithSecondaryModel(ctx, "prompt"); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := p.Optimize(ctx, "prompt", 64, true); err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if _, err := p.Enhance(ctx, "prompt"); err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if _, err := p.ProcessWithPrimaryModel(ctx, "prompt"); err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, op := range []providers.Operation{providers.OpParse, providers.OpOptimize, providers.OpEnhance} {
		if fallback.Calls(op) != 1 || remote.Calls(op) != 0 {
			t.Fatalf("%s should go to the fallback", op)
		}
	}
	if remote.Calls(providers.OpProcess) != 1 || fallback.Calls(providers.OpProcess) != 0 {
		t.Fatal("process should go to the routed backend")
	}
}

func TestRoutedErrorsPropagate(t *testing.T) {
	remote := local.New()
	boom := errors.New("boom")
	remote.FailAt(providers.OpEnhance, boom)
	p, err := New(local.New(), map[providers.Operation]providers.Provider{providers.OpEnhance: remote})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Enhance(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected routed error, got %v", err)
	}
}

func TestCloseClosesEachBackendOnce(t *testing.T) {
	fallback := &closeCounter{Provider: local.New()}
	remote := &closeCounter{Provider: local.New(), err: errors.New("close failed")}
	p, err := New(fallback, map[providers.Operation]providers.Provider{
		providers.OpEnhance: remote,
		providers.OpProcess: remote,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Close(); err == nil {
		t.Fatal("expected close error")
	}
	if fallback.closed != 1 || remote.closed != 1 {
		t.Fatalf("close counts fallback=%d remote=%d", fallback.closed, remote.closed)
	}
}

func TestBindModelsReachesEveryBackend(t *testing.T) {
	fallback := local.New()
	remote := local.New()
	p, err := New(fallback, map[providers.Operation]providers.Provider{providers.OpProcess: remote})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.BindModels("Claude-3", "Phi-3")

	// Model names are reported in the process response document.
	resp, err := p.ProcessWithPrimaryModel(context.Background(), "x")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want := `"model": "Claude-3"`; !strings.Contains(resp.Content, want) {
		t.Fatalf("response %q missing %q", resp.Content, want)
	}
}

