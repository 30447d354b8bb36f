package local

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mwiater/refiner/internal/providers"
)

func TestChunkText(t *testing.T) {
	chunks := chunkText("a b c d e", 2, 0)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[0].Text != "a b" || chunks[2].Text != "e" || chunks[2].Tokens != 1 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	overlapped := chunkText("a b c d", 3, 1)
	if len(overlapped) != 2 || overlapped[1].Offset != 2 {
		t.Fatalf("unexpected overlap chunks: %+v", overlapped)
	}

	if chunkText("", 4, 0) != nil || chunkText("a", 0, 0) != nil {
		t.Fatal("expected nil for empty input or zero size")
	}
}

func TestPipelineChain(t *testing.T) {
	p := New(WithModels("Claude-3", "Phi-3"))
	ctx := context.Background()

	parsed, err := p.ParseWithSecondaryModel(ctx, "Summarize this article")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(parsed, "Task: Summarize this article") {
		t.Fatalf("parsed prompt missing task: %s", parsed)
	}

	optimized, err := p.Optimize(ctx, parsed, 64, true)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !strings.Contains(optimized, "target=npu") {
		t.Fatalf("optimize should mention accelerator target: %s", optimized)
	}

	enhanced, err := p.Enhance(ctx, optimized)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if enhanced.TokenCount != providers.EstimateTokens(enhanced.Text) || enhanced.TokenCount == 0 {
		t.Fatalf("token count = %d for %d chars", enhanced.TokenCount, len(enhanced.Text))
	}

	resp, err := p.ProcessWithPrimaryModel(ctx, enhanced.Text)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(resp.Content, `"model": "Claude-3"`) {
		t.Fatalf("response should name primary model: %s", resp.Content)
	}
	if resp.TokenCount == 0 {
		t.Fatal("response token count should be positive")
	}

	for _, op := range providers.Operations() {
		if p.Calls(op) != 1 {
			t.Fatalf("calls[%s] = %d, want 1", op, p.Calls(op))
		}
	}
}

func TestOptimizeChunkCount(t *testing.T) {
	p := New()
	words := strings.TrimSpace(strings.Repeat("word ", 130))
	out, err := p.Optimize(context.Background(), words, 64, false)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[2], "[chunk 3/3 target=cpu tokens=2]") {
		t.Fatalf("unexpected last line: %s", lines[2])
	}
}

func TestFailAt(t *testing.T) {
	p := New()
	boom := errors.New("boom")
	p.FailAt(providers.OpOptimize, boom)

	if _, err := p.Optimize(context.Background(), "x", 64, true); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := p.ParseWithSecondaryModel(context.Background(), "x"); err != nil {
		t.Fatalf("parse should be unaffected: %v", err)
	}

	p.FailAt(providers.OpOptimize, nil)
	if _, err := p.Optimize(context.Background(), "x", 64, true); err != nil {
		t.Fatalf("fault should be cleared: %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Enhance(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
