// internal/util/util_test.go
package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "export.yaml")
	data := []byte("settings: {}\n")

	if err := WriteFile(path, data); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("unexpected file contents: got %q want %q", got, data)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "fits", in: "Summarize", max: 10, want: "Summarize"},
		{name: "exact", in: "Summarize", max: 9, want: "Summarize"},
		{name: "ascii", in: "Summarize this article", max: 9, want: "Summarize…"},
		{name: "multibyte", in: "こんにちは世界", max: 4, want: "こんにち…"},
		{name: "negative", in: "abc", max: -1, want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Fatalf("TruncateRunes(%q,%d)=%q want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestSingleLine(t *testing.T) {
	t.Parallel()
	if got := SingleLine("  Task:\n\tSummarize   this \n"); got != "Task: Summarize this" {
		t.Fatalf("SingleLine = %q", got)
	}
}

func TestWrapToWidth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{name: "no wrap", in: "short line", width: 20, want: "short line"},
		{name: "wrap words", in: "one two three four", width: 9, want: "one two\nthree\nfour"},
		{name: "long word", in: "abcdefghij", width: 4, want: "abcd\nefgh\nij"},
		{name: "keeps blank lines", in: "a\n\nb", width: 5, want: "a\n\nb"},
		{name: "zero width", in: "unchanged text", width: 0, want: "unchanged text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := WrapToWidth(tt.in, tt.width); got != tt.want {
				t.Fatalf("WrapToWidth(%q,%d)=%q want %q", tt.in, tt.width, got, tt.want)
			}
		})
	}
}
