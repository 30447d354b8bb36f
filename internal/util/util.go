// internal/util/util.go

// Package util holds the small text helpers shared by the terminal views.
package util

import (
	"os"
	"strings"
	"unicode/utf8"
)

// WriteFile writes data to a file with 0o644 permissions.
func WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// TruncateRunes shortens text to maxRunes runes followed by an ellipsis.
// Text that already fits is returned unchanged.
func TruncateRunes(text string, maxRunes int) string {
	if maxRunes < 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return string([]rune(text)[:maxRunes]) + "…"
}

// SingleLine collapses every run of whitespace, newlines included, to one space.
func SingleLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// WrapToWidth wraps each line of text at width runes, breaking words that do
// not fit on a line of their own. Blank lines are kept.
func WrapToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		words := strings.Fields(line)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		var cur []rune
		for _, w := range words {
			word := []rune(w)
			if len(cur) > 0 && len(cur)+1+len(word) <= width {
				cur = append(append(cur, ' '), word...)
				continue
			}
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			for len(word) > width {
				out = append(out, string(word[:width]))
				word = word[width:]
			}
			cur = word
		}
		if len(cur) > 0 {
			out = append(out, string(cur))
		}
	}
	return strings.Join(out, "\n")
}
