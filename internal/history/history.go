// Package history records completed refinement runs, newest first.
package history

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/mwiater/refiner/internal/metrics"
	"github.com/mwiater/refiner/internal/run"
	"github.com/mwiater/refiner/internal/settings"
)

// RunSummary is the part of a completed run kept in history.
type RunSummary struct {
	ID             string          `json:"id"`
	Prompt         string          `json:"prompt"`
	EnhancedText   string          `json:"enhancedText"`
	OutputText     string          `json:"outputText"`
	TokenCount     int             `json:"tokenCount"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
	StageDurations []time.Duration `json:"stageDurations"`
	Optimizations  []string        `json:"optimizations"`
}

// Entry is one history record.
type Entry struct {
	Run        RunSummary                 `json:"run"`
	Metrics    metrics.PerformanceMetrics `json:"metrics"`
	RecordedAt time.Time                  `json:"recordedAt"`
}

// ErrNotFound is returned by Find when no entry has the requested run ID.
var ErrNotFound = errors.New("history entry not found")

// Clone returns a copy of e that shares no slices with it.
func (e Entry) Clone() Entry {
	e.Run.StageDurations = slices.Clone(e.Run.StageDurations)
	e.Run.Optimizations = slices.Clone(e.Run.Optimizations)
	return e
}

// NewEntry builds an entry from a completed run.
func NewEntry(r run.Run, m metrics.PerformanceMetrics, recordedAt time.Time) Entry {
	summary := RunSummary{
		ID:             r.ID,
		Prompt:         r.Prompt,
		TokenCount:     r.TokenCount,
		StartedAt:      r.StartedAt,
		StageDurations: r.Durations(),
		Optimizations:  settings.AppliedTechniques(r.Configuration),
	}
	if r.EnhancedText != nil {
		summary.EnhancedText = *r.EnhancedText
	}
	if r.OutputText != nil {
		summary.OutputText = *r.OutputText
	}
	if r.FinishedAt != nil {
		summary.FinishedAt = *r.FinishedAt
	}
	return Entry{Run: summary, Metrics: m, RecordedAt: recordedAt}
}

// Store holds history entries. Appends are serialised; All returns newest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	All(ctx context.Context) ([]Entry, error)
	Clear(ctx context.Context) error
	Close() error
}

// Find returns the newest entry in s recorded for runID.
func Find(ctx context.Context, s Store, runID string) (Entry, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Run.ID == runID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}
