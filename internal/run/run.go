// Package run implements the state machine of a single pipeline execution.
//
// A Run is created with every stage pending and moves forward one stage at a
// time: exactly one stage may be processing, every earlier stage is completed
// and every later stage is pending. A failure freezes the run; stages after the
// failed one stay pending forever. Illegal moves return ErrInvalidTransition and
// are never corrected silently.
package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/mwiater/refiner/internal/settings"
	"github.com/mwiater/refiner/internal/stages"
)

// ErrInvalidTransition reports a call that would break the stage ordering rules.
var ErrInvalidTransition = errors.New("invalid transition")

// Status is the lifecycle state of one stage.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Outcome is the lifecycle state of a whole run.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// StageState is the per-run status of one catalog stage.
type StageState struct {
	Index    int            `json:"index"`
	Name     string         `json:"name"`
	Status   Status         `json:"status"`
	Duration *time.Duration `json:"duration,omitempty"`
}

// Run is one execution of the pipeline for a single prompt.
type Run struct {
	ID            string                 `json:"id"`
	Prompt        string                 `json:"prompt"`
	Configuration settings.Configuration `json:"configuration"`
	Stages        []StageState           `json:"stages"`
	Current       int                    `json:"currentIndex"`
	StartedAt     time.Time              `json:"startedAt"`
	FinishedAt    *time.Time             `json:"finishedAt,omitempty"`
	Outcome       Outcome                `json:"outcome"`
	EnhancedText  *string                `json:"enhancedText,omitempty"`
	OutputText    *string                `json:"outputText,omitempty"`
	TokenCount    int                    `json:"tokenCount"`
	OutputTokens  int                    `json:"outputTokens"`
	FailedStage   int                    `json:"failedStage,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// New creates a running Run with every catalog stage pending.
func New(id, prompt string, catalog []stages.Definition, cfg settings.Configuration, now time.Time) *Run {
	states := make([]StageState, len(catalog))
	for i, def := range catalog {
		states[i] = StageState{Index: def.Index, Name: def.Name, Status: StatusPending}
	}
	return &Run{
		ID:            id,
		Prompt:        prompt,
		Configuration: cfg,
		Stages:        states,
		Current:       1,
		StartedAt:     now,
		Outcome:       OutcomeRunning,
	}
}

// Terminal reports whether the run has finished, successfully or not.
func (r *Run) Terminal() bool {
	return r.Outcome != OutcomeRunning
}

// Stage returns the state of the stage with the given index.
func (r *Run) Stage(index int) (StageState, bool) {
	if index < 1 || index > len(r.Stages) {
		return StageState{}, false
	}
	return r.Stages[index-1], true
}

// Processing returns the index of the stage currently processing, or 0.
func (r *Run) Processing() int {
	for _, s := range r.Stages {
		if s.Status == StatusProcessing {
			return s.Index
		}
	}
	return 0
}

// Advance moves one stage forward. Only pending→processing (for the first
// non-completed stage, when nothing else is processing) and processing→completed
// (with a non-negative duration) are accepted.
func (r *Run) Advance(index int, status Status, duration *time.Duration) error {
	if r.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, r.ID, r.Outcome)
	}
	if index < 1 || index > len(r.Stages) {
		return fmt.Errorf("%w: stage %d out of range", ErrInvalidTransition, index)
	}
	stage := &r.Stages[index-1]

	switch status {
	case StatusProcessing:
		if stage.Status != StatusPending {
			return fmt.Errorf("%w: stage %d is %s, cannot start processing", ErrInvalidTransition, index, stage.Status)
		}
		if busy := r.Processing(); busy != 0 {
			return fmt.Errorf("%w: stage %d is still processing", ErrInvalidTransition, busy)
		}
		for _, earlier := range r.Stages[:index-1] {
			if earlier.Status != StatusCompleted {
				return fmt.Errorf("%w: stage %d skipped, stage %d is %s", ErrInvalidTransition, index, earlier.Index, earlier.Status)
			}
		}
		stage.Status = StatusProcessing
		r.Current = index
		return nil

	case StatusCompleted:
		if stage.Status != StatusProcessing {
			return fmt.Errorf("%w: stage %d is %s, cannot complete", ErrInvalidTransition, index, stage.Status)
		}
		if duration == nil || *duration < 0 {
			return fmt.Errorf("%w: stage %d completed without a valid duration", ErrInvalidTransition, index)
		}
		d := *duration
		stage.Status = StatusCompleted
		stage.Duration = &d
		return nil

	case StatusFailed:
		return fmt.Errorf("%w: use Fail to fail stage %d", ErrInvalidTransition, index)

	default:
		return fmt.Errorf("%w: stage %d cannot move to %s", ErrInvalidTransition, index, status)
	}
}

// Fail marks the processing stage as failed and ends the run. Later stages are
// left pending. cause may be nil.
func (r *Run) Fail(index int, cause error, now time.Time) error {
	if r.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, r.ID, r.Outcome)
	}
	if index < 1 || index > len(r.Stages) {
		return fmt.Errorf("%w: stage %d out of range", ErrInvalidTransition, index)
	}
	stage := &r.Stages[index-1]
	if stage.Status != StatusProcessing {
		return fmt.Errorf("%w: stage %d is %s, only a processing stage can fail", ErrInvalidTransition, index, stage.Status)
	}
	stage.Status = StatusFailed
	r.Current = index
	r.Outcome = OutcomeFailed
	r.FailedStage = index
	if cause != nil {
		r.Error = cause.Error()
	}
	finished := now
	r.FinishedAt = &finished
	return nil
}

// Complete ends a run whose last stage has completed.
func (r *Run) Complete(now time.Time) error {
	if r.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, r.ID, r.Outcome)
	}
	if len(r.Stages) == 0 || r.Stages[len(r.Stages)-1].Status != StatusCompleted {
		return fmt.Errorf("%w: run %s cannot complete before its last stage", ErrInvalidTransition, r.ID)
	}
	r.Outcome = OutcomeCompleted
	finished := now
	r.FinishedAt = &finished
	return nil
}

// RecordEnhancement attaches the enhanced prompt. The enhance stage must have completed.
func (r *Run) RecordEnhancement(text string, tokens int) error {
	if s, ok := r.Stage(stages.PromptEnhance); !ok || s.Status != StatusCompleted {
		return fmt.Errorf("%w: enhanced text before stage %d completed", ErrInvalidTransition, stages.PromptEnhance)
	}
	r.EnhancedText = &text
	r.TokenCount = tokens
	return nil
}

// RecordOutput attaches the primary model output. The primary stage must have completed.
func (r *Run) RecordOutput(text string, tokens int) error {
	if s, ok := r.Stage(stages.PrimaryModelProcess); !ok || s.Status != StatusCompleted {
		return fmt.Errorf("%w: output text before stage %d completed", ErrInvalidTransition, stages.PrimaryModelProcess)
	}
	r.OutputText = &text
	r.OutputTokens = tokens
	return nil
}

// TotalDuration sums the recorded stage durations.
func (r *Run) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range r.Stages {
		if s.Duration != nil {
			total += *s.Duration
		}
	}
	return total
}

// Durations returns the recorded duration of each stage, zero where none was recorded.
func (r *Run) Durations() []time.Duration {
	out := make([]time.Duration, len(r.Stages))
	for i, s := range r.Stages {
		if s.Duration != nil {
			out[i] = *s.Duration
		}
	}
	return out
}

// Check verifies the stage ordering invariant and returns a description of the
// first violation found.
func (r *Run) Check() error {
	seenProcessing := false
	seenTail := false
	for _, s := range r.Stages {
		switch s.Status {
		case StatusCompleted:
			if seenProcessing || seenTail {
				return fmt.Errorf("stage %d completed after an unfinished stage", s.Index)
			}
			if s.Duration == nil {
				return fmt.Errorf("stage %d completed without a duration", s.Index)
			}
		case StatusProcessing:
			if seenProcessing || seenTail {
				return fmt.Errorf("stage %d processing out of order", s.Index)
			}
			if r.Outcome != OutcomeRunning {
				return fmt.Errorf("stage %d processing in a %s run", s.Index, r.Outcome)
			}
			seenProcessing = true
		case StatusFailed:
			if seenProcessing || seenTail {
				return fmt.Errorf("stage %d failed out of order", s.Index)
			}
			if r.Outcome != OutcomeFailed {
				return fmt.Errorf("stage %d failed in a %s run", s.Index, r.Outcome)
			}
			seenTail = true
		case StatusPending:
			seenTail = true
		default:
			return fmt.Errorf("stage %d has unknown status %q", s.Index, s.Status)
		}
	}
	if r.Outcome == OutcomeCompleted {
		for _, s := range r.Stages {
			if s.Status != StatusCompleted {
				return fmt.Errorf("completed run has stage %d %s", s.Index, s.Status)
			}
		}
	}
	return nil
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (r *Run) Snapshot() Run {
	cp := *r
	cp.Stages = make([]StageState, len(r.Stages))
	for i, s := range r.Stages {
		cp.Stages[i] = s
		if s.Duration != nil {
			d := *s.Duration
			cp.Stages[i].Duration = &d
		}
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.EnhancedText != nil {
		s := *r.EnhancedText
		cp.EnhancedText = &s
	}
	if r.OutputText != nil {
		s := *r.OutputText
		cp.OutputText = &s
	}
	return cp
}
