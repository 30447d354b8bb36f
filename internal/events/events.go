// Package events fans pipeline state changes out to presentation subscribers.
package events

import (
	"sync"
	"time"

	"github.com/mwiater/refiner/internal/metrics"
	"github.com/mwiater/refiner/internal/run"
)

// Kind classifies an event.
type Kind string

const (
	KindStage Kind = "stage"
	KindRun   Kind = "run"
)

// DefaultRetain is the number of events a Bus keeps for Since when none is given.
const DefaultRetain = 500

// Event is a sequenced state change. Stage events carry the stage fields;
// run events carry the outcome and, on success, the metrics.
type Event struct {
	Seq        int64                       `json:"seq"`
	Time       time.Time                   `json:"time"`
	RunID      string                      `json:"runId"`
	Kind       Kind                        `json:"kind"`
	StageIndex int                         `json:"stageIndex,omitempty"`
	StageName  string                      `json:"stageName,omitempty"`
	Status     run.Status                  `json:"status,omitempty"`
	Duration   *time.Duration              `json:"duration,omitempty"`
	Outcome    run.Outcome                 `json:"outcome,omitempty"`
	Metrics    *metrics.PerformanceMetrics `json:"metrics,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Kind == KindRun && e.Outcome != run.OutcomeRunning && e.Outcome != ""
}

// Bus assigns sequence numbers, retains recent events and delivers them to
// subscribers. Publish never blocks: a subscriber whose buffer is full misses
// the event and its Dropped count grows.
type Bus struct {
	mu     sync.RWMutex
	seq    int64
	retain int
	events []Event
	subs   map[*Subscription]struct{}
}

// NewBus creates a bus retaining up to retain events.
func NewBus(retain int) *Bus {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Bus{
		retain: retain,
		events: make([]Event, 0, retain),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C chan Event

	bus     *Bus
	once    sync.Once
	dropped int64
}

// Subscribe registers a subscriber with a channel buffer of the given size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{C: make(chan Event, buffer), bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.C)
		s.bus.mu.Unlock()
	})
}

// Dropped returns how many events were skipped because C was full.
func (s *Subscription) Dropped() int64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

// Publish assigns the next sequence number, retains the event and delivers it.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.events = append(b.events, e)
	if len(b.events) > b.retain {
		trim := len(b.events) - b.retain
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for s := range b.subs {
		select {
		case s.C <- e:
		default:
			s.dropped++
		}
	}
	return e
}

// Since returns retained events with a sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, e := range b.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
