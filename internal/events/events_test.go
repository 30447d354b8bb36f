package events

import (
	"testing"

	"github.com/mwiater/refiner/internal/run"
)

// TestBusSince verifies incremental event reads by sequence.
func TestBusSince(t *testing.T) {
	bus := NewBus(3)
	bus.Publish(Event{Kind: KindStage, StageIndex: 1})
	bus.Publish(Event{Kind: KindStage, StageIndex: 2})
	bus.Publish(Event{Kind: KindStage, StageIndex: 3})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
	if events[0].Time.IsZero() {
		t.Fatal("publish should stamp a time")
	}
}

// TestBusCapsRetention verifies buffer limit trimming behavior.
func TestBusCapsRetention(t *testing.T) {
	bus := NewBus(2)
	bus.Publish(Event{StageIndex: 1})
	bus.Publish(Event{StageIndex: 2})
	bus.Publish(Event{StageIndex: 3})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].StageIndex != 2 || events[1].StageIndex != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestSubscriptionOrder verifies every subscriber sees events in publish order.
func TestSubscriptionOrder(t *testing.T) {
	bus := NewBus(10)
	a := bus.Subscribe(8)
	b := bus.Subscribe(8)
	defer a.Close()
	defer b.Close()

	for i := 1; i <= 5; i++ {
		bus.Publish(Event{Kind: KindStage, StageIndex: i})
	}

	for _, sub := range []*Subscription{a, b} {
		var last int64
		for i := 1; i <= 5; i++ {
			e := <-sub.C
			if e.Seq <= last {
				t.Fatalf("sequence not increasing: %d after %d", e.Seq, last)
			}
			if e.StageIndex != i {
				t.Fatalf("stage = %d, want %d", e.StageIndex, i)
			}
			last = e.Seq
		}
	}
}

// TestSlowSubscriberDrops verifies a full subscriber never blocks Publish.
func TestSlowSubscriberDrops(t *testing.T) {
	bus := NewBus(10)
	slow := bus.Subscribe(1)
	defer slow.Close()

	for i := 0; i < 4; i++ {
		bus.Publish(Event{Kind: KindStage})
	}
	if got := slow.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
	first := <-slow.C
	if first.Seq != 1 {
		t.Fatalf("first delivered seq = %d, want 1", first.Seq)
	}
	if missed := bus.Since(first.Seq); len(missed) != 3 {
		t.Fatalf("catch-up len = %d, want 3", len(missed))
	}
}

// TestSubscriptionClose verifies Close is idempotent and closes the channel.
func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(1)
	if bus.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", bus.Subscribers())
	}
	sub.Close()
	sub.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed")
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("subscribers = %d after close", bus.Subscribers())
	}
	bus.Publish(Event{})
}

func TestTerminal(t *testing.T) {
	if (Event{Kind: KindStage, Status: run.StatusFailed}).Terminal() {
		t.Fatal("stage event is not terminal")
	}
	if !(Event{Kind: KindRun, Outcome: run.OutcomeFailed}).Terminal() {
		t.Fatal("failed run event is terminal")
	}
}
