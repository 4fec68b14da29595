package eventbus

import (
	"testing"
	"time"

	"ledshow/internal/protocol"
)

func TestBus_SubscribeDeliversConnectedThenSnapshot(t *testing.T) {
	b := New()
	initial := []protocol.BoardState{{ID: "b1"}, {ID: "b2"}}
	sub := b.Subscribe(Filter{}, initial)

	done := make(chan struct{})
	defer close(done)

	e, ok := sub.Next(done)
	if !ok || e.Type != protocol.EventConnected {
		t.Fatalf("expected connected event first, got %+v ok=%v", e, ok)
	}
	for i := 0; i < 2; i++ {
		e, ok := sub.Next(done)
		if !ok || e.Type != protocol.EventStateUpdate {
			t.Fatalf("expected state_update burst entry %d, got %+v ok=%v", i, e, ok)
		}
	}
}

func TestBus_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(Filter{}, nil)
	done := make(chan struct{})
	defer close(done)
	// Drain the initial connected event.
	sub.Next(done)

	for i := 0; i < bufferCapacity+50; i++ {
		b.Publish(protocol.Event{Type: protocol.EventStateUpdate, State: &protocol.BoardState{ID: "b1"}})
	}

	if sub.OverflowCount() == 0 {
		t.Fatal("expected overflow counter to be nonzero after flooding a slow subscriber")
	}
}

func TestBus_FilterRestrictsToOneBoard(t *testing.T) {
	b := New()
	sub := b.Subscribe(Filter{BoardID: "b1"}, nil)
	done := make(chan struct{})
	defer close(done)
	sub.Next(done) // connected

	b.Publish(protocol.Event{Type: protocol.EventStateUpdate, State: &protocol.BoardState{ID: "b2"}})
	b.Publish(protocol.Event{Type: protocol.EventStateUpdate, State: &protocol.BoardState{ID: "b1"}})

	e, ok := sub.Next(done)
	if !ok {
		t.Fatal("expected one delivered event")
	}
	if e.State.ID != "b1" {
		t.Fatalf("expected only b1's update to pass the filter, got %s", e.State.ID)
	}

	select {
	case <-time.After(30 * time.Millisecond):
	default:
	}
}

func TestBus_TelemetryOnlyFilter(t *testing.T) {
	b := New()
	sub := b.Subscribe(Filter{TelemetryOnly: true}, nil)
	done := make(chan struct{})
	defer close(done)
	sub.Next(done) // connected

	b.Publish(protocol.Event{Type: protocol.EventStateUpdate, State: &protocol.BoardState{ID: "b1"}})
	b.Publish(protocol.Event{Type: protocol.EventSchedulerTelemetry, Telemetry: &protocol.SchedulerTelemetry{SessionID: "s1"}})

	e, ok := sub.Next(done)
	if !ok || e.Type != protocol.EventSchedulerTelemetry {
		t.Fatalf("expected only telemetry event, got %+v ok=%v", e, ok)
	}
}

func TestBus_TelemetryOnlySubscriberSkipsInitialSnapshotBurst(t *testing.T) {
	b := New()
	initial := []protocol.BoardState{{ID: "b1"}, {ID: "b2"}}
	sub := b.Subscribe(Filter{TelemetryOnly: true}, initial)
	done := make(chan struct{})
	defer close(done)

	e, ok := sub.Next(done)
	if !ok || e.Type != protocol.EventConnected {
		t.Fatalf("expected connected event first, got %+v ok=%v", e, ok)
	}

	b.Publish(protocol.Event{Type: protocol.EventSchedulerTelemetry, Telemetry: &protocol.SchedulerTelemetry{SessionID: "s1"}})
	e, ok = sub.Next(done)
	if !ok || e.Type != protocol.EventSchedulerTelemetry {
		t.Fatalf("expected telemetry event with no snapshot burst in between, got %+v ok=%v", e, ok)
	}
}

func TestBus_BoardFilterRestrictsInitialSnapshotBurst(t *testing.T) {
	b := New()
	initial := []protocol.BoardState{{ID: "b1"}, {ID: "b2"}}
	sub := b.Subscribe(Filter{BoardID: "b1"}, initial)
	done := make(chan struct{})
	defer close(done)

	sub.Next(done) // connected
	e, ok := sub.Next(done)
	if !ok || e.State == nil || e.State.ID != "b1" {
		t.Fatalf("expected only b1's snapshot in the initial burst, got %+v ok=%v", e, ok)
	}

	b.Publish(protocol.Event{Type: protocol.EventStateUpdate, State: &protocol.BoardState{ID: "b2"}})
	select {
	case <-time.After(20 * time.Millisecond):
	default:
	}
}

func TestBus_UnsubscribeClosesSubscription(t *testing.T) {
	b := New()
	sub := b.Subscribe(Filter{}, nil)
	b.Unsubscribe(sub.ID)

	done := make(chan struct{})
	close(done)
	// Drain whatever was buffered (the connected event), then expect closed.
	for {
		_, ok := sub.Next(done)
		if !ok {
			return
		}
	}
}
