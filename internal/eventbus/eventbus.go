// Package eventbus is the process-wide many-to-many broadcast of
// state-change notifications and scheduler telemetry to subscribed
// client streams (spec.md §4.5).
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"ledshow/internal/protocol"
)

// bufferCapacity is the bounded per-subscriber event buffer size
// (spec.md §4.5).
const bufferCapacity = 256

// Subscription is a live sink for events. Publish uses a lossy-tail
// policy: when the buffer is full, the oldest buffered event is dropped
// to make room for the newest, so a slow subscriber never blocks
// producers — only itself falls behind.
type Subscription struct {
	ID     string
	Filter Filter

	mu       sync.Mutex
	buf      []protocol.Event
	notify   chan struct{}
	overflow atomic.Uint64
	closed   bool
}

// Filter selects which events a subscription receives.
type Filter struct {
	// BoardID, if non-empty, restricts state_update events to one board.
	BoardID string
	// TelemetryOnly restricts delivery to scheduler_telemetry events.
	TelemetryOnly bool
}

func newSubscription(f Filter) *Subscription {
	return &Subscription{
		ID:     uuid.NewString(),
		Filter: f,
		notify: make(chan struct{}, 1),
	}
}

func (s *Subscription) push(e protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.buf) >= bufferCapacity {
		s.buf = s.buf[1:]
		s.overflow.Add(1)
	}
	s.buf = append(s.buf, e)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or done is closed. It returns
// ok=false once the subscription has been closed and drained.
func (s *Subscription) Next(done <-chan struct{}) (protocol.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return e, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return protocol.Event{}, false
		}
		select {
		case <-s.notify:
		case <-done:
			return protocol.Event{}, false
		}
	}
}

// OverflowCount returns how many events this subscription has dropped due
// to backpressure.
func (s *Subscription) OverflowCount() uint64 { return s.overflow.Load() }

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Subscription) matches(e protocol.Event) bool {
	if e.Type == protocol.EventConnected {
		return true
	}
	if s.Filter.TelemetryOnly {
		return e.Type == protocol.EventSchedulerTelemetry
	}
	if e.Type == protocol.EventSchedulerTelemetry {
		return false
	}
	if s.Filter.BoardID != "" && e.Type == protocol.EventStateUpdate {
		return e.State != nil && e.State.ID == s.Filter.BoardID
	}
	return true
}

// Bus is the process-wide broadcast point.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New constructs an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe attaches a new subscription. The caller immediately receives
// a synthetic `connected` event followed by one `state_update` per
// currently registered board (spec.md §4.5); initial is the snapshot to
// use for that burst.
func (b *Bus) Subscribe(f Filter, initial []protocol.BoardState) *Subscription {
	sub := newSubscription(f)

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	connected := protocol.Event{Type: protocol.EventConnected}
	if sub.matches(connected) {
		sub.push(connected)
	}
	for i := range initial {
		st := initial[i]
		e := protocol.Event{Type: protocol.EventStateUpdate, BoardID: st.ID, State: &st}
		if sub.matches(e) {
			sub.push(e)
		}
	}
	return sub
}

// Unsubscribe detaches and drains a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish fans e out to every matching subscriber, non-blocking
// (spec.md §4.5 "Producers use non-blocking publish").
func (b *Bus) Publish(e protocol.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.matches(e) {
			sub.push(e)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
