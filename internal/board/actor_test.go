package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledshow/internal/protocol"
)

// fakeLink is an in-memory ControlLink for tests.
type fakeLink struct {
	mu       sync.Mutex
	writes   []any
	frames   chan protocol.StateFrame
	dialErr  error
	closed   bool
	pingErr  error
}

func newFakeLink() *fakeLink {
	return &fakeLink{frames: make(chan protocol.StateFrame, 8)}
}

func (f *fakeLink) Dial(ctx context.Context) (protocol.StateFrame, error) {
	if f.dialErr != nil {
		return protocol.StateFrame{}, f.dialErr
	}
	on := true
	return protocol.StateFrame{On: &on}, nil
}

func (f *fakeLink) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeLink) ReadFrame() (protocol.StateFrame, error) {
	frame, ok := <-f.frames
	if !ok {
		return protocol.StateFrame{}, errors.New("closed")
	}
	return frame, nil
}

func (f *fakeLink) Ping() error { return f.pingErr }

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

func (f *fakeLink) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *fakePublisher) Publish(e protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestActor_ToggleUpdatesCacheAndWrites(t *testing.T) {
	link := newFakeLink()
	pub := &fakePublisher{}
	a := NewActor("b1", "10.0.0.1", link, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	// Allow the actor to complete its initial dial/handshake.
	time.Sleep(20 * time.Millisecond)

	reply := make(chan Snapshot, 1)
	if err := a.Send(ToggleCmd{Reply: reply}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case snap := <-reply:
		// The initial handshake frame reported on=true; Toggle flips it.
		if snap.On {
			t.Fatalf("expected board off after toggle, got on=%v", snap.On)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for toggle reply")
	}

	if link.writeCount() == 0 {
		t.Fatal("expected at least one outbound write")
	}
}

func TestActor_InboxBusyReturnsErrBusy(t *testing.T) {
	link := newFakeLink()
	a := NewActor("b1", "10.0.0.1", link, nil)
	// Don't run the actor; fill the inbox directly.
	for i := 0; i < inboxCapacity; i++ {
		if err := a.Send(SetBrightnessCmd{Value: 1}); err != nil {
			t.Fatalf("unexpected busy at %d: %v", i, err)
		}
	}
	if err := a.Send(SetBrightnessCmd{Value: 2}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestActor_InboundFrameIsAuthoritative(t *testing.T) {
	link := newFakeLink()
	pub := &fakePublisher{}
	a := NewActor("b1", "10.0.0.1", link, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	bri := uint8(200)
	link.frames <- protocol.StateFrame{Bri: &bri}
	time.Sleep(20 * time.Millisecond)

	snap := a.LastKnown()
	if snap.Brightness != 200 {
		t.Fatalf("expected brightness 200 from inbound frame, got %d", snap.Brightness)
	}
	if snap.Liveness != protocol.Connected {
		t.Fatalf("expected connected liveness, got %s", snap.Liveness)
	}
}

func TestActor_ShutdownDrainsAndExits(t *testing.T) {
	link := newFakeLink()
	a := NewActor("b1", "10.0.0.1", link, nil)

	ctx := context.Background()
	go a.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	if err := a.Send(ShutdownCmd{Done: done}); err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not complete")
	}
	select {
	case <-a.stopped:
	case <-time.After(time.Second):
		t.Fatal("actor run loop did not exit")
	}
}
