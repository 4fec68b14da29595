package board

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"ledshow/internal/protocol"
)

// inboxCapacity is the bounded command queue size (spec.md §4.2).
const inboxCapacity = 64

// Publisher is the subset of the event bus an actor needs: the ability to
// announce a state change. Defined here so board stays decoupled from the
// bus implementation.
type Publisher interface {
	Publish(protocol.Event)
}

// Command is a message accepted by an actor's inbox. Concrete types below
// mirror the table in spec.md §4.2.
type Command interface{ isCommand() }

type ToggleCmd struct{ Reply chan<- Snapshot }
type SetBrightnessCmd struct{ Value uint8 }
type SetColorCmd struct{ R, G, B uint8 }
type SetEffectCmd struct{ FX uint8 }
type ApplyPresetCmd struct{ PS uint8 }
type GetStateCmd struct{ Reply chan<- Snapshot }
type ShutdownCmd struct{ Done chan<- struct{} }

func (ToggleCmd) isCommand()        {}
func (SetBrightnessCmd) isCommand() {}
func (SetColorCmd) isCommand()      {}
func (SetEffectCmd) isCommand()     {}
func (ApplyPresetCmd) isCommand()   {}
func (GetStateCmd) isCommand()      {}
func (ShutdownCmd) isCommand()      {}

// Actor is the sole owner of one board's cached attributes and control
// link. All mutation happens inside Run; external callers only ever send
// Commands and read Snapshots back.
type Actor struct {
	id   string
	ip   string
	link ControlLink
	pub  Publisher

	inbox chan Command
	st    state

	// sendFailures counts consecutive WriteJSON failures for telemetry;
	// reset on the next successful write. Read-only to external callers
	// via SendFailures.
	sendFailures atomic.Uint64

	// cached mirrors the actor's state after every mutation so external
	// readers can get a last-known snapshot without going through the
	// inbox — used by Registry.list() when a GetState request times out
	// (spec.md §4.3).
	cached atomic.Pointer[Snapshot]

	stopped chan struct{}
}

// NewActor constructs a board actor. Run must be started in its own
// goroutine by the caller (normally the Registry).
func NewActor(id, ip string, link ControlLink, pub Publisher) *Actor {
	a := &Actor{
		id:    id,
		ip:    ip,
		link:  link,
		pub:   pub,
		inbox: make(chan Command, inboxCapacity),
		st: state{
			id:       id,
			ip:       ip,
			liveness: protocol.Disconnected,
		},
		stopped: make(chan struct{}),
	}
	init := a.st.snapshot()
	a.cached.Store(&init)
	return a
}

// ID returns the board's identifier.
func (a *Actor) ID() string { return a.id }

// IP returns the board's configured endpoint, used by the scheduler to
// address pixel-stream payloads directly at the sACN sink.
func (a *Actor) IP() string { return a.ip }

// Send enqueues cmd without blocking. It returns ErrBusy if the inbox is
// full, per spec.md §4.2 backpressure policy — callers (scheduler, ad-hoc
// command dispatch) must never block on a slow board.
func (a *Actor) Send(cmd Command) error {
	select {
	case a.inbox <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

// SendFailures returns the consecutive control-link write-failure count.
func (a *Actor) SendFailures() uint64 { return a.sendFailures.Load() }

// Run drives the actor until ctx is canceled or a Shutdown command drains
// the inbox. It owns the control link's full lifecycle, including
// reconnects.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		frame, err := a.link.Dial(dialCtx)
		cancel()
		if err != nil {
			slog.Warn("board dial failed", "board_id", a.id, "ip", a.ip, "err", err)
			a.markDisconnected()
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		a.applyFrame(frame)
		a.markConnected()
		slog.Info("board connected", "board_id", a.id, "ip", a.ip)

		keepGoing := a.serveConnection(ctx)
		_ = a.link.Close()
		if !keepGoing {
			return
		}
		a.markDisconnected()
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// serveConnection multiplexes inbox, inbound frames, and the keepalive
// ticker for one live connection. It returns false when the actor should
// stop entirely (ctx canceled or Shutdown processed), true when it should
// reconnect after a transport fault.
func (a *Actor) serveConnection(ctx context.Context) bool {
	frames := make(chan protocol.StateFrame)
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		for {
			f, err := a.link.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-readDone:
				return
			}
		}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	defer close(readDone)

	for {
		select {
		case <-ctx.Done():
			return false

		case cmd := <-a.inbox:
			if !a.handle(cmd) {
				return false
			}

		case f := <-frames:
			a.applyFrame(f)

		case err := <-readErr:
			slog.Warn("board read fault", "board_id", a.id, "err", err)
			return true

		case <-ticker.C:
			if err := a.link.Ping(); err != nil {
				slog.Warn("board keepalive failed", "board_id", a.id, "err", err)
				return true
			}
		}
	}
}

// handle applies one command. It returns false if the actor should stop
// (Shutdown), true otherwise including on a write fault (the caller's
// serveConnection loop will detect the fault separately via readErr on
// the next iteration, or the next write attempt will fail again and the
// command rate will naturally surface the problem via SendFailures).
func (a *Actor) handle(cmd Command) bool {
	switch c := cmd.(type) {
	case ToggleCmd:
		a.st.on = !a.st.on
		a.write(protocol.PowerMsg{On: a.st.on})
		a.st.lastSeen = time.Now()
		a.publish()
		snap := a.st.snapshot()
		select {
		case c.Reply <- snap:
		default:
		}

	case SetBrightnessCmd:
		a.st.brightness = c.Value
		a.write(protocol.BrightnessMsg{Bri: c.Value})
		a.publish()

	case SetColorCmd:
		a.st.color = protocol.Color{c.R, c.G, c.B}
		a.write(protocol.NewColorMsg(a.st.color))
		a.publish()

	case SetEffectCmd:
		a.st.effect = c.FX
		a.write(protocol.NewEffectMsg(c.FX))
		a.publish()

	case ApplyPresetCmd:
		// Cache is updated on the inbound state frame the board emits in
		// response, not optimistically (spec.md §4.2).
		a.write(protocol.PresetMsg{PS: c.PS})

	case GetStateCmd:
		snap := a.st.snapshot()
		select {
		case c.Reply <- snap:
		default:
		}

	case ShutdownCmd:
		if c.Done != nil {
			close(c.Done)
		}
		return false
	}
	return true
}

func (a *Actor) write(v any) {
	if err := a.link.WriteJSON(v); err != nil {
		a.sendFailures.Add(1)
		slog.Warn("board write failed", "board_id", a.id, "err", err)
		return
	}
	a.sendFailures.Store(0)
}

// applyFrame merges an inbound firmware state frame into the cache. An
// inbound frame is always authoritative over the last outbound command
// (spec.md §4.2 "State reconciliation").
func (a *Actor) applyFrame(f protocol.StateFrame) {
	if f.On != nil {
		a.st.on = *f.On
	}
	if f.Bri != nil {
		a.st.brightness = *f.Bri
	}
	if len(f.Seg) > 0 {
		seg := f.Seg[0]
		if len(seg.Col) > 0 {
			a.st.color = protocol.Color{seg.Col[0][0], seg.Col[0][1], seg.Col[0][2]}
		}
		if seg.FX != nil {
			a.st.effect = *seg.FX
		}
	}
	a.st.lastSeen = time.Now()
	a.st.liveness = protocol.Connected
	a.publish()
}

func (a *Actor) markConnected() {
	a.st.liveness = protocol.Connected
	a.st.lastSeen = time.Now()
	a.publish()
}

func (a *Actor) markDisconnected() {
	a.st.liveness = protocol.Disconnected
	a.publish()
}

func (a *Actor) publish() {
	snap := a.st.snapshot()
	a.cached.Store(&snap)
	if a.pub == nil {
		return
	}
	bs := snap.ToProtocol()
	a.pub.Publish(protocol.Event{Type: protocol.EventStateUpdate, BoardID: bs.ID, State: &bs})
}

// LastKnown returns the most recent cached snapshot without going through
// the inbox. Safe to call from any goroutine.
func (a *Actor) LastKnown() Snapshot {
	if s := a.cached.Load(); s != nil {
		return *s
	}
	return Snapshot{ID: a.id, IP: a.ip, Liveness: protocol.Disconnected}
}

// GetStateSync requests a fresh snapshot through the inbox, falling back
// to the last-known cache if the inbox is busy or the actor doesn't reply
// within deadline — matching Registry.list()'s per-board deadline policy
// (spec.md §4.3: "boards that miss the deadline are reported with
// last-known cache").
func (a *Actor) GetStateSync(deadline time.Duration) Snapshot {
	reply := make(chan Snapshot, 1)
	if err := a.Send(GetStateCmd{Reply: reply}); err != nil {
		return a.LastKnown()
	}
	select {
	case snap := <-reply:
		return snap
	case <-time.After(deadline):
		return a.LastKnown()
	}
}
