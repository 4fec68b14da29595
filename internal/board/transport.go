package board

import (
	"context"
	"time"

	"ledshow/internal/protocol"
)

// ControlLink is the per-board JSON control transport the actor drives.
// Defined here (the consumer) rather than in package transport, so tests
// can inject a fake without importing the real websocket dialer.
type ControlLink interface {
	// Dial opens the connection and blocks until the board's initial
	// full-state snapshot arrives or the handshake deadline elapses
	// (spec.md §4.1, "bounded time (<=2s) ... otherwise handshake failure").
	Dial(ctx context.Context) (protocol.StateFrame, error)

	// WriteJSON marshals and sends v, honoring a 5s per-write deadline.
	WriteJSON(v any) error

	// ReadFrame blocks for the next inbound state frame. It returns an
	// error if the read-side gap exceeds 30s or the link is otherwise
	// dead; the gap deadline is transport-managed so every implementation
	// enforces it consistently.
	ReadFrame() (protocol.StateFrame, error)

	// Ping sends a keepalive frame.
	Ping() error

	Close() error
}

// PixelSink is the process-wide sACN UDP sender a board targets for
// pixel-stream payloads. One sink instance is shared across all boards.
type PixelSink interface {
	// Send transmits frame on universe for this board, non-blocking.
	// ok=false with err=nil indicates a counted would-block (spec.md §4.1).
	Send(ip string, universe uint16, frame protocol.DMXFrame) (ok bool, err error)
}

// dialTimeout bounds the initial handshake per spec.md §4.1.
const dialTimeout = 2 * time.Second

// reconnectDelay is the fixed backoff between redial attempts (spec.md §4.2).
const reconnectDelay = 5 * time.Second

// keepaliveInterval is the ping cadence (spec.md §4.1).
const keepaliveInterval = 10 * time.Second
