// Package transport provides the two wire-level transports of spec.md
// §4.1: a per-board JSON control link over WebSocket, and a process-wide
// sACN/E1.31 UDP pixel sink.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ledshow/internal/board"
	"ledshow/internal/protocol"
)

// writeDeadline bounds every outbound write (spec.md §4.1).
const writeDeadline = 5 * time.Second

// readGap is the maximum silence on the read side before the link is
// considered dead (spec.md §4.1).
const readGap = 30 * time.Second

// handshakeWindow bounds how long Dial waits for the board's initial
// full-state snapshot (spec.md §4.1).
const handshakeWindow = 2 * time.Second

// WebSocketControlLink dials a WLED board's "/ws" control endpoint.
// It satisfies board.ControlLink.
type WebSocketControlLink struct {
	ip string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketControlLink constructs a dialer for one board's control
// endpoint. Dial must be called before use.
func NewWebSocketControlLink(ip string) *WebSocketControlLink {
	return &WebSocketControlLink{ip: ip}
}

// Dial opens the connection and blocks for the initial state snapshot.
func (w *WebSocketControlLink) Dial(ctx context.Context) (protocol.StateFrame, error) {
	u := url.URL{Scheme: "ws", Host: w.ip, Path: "/ws"}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeWindow}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return protocol.StateFrame{}, fmt.Errorf("dial %s: %w", w.ip, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWindow))
	var frame protocol.StateFrame
	if err := conn.ReadJSON(&frame); err != nil {
		conn.Close()
		return protocol.StateFrame{}, fmt.Errorf("handshake read %s: %w", w.ip, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readGap))
	return frame, nil
}

// WriteJSON marshals and sends v with the fixed write deadline.
func (w *WebSocketControlLink) WriteJSON(v any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("write to %s: not connected", w.ip)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame blocks for the next inbound frame, enforcing the read-gap
// deadline on every call.
func (w *WebSocketControlLink) ReadFrame() (protocol.StateFrame, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return protocol.StateFrame{}, fmt.Errorf("read from %s: not connected", w.ip)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readGap))
	var frame protocol.StateFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return protocol.StateFrame{}, fmt.Errorf("read %s: %w", w.ip, err)
	}
	return frame, nil
}

// Ping sends a keepalive ping frame.
func (w *WebSocketControlLink) Ping() error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ping %s: not connected", w.ip)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// Close releases the underlying connection.
func (w *WebSocketControlLink) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Dialer adapts NewWebSocketControlLink to registry.LinkDialer's shape.
func Dialer(id, ip string) board.ControlLink {
	return NewWebSocketControlLink(ip)
}

var _ board.ControlLink = (*WebSocketControlLink)(nil)
