// Package board owns the per-board actor: the sole reader/writer of one
// board's cached attributes and its control-link transport.
package board

import (
	"time"

	"ledshow/internal/protocol"
)

// ErrBusy is returned when a command cannot be enqueued because the
// actor's inbox is full (spec.md §7 "Busy").
var ErrBusy = errBusy{}

type errBusy struct{}

func (errBusy) Error() string { return "board actor inbox is full" }

// Snapshot is an immutable copy of a board's cached state plus identity.
type Snapshot struct {
	ID         string
	IP         string
	On         bool
	Brightness uint8
	Color      protocol.Color
	Effect     uint8
	Liveness   protocol.Liveness
	LastSeen   time.Time
}

// ToProtocol converts a Snapshot to the wire shape sent to clients.
func (s Snapshot) ToProtocol() protocol.BoardState {
	return protocol.BoardState{
		ID:         s.ID,
		IP:         s.IP,
		On:         s.On,
		Brightness: s.Brightness,
		Color:      s.Color,
		Effect:     s.Effect,
		Liveness:   s.Liveness,
	}
}

// state is the actor-private mutable cache. Only the actor goroutine ever
// touches this; everyone else reads via GetState.
type state struct {
	id         string
	ip         string
	on         bool
	brightness uint8
	color      protocol.Color
	effect     uint8
	liveness   protocol.Liveness
	lastSeen   time.Time
}

func (s state) snapshot() Snapshot {
	return Snapshot{
		ID:         s.id,
		IP:         s.ip,
		On:         s.on,
		Brightness: s.brightness,
		Color:      s.color,
		Effect:     s.effect,
		Liveness:   s.liveness,
		LastSeen:   s.lastSeen,
	}
}
