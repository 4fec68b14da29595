// Package registry is the process-wide directory of board actors and
// groups (spec.md §4.3).
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ledshow/internal/board"
	"ledshow/internal/protocol"
)

// ErrAlreadyExists is returned by Register when the id is already present.
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound is returned when a board or group id is unknown.
var ErrNotFound = errors.New("not found")

// listDeadline bounds how long list() waits for any single board's
// GetState reply before falling back to its last-known cache
// (spec.md §4.3).
const listDeadline = 250 * time.Millisecond

// LinkDialer constructs a fresh ControlLink for a newly registered board.
// Injected so tests can supply fakes without the registry knowing about
// websockets.
type LinkDialer func(id, ip string) board.ControlLink

// Persister is the external board/group-table collaborator (spec.md §6,
// "interface only"). A nil Persister is valid; Registry then simply
// skips persistence.
type Persister interface {
	SaveBoard(id, ip string) error
	DeleteBoard(id string) error
	SaveGroup(id string, members []string) error
}

// Registry owns the board id -> actor map and the group id -> members map.
type Registry struct {
	mu     sync.RWMutex
	boards map[string]*entry
	groups map[string][]string

	dial LinkDialer
	pub  board.Publisher
	store Persister
}

type entry struct {
	actor  *board.Actor
	cancel context.CancelFunc
}

// New constructs an empty Registry. pub receives state-change events from
// every board it spawns; store, if non-nil, persists register/deregister.
func New(dial LinkDialer, pub board.Publisher, store Persister) *Registry {
	return &Registry{
		boards: make(map[string]*entry),
		groups: make(map[string][]string),
		dial:   dial,
		pub:    pub,
		store:  store,
	}
}

// Register spawns an actor for a new board id. Fails with ErrAlreadyExists
// if id is already registered.
func (r *Registry) Register(ctx context.Context, id, ip string) error {
	r.mu.Lock()
	if _, ok := r.boards[id]; ok {
		r.mu.Unlock()
		return ErrAlreadyExists
	}

	link := r.dial(id, ip)
	actor := board.NewActor(id, ip, link, r.pub)
	actorCtx, cancel := context.WithCancel(ctx)
	r.boards[id] = &entry{actor: actor, cancel: cancel}
	r.mu.Unlock()

	go actor.Run(actorCtx)

	if r.store != nil {
		if err := r.store.SaveBoard(id, ip); err != nil {
			slog.Error("persist board registration failed", "board_id", id, "err", err)
		}
	}
	slog.Info("board registered", "board_id", id, "ip", ip)
	return nil
}

// Deregister shuts an actor down and removes it. Fails with ErrNotFound
// if id is unknown.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	e, ok := r.boards[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.boards, id)
	changed := make(map[string][]string)
	for g, members := range r.groups {
		trimmed := removeString(members, id)
		if len(trimmed) != len(members) {
			changed[g] = trimmed
		}
		r.groups[g] = trimmed
	}
	r.mu.Unlock()

	if r.store != nil {
		for g, members := range changed {
			if err := r.store.SaveGroup(g, members); err != nil {
				slog.Error("persist group membership failed", "group_id", g, "err", err)
			}
		}
	}

	done := make(chan struct{})
	if err := e.actor.Send(board.ShutdownCmd{Done: done}); err == nil {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	e.cancel()

	if r.store != nil {
		if err := r.store.DeleteBoard(id); err != nil {
			slog.Error("persist board deregistration failed", "board_id", id, "err", err)
		}
	}
	slog.Info("board deregistered", "board_id", id)
	return nil
}

// RegisterGroup creates or replaces a group's ordered member list. Unknown
// member ids are accepted at group-definition time; resolve() is where
// unknown targets surface as errors.
func (r *Registry) RegisterGroup(id string, members []string) {
	r.mu.Lock()
	cp := make([]string, len(members))
	copy(cp, members)
	r.groups[id] = cp
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveGroup(id, cp); err != nil {
			slog.Error("persist group failed", "group_id", id, "err", err)
		}
	}
}

// BoardListing is one row of a list() reply.
type BoardListing struct {
	ID       string
	Snapshot board.Snapshot
}

// List returns a snapshot of every registered board. Each board is polled
// in parallel with a per-board deadline; boards that miss it are reported
// with their last-known cache (spec.md §4.3).
func (r *Registry) List() []BoardListing {
	r.mu.RLock()
	ids := make([]string, 0, len(r.boards))
	actors := make([]*board.Actor, 0, len(r.boards))
	for id, e := range r.boards {
		ids = append(ids, id)
		actors = append(actors, e.actor)
	}
	r.mu.RUnlock()

	out := make([]BoardListing, len(ids))
	var wg sync.WaitGroup
	wg.Add(len(ids))
	for i := range ids {
		i := i
		go func() {
			defer wg.Done()
			out[i] = BoardListing{ID: ids[i], Snapshot: actors[i].GetStateSync(listDeadline)}
		}()
	}
	wg.Wait()
	return out
}

// Resolve expands a board id or group id into the inboxes (actors) of its
// members. Unknown targets produce ErrNotFound for the whole operation.
func (r *Registry) Resolve(target string) ([]*board.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.boards[target]; ok {
		return []*board.Actor{e.actor}, nil
	}
	if members, ok := r.groups[target]; ok {
		out := make([]*board.Actor, 0, len(members))
		for _, m := range members {
			e, ok := r.boards[m]
			if !ok {
				return nil, ErrNotFound
			}
			out = append(out, e.actor)
		}
		return out, nil
	}
	return nil, ErrNotFound
}

// ResolveAll expands a mixed set of board and group ids, de-duplicating
// actors that appear via more than one target. Unknown targets produce
// ErrNotFound for the whole operation.
func (r *Registry) ResolveAll(targets []string) ([]*board.Actor, error) {
	seen := make(map[string]struct{})
	var out []*board.Actor
	for _, t := range targets {
		actors, err := r.Resolve(t)
		if err != nil {
			return nil, err
		}
		for _, a := range actors {
			if _, dup := seen[a.ID()]; dup {
				continue
			}
			seen[a.ID()] = struct{}{}
			out = append(out, a)
		}
	}
	return out, nil
}

// Get returns one board's actor, or ErrNotFound.
func (r *Registry) Get(id string) (*board.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.boards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.actor, nil
}

// Count returns the number of registered boards.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}

// ConnectedSnapshot returns a protocol.BoardState for every board
// currently registered, used to seed a freshly attached subscriber
// (spec.md §4.5).
func (r *Registry) ConnectedSnapshot() []protocol.BoardState {
	listing := r.List()
	out := make([]protocol.BoardState, 0, len(listing))
	for _, l := range listing {
		out = append(out, l.Snapshot.ToProtocol())
	}
	return out
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
