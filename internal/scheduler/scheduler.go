package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ledshow/internal/board"
	"ledshow/internal/protocol"
)

// tickResolution is the physical tick period. Logical resolution is 1 ms;
// the scheduler never sleeps longer than this between firing passes
// (spec.md §4.4 "physical tick may be ≤5 ms").
const tickResolution = 5 * time.Millisecond

// rateWindow is the length of the fixed counting window used for the
// per-board slow-control rate diagnostic (spec.md §4.4 point 3).
const rateWindow = time.Second

// rateLimit is the per-board slow-control message rate above which a
// diagnostic is logged; the cue still fires.
const rateLimit = 10

// State is the Cue Scheduler's state machine position (spec.md §4.4).
type State string

const (
	StateIdle    State = "idle"
	StateArmed   State = "armed"
	StatePlaying State = "playing"
	StateFaulted State = "faulted"
)

// TargetResolver expands board/group ids to actor handles. Registry
// satisfies this; defined here so scheduler doesn't import registry
// directly (avoids a dependency cycle and keeps the test surface narrow).
type TargetResolver interface {
	ResolveAll(targets []string) ([]*board.Actor, error)
}

// Scheduler is the Cue Scheduler (C4). One Scheduler drives at most one
// Playing session at a time.
type Scheduler struct {
	resolve TargetResolver
	pixel   board.PixelSink
	pub     board.Publisher
	lookup  ProgramLookup

	mu            sync.Mutex
	state         State
	armed         *Program
	armedOffsetMs int64
	session       *Session
	history       *historyRing

	appCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}

	// rateCounters tracks per-board slow-control send counts within the
	// current 1s window. Touched only from the single run-loop goroutine,
	// so it needs no lock of its own.
	rateCounters map[string]*rateCounter
}

type rateCounter struct {
	windowStart time.Time
	count       int
}

// New constructs an idle Scheduler. historyCapacity bounds the finished-
// session ring (spec.md §3).
func New(resolve TargetResolver, pixel board.PixelSink, pub board.Publisher, lookup ProgramLookup, historyCapacity int) *Scheduler {
	return &Scheduler{
		resolve:      resolve,
		pixel:        pixel,
		pub:          pub,
		lookup:       lookup,
		state:        StateIdle,
		history:      newHistoryRing(historyCapacity),
		rateCounters: make(map[string]*rateCounter),
	}
}

// State returns the current state-machine position.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the finished-session ring.
func (s *Scheduler) History() []SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.snapshot()
}

// CurrentSession returns the active session's id and live counters, or
// false if nothing is playing.
func (s *Scheduler) CurrentSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// Load validates p, walks its chain for cycles, and arms it (spec.md §4.4
// "Armed"). Load does not touch any in-flight Playing session.
func (s *Scheduler) Load(p *Program, audioSyncOffsetMs int64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := detectCycle(p, s.lookup); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = p
	s.armedOffsetMs = audioSyncOffsetMs
	if s.state != StatePlaying {
		s.state = StateArmed
	}
	return nil
}

// Start transitions Armed -> Playing. If a session is already Playing, it
// is stopped first (spec.md §4.4 "start while playing first invokes stop
// on the incumbent").
func (s *Scheduler) Start(ctx context.Context) error {
	if s.State() == StatePlaying {
		s.Stop()
	}

	s.mu.Lock()
	program := s.armed
	offset := s.armedOffsetMs
	s.armed = nil
	s.mu.Unlock()

	if program == nil {
		return ErrNothingArmed
	}
	s.mu.Lock()
	s.appCtx = ctx
	s.mu.Unlock()
	s.beginSession(ctx, program, offset)
	return nil
}

// Stop synchronously halts the current session: cancels the run loop,
// waits for it to perform its implicit zero-duration blackout and exit,
// and returns (spec.md §5: "synchronous... returns within 20 ms").
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	done := s.runDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) beginSession(parentCtx context.Context, program *Program, offsetMs int64) {
	runCtx, cancel := context.WithCancel(parentCtx)
	done := make(chan struct{})

	s.mu.Lock()
	s.runCancel = cancel
	s.runDone = done
	s.state = StatePlaying
	s.session = newSession(program.ID)
	s.rateCounters = make(map[string]*rateCounter)
	session := s.session
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runLoop(runCtx, program, offsetMs, session)
	}()
}

// runLoop fires cues against the monotonic clock until the cue list is
// exhausted or ctx is canceled, then resolves chain advance or finalizes
// the session.
func (s *Scheduler) runLoop(ctx context.Context, program *Program, offsetMs int64, session *Session) {
	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()

	idx := 0
	for idx < len(program.Cues) {
		select {
		case <-ctx.Done():
			s.performBlackout(context.Background(), program, 0)
			s.finishSession(true, nil)
			return
		case <-ticker.C:
			now := time.Now()
			fired := false
			for idx < len(program.Cues) {
				cue := program.Cues[idx]
				target := session.MonoStart.Add(time.Duration(cue.OffsetMs+offsetMs) * time.Millisecond)
				if target.After(now) {
					break
				}
				s.fireCue(session, cue, target, now)
				idx++
				fired = true
			}
			if fired {
				s.publishTelemetry(session)
			}
		}
	}

	s.handleChainEnd(ctx, program, session)
}

// fireCue dispatches one cue's payload and records drift.
func (s *Scheduler) fireCue(session *Session, cue Cue, target, now time.Time) {
	driftMs := now.Sub(target).Milliseconds()
	session.Drift.record(driftMs)
	if driftMs > driftAlarmThresholdMs {
		slog.Warn("cue fired with large drift", "session_id", session.ID, "drift_ms", driftMs)
	}

	actors, err := s.resolve.ResolveAll(cue.Targets)
	if err != nil {
		// Unknown target: per-cue drop, scheduler continues (spec.md §7).
		session.Transport.Err++
		slog.Warn("cue target resolution failed", "session_id", session.ID, "err", err)
		return
	}

	if cue.Payload.IsPixelStream() {
		s.dispatchPixels(session, actors, cue.Payload)
		return
	}
	s.dispatchSlowControl(session, actors, cue.Payload)
}

func (s *Scheduler) dispatchPixels(session *Session, actors []*board.Actor, payload CuePayload) {
	for _, a := range actors {
		ok, err := s.pixel.Send(a.IP(), payload.Universe, payload.Frame)
		switch {
		case err != nil:
			session.Transport.Err++
		case ok:
			session.Transport.OK++
		default:
			session.Transport.WouldBlock++
		}
	}
}

func (s *Scheduler) dispatchSlowControl(session *Session, actors []*board.Actor, payload CuePayload) {
	cmd := commandFor(payload)
	for _, a := range actors {
		s.checkRate(a.ID())
		err := a.Send(cmd)
		switch {
		case err == nil:
			session.Transport.OK++
		case errors.Is(err, board.ErrBusy):
			session.Transport.WouldBlock++
		default:
			session.Transport.Err++
		}
	}
}

// commandFor translates a slow-control payload into the board command it
// enqueues. Reply channels are nil: scheduler-originated commands are
// fire-and-forget (spec.md §4.4).
func commandFor(p CuePayload) board.Command {
	switch p.Kind {
	case PayloadPower:
		return board.ToggleCmd{}
	case PayloadBrightness:
		return board.SetBrightnessCmd{Value: p.Brightness}
	case PayloadColor:
		return board.SetColorCmd{R: p.Color[0], G: p.Color[1], B: p.Color[2]}
	case PayloadEffect:
		return board.SetEffectCmd{FX: p.Effect}
	default:
		return board.ApplyPresetCmd{PS: p.Preset}
	}
}

// checkRate logs a diagnostic if boardID's slow-control send count within
// its current window exceeds rateLimit (spec.md §4.4 point 3); the cue
// still fires regardless. A window opens at the first send after the
// previous one has lasted longer than rateWindow, and the count restarts
// there; it is not a sliding window, so a burst split across two windows
// is not flagged.
func (s *Scheduler) checkRate(boardID string) {
	now := time.Now()
	rc, ok := s.rateCounters[boardID]
	if !ok || now.Sub(rc.windowStart) > rateWindow {
		rc = &rateCounter{windowStart: now}
		s.rateCounters[boardID] = rc
	}
	rc.count++
	if rc.count == rateLimit+1 {
		slog.Warn("board exceeding slow-control rate limit", "board_id", boardID, "limit_per_sec", rateLimit)
	}
}

// handleChainEnd resolves the transition at cue-list exhaustion (spec.md
// §4.4 "Chain and transition handling").
func (s *Scheduler) handleChainEnd(ctx context.Context, program *Program, session *Session) {
	if program.NextProgramID == "" {
		s.finishSession(false, nil)
		return
	}
	next, ok := s.lookup.GetProgram(program.NextProgramID)
	if !ok {
		slog.Warn("chain target program missing at advance time", "program_id", program.NextProgramID)
		s.finishSession(false, nil)
		return
	}

	switch program.Transition.Kind {
	case Immediate:
		s.finishSession(false, next)
	case Blackout:
		s.performBlackout(ctx, program, program.Transition.DurationMs)
		if ctx.Err() != nil {
			s.finishSession(true, nil)
			return
		}
		s.finishSession(false, next)
	case Hold:
		if !s.wait(ctx, program.Transition.DurationMs) {
			s.finishSession(true, nil)
			return
		}
		s.finishSession(false, next)
	default:
		s.finishSession(false, next)
	}
}

// performBlackout broadcasts brightness=0 to the union of a program's
// targets, then waits durationMs. A zero duration still performs the
// broadcast (spec.md §4.4 "Manual stop... implicit blackout of duration 0").
func (s *Scheduler) performBlackout(ctx context.Context, program *Program, durationMs int64) {
	targets := program.targetUnion()
	if len(targets) > 0 {
		if actors, err := s.resolve.ResolveAll(targets); err == nil {
			for _, a := range actors {
				_ = a.Send(board.SetBrightnessCmd{Value: 0})
			}
		}
	}
	s.wait(ctx, durationMs)
}

// wait blocks for durationMs or until ctx is canceled, returning false in
// the latter case.
func (s *Scheduler) wait(ctx context.Context, durationMs int64) bool {
	if durationMs <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(time.Duration(durationMs) * time.Millisecond):
		return true
	case <-ctx.Done():
		return false
	}
}

// finishSession retires the current session into history. If next is
// non-nil, a new session begins immediately in its place (chain advance);
// otherwise the scheduler returns to Idle.
func (s *Scheduler) finishSession(stopped bool, next *Program) {
	s.mu.Lock()
	summary := s.session.summarize(stopped)
	s.history.push(summary)
	if next == nil {
		s.state = StateIdle
		s.session = nil
	}
	appCtx := s.appCtx
	s.mu.Unlock()

	if next == nil {
		return
	}
	// Chain advance inherits the original Start() context, so app shutdown
	// or a fresh manual Stop still reaches the chained session.
	s.beginSession(appCtx, next, 0)
}

func (s *Scheduler) publishTelemetry(session *Session) {
	if s.pub == nil {
		return
	}
	t := session.telemetry()
	s.pub.Publish(protocol.Event{Type: protocol.EventSchedulerTelemetry, Telemetry: &t})
}
