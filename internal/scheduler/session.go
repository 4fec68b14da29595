package scheduler

import (
	"time"

	"github.com/google/uuid"

	"ledshow/internal/protocol"
)

// driftWarnThresholdMs flags an individual cue as "drifted" in telemetry
// (spec.md §4.4); it does not affect firing.
const driftWarnThresholdMs = 50

// driftAlarmThresholdMs triggers a structured warning log; firing still
// proceeds (spec.md §4.4 "does not skip firing").
const driftAlarmThresholdMs = 500

// DriftStats accumulates cue-firing timing accuracy for one session.
type DriftStats struct {
	Fired       int
	Drifted     int
	TotalDriftMs int64
	MaxDriftMs  int64
}

func (d *DriftStats) record(driftMs int64) {
	d.Fired++
	if driftMs > driftWarnThresholdMs {
		d.Drifted++
	}
	d.TotalDriftMs += driftMs
	if driftMs > d.MaxDriftMs {
		d.MaxDriftMs = driftMs
	}
}

// TransportStats counts dispatch outcomes across both protocol classes.
type TransportStats struct {
	OK          int64
	WouldBlock  int64
	Err         int64
}

// Session is one playback of a Program, identified for the duration of its
// state-machine lifetime (spec.md §3 "Playback Session").
type Session struct {
	ID        string
	ProgramID string
	WallStart time.Time
	MonoStart time.Time // monotonic reading; only WallStart is for telemetry display

	CueIndex int
	Drift    DriftStats
	Transport TransportStats
}

func newSession(programID string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		ProgramID: programID,
		WallStart: now,
		MonoStart: now,
	}
}

// telemetry renders the session's current counters in the event-bus wire
// shape (spec.md §6).
func (s *Session) telemetry() protocol.SchedulerTelemetry {
	return protocol.SchedulerTelemetry{
		SessionID:         s.ID,
		CueCount:          s.Drift.Fired,
		CuesDrifted:       s.Drift.Drifted,
		CueDriftTotalMs:   s.Drift.TotalDriftMs,
		CueDriftMaxMs:     s.Drift.MaxDriftMs,
		PacketsOK:         s.Transport.OK,
		PacketsWouldBlock: s.Transport.WouldBlock,
		PacketsErr:        s.Transport.Err,
	}
}

// SessionSummary is the finalized record kept in the bounded history ring
// after a session ends (spec.md §3: "ended sessions move into a bounded
// history ring").
type SessionSummary struct {
	ID        string
	ProgramID string
	WallStart time.Time
	EndedAt   time.Time
	Stopped   bool // true if ended via manual stop rather than natural exhaustion
	Drift     DriftStats
	Transport TransportStats
}

func (s *Session) summarize(stopped bool) SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		ProgramID: s.ProgramID,
		WallStart: s.WallStart,
		EndedAt:   time.Now(),
		Stopped:   stopped,
		Drift:     s.Drift,
		Transport: s.Transport,
	}
}

// historyRing is a fixed-capacity ring buffer of finished sessions
// (spec.md §3 / SPEC_FULL §12). Not safe for concurrent use; callers
// serialize access via Scheduler's mutex.
type historyRing struct {
	cap   int
	items []SessionSummary
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{cap: capacity}
}

func (h *historyRing) push(s SessionSummary) {
	h.items = append(h.items, s)
	if len(h.items) > h.cap {
		h.items = h.items[len(h.items)-h.cap:]
	}
}

func (h *historyRing) snapshot() []SessionSummary {
	out := make([]SessionSummary, len(h.items))
	copy(out, h.items)
	return out
}
