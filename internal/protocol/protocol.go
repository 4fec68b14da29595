// Package protocol defines the wire shapes this server speaks: the WLED
// control-link JSON dialect on one side, and the event-bus records streamed
// out to subscribed UI clients on the other.
package protocol

// Liveness is the connection state of a board's control link, as observed
// by clients.
type Liveness string

const (
	Connected    Liveness = "connected"
	Disconnected Liveness = "disconnected"
)

// Color is a three-channel 8-bit primary color.
type Color [3]uint8

// BoardState is a snapshot of one board's cached attributes, as surfaced to
// clients in state_update events and list() replies.
type BoardState struct {
	ID         string   `json:"id"`
	IP         string   `json:"ip"`
	On         bool     `json:"on"`
	Brightness uint8    `json:"brightness"`
	Color      Color    `json:"color"`
	Effect     uint8    `json:"effect"`
	Liveness   Liveness `json:"liveness"`
}

// --- WLED control-link JSON (outbound to boards) ---
//
// Each outbound message is a compact JSON object; zero-valued / default
// fields are omitted to minimize firmware parsing cost (spec.md §4.1).

// PowerMsg sets segment power.
type PowerMsg struct {
	On bool `json:"on"`
	TT uint16 `json:"tt,omitempty"` // transition time, 0 = firmware default
}

// BrightnessMsg sets global brightness.
type BrightnessMsg struct {
	Bri uint8 `json:"bri"`
}

// segment is the WLED "seg" wrapper; always a one-element array in this
// server since boards are addressed as a single logical segment.
type segment struct {
	Col [][3]uint8 `json:"col,omitempty"`
	FX  *uint8     `json:"fx,omitempty"`
}

// ColorMsg sets the primary color of segment 0.
type ColorMsg struct {
	Seg [1]segment `json:"seg"`
}

// NewColorMsg builds the minimal color-set payload.
func NewColorMsg(c Color) ColorMsg {
	return ColorMsg{Seg: [1]segment{{Col: [][3]uint8{{c[0], c[1], c[2]}}}}}
}

// EffectMsg sets the active effect index of segment 0.
type EffectMsg struct {
	Seg [1]segment `json:"seg"`
}

// NewEffectMsg builds the minimal effect-set payload.
func NewEffectMsg(fx uint8) EffectMsg {
	return EffectMsg{Seg: [1]segment{{FX: &fx}}}
}

// PresetMsg applies a stored preset by id.
type PresetMsg struct {
	PS uint8 `json:"ps"`
}

// StateFrame is the inbound shape a board emits on connect and on any
// local or remote state change. Only the fields this server cares about
// are decoded; unknown fields are ignored.
type StateFrame struct {
	On  *bool  `json:"on,omitempty"`
	Bri *uint8 `json:"bri,omitempty"`
	Seg []struct {
		Col [][3]uint8 `json:"col,omitempty"`
		FX  *uint8     `json:"fx,omitempty"`
	} `json:"seg,omitempty"`
}

// --- Event bus records (outbound to subscribed UI clients) ---

// EventType tags the self-describing event-stream record.
type EventType string

const (
	EventConnected           EventType = "connected"
	EventStateUpdate         EventType = "state_update"
	EventSchedulerTelemetry  EventType = "scheduler_telemetry"
)

// Event is the envelope streamed to each subscriber. BoardID duplicates
// State.ID at the top level for state_update records, matching the
// documented state_update{board_id, state{…}} wire shape (spec.md §6).
type Event struct {
	Type      EventType           `json:"type"`
	BoardID   string              `json:"board_id,omitempty"`
	State     *BoardState         `json:"state,omitempty"`
	Telemetry *SchedulerTelemetry `json:"telemetry,omitempty"`
}

// SchedulerTelemetry reports per-session cue-firing counters, per spec.md §6.
type SchedulerTelemetry struct {
	SessionID        string `json:"session_id"`
	CueCount         int    `json:"cue_count"`
	CuesDrifted      int    `json:"cues_drifted"`
	CueDriftTotalMs  int64  `json:"cue_drift_total_ms"`
	CueDriftMaxMs    int64  `json:"cue_drift_max_ms"`
	PacketsOK        int64  `json:"packets_ok"`
	PacketsWouldBlock int64 `json:"packets_wouldblock"`
	PacketsErr       int64  `json:"packets_err"`
}
