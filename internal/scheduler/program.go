// Package scheduler implements the Cue Scheduler (spec.md §4.4): it loads a
// Program, fires its Cues against a monotonic clock with drift tracking, and
// walks next_program_id chains with the configured transition.
package scheduler

import (
	"errors"
	"fmt"

	"ledshow/internal/protocol"
)

// ErrChainCycle is returned by Load when a program's next_program_id chain
// revisits an id (spec.md §4.4 "Cycle detection").
var ErrChainCycle = errors.New("chain cycle")

// ErrNothingArmed is returned by Start when no program has been Load-ed.
var ErrNothingArmed = errors.New("nothing armed")

// TransitionKind selects how the scheduler advances to the next program in
// a chain (spec.md §4.4).
type TransitionKind string

const (
	Immediate TransitionKind = "immediate"
	Blackout  TransitionKind = "blackout"
	Hold      TransitionKind = "hold"
)

// Transition describes the chain-advance behavior at cue-list exhaustion.
type Transition struct {
	Kind       TransitionKind `json:"kind"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// PayloadKind selects the protocol class a cue's payload is dispatched
// through (spec.md §4.4 "Dispatch policy per cue").
type PayloadKind string

const (
	PayloadPower      PayloadKind = "power"
	PayloadBrightness PayloadKind = "brightness"
	PayloadColor      PayloadKind = "color"
	PayloadEffect     PayloadKind = "effect"
	PayloadPreset     PayloadKind = "preset"
	PayloadPixels     PayloadKind = "pixels"
)

// CuePayload is the union of slow-control and pixel-stream payload shapes a
// cue may carry. Exactly one group of fields is meaningful, selected by Kind.
type CuePayload struct {
	Kind PayloadKind `json:"kind"`

	// Slow-control fields.
	Power      bool           `json:"power,omitempty"`
	Brightness uint8          `json:"brightness,omitempty"`
	Color      protocol.Color `json:"color,omitempty"`
	Effect     uint8          `json:"effect,omitempty"`
	Preset     uint8          `json:"preset,omitempty"`

	// Pixel-stream fields.
	Universe uint16            `json:"universe,omitempty"`
	Frame    protocol.DMXFrame `json:"frame,omitempty"`
}

// IsPixelStream reports whether this payload dispatches over the sACN pixel
// sink rather than a board's command inbox.
func (p CuePayload) IsPixelStream() bool { return p.Kind == PayloadPixels }

// Cue is one scheduled event within a Program, fired at OffsetMs relative to
// playback start (spec.md §3).
type Cue struct {
	OffsetMs int64      `json:"offset_ms"`
	Targets  []string   `json:"targets"` // board ids and/or group ids
	Payload  CuePayload `json:"payload"`
}

// Program is a sorted cue list plus its audio reference and optional chain
// continuation (spec.md §3).
type Program struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	AudioAssetID    string     `json:"audio_asset_id"`
	AudioDurationMs int64      `json:"audio_duration_ms"`
	Cues            []Cue      `json:"cues"`
	NextProgramID   string     `json:"next_program_id,omitempty"` // empty = no chain
	Transition      Transition `json:"transition"`
}

// Validate checks the cue list is sorted by offset and every offset falls
// within the program's declared audio duration.
func (p *Program) Validate() error {
	var last int64 = -1
	for i, c := range p.Cues {
		if c.OffsetMs < last {
			return fmt.Errorf("program %s: cue %d out of order (offset %dms after %dms)", p.ID, i, c.OffsetMs, last)
		}
		if p.AudioDurationMs > 0 && c.OffsetMs > p.AudioDurationMs {
			return fmt.Errorf("program %s: cue %d offset %dms exceeds audio duration %dms", p.ID, i, c.OffsetMs, p.AudioDurationMs)
		}
		last = c.OffsetMs
	}
	return nil
}

// targetUnion returns the de-duplicated set of every target named by any
// cue in the program, used for chain blackout broadcasts.
func (p *Program) targetUnion() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range p.Cues {
		for _, t := range c.Targets {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ProgramLookup resolves a program id to its record, used to walk
// next_program_id chains at load time and at chain-advance time. The
// program library itself is an external collaborator (spec.md §6);
// this is the narrow read interface the scheduler depends on.
type ProgramLookup interface {
	GetProgram(id string) (*Program, bool)
}

// detectCycle walks the next_program_id chain starting at p, failing with
// ErrChainCycle if any id is revisited (spec.md §4.4).
func detectCycle(p *Program, lookup ProgramLookup) error {
	visited := map[string]struct{}{p.ID: {}}
	cur := p
	for cur.NextProgramID != "" {
		if _, ok := visited[cur.NextProgramID]; ok {
			return fmt.Errorf("%w: program %s revisits %s", ErrChainCycle, p.ID, cur.NextProgramID)
		}
		next, ok := lookup.GetProgram(cur.NextProgramID)
		if !ok {
			// Unknown chain target surfaces at chain-advance time as a
			// per-cue-list drop, not a load-time failure; only cycles are
			// rejected at load.
			return nil
		}
		visited[cur.NextProgramID] = struct{}{}
		cur = next
	}
	return nil
}
