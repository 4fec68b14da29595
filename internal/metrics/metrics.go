// Package metrics runs a periodic operational snapshot logger: registry
// size, active session drift stats, and subscriber count (SPEC_FULL §12).
package metrics

import (
	"context"
	"log/slog"
	"time"

	"ledshow/internal/eventbus"
	"ledshow/internal/registry"
	"ledshow/internal/scheduler"
)

// Run logs a snapshot every interval until ctx is canceled.
func Run(ctx context.Context, reg *registry.Registry, sched *scheduler.Scheduler, bus *eventbus.Bus, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			boards := reg.Count()
			subs := bus.SubscriberCount()

			if session, playing := sched.CurrentSession(); playing {
				slog.Info("metrics snapshot",
					"boards", boards,
					"subscribers", subs,
					"scheduler_state", sched.State(),
					"session_id", session.ID,
					"cues_fired", session.Drift.Fired,
					"cues_drifted", session.Drift.Drifted,
					"max_drift_ms", session.Drift.MaxDriftMs,
					"packets_wouldblock", session.Transport.WouldBlock,
				)
				continue
			}
			slog.Info("metrics snapshot", "boards", boards, "subscribers", subs, "scheduler_state", sched.State())
		}
	}
}
