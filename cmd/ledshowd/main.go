// Command ledshowd is the LED show control server: it owns the board
// registry, the cue scheduler, the sACN pixel sink, and the thin HTTP/JSON
// façade described in spec.md §6.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"flag"

	"ledshow/internal/eventbus"
	"ledshow/internal/httpapi"
	"ledshow/internal/metrics"
	"ledshow/internal/registry"
	"ledshow/internal/scheduler"
	"ledshow/internal/store"
	"ledshow/internal/transport"
)

func main() {
	addr := flag.String("addr", ":8090", "HTTP/WebSocket listen address")
	dbPath := flag.String("db", "ledshow.db", "SQLite database path")
	sourceName := flag.String("sacn-source-name", "ledshowd", "E1.31 source name advertised in outbound packets")
	priority := flag.Int("sacn-priority", 100, "E1.31 packet priority (0-200, spec default 100)")
	historyCap := flag.Int("history-capacity", 32, "number of finished playback sessions retained in memory")
	metricsInterval := flag.Duration("metrics-interval", 5*time.Second, "operational snapshot log interval")
	flag.Parse()

	if *priority > 200 {
		*priority = 100
	}

	st, err := store.New(*dbPath)
	if err != nil {
		slog.Error("open store failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := eventbus.New()

	reg := registry.New(transport.Dialer, bus, st)

	pixel, err := transport.NewUDPPixelSink(*sourceName, uint8(*priority))
	if err != nil {
		slog.Error("open sACN sink failed", "err", err)
		os.Exit(1)
	}
	defer pixel.Close()

	sched := scheduler.New(reg, pixel, bus, st, *historyCap)

	restoreBoards(reg, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := httpapi.New(ctx, reg, sched, bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		sched.Stop()
		cancel()
	}()

	go metrics.Run(ctx, reg, sched, bus, *metricsInterval)

	slog.Info("ledshowd listening", "addr", *addr, "db", *dbPath)
	if err := api.Run(ctx, *addr); err != nil {
		slog.Error("http server exited with error", "err", err)
		os.Exit(1)
	}
}

// restoreBoards repopulates the registry from persisted state at startup,
// so a process restart doesn't lose previously registered boards and
// groups.
func restoreBoards(reg *registry.Registry, st *store.Store) {
	boards, err := st.LoadBoards()
	if err != nil {
		slog.Error("load persisted boards failed", "err", err)
		return
	}
	for _, b := range boards {
		if err := reg.Register(context.Background(), b.ID, b.IP); err != nil {
			slog.Warn("restore board failed", "board_id", b.ID, "err", err)
		}
	}

	groups, err := st.LoadGroups()
	if err != nil {
		slog.Error("load persisted groups failed", "err", err)
		return
	}
	for _, g := range groups {
		reg.RegisterGroup(g.ID, g.Members)
	}
}
