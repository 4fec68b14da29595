package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ledshow/internal/eventbus"
)

const subscribeWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleSubscribe upgrades the request and streams event-bus records until
// the client disconnects (spec.md §6 "subscribe() returns an event stream").
// Each event is one websocket text frame carrying the self-describing
// record from spec.md §6; framing supplies the same delimiting a
// newline would on a byte stream.
func (s *Server) handleSubscribe(c echo.Context) error {
	remote := c.RealIP()
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remote, "err", err)
		return err
	}
	defer conn.Close()

	filter := eventbus.Filter{
		BoardID:       c.QueryParam("board_id"),
		TelemetryOnly: c.QueryParam("telemetry_only") == "true",
	}
	sub := s.bus.Subscribe(filter, s.registry.ConnectedSnapshot())
	defer s.bus.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Info("subscriber attached", "subscription_id", sub.ID, "remote", remote)
	defer slog.Info("subscriber detached", "subscription_id", sub.ID, "remote", remote, "overflow", sub.OverflowCount())

	for {
		event, ok := sub.Next(done)
		if !ok {
			return nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(subscribeWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			return nil
		}
	}
}
