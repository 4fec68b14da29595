// Package httpapi is the thin external-command surface over the core:
// one Echo handler per spec.md §6 operation, translating HTTP/JSON into a
// Registry or Scheduler call and back.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"log/slog"

	"ledshow/internal/board"
	"ledshow/internal/eventbus"
	"ledshow/internal/registry"
	"ledshow/internal/scheduler"
)

// Server is the Echo application exposing register/deregister/list/
// toggle/setBrightness/setColor/setEffect/applyPreset/playProgram/stop/
// subscribe (spec.md §6).
type Server struct {
	echo      *echo.Echo
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	bus       *eventbus.Bus

	// appCtx outlives any single request. A board actor spawned by
	// Register, or a playback session spawned by Start, must keep
	// running after the handler that triggered it has already replied —
	// the request's own context is canceled by net/http the instant the
	// handler returns, so it can never be used as that work's lifetime.
	appCtx context.Context
}

// New constructs an Echo app wired to reg, sched, and bus. ctx bounds the
// lifetime of everything the façade spawns (board actors, playback
// sessions) — callers should pass the process's own long-lived context,
// not a request context.
func New(ctx context.Context, reg *registry.Registry, sched *scheduler.Scheduler, bus *eventbus.Bus) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, registry: reg, scheduler: sched, bus: bus, appCtx: ctx}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			path := req.URL.Path
			if path == "/ws" || path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request", "method", req.Method, "path", path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP())
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/api/boards", s.handleRegister)
	s.echo.DELETE("/api/boards/:id", s.handleDeregister)
	s.echo.GET("/api/boards", s.handleList)
	s.echo.POST("/api/boards/:id/toggle", s.handleToggle)
	s.echo.POST("/api/boards/:id/brightness", s.handleSetBrightness)
	s.echo.POST("/api/boards/:id/color", s.handleSetColor)
	s.echo.POST("/api/boards/:id/effect", s.handleSetEffect)
	s.echo.POST("/api/boards/:id/preset", s.handleApplyPreset)

	s.echo.POST("/api/programs/play", s.handlePlayProgram)
	s.echo.POST("/api/stop", s.handleStop)

	s.echo.GET("/ws", s.handleSubscribe)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Boards int    `json:"boards"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Boards: s.registry.Count()})
}

// --- Registry operations ---

type registerRequest struct {
	ID string `json:"id"`
	IP string `json:"ip"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.ID == "" || req.IP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id and ip are required")
	}
	if err := s.registry.Register(s.appCtx, req.ID, req.IP); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleDeregister(c echo.Context) error {
	id := c.Param("id")
	if err := s.registry.Deregister(id); err != nil {
		return notFoundOr500(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type boardResponse struct {
	ID         string `json:"id"`
	IP         string `json:"ip"`
	On         bool   `json:"on"`
	Brightness uint8  `json:"brightness"`
	Color      [3]uint8 `json:"color"`
	Effect     uint8  `json:"effect"`
	Liveness   string `json:"liveness"`
}

func (s *Server) handleList(c echo.Context) error {
	listing := s.registry.List()
	out := make([]boardResponse, 0, len(listing))
	for _, l := range listing {
		out = append(out, boardResponse{
			ID:         l.Snapshot.ID,
			IP:         l.Snapshot.IP,
			On:         l.Snapshot.On,
			Brightness: l.Snapshot.Brightness,
			Color:      l.Snapshot.Color,
			Effect:     l.Snapshot.Effect,
			Liveness:   string(l.Snapshot.Liveness),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// --- Ad-hoc board commands ---

func (s *Server) handleToggle(c echo.Context) error {
	actor, err := s.registry.Get(c.Param("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	reply := make(chan board.Snapshot, 1)
	if err := actor.Send(board.ToggleCmd{Reply: reply}); err != nil {
		return busyOr500(c, err)
	}
	select {
	case snap := <-reply:
		return c.JSON(http.StatusOK, snap.ToProtocol())
	case <-time.After(2 * time.Second):
		return c.JSON(http.StatusOK, actor.LastKnown().ToProtocol())
	}
}

type brightnessRequest struct {
	Value uint8 `json:"value"`
}

func (s *Server) handleSetBrightness(c echo.Context) error {
	var req brightnessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return s.sendCommand(c, board.SetBrightnessCmd{Value: req.Value})
}

type colorRequest struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (s *Server) handleSetColor(c echo.Context) error {
	var req colorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return s.sendCommand(c, board.SetColorCmd{R: req.R, G: req.G, B: req.B})
}

type effectRequest struct {
	FX uint8 `json:"fx"`
}

func (s *Server) handleSetEffect(c echo.Context) error {
	var req effectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return s.sendCommand(c, board.SetEffectCmd{FX: req.FX})
}

type presetRequest struct {
	PS uint8 `json:"ps"`
}

func (s *Server) handleApplyPreset(c echo.Context) error {
	var req presetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return s.sendCommand(c, board.ApplyPresetCmd{PS: req.PS})
}

func (s *Server) sendCommand(c echo.Context, cmd board.Command) error {
	actor, err := s.registry.Get(c.Param("id"))
	if err != nil {
		return notFoundOr500(c, err)
	}
	if err := actor.Send(cmd); err != nil {
		return busyOr500(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// --- Scheduler operations ---

type playProgramRequest struct {
	Program           scheduler.Program `json:"program"`
	AudioSyncOffsetMs int64             `json:"audio_sync_offset_ms"`
}

func (s *Server) handlePlayProgram(c echo.Context) error {
	var req playProgramRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.scheduler.Load(&req.Program, req.AudioSyncOffsetMs); err != nil {
		if errors.Is(err, scheduler.ErrChainCycle) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.scheduler.Start(s.appCtx); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleStop(c echo.Context) error {
	s.scheduler.Stop()
	return c.NoContent(http.StatusAccepted)
}

func notFoundOr500(c echo.Context, err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func busyOr500(c echo.Context, err error) error {
	if errors.Is(err, board.ErrBusy) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
