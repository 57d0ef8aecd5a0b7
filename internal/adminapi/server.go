// Package adminapi is a read-only HTTP(S) surface for live introspection of
// the relay: health, Prometheus metrics, and JSON snapshots of rooms, users,
// and active calls, plus a streaming event feed over websocket. Nothing here
// originates or forwards control-channel or voice traffic — it observes the
// Registry and Call controller, never mutates them.
package adminapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/callctl"
	"chatrelay/internal/events"
	"chatrelay/internal/registry"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the admin Echo application.
type Server struct {
	echo  *echo.Echo
	reg   *registry.Registry
	calls *callctl.Controller
	hub   *events.Hub
}

// New constructs the admin HTTP app bound to reg, calls, and hub. hub is
// shared with the session and callctl packages, which publish to it; this
// package only ever subscribes and reads.
func New(reg *registry.Registry, calls *callctl.Controller, hub *events.Hub) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, reg: reg, calls: calls, hub: hub}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			if req.URL.Path == "/health" {
				return nil
			}
			slog.Info("admin http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/api/rooms", s.handleRooms)
	s.echo.GET("/api/users", s.handleUsers)
	s.echo.GET("/api/calls", s.handleCalls)
	s.echo.GET("/ws/events", s.handleEvents)
}

// Run starts Echo and blocks until ctx cancellation or startup failure. When
// tlsConfig is non-nil, the admin surface serves HTTPS using it instead of
// plain HTTP.
func (s *Server) Run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			err = s.echo.StartServer(&http.Server{Addr: addr, TLSConfig: tlsConfig})
		} else {
			err = s.echo.Start(addr)
		}
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
		slog.Info("shutting down admin http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.hub.CloseAll()
		slog.Info("admin http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Rooms   int    `json:"rooms"`
	Calls   int    `json:"calls"`
}

func (s *Server) handleHealth(c echo.Context) error {
	pairs := s.calls.Snapshot()
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: s.reg.Count(),
		Rooms:   len(s.reg.SnapshotRooms()),
		Calls:   len(pairs),
	})
}

func (s *Server) handleRooms(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.SnapshotRooms())
}

func (s *Server) handleUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.SnapshotUsers())
}

func (s *Server) handleCalls(c echo.Context) error {
	return c.JSON(http.StatusOK, s.calls.Snapshot())
}

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and streams hub events until the
// client disconnects. This connection never reads application frames from
// the client; it is strictly an outbound feed.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := eventsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	defer conn.Close()

	for evt := range sub.C() {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(evt); err != nil {
			return nil
		}
	}
	return nil
}
