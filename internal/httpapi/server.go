// Package httpapi exposes a small read-only status API over HTTP, for
// dashboards and liveness probes. It never mutates server state.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hybrid/server/internal/channels"
	"hybrid/server/internal/state"
	"hybrid/server/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	registry *state.Registry
	channels *channels.Manager
	st       *store.Store
}

// New constructs the Echo app with all status routes registered.
func New(reg *state.Registry, cm *channels.Manager, st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, registry: reg, channels: cm, st: st}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/channels", s.handleChannels)
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
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: s.registry.TextCount(),
	})
}

type stateResponse struct {
	Clients    int              `json:"clients"`
	Registered int              `json:"registered"`
	Users      []state.UserInfo `json:"users"`
}

func (s *Server) handleState(c echo.Context) error {
	users := s.registry.OnlineUsers()
	if users == nil {
		users = []state.UserInfo{}
	}
	registered, err := s.st.UserCount()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "user count unavailable")
	}
	return c.JSON(http.StatusOK, stateResponse{
		Clients:    len(users),
		Registered: registered,
		Users:      users,
	})
}

type channelInfo struct {
	Name      string   `json:"name"`
	Permanent bool     `json:"permanent"`
	Users     []string `json:"users"`
}

func (s *Server) handleChannels(c echo.Context) error {
	out := make([]channelInfo, 0)
	for _, ch := range s.channels.List() {
		users := s.registry.UsersInChannel(ch.Name)
		if users == nil {
			users = []string{}
		}
		out = append(out, channelInfo{Name: ch.Name, Permanent: ch.Permanent, Users: users})
	}
	return c.JSON(http.StatusOK, out)
}
