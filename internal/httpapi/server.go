package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roomd/internal/core"
	"roomd/internal/protocol"
	"roomd/internal/room"
	"roomd/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application.
type Server struct {
	echo  *echo.Echo
	coord *core.Coordinator
	name  string
}

// New constructs an Echo app with websocket + inspection routes.
func New(coord *core.Coordinator, name string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, coord: coord, name: name}
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
	s.echo.GET("/api/lobbies", s.handleLobbies)
	ws.NewHandler(s.coord).Register(s.echo)
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
	Name    string `json:"name"`
	Clients int    `json:"clients"`
	Rooms   int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Name:    s.name,
		Clients: s.coord.ClientCount(),
		Rooms:   s.coord.Rooms().Count(),
	})
}

type stateResponse struct {
	Clients  int                `json:"clients"`
	Sessions []core.SessionInfo `json:"sessions"`
	Rooms    []room.Summary     `json:"rooms"`
}

func (s *Server) handleState(c echo.Context) error {
	sessions := s.coord.Sessions()
	return c.JSON(http.StatusOK, stateResponse{
		Clients:  len(sessions),
		Sessions: sessions,
		Rooms:    s.coord.Rooms().Rooms(),
	})
}

type lobbiesResponse struct {
	Lobbies []protocol.LobbyStat `json:"lobbies"`
}

// handleLobbies reports lobby stats. Without query parameters every known
// lobby is listed; ?name=a,b&type=0,2 selects lobbies like GetLobbyStats.
func (s *Server) handleLobbies(c echo.Context) error {
	var names []string
	var types []int
	if raw := strings.TrimSpace(c.QueryParam("name")); raw != "" {
		names = strings.Split(raw, ",")
	}
	if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "type must be a comma separated list of integers")
			}
			types = append(types, t)
		}
		if names == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "type requires name")
		}
	}

	stats, err := s.coord.Lobbies().Stats(names, types)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, lobbiesResponse{Lobbies: stats})
}
