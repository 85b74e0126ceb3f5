package main

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/common/logger"
)

// anonymousOwner matches the wizard's session of requests without X-User-ID
const anonymousOwner = "anonymous"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only and carries no credentials
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server handles WebSocket connections
type Server struct {
	hub *Hub
	log *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, log *logger.Logger) *Server {
	return &Server{hub: hub, log: log}
}

// HandleWebSocket upgrades the connection and registers it with the hub.
// The owner comes from X-User-ID or ?owner=; ?run_id= narrows the stream
// to one run.
// GET /ws?owner=alice&run_id=0190...
func (s *Server) HandleWebSocket(c echo.Context) error {
	owner := c.Request().Header.Get("X-User-ID")
	if owner == "" {
		owner = c.QueryParam("owner")
	}
	if owner == "" {
		owner = anonymousOwner
	}
	runID := c.QueryParam("run_id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.log.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	client := NewClient(s.hub, conn, owner, runID, s.log)
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return nil
	}

	s.log.Info("new websocket connection", "owner", owner, "run_id", runID, "remote", c.RealIP())

	go client.writePump()
	go client.readPump()
	return nil
}

// Stats reports the live connection counts
// GET /stats
func (s *Server) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"connections": s.hub.ConnectionCount(),
		"owners":      s.hub.OwnerCount(),
	})
}
