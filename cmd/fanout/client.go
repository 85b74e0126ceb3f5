package main

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/mutwizard/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Clients only send pongs
	maxMessageSize = 512

	sendBuffer = 512
)

// Client is one WebSocket connection of an owner, optionally narrowed to
// one run
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	owner string
	runID string
	send  chan []byte
	log   *logger.Logger
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, owner, runID string, log *logger.Logger) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		owner: owner,
		runID: runID,
		send:  make(chan []byte, sendBuffer),
		log:   log,
	}
}

// follows reports whether the client wants messages of runID
func (c *Client) follows(runID string) bool {
	return c.runID == "" || c.runID == runID
}

// readPump only handles ping/pong and detects disconnects; the stream is
// server-push
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "owner", c.owner, "error", err)
			}
			return
		}
	}
}

// writePump sends each status message as its own text frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
