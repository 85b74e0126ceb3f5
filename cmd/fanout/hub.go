package main

import (
	"context"
	"sync"

	"github.com/lyzr/mutwizard/common/logger"
)

// Hub maintains active WebSocket connections and routes status messages to
// the connections of their owner
type Hub struct {
	// Map: owner → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message

	// Closed when Run returns
	done chan struct{}

	log *logger.Logger
}

// Message is one status update for an owner
type Message struct {
	Owner string
	RunID string
	Data  []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run starts the hub's main loop; it returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToOwner(message)
		}
	}
}

// Publish queues a message; a full queue drops it
func (h *Hub) Publish(msg *Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.log.Warn("broadcast queue full, status dropped", "owner", msg.Owner, "run_id", msg.RunID)
		return false
	}
}

// leave unregisters a client unless the hub has stopped
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.owner] = append(h.connections[client.owner], client)
	h.log.Info("client registered",
		"owner", client.owner,
		"run_id", client.runID,
		"total_for_owner", len(h.connections[client.owner]))
}

// unregisterClient removes a client from the hub. Unknown clients are
// ignored, so a client is closed at most once.
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.owner]
	for i, c := range clients {
		if c != client {
			continue
		}
		h.connections[client.owner] = append(clients[:i:i], clients[i+1:]...)
		close(client.send)

		if len(h.connections[client.owner]) == 0 {
			delete(h.connections, client.owner)
		}

		h.log.Info("client unregistered",
			"owner", client.owner,
			"remaining_for_owner", len(h.connections[client.owner]))
		return
	}
}

// broadcastToOwner sends a message to every connection of its owner that
// follows the message's run. Clients whose buffer is full are dropped.
func (h *Hub) broadcastToOwner(message *Message) {
	var slow []*Client

	h.mutex.RLock()
	for _, client := range h.connections[message.Owner] {
		if !client.follows(message.RunID) {
			continue
		}
		select {
		case client.send <- message.Data:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		h.log.Warn("client send buffer full, closing connection", "owner", client.owner)
		h.unregisterClient(client)
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for owner, clients := range h.connections {
		for _, c := range clients {
			close(c.send)
		}
		delete(h.connections, owner)
	}
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// OwnerCount returns the number of owners with at least one connection
func (h *Hub) OwnerCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
