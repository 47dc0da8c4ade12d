package ws

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vmelnikau/echolink/internal/wire"
)

// ErrOffline is returned when a frame is written to a user without a live
// connection. Callers fall back to pull sync; it is not a failure.
var ErrOffline = errors.New("user has no live connection")

// FrameWriter is the transport half of a client connection. Implementations
// must be safe for concurrent writes.
type FrameWriter interface {
	WriteFrame(frame wire.Frame) error
	Close() error
}

// ClientConnection wraps a connection handle with liveness metadata
type ClientConnection struct {
	Writer     FrameWriter
	UserID     uint
	LastPong   time.Time
	PingTicker *time.Ticker
	CloseChan  chan struct{}
}

// Hub is the presence registry: it maps each authenticated user to their
// single live connection and polices liveness with a ping/pong frame pair.
type Hub struct {
	clients      map[uint]*ClientConnection
	clientsMux   sync.RWMutex
	pingInterval time.Duration
	pongTimeout  time.Duration
	onDisconnect []func(userID uint)
}

// NewHub creates a hub and starts its health checker.
func NewHub(pingInterval, pongTimeout time.Duration) *Hub {
	hub := &Hub{
		clients:      make(map[uint]*ClientConnection),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
	go hub.connectionHealthChecker()
	return hub
}

// OnDisconnect registers a callback fired whenever a user's registration is
// removed or replaced. Wired to the outbox at startup.
func (h *Hub) OnDisconnect(fn func(userID uint)) {
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Register binds a user to a connection. A user holds at most one live
// registration; a new connection replaces (and closes) the previous handle.
func (h *Hub) Register(userID uint, writer FrameWriter) {
	client := &ClientConnection{
		Writer:     writer,
		UserID:     userID,
		LastPong:   time.Now(),
		PingTicker: time.NewTicker(h.pingInterval),
		CloseChan:  make(chan struct{}),
	}

	h.clientsMux.Lock()
	previous := h.clients[userID]
	h.clients[userID] = client
	h.clientsMux.Unlock()

	if previous != nil {
		h.teardown(previous)
		h.notifyDisconnect(userID)
	}

	go h.pingRoutine(client)

	log.Printf("User %d connected to hub (total: %d)", userID, h.Count())
}

// Unregister removes a user's registration if it still points at the given
// writer (a replaced handle must not tear down its successor).
func (h *Hub) Unregister(userID uint, writer FrameWriter) {
	h.clientsMux.Lock()
	client, exists := h.clients[userID]
	if exists && client.Writer == writer {
		delete(h.clients, userID)
	} else {
		client = nil
	}
	count := len(h.clients)
	h.clientsMux.Unlock()

	if client == nil {
		return
	}
	h.teardown(client)
	h.notifyDisconnect(userID)
	log.Printf("User %d disconnected from hub (total: %d)", userID, count)
}

func (h *Hub) teardown(client *ClientConnection) {
	if client.PingTicker != nil {
		client.PingTicker.Stop()
	}
	close(client.CloseChan)
	client.Writer.Close()
}

func (h *Hub) notifyDisconnect(userID uint) {
	for _, fn := range h.onDisconnect {
		fn(userID)
	}
}

// IsOnline checks if a user is connected
func (h *Hub) IsOnline(userID uint) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// WriteToUser delivers one frame to the user's live connection.
func (h *Hub) WriteToUser(userID uint, frame wire.Frame) error {
	h.clientsMux.RLock()
	client, exists := h.clients[userID]
	h.clientsMux.RUnlock()

	if !exists {
		return ErrOffline
	}

	if err := client.Writer.WriteFrame(frame); err != nil {
		log.Printf("Error sending frame to user %d: %v", userID, err)
		h.Unregister(userID, client.Writer)
		return err
	}
	return nil
}

// Pong records a heartbeat answer from the user's client.
func (h *Hub) Pong(userID uint) {
	h.clientsMux.Lock()
	if client, exists := h.clients[userID]; exists {
		client.LastPong = time.Now()
	}
	h.clientsMux.Unlock()
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// pingRoutine sends periodic ping frames to keep the connection alive and
// the pong clock ticking.
func (h *Hub) pingRoutine(client *ClientConnection) {
	for {
		select {
		case <-client.CloseChan:
			return
		case <-client.PingTicker.C:
			if err := client.Writer.WriteFrame(wire.NewPing()); err != nil {
				log.Printf("Ping failed for user %d: %v", client.UserID, err)
				h.Unregister(client.UserID, client.Writer)
				return
			}
		}
	}
}

// connectionHealthChecker terminates connections that failed to answer the
// previous ping.
func (h *Hub) connectionHealthChecker() {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		h.clientsMux.RLock()
		dead := make([]*ClientConnection, 0)
		now := time.Now()
		for _, client := range h.clients {
			if now.Sub(client.LastPong) > h.pongTimeout {
				dead = append(dead, client)
			}
		}
		h.clientsMux.RUnlock()

		for _, client := range dead {
			log.Printf("Removing dead connection for user %d (no pong received)", client.UserID)
			h.Unregister(client.UserID, client.Writer)
		}
	}
}
