package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/stereopiano/internal/tracking"
)

const (
	// clientQueue bounds messages waiting for one slow client.
	clientQueue = 64
	writeWait   = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Message is what websocket clients receive.
type Message struct {
	Type  string             `json:"type"`
	Event *tracking.KeyEvent `json:"event,omitempty"`
	Data  any                `json:"data,omitempty"`
}

// Message types.
const (
	MessageKey    = "key"
	MessageStatus = "status"
)

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub pushes key events and status updates to websocket clients. A
// client that falls behind loses messages rather than slowing the sender.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	dropped atomic.Uint64
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*hubClient]struct{})}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &hubClient{conn: conn, send: make(chan []byte, clientQueue)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	conn.Close()
	<-done
}

// Broadcast sends a key event to every client.
func (h *EventHub) Broadcast(ev tracking.KeyEvent) {
	h.publish(Message{Type: MessageKey, Event: &ev})
}

// BroadcastStatus sends a status payload to every client.
func (h *EventHub) BroadcastStatus(data any) {
	h.publish(Message{Type: MessageStatus, Data: data})
}

func (h *EventHub) publish(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(m)
	if err != nil {
		log.Printf("encode websocket message: %v", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages slow clients missed.
func (h *EventHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
