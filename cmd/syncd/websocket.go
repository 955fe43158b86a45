// WebSocket bridge: fans sync events out to local UI observers.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notabene-app/notabene-core/internal/logging"
	syncpkg "github.com/notabene-app/notabene-core/internal/sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only local UI clients may connect.
		return strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1")
	},
}

// WSEnvelope wraps every outbound websocket message.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WSHub maintains client connections and broadcasts sync events.
type WSHub struct {
	mu      gosync.RWMutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]bool)}
}

// BroadcastEvent sends a sync event to every connected client.
func (h *WSHub) BroadcastEvent(evt syncpkg.Event) {
	data, err := json.Marshal(WSEnvelope{
		Type:      string(evt.Type),
		Data:      evt,
		Timestamp: evt.Timestamp,
	})
	if err != nil {
		logging.Error("Failed to encode websocket event", err, nil)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop the connection rather than block the
			// sync path.
			go h.drop(client)
		}
	}
}

// ServeHTTP upgrades an HTTP request to a websocket subscription.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Debug("WebSocket client connected", map[string]interface{}{"total": total})

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *WSHub) writeLoop(client *wsClient) {
	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(client)
			return
		}
	}
}

// readLoop discards inbound frames; the bridge is one-way. It exists to
// observe the close handshake.
func (h *WSHub) readLoop(client *wsClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	close(client.send)
	client.conn.Close()
	logging.Debug("WebSocket client disconnected", map[string]interface{}{"total": total})
}

// Close disconnects every client.
func (h *WSHub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.drop(client)
	}
}
