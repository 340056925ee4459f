// Package gateway exposes a read-only websocket tap over message delivery
// and stream lifecycle events for external observers.
package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventMessage is the wire shape broadcast to clients.
type EventMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Stream    string `json:"stream,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"ts"`
	Seq       uint64 `json:"seq"`
}

// Client is one connected observer.
type Client struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteJSON writes one message to the client. Writes are serialized per
// connection as gorilla requires.
func (c *Client) WriteJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster fans events out to all registered clients with monotonic
// sequence numbers. Clients whose writes fail are dropped.
type Broadcaster struct {
	logger  zerolog.Logger
	seq     atomic.Uint64
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger.With().Str("component", "gateway").Logger(),
		clients: make(map[string]*Client),
	}
}

// Register adds a client connection.
func (b *Broadcaster) Register(id string, conn *websocket.Conn) *Client {
	client := &Client{ID: id, conn: conn}
	b.mu.Lock()
	b.clients[id] = client
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info().Str("client_id", id).Int("clients", count).Msg("Gateway client connected")
	return client
}

// Unregister removes a client and closes its connection.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	client, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()

	if ok {
		client.conn.Close()
		b.logger.Info().Str("client_id", id).Msg("Gateway client disconnected")
	}
}

// ClientCount reports connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all connected clients.
func (b *Broadcaster) Broadcast(event, streamID string, data any) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Stream:    streamID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.seq.Add(1),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		if err := client.WriteJSON(jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", event).
				Msg("Failed to broadcast to client, dropping")
			b.Unregister(client.ID)
		}
	}
}
