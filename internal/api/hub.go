package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/infrastructure/logging"
	"github.com/nerrad567/meterpoll/internal/poller"
)

// Message types of the WebSocket protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
	WSTypeCommand     = "command"

	// ChannelState carries every poller event.
	ChannelState = "state"

	// EventSnapshot marks the snapshot sent right after subscribing.
	EventSnapshot poller.EventKind = "snapshot"
)

// WSMessage is the envelope of every frame sent to clients.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSCommandPayload is the payload of a command message.
type WSCommandPayload struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Dispatcher applies client commands. *command.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(action string, payload json.RawMessage) (any, error)
}

// Hub tracks WebSocket clients and fans poller events out to the ones
// subscribed to the state channel. It implements poller.Publisher.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	hooksMu    sync.RWMutex
	dispatcher Dispatcher
	snapshot   func() poller.Snapshot
}

// NewHub creates a hub. Commands from clients go to d; while d is nil
// every command is rejected.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, d Dispatcher) *Hub {
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		dispatcher: d,
		clients:    make(map[*WSClient]struct{}),
	}
}

// SetDispatcher replaces the command dispatcher. The scheduler publishes to
// the hub, so the hub usually exists before the dispatcher can be built.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.hooksMu.Lock()
	h.dispatcher = d
	h.hooksMu.Unlock()
}

func (h *Hub) commands() Dispatcher {
	h.hooksMu.RLock()
	defer h.hooksMu.RUnlock()
	return h.dispatcher
}

// SetSnapshotSource sets the function used to greet new subscribers of the
// state channel with the current state.
func (h *Hub) SetSnapshotSource(fn func() poller.Snapshot) {
	h.hooksMu.Lock()
	h.snapshot = fn
	h.hooksMu.Unlock()
}

func (h *Hub) currentSnapshot() (poller.Snapshot, bool) {
	h.hooksMu.RLock()
	fn := h.snapshot
	h.hooksMu.RUnlock()
	if fn == nil {
		return poller.Snapshot{}, false
	}
	return fn(), true
}

// Publish implements poller.Publisher.
func (h *Hub) Publish(ev poller.Event) {
	h.Broadcast(ChannelState, ev)
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that actually removes it
// closes the send channel, so shutdown and disconnect cannot both close it.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload as an event to every client subscribed to channel.
// The client list is copied under the hub lock and the lock is released
// before any client lock is taken.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.isSubscribed(channel) {
			c.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// encodeFrame stamps msg with the current time and marshals it.
func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
