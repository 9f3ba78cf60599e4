package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/poller"
)

const wsSendBufferSize = 256

// Fallbacks for a zero websocket config section.
const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsInbound is a frame received from a client. The payload is decoded
// according to Type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsTimings derives the keepalive deadlines from the config.
type wsTimings struct {
	ping     time.Duration
	pongWait time.Duration
	maxSize  int64
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
		maxSize:  int64(cfg.MaxMessageSize),
	}
	if t.ping <= 0 {
		t.ping = defaultPingInterval
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultPongTimeout
	}
	return t
}

// readDeadline is how long a connection may stay silent.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

// WSClient is one connected dashboard.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

// handleWebSocket upgrades the request and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	t := timingsFrom(s.hub.cfg)
	go client.writePump(t)
	go client.readPump(t)
}

func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if t.maxSize > 0 {
		c.conn.SetReadLimit(t.maxSize)
	}
	//nolint:errcheck // best-effort deadline
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		//nolint:errcheck // best-effort deadline
		c.conn.SetReadDeadline(t.readDeadline())
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeCommand:
		c.handleCommand(msg)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodePayload unmarshals the payload of msg into v. A missing payload
// leaves v untouched.
func decodePayload(msg wsInbound, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(msg.Payload, v)
}

func (c *WSClient) handleSubscription(msg wsInbound) {
	var sub WSSubscribePayload
	if err := decodePayload(msg, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	on := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if on {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	if !on {
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
		return
	}

	c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels)
	c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})

	for _, ch := range sub.Channels {
		if ch == ChannelState {
			c.sendSnapshot()
			break
		}
	}
}

// sendSnapshot greets a new state subscriber with the current state.
func (c *WSClient) sendSnapshot() {
	snap, ok := c.hub.currentSnapshot()
	if !ok {
		return
	}
	data, err := encodeFrame(WSMessage{
		Type:      WSTypeEvent,
		EventType: ChannelState,
		Payload:   poller.Event{Kind: EventSnapshot, Snapshot: snap},
	})
	if err != nil {
		c.hub.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	c.trySend(data)
}

func (c *WSClient) handleCommand(msg wsInbound) {
	d := c.hub.commands()
	if d == nil {
		c.sendError(msg.ID, "commands are not available")
		return
	}

	var cmd WSCommandPayload
	if err := decodePayload(msg, &cmd); err != nil || cmd.Action == "" {
		c.sendError(msg.ID, "invalid command payload")
		return
	}

	result, err := d.Dispatch(cmd.Action, cmd.Payload)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	c.hub.logger.Debug("websocket command handled", "action", cmd.Action)
	c.reply(msg.ID, WSTypeResponse, map[string]any{
		"action": cmd.Action,
		"result": result,
	})
}

// trySend queues data without blocking. A full buffer drops the frame and
// a channel closed by a concurrent disconnect is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
