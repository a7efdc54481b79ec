package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/roomlink/internal/infrastructure/config"
	"github.com/nerrad567/roomlink/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink/internal/room"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsOutboxSize = 256
)

// Broadcast channels.
const (
	// ChannelObjectEvent carries every event run on a local object.
	ChannelObjectEvent = "object.event"

	// ChannelPeerSnapshot carries snapshots received on /downlink.
	ChannelPeerSnapshot = "peer.snapshot"
)

// Event origins reported on ChannelObjectEvent.
const (
	sourceLocal  = "local"
	sourceRemote = "remote"
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// ObjectEventMessage is the payload broadcast on ChannelObjectEvent.
type ObjectEventMessage struct {
	Object string         `json:"object"`
	Event  string         `json:"event"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
	Source string         `json:"source"`
}

func eventMessage(ev room.Event, source string) ObjectEventMessage {
	msg := ObjectEventMessage{
		Object: ev.Object,
		Event:  ev.Name,
		Args:   ev.Args,
		Kwargs: ev.Kwargs,
		Source: source,
	}
	if msg.Args == nil {
		msg.Args = []any{}
	}
	if msg.Kwargs == nil {
		msg.Kwargs = map[string]any{}
	}
	return msg
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Hub fans broadcasts out to WebSocket connections. Subscriptions are
// indexed by channel so a broadcast only visits its own subscribers.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu        sync.Mutex
	conns     map[*wsConn]struct{}
	byChannel map[string]map[*wsConn]struct{}
}

// wsConn is one upgraded connection. out is closed exactly once, by
// whichever of drop or closeAll reaches it first.
type wsConn struct {
	hub  *Hub
	ws   *websocket.Conn
	out  chan []byte
	once sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		conns:     make(map[*wsConn]struct{}),
		byChannel: make(map[string]map[*wsConn]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Broadcast queues payload for every connection subscribed to channel.
// Slow consumers lose messages rather than stall the caller.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: stamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*wsConn, 0, len(h.byChannel[channel]))
	for c := range h.byChannel[channel] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.offer(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	wsClients.Inc()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) drop(c *wsConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	h.forgetLocked(c)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		c.shut()
		wsClients.Dec()
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// forgetLocked removes c from every index. h.mu must be held.
func (h *Hub) forgetLocked(c *wsConn) {
	delete(h.conns, c)
	for ch, set := range h.byChannel {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byChannel, ch)
		}
	}
}

func (h *Hub) subscribe(c *wsConn, channels []string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	for _, ch := range channels {
		set := h.byChannel[ch]
		switch {
		case on && set == nil:
			h.byChannel[ch] = map[*wsConn]struct{}{c: {}}
		case on:
			set[c] = struct{}{}
		case set != nil:
			delete(set, c)
			if len(set) == 0 {
				delete(h.byChannel, ch)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
		h.forgetLocked(c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.shut()
		_ = c.ws.Close()
		wsClients.Dec()
	}
}

// handleWebSocket upgrades the connection. When token enforcement is on
// the shared token must be passed as ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.tokenAccepted(r.URL.Query().Get("token")) {
		errForbidden.write(w, "invalid auth token")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{hub: s.hub, ws: ws, out: make(chan []byte, wsOutboxSize)}
	s.hub.add(c)
	go c.writeLoop(s.hub.cfg)
	go c.readLoop(s.hub.cfg)
}

func (c *wsConn) shut() {
	c.once.Do(func() { close(c.out) })
}

// offer queues data without blocking. A full or closed outbox drops it.
func (c *wsConn) offer(data []byte) {
	defer func() { _ = recover() }()
	select {
	case c.out <- data:
	default:
	}
}

func (c *wsConn) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.drop(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(int64(cfg.MaxMessageSize))
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.ws.SetReadDeadline(time.Now().Add(idle)) }
	_ = extend()
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// any frame proves liveness
		_ = extend()
		c.handle(frame)
	}
}

func (c *wsConn) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()
	grace := time.Duration(cfg.PongTimeout) * time.Second

	for {
		kind, data := websocket.PingMessage, []byte(nil)
		select {
		case msg, ok := <-c.out:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ping.C:
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(grace))
		if err := c.ws.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *wsConn) handle(frame []byte) {
	var msg WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscriptions(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *wsConn) changeSubscriptions(msg WSMessage) {
	// Payload arrives as a generic map; round-trip it into the typed form.
	raw, _ := json.Marshal(msg.Payload)
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		c.fail(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	on := msg.Type == WSTypeSubscribe
	c.hub.subscribe(c, sub.Channels, on)

	key := "unsubscribed"
	if on {
		key = "subscribed"
		c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels)
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

func (c *wsConn) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{Type: msgType, ID: id, Timestamp: stamp(), Payload: payload})
	if err == nil {
		c.offer(data)
	}
}

func (c *wsConn) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
