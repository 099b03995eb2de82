package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptonex/flashtrade/internal/auth"
	"github.com/cryptonex/flashtrade/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for traffic from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends protocol-level pings at this interval. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the per-connection buffer for outgoing messages.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// subscribePayload is the body of a subscribe_user / subscribe_admin event.
type subscribePayload struct {
	Token string `json:"token"`
}

// Hub accepts WebSocket connections, authenticates them through the
// handshake events, and bridges signal-bus traffic onto the registry:
// trade_result events route to their owning user, trade_activity fans out to
// operators, price_update goes to everyone.
type Hub struct {
	registry *Registry
	bus      domain.SignalBus
	verifier *auth.Verifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewHub creates a Hub over the given registry and signal bus.
func NewHub(registry *Registry, bus domain.SignalBus, verifier *auth.Verifier, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		bus:      bus,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "ws_hub")),
		now:      time.Now,
	}
}

// Run bridges the signal bus into the registry until the context is
// cancelled, then closes every attached connection. A channel that cannot
// be subscribed fails Run so the supervisor restarts the process instead
// of serving a hub that never delivers trade results.
func (h *Hub) Run(ctx context.Context) error {
	routes := []struct {
		channel string
		deliver func([]byte)
	}{
		{domain.ChannelTradeResults, h.deliverTradeResult},
		{domain.ChannelTradeActivity, func(data []byte) { h.registry.BroadcastOperators(data) }},
		{domain.ChannelPrices, func(data []byte) { h.registry.BroadcastAll(data) }},
	}

	channels := make([]<-chan []byte, len(routes))
	for i, route := range routes {
		msgCh, err := h.bus.Subscribe(ctx, route.channel)
		if err != nil {
			return fmt.Errorf("ws: subscribe %s: %w", route.channel, err)
		}
		channels[i] = msgCh
	}

	var wg sync.WaitGroup
	for i, route := range routes {
		wg.Add(1)
		go func(deliver func([]byte), msgCh <-chan []byte) {
			defer wg.Done()
			for data := range msgCh {
				deliver(data)
			}
		}(route.deliver, channels[i])
	}

	<-ctx.Done()
	wg.Wait()
	h.registry.CloseAll()
	return ctx.Err()
}

// deliverTradeResult routes a trade_result envelope to its owning user. The
// envelope carries the user ID inside the payload; delivery to an offline
// user is silently skipped.
func (h *Hub) deliverTradeResult(data []byte) {
	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Warn("malformed trade result envelope", slog.String("error", err.Error()))
		return
	}
	var payload domain.TradeResultPayload
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		h.logger.Warn("malformed trade result payload", slog.String("error", err.Error()))
		return
	}
	if !h.registry.RouteToUser(payload.UserID, data) {
		h.logger.Debug("trade result not delivered",
			slog.String("trade_id", payload.TradeID),
			slog.String("user_id", payload.UserID),
		)
	}
}

// HandleWS upgrades the request to a WebSocket connection. The connection
// starts unauthenticated; the client must send a subscribe_user or
// subscribe_admin event with a valid token before it receives anything.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{
		sock: sock,
		send: make(chan []byte, sendBufferSize),
	}

	h.sendEvent(c, domain.EventConnected, nil)

	go c.writePump()
	go h.readPump(c)
}

// conn is a single WebSocket connection implementing Channel. Sends are
// non-blocking: a full buffer drops the payload rather than stall the hub.
type conn struct {
	sock   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// Send implements Channel.
func (c *conn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close implements Channel. Safe to call more than once.
func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads handshake and keepalive events from the client until the
// connection drops, then detaches it from the registry.
func (h *Hub) readPump(c *conn) {
	defer func() {
		h.registry.Detach(c)
		c.Close()
		c.sock.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(pongWait))

		var evt domain.Event
		if err := json.Unmarshal(message, &evt); err != nil {
			h.sendError(c, "malformed message")
			continue
		}
		h.handleClientEvent(c, evt)
	}
}

func (h *Hub) handleClientEvent(c *conn, evt domain.Event) {
	switch evt.Type {
	case domain.EventSubscribeUser:
		id, ok := h.authenticate(c, evt)
		if !ok {
			return
		}
		h.registry.AttachUser(id.UserID, c)
		h.sendEvent(c, domain.EventSubscribed, map[string]string{"user_id": id.UserID})
		h.logger.Info("user subscribed", slog.String("user_id", id.UserID))

	case domain.EventSubscribeOper:
		id, ok := h.authenticate(c, evt)
		if !ok {
			return
		}
		if !id.Operator() {
			h.sendError(c, "operator role required")
			return
		}
		h.registry.AttachOperator(c)
		h.sendEvent(c, domain.EventSubscribed, map[string]string{"role": id.Role})
		h.logger.Info("operator subscribed", slog.String("user_id", id.UserID))

	case domain.EventPing:
		h.sendEvent(c, domain.EventPong, nil)

	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) authenticate(c *conn, evt domain.Event) (auth.Identity, bool) {
	var payload subscribePayload
	if err := json.Unmarshal(evt.Data, &payload); err != nil || payload.Token == "" {
		h.sendError(c, "token required")
		return auth.Identity{}, false
	}
	id, err := h.verifier.Verify(payload.Token)
	if err != nil {
		h.sendError(c, "invalid token")
		return auth.Identity{}, false
	}
	return id, true
}

func (h *Hub) sendEvent(c *conn, eventType string, payload any) {
	evt, err := domain.NewEvent(eventType, payload, h.now())
	if err != nil {
		return
	}
	data, err := evt.Marshal()
	if err != nil {
		return
	}
	c.Send(data)
}

func (h *Hub) sendError(c *conn, message string) {
	h.sendEvent(c, domain.EventError, map[string]string{"message": message})
}

// writePump pumps queued messages to the socket and sends periodic ping
// frames for keepalive.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
