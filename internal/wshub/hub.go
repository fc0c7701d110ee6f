// Package wshub serves the companion app WebSocket channel. It tracks
// connected clients, answers their requests and broadcasts relay records
// to all of them.
package wshub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pwnrelay/internal/clock"
	"pwnrelay/internal/relay"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Record payload keys understood by Send
const (
	KeyType   = "type"
	KeyData   = "data"
	KeyStatus = "status"
)

// Defaults for Options
const (
	DefaultKeepalive    = 45 * time.Second
	DefaultStaleAfter   = 60 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	maxMessageSize      = 1 << 20
)

// ErrNoClientReached is returned when every client failed a broadcast
var ErrNoClientReached = errors.New("broadcast reached no client")

// Options configures a Hub
type Options struct {
	Keepalive    time.Duration
	StaleAfter   time.Duration
	WriteTimeout time.Duration
	Stats        StatsFunc
	Clock        clock.Clock
}

type client struct {
	conn *websocket.Conn
	addr string

	writeMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *client) touch(t time.Time) {
	c.mu.Lock()
	c.lastSeen = t
	c.mu.Unlock()
}

func (c *client) seen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// write sends one frame; gorilla connections allow a single concurrent writer
func (c *client) write(data []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub is an http.Handler upgrading requests to WebSocket clients
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a hub
func New(opts Options, logger *zap.Logger) *Hub {
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}

	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The companion app connects from the local network without an Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and serves the client until it leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, addr: r.RemoteAddr}
	c.touch(h.opts.Clock.Now())
	h.add(c)
	h.logger.Info("Companion client connected", zap.String("addr", c.addr))

	defer func() {
		h.remove(c)
		h.logger.Info("Companion client disconnected", zap.String("addr", c.addr))
	}()

	if h.opts.Stats != nil {
		h.reply(c, Message{Type: TypeStats, Data: h.opts.Stats()})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Client read error", zap.String("addr", c.addr), zap.Error(err))
			}
			return
		}
		c.touch(h.opts.Clock.Now())
		h.handle(c, data)
	}
}

func (h *Hub) handle(c *client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("Invalid JSON from client", zap.String("addr", c.addr), zap.Error(err))
		h.reply(c, Message{Type: TypeError, Message: "Invalid JSON format"})
		return
	}

	switch req.Type {
	case RequestPing:
		h.reply(c, Message{Type: TypePong})
	case RequestPong:
		h.logger.Debug("Received pong", zap.String("addr", c.addr))
	case RequestGetStats:
		var stats interface{}
		if h.opts.Stats != nil {
			stats = h.opts.Stats()
		}
		h.reply(c, Message{Type: TypeStats, Data: stats})
	default:
		h.reply(c, Message{Type: TypeError, Message: fmt.Sprintf("Unknown message type: %s", req.Type)})
		return
	}

	if req.MessageID != nil {
		h.reply(c, Message{Type: TypeAck, MessageID: req.MessageID})
	}
}

func (h *Hub) reply(c *client, msg Message) {
	msg.Timestamp = h.opts.Clock.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode reply", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if err := c.write(data, time.Now().Add(h.opts.WriteTimeout)); err != nil {
		h.logger.Warn("Failed to reply to client", zap.String("addr", c.addr), zap.Error(err))
		h.drop(c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	return ok
}

// drop forgets c and closes its connection, which also ends its read loop
func (h *Hub) drop(c *client) {
	if h.remove(c) {
		_ = c.conn.Close()
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast writes msg to every client concurrently, each bounded by the
// write timeout or ctx's deadline, whichever is sooner. Clients that fail are
// dropped. It returns how many clients received the message.
func (h *Hub) Broadcast(ctx context.Context, msg Message) (int, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.opts.Clock.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	clients := h.snapshot()
	if len(clients) == 0 {
		return 0, nil
	}

	deadline := time.Now().Add(h.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.write(data, deadline); err != nil {
				h.logger.Warn("Send error to client, dropping",
					zap.String("addr", c.addr),
					zap.Error(err))
				h.drop(c)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	if sent == 0 {
		return 0, ErrNoClientReached
	}
	return sent, nil
}

// Send implements relay.Sender. A record is broadcast as a message whose
// type comes from the payload; the heartbeat kind defaults to keepalive. No
// connected client counts as delivered.
func (h *Hub) Send(ctx context.Context, rec relay.Record) relay.Outcome {
	msgType, _ := rec.Text(KeyType)
	if msgType == "" && rec.Kind() == relay.KindHeartbeat {
		msgType = TypeKeepalive
	}
	if msgType == "" {
		return relay.Malformed(errors.New("record without message type"))
	}

	data, _ := rec.Get(KeyData)
	status, _ := rec.Text(KeyStatus)

	_, err := h.Broadcast(ctx, Message{
		Type:      msgType,
		Data:      data,
		Status:    status,
		Timestamp: rec.CreatedAt().UTC(),
	})
	if err != nil {
		return relay.TransportError(err)
	}
	return relay.Delivered()
}

// Run prunes stale clients and broadcasts a keepalive every keepalive
// interval until stop is closed
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-h.opts.Clock.After(h.opts.Keepalive):
		}

		h.pruneStale()
		if h.Len() > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
			if _, err := h.Broadcast(ctx, Message{Type: TypeKeepalive}); err != nil {
				h.logger.Debug("Keepalive reached no client", zap.Error(err))
			}
			cancel()
		}
	}
}

func (h *Hub) pruneStale() {
	now := h.opts.Clock.Now()
	for _, c := range h.snapshot() {
		if now.Sub(c.seen()) > h.opts.StaleAfter {
			h.logger.Info("Removing stale client", zap.String("addr", c.addr))
			h.drop(c)
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		h.drop(c)
	}
}
