// Package ws streams wallet notifications to websocket clients.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Config holds hub settings.
type Config struct {
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
}

// envelope is the frame sent to clients.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	wallet string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans notifications from the signal bus out to the websocket clients
// of the addressed wallet.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	wallets map[string]map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws")),
		wallets: make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to every wallet channel and dispatches until ctx ends,
// then disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, notify.ChannelPrefix+"*")
	if err != nil {
		return err
	}
	h.logger.Info("ws: hub running")
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				h.logger.Warn("ws: bus subscription closed")
				return nil
			}
			wallet := strings.TrimPrefix(m.Channel, notify.ChannelPrefix)
			frame, err := json.Marshal(envelope{Type: "notification", Data: m.Payload})
			if err != nil {
				h.logger.Warn("ws: bad notification payload",
					slog.String("wallet", wallet),
					slog.String("error", err.Error()),
				)
				continue
			}
			h.Broadcast(wallet, frame)
		}
	}
}

// Broadcast queues frame for every client of wallet. Clients with a full
// buffer miss the frame.
func (h *Hub) Broadcast(wallet string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.wallets[wallet] {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping frame for slow client", slog.String("wallet", wallet))
		}
	}
}

// Clients returns the number of connected clients for wallet.
func (h *Hub) Clients(wallet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.wallets[wallet])
}

// HandleWS upgrades the request and streams the path wallet's
// notifications.
// GET /ws/monitor/{wallet}
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if wallet == "" {
		http.Error(w, "wallet is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{wallet: wallet, conn: conn, send: make(chan []byte, sendBufferSize)}
	if hello, err := json.Marshal(map[string]any{
		"type": "connected",
		"data": map[string]string{"wallet": wallet},
	}); err == nil {
		c.send <- hello
	}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.wallets[c.wallet]
	if !ok {
		set = make(map[*client]struct{})
		h.wallets[c.wallet] = set
	}
	set[c] = struct{}{}
	metrics.WSClients.Inc()
	h.logger.Info("ws: client connected", slog.String("wallet", c.wallet))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.wallets[c.wallet]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.wallets, c.wallet)
	}
	close(c.send)
	metrics.WSClients.Dec()
	h.logger.Info("ws: client disconnected", slog.String("wallet", c.wallet))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.wallets {
		for c := range set {
			close(c.send)
			metrics.WSClients.Dec()
		}
	}
	h.wallets = make(map[string]map[*client]struct{})
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
