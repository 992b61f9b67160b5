// Package websocket bridges bus topics to WebSocket feeds. Each connection
// subscribes to exactly one topic, so the bus's queue bound and
// snapshot-before-delta rules apply unchanged: a socket that cannot keep up
// is cut instead of stalling publishers.
package websocket

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/market"
	"github.com/openalpha/spot-exchange/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary dev origins; the feeds
		// carry only public market data and room chatter.
		return true
	},
}

// Hub tracks live feed connections for shutdown and metrics.
type Hub struct {
	events   *bus.Bus
	registry *market.Registry
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub creates a hub over the given bus.
func NewHub(events *bus.Bus, registry *market.Registry, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		events:   events,
		registry: registry,
		log:      log,
		clients:  make(map[*Client]struct{}),
	}
}

// HandlePrice serves /ws/price/{pair}.
func (h *Hub) HandlePrice(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.pairFromPath(w, r, "/ws/price/")
	if !ok {
		return
	}
	h.serve(w, r, bus.PriceTopic(symbol), false)
}

// HandleOrderbook serves /ws/orderbook/{pair}.
func (h *Hub) HandleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.pairFromPath(w, r, "/ws/orderbook/")
	if !ok {
		return
	}
	h.serve(w, r, bus.BookTopic(symbol), false)
}

// HandleTrading serves /ws/trading/{room}. Rooms relay whatever clients
// post, which makes them handy as an end-to-end smoke channel.
func (h *Hub) HandleTrading(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimPrefix(r.URL.Path, "/ws/trading/")
	if room == "" || room == r.URL.Path || strings.Contains(room, "/") {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	h.serve(w, r, bus.TradingRoom(room), true)
}

// pairFromPath parses the trailing pair symbol ("BTC-USDT" spelling).
func (h *Hub) pairFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	tail := strings.TrimPrefix(r.URL.Path, prefix)
	if tail == "" || tail == r.URL.Path || strings.Contains(tail, "/") {
		http.Error(w, "pair required", http.StatusBadRequest)
		return "", false
	}
	symbol := strings.Replace(tail, "-", "/", 1)
	if _, ok := h.registry.Pair(symbol); !ok {
		http.Error(w, "unknown pair", http.StatusNotFound)
		return "", false
	}
	return symbol, true
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, topic string, publish bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:     h,
		conn:    conn,
		sub:     h.events.Subscribe(topic),
		publish: publish,
		log:     h.log,
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.GetCollector().RecordWSConnection(1)

	h.log.Debug("websocket connected", zap.String("topic", topic))
	go c.writePump()
	go c.readPump()
}

// remove tears down one client's hub state. Safe to call more than once.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if present {
		h.events.Unsubscribe(c.sub)
		metrics.GetCollector().RecordWSConnection(-1)
	}
}

// Count reports the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close unsubscribes every connection; the closed channels end the write
// pumps, which close the sockets.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.events.Unsubscribe(c.sub)
	}
}
