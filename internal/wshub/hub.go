package wshub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"marketfeed/internal/aggregator"
	"marketfeed/internal/broker"
	"marketfeed/internal/candle"
	"marketfeed/internal/orderbook"
)

const (
	heartbeatInterval = 30 * time.Second
	sweepInterval     = 120 * time.Second
	pongTimeout       = 60 * time.Second
	interimInterval   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the connection registry and the single aggregator instance.
// Every mutation to either happens on the run goroutine: register and
// unregister arrive over channels, and the broker subscriptions are read
// directly inside Run, so no mutex guards any of it.
type Hub struct {
	timeframes map[int]bool

	broker *broker.Broker
	agg    *aggregator.Aggregator

	registry map[registryKey]map[*connection]bool

	register   chan *connection
	unregister chan *connection
}

// New builds a Hub for the given timeframe-minutes set, sharing the
// aggregator instance the hub's run loop will feed.
func New(b *broker.Broker, timeframeMinutes []int) *Hub {
	tfSet := make(map[int]bool, len(timeframeMinutes))
	for _, tf := range timeframeMinutes {
		tfSet[tf] = true
	}
	return &Hub{
		timeframes: tfSet,
		broker:     b,
		agg:        aggregator.New(timeframeMinutes),
		registry:   make(map[registryKey]map[*connection]bool),
		register:   make(chan *connection),
		unregister: make(chan *connection),
	}
}

// HandleUpgrade parses the handshake query parameters, upgrades the HTTP
// connection, and either registers it or closes it with a 1008 policy
// violation. It never returns an error to the caller: a bad handshake is
// handled entirely over the WebSocket close frame once upgraded, per the
// spec's close-after-upgrade contract.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	key, err := h.parseHandshake(r.URL.Query())

	conn, upgradeErr := upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		log.Printf("[Hub] upgrade failed: %v", upgradeErr)
		return
	}

	if err != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	c := newConnection(conn, key, h)
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (h *Hub) parseHandshake(q url.Values) (registryKey, error) {
	symbol := q.Get("symbol")
	if symbol == "" || symbol == "all" {
		symbol = allSymbol
	}

	timeframe := 1
	if raw := q.Get("timeframe"); raw != "" {
		tf, err := strconv.Atoi(raw)
		if err != nil {
			return registryKey{}, ErrProtocolViolation
		}
		timeframe = tf
	}
	if !h.timeframes[timeframe] {
		return registryKey{}, ErrProtocolViolation
	}

	kind := KindCandles
	if raw := q.Get("type"); raw != "" {
		switch DataKind(raw) {
		case KindCandles, KindOrderbook:
			kind = DataKind(raw)
		default:
			return registryKey{}, ErrProtocolViolation
		}
	}

	return registryKey{Symbol: symbol, TimeframeMinutes: timeframe, Kind: kind}, nil
}

// Run is the hub's single event loop: it owns the registry, the
// aggregator, and every broker subscription. Call it once from main.go in
// its own goroutine; it returns when ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	candleCh := h.broker.SubscribeCandles(ctx)
	orderbookCh := h.broker.SubscribeOrderBooks(ctx)

	heartbeat := time.NewTicker(heartbeatInterval)
	sweep := time.NewTicker(sweepInterval)
	interim := time.NewTicker(interimInterval)
	defer heartbeat.Stop()
	defer sweep.Stop()
	defer interim.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllConnections()
			return

		case c := <-h.register:
			h.addConnection(c)

		case c := <-h.unregister:
			h.removeConnection(c)

		case payload, ok := <-candleCh:
			if !ok {
				candleCh = nil
				continue
			}
			h.handleCandleMessage(payload)

		case payload, ok := <-orderbookCh:
			if !ok {
				orderbookCh = nil
				continue
			}
			h.handleOrderbookMessage(payload)

		case <-interim.C:
			for _, ev := range h.agg.InterimEvents() {
				h.broadcastCandleEvent(ev)
			}

		case <-heartbeat.C:
			h.broadcastHeartbeat()

		case <-sweep.C:
			h.sweepDeadConnections()
		}
	}
}

func (h *Hub) handleCandleMessage(payload []byte) {
	if candle.Kind(payload) != "closed" {
		return
	}
	var c candle.Candle
	if err := c.UnmarshalJSON(payload); err != nil {
		log.Printf("[Hub] decode candle: %v", err)
		return
	}
	for _, ev := range h.agg.Feed(c) {
		h.broadcastCandleEvent(ev)
	}
}

func (h *Hub) handleOrderbookMessage(payload []byte) {
	var ob orderbook.Snapshot
	if err := ob.UnmarshalJSON(payload); err != nil {
		log.Printf("[Hub] decode orderbook: %v", err)
		return
	}
	h.broadcastOrderBook(ob)
}

func (h *Hub) broadcastCandleEvent(ev aggregator.Event) {
	kind := "closed"
	if ev.Kind == aggregator.Interim {
		kind = "interim"
	}
	payload, err := ev.Candle.MarshalTopic(kind)
	if err != nil {
		log.Printf("[Hub] marshal candle event: %v", err)
		return
	}
	h.broadcast(registryKey{Symbol: ev.Candle.Symbol, TimeframeMinutes: ev.TimeframeMinutes, Kind: KindCandles}, payload)
}

func (h *Hub) broadcastOrderBook(ob orderbook.Snapshot) {
	payload, err := ob.MarshalTopic("snapshot")
	if err != nil {
		log.Printf("[Hub] marshal orderbook: %v", err)
		return
	}
	h.broadcast(registryKey{Symbol: ob.Symbol, TimeframeMinutes: 1, Kind: KindOrderbook}, payload)
}

// broadcast sends payload to every connection registered for key's exact
// symbol, plus every connection registered for the same (timeframe, kind)
// under the symbol="all" sentinel.
func (h *Hub) broadcast(key registryKey, payload []byte) {
	for _, conns := range []map[*connection]bool{h.registry[key], h.registry[allKey(key)]} {
		for c := range conns {
			c.enqueue(payload)
		}
	}
}

func allKey(key registryKey) registryKey {
	key.Symbol = allSymbol
	return key
}

type heartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Hub) broadcastHeartbeat() {
	msg := heartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, conns := range h.registry {
		for c := range conns {
			c.enqueue(payload)
		}
	}
}

func (h *Hub) sweepDeadConnections() {
	deadline := time.Now().Add(-pongTimeout).UnixMilli()
	for key, conns := range h.registry {
		for c := range conns {
			if c.lastPongUnixMs.Load() < deadline {
				delete(conns, c)
				close(c.send)
			}
		}
		if len(conns) == 0 {
			delete(h.registry, key)
		}
	}
}

// closeAllConnections sends every registered connection a normal-closure
// control frame and tears down the registry, so a shutdown signal drains
// clients cleanly instead of just dropping the TCP connection.
func (h *Hub) closeAllConnections() {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	for key, conns := range h.registry {
		for c := range conns {
			_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
			close(c.send)
		}
		delete(h.registry, key)
	}
}

func (h *Hub) addConnection(c *connection) {
	if h.registry[c.key] == nil {
		h.registry[c.key] = make(map[*connection]bool)
	}
	h.registry[c.key][c] = true
}

func (h *Hub) removeConnection(c *connection) {
	if conns, ok := h.registry[c.key]; ok {
		if _, present := conns[c]; present {
			delete(conns, c)
			close(c.send)
		}
		if len(conns) == 0 {
			delete(h.registry, c.key)
		}
	}
}

// CurrentPartial exposes the aggregator's live partial candle for the
// query layer's /price endpoint.
func (h *Hub) CurrentPartial(symbol string, timeframeMinutes int) (candle.Candle, bool) {
	return h.agg.CurrentPartial(symbol, timeframeMinutes)
}

// ConnectionCount returns the number of currently registered connections,
// for diagnostics.
func (h *Hub) ConnectionCount() int {
	total := 0
	seen := make(map[*connection]bool)
	for _, conns := range h.registry {
		for c := range conns {
			if !seen[c] {
				seen[c] = true
				total++
			}
		}
	}
	return total
}
