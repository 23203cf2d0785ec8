package wshub

import (
	"net/url"
	"testing"
)

func newTestHub() *Hub {
	return New(nil, []int{1, 5, 15})
}

func TestParseHandshakeDefaults(t *testing.T) {
	h := newTestHub()
	key, err := h.parseHandshake(url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := registryKey{Symbol: allSymbol, TimeframeMinutes: 1, Kind: KindCandles}
	if key != want {
		t.Fatalf("parseHandshake defaults = %+v, want %+v", key, want)
	}
}

func TestParseHandshakeExplicitValues(t *testing.T) {
	h := newTestHub()
	q := url.Values{"symbol": {"ETHUSDT"}, "timeframe": {"15"}, "type": {"orderbook"}}
	key, err := h.parseHandshake(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := registryKey{Symbol: "ETHUSDT", TimeframeMinutes: 15, Kind: KindOrderbook}
	if key != want {
		t.Fatalf("parseHandshake = %+v, want %+v", key, want)
	}
}

func TestParseHandshakeRejectsUnknownTimeframe(t *testing.T) {
	h := newTestHub()
	q := url.Values{"timeframe": {"7"}}
	if _, err := h.parseHandshake(q); err != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for unknown timeframe, got %v", err)
	}
}

func TestParseHandshakeRejectsUnknownType(t *testing.T) {
	h := newTestHub()
	q := url.Values{"type": {"trades"}}
	if _, err := h.parseHandshake(q); err != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for unknown type, got %v", err)
	}
}

func TestAddRemoveConnectionTracksRegistry(t *testing.T) {
	h := newTestHub()
	key := registryKey{Symbol: "BTCUSDT", TimeframeMinutes: 1, Kind: KindCandles}
	c := &connection{key: key, send: make(chan []byte, 1)}

	h.addConnection(c)
	if h.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection after add, got %d", h.ConnectionCount())
	}

	h.removeConnection(c)
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after remove, got %d", h.ConnectionCount())
	}
}

func TestSweepRemovesStaleConnections(t *testing.T) {
	h := newTestHub()
	key := registryKey{Symbol: "BTCUSDT", TimeframeMinutes: 1, Kind: KindCandles}
	c := &connection{key: key, send: make(chan []byte, 1)}
	c.lastPongUnixMs.Store(0) // far in the past

	h.addConnection(c)
	h.sweepDeadConnections()

	if h.ConnectionCount() != 0 {
		t.Fatalf("expected stale connection to be swept, count=%d", h.ConnectionCount())
	}
}
