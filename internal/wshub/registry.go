// Package wshub runs the WebSocket hub: a single registry of subscribed
// connections keyed by (symbol, timeframe, data kind), a broker-subscriber
// goroutine that owns the candle aggregator, and a liveness protocol that
// reaps connections which stop acknowledging heartbeats.
package wshub

import (
	"errors"
)

// DataKind is the subscription's data stream: candles or order-book.
type DataKind string

const (
	KindCandles   DataKind = "candles"
	KindOrderbook DataKind = "orderbook"
)

// allSymbol is the registry sentinel for a symbol="all" subscription.
const allSymbol = ""

// ErrProtocolViolation is returned for a handshake with an unknown
// timeframe or data kind.
var ErrProtocolViolation = errors.New("wshub: protocol violation")

// registryKey identifies one group of connections that should receive the
// same events.
type registryKey struct {
	Symbol           string
	TimeframeMinutes int
	Kind             DataKind
}
