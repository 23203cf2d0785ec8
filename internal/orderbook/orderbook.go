// Package orderbook defines the order-book snapshot type shared by
// ingestion, the store adapter and the WebSocket hub.
package orderbook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one (price, quantity) entry in a bid or ask list.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Snapshot is one depth snapshot for a symbol at an instant in time.
// Snapshots are append-only: once persisted they are never mutated.
type Snapshot struct {
	Symbol       string
	Timestamp    time.Time
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Valid reports whether s satisfies the universal order-book invariants:
// bids strictly descending, asks strictly ascending, all prices/quantities
// non-negative, and best bid <= best ask.
func (s Snapshot) Valid() bool {
	for _, lvl := range append(append([]PriceLevel{}, s.Bids...), s.Asks...) {
		if lvl.Price.IsNegative() || lvl.Quantity.IsNegative() {
			return false
		}
	}
	for i := 1; i < len(s.Bids); i++ {
		if !s.Bids[i-1].Price.GreaterThan(s.Bids[i].Price) {
			return false
		}
	}
	for i := 1; i < len(s.Asks); i++ {
		if !s.Asks[i-1].Price.LessThan(s.Asks[i].Price) {
			return false
		}
	}
	if len(s.Bids) > 0 && len(s.Asks) > 0 {
		if s.Bids[0].Price.GreaterThan(s.Asks[0].Price) {
			return false
		}
	}
	return true
}

// Truncate returns a copy of s with bids and asks capped to levels entries.
func (s Snapshot) Truncate(levels int) Snapshot {
	out := s
	if levels > 0 {
		if len(out.Bids) > levels {
			out.Bids = out.Bids[:levels]
		}
		if len(out.Asks) > levels {
			out.Asks = out.Asks[:levels]
		}
	}
	return out
}

type wireLevel [2]string

type wireSnapshot struct {
	Kind         string      `json:"kind,omitempty"`
	Symbol       string      `json:"symbol"`
	Timestamp    int64       `json:"timestamp"`
	LastUpdateID int64       `json:"last_update_id"`
	Bids         []wireLevel `json:"bids"`
	Asks         []wireLevel `json:"asks"`
}

func levelsToWire(levels []PriceLevel) []wireLevel {
	out := make([]wireLevel, len(levels))
	for i, lvl := range levels {
		out[i] = wireLevel{lvl.Price.StringFixed(8), lvl.Quantity.StringFixed(8)}
	}
	return out
}

func levelsFromWire(levels []wireLevel) ([]PriceLevel, error) {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("orderbook: price: %w", err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("orderbook: quantity: %w", err)
		}
		out[i] = PriceLevel{Price: price, Quantity: qty}
	}
	return out, nil
}

// MarshalJSON always renders price/quantity fields as plain decimal strings.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire(""))
}

func (s Snapshot) toWire(kind string) wireSnapshot {
	return wireSnapshot{
		Kind:         kind,
		Symbol:       s.Symbol,
		Timestamp:    s.Timestamp.UnixMilli(),
		LastUpdateID: s.LastUpdateID,
		Bids:         levelsToWire(s.Bids),
		Asks:         levelsToWire(s.Asks),
	}
}

// MarshalTopic renders the snapshot for a broker topic payload with an
// explicit "kind" discriminator.
func (s Snapshot) MarshalTopic(kind string) ([]byte, error) {
	return json.Marshal(s.toWire(kind))
}

// UnmarshalJSON restores a Snapshot from the wire shape produced by
// MarshalJSON/MarshalTopic.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("orderbook: unmarshal: %w", err)
	}
	bids, err := levelsFromWire(w.Bids)
	if err != nil {
		return err
	}
	asks, err := levelsFromWire(w.Asks)
	if err != nil {
		return err
	}
	*s = Snapshot{
		Symbol:       w.Symbol,
		Timestamp:    time.UnixMilli(w.Timestamp).UTC(),
		LastUpdateID: w.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}
	return nil
}
