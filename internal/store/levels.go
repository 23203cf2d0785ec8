package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"marketfeed/internal/orderbook"
)

// wireLevel mirrors orderbook's own wire shape so bids/asks round-trip
// through the jsonb columns exactly as they go out over the broker.
type wireLevel [2]string

func encodeLevels(levels []orderbook.PriceLevel) ([]byte, error) {
	wire := make([]wireLevel, len(levels))
	for i, lvl := range levels {
		wire[i] = wireLevel{lvl.Price.StringFixed(8), lvl.Quantity.StringFixed(8)}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: encode levels: %v", ErrStoreUnavailable, err)
	}
	return data, nil
}

func decodeLevels(data []byte) ([]orderbook.PriceLevel, error) {
	var wire []wireLevel
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode levels: %v", ErrStoreUnavailable, err)
	}
	levels := make([]orderbook.PriceLevel, len(wire))
	for i, lvl := range wire {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("%w: decode price: %v", ErrStoreUnavailable, err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("%w: decode quantity: %v", ErrStoreUnavailable, err)
		}
		levels[i] = orderbook.PriceLevel{Price: price, Quantity: qty}
	}
	return levels, nil
}
