// Package candle defines the OHLCV candle type shared by ingestion, the
// aggregator, the store adapter and the WebSocket hub.
package candle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV summary over a fixed time window. Once persisted a
// Candle is never mutated; the aggregator instead keeps its own mutable
// partial candle (see internal/aggregator) until the period closes.
type Candle struct {
	Symbol              string
	OpenTime            time.Time
	CloseTime           time.Time
	Open                decimal.Decimal
	High                decimal.Decimal
	Low                 decimal.Decimal
	Close               decimal.Decimal
	Volume              decimal.Decimal
	QuoteVolume         decimal.Decimal
	Trades              int64
	TakerBuyBaseVolume  decimal.Decimal
	TakerBuyQuoteVolume decimal.Decimal
}

// TimestampMillis returns the open-time as Binance-style epoch milliseconds.
func (c Candle) TimestampMillis() int64 {
	return c.OpenTime.UnixMilli()
}

// Valid reports whether c satisfies the universal candle invariants:
// low <= min(open, close) <= max(open, close) <= high, and every volume
// field is non-negative.
func (c Candle) Valid() bool {
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	if c.Low.GreaterThan(c.High) {
		return false
	}
	negatives := []decimal.Decimal{c.Volume, c.QuoteVolume, c.TakerBuyBaseVolume, c.TakerBuyQuoteVolume}
	for _, v := range negatives {
		if v.IsNegative() {
			return false
		}
	}
	return c.Trades >= 0
}

// wireCandle is the JSON shape published on the broker and served by the
// query layer: every numeric field is a decimal string, never scientific
// notation.
type wireCandle struct {
	Kind                string `json:"kind,omitempty"`
	Symbol              string `json:"symbol"`
	Timestamp           int64  `json:"timestamp"`
	OpenTime            int64  `json:"open_time"`
	CloseTime           int64  `json:"close_time"`
	Open                string `json:"open"`
	High                string `json:"high"`
	Low                 string `json:"low"`
	Close               string `json:"close"`
	Volume              string `json:"volume"`
	QuoteVolume         string `json:"quote_volume"`
	Trades              int64  `json:"trades"`
	TakerBuyBaseVolume  string `json:"taker_buy_base_volume"`
	TakerBuyQuoteVolume string `json:"taker_buy_quote_volume"`
}

// MarshalJSON always renders decimal fields as plain strings.
func (c Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toWire(""))
}

func (c Candle) toWire(kind string) wireCandle {
	return wireCandle{
		Kind:                kind,
		Symbol:              c.Symbol,
		Timestamp:           c.TimestampMillis(),
		OpenTime:            c.OpenTime.UnixMilli(),
		CloseTime:           c.CloseTime.UnixMilli(),
		Open:                c.Open.StringFixed(8),
		High:                c.High.StringFixed(8),
		Low:                 c.Low.StringFixed(8),
		Close:               c.Close.StringFixed(8),
		Volume:              c.Volume.StringFixed(8),
		QuoteVolume:         c.QuoteVolume.StringFixed(8),
		Trades:              c.Trades,
		TakerBuyBaseVolume:  c.TakerBuyBaseVolume.StringFixed(8),
		TakerBuyQuoteVolume: c.TakerBuyQuoteVolume.StringFixed(8),
	}
}

// MarshalTopic renders the candle for a broker topic payload with an
// explicit "kind" discriminator ("closed" or "interim"), per the spec's
// tagged-record convention for channels carrying more than one shape.
func (c Candle) MarshalTopic(kind string) ([]byte, error) {
	return json.Marshal(c.toWire(kind))
}

// UnmarshalJSON restores a Candle from the wire shape produced by
// MarshalJSON/MarshalTopic.
func (c *Candle) UnmarshalJSON(data []byte) error {
	var w wireCandle
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("candle: unmarshal: %w", err)
	}

	open, err := decimal.NewFromString(w.Open)
	if err != nil {
		return fmt.Errorf("candle: open: %w", err)
	}
	high, err := decimal.NewFromString(w.High)
	if err != nil {
		return fmt.Errorf("candle: high: %w", err)
	}
	low, err := decimal.NewFromString(w.Low)
	if err != nil {
		return fmt.Errorf("candle: low: %w", err)
	}
	closePrice, err := decimal.NewFromString(w.Close)
	if err != nil {
		return fmt.Errorf("candle: close: %w", err)
	}
	volume, err := decimal.NewFromString(w.Volume)
	if err != nil {
		return fmt.Errorf("candle: volume: %w", err)
	}
	quoteVolume, err := decimal.NewFromString(w.QuoteVolume)
	if err != nil {
		return fmt.Errorf("candle: quote_volume: %w", err)
	}
	takerBase, err := decimal.NewFromString(w.TakerBuyBaseVolume)
	if err != nil {
		return fmt.Errorf("candle: taker_buy_base_volume: %w", err)
	}
	takerQuote, err := decimal.NewFromString(w.TakerBuyQuoteVolume)
	if err != nil {
		return fmt.Errorf("candle: taker_buy_quote_volume: %w", err)
	}

	*c = Candle{
		Symbol:              w.Symbol,
		OpenTime:            time.UnixMilli(w.OpenTime).UTC(),
		CloseTime:           time.UnixMilli(w.CloseTime).UTC(),
		Open:                open,
		High:                high,
		Low:                 low,
		Close:               closePrice,
		Volume:              volume,
		QuoteVolume:         quoteVolume,
		Trades:              w.Trades,
		TakerBuyBaseVolume:  takerBase,
		TakerBuyQuoteVolume: takerQuote,
	}
	return nil
}

// Kind extracts the "kind" discriminator from a topic payload without fully
// decoding it, so the hub's broker-subscriber can branch before unmarshaling.
func Kind(data []byte) string {
	var probe struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.Kind
}

// CloseTimeFor returns the close-time of the 1-minute candle opening at
// openTime: open-time + 59.999s.
func CloseTimeFor(openTime time.Time) time.Time {
	return openTime.Add(59999 * time.Millisecond)
}
