package ingest

import (
	"testing"

	"marketfeed/internal/upstream"
)

func TestNormalizeKlinesProducesValidCandles(t *testing.T) {
	klines := []upstream.RawKline{
		{
			OpenTime: 1704067200000, Open: "100", High: "110", Low: "95", Close: "105",
			Volume: "10", CloseTime: 1704067259999, QuoteAssetVolume: "1000", Trades: 5,
			TakerBuyBaseAssetVolume: "4", TakerBuyQuoteAssetVolume: "400",
		},
	}

	candles := normalizeKlines("BTCUSDT", klines)
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if !c.Valid() {
		t.Fatalf("expected valid candle, got %+v", c)
	}
	if c.Symbol != "BTCUSDT" {
		t.Fatalf("expected symbol BTCUSDT, got %s", c.Symbol)
	}
	if c.Open.String() != "100" {
		t.Fatalf("unexpected open: %s", c.Open)
	}
}

func TestNormalizeKlinesSubstitutesZeroOnGarbageField(t *testing.T) {
	klines := []upstream.RawKline{
		{OpenTime: 0, Open: "not-a-number", High: "1", Low: "1", Close: "1", Volume: "1"},
	}
	candles := normalizeKlines("BTCUSDT", klines)
	if !candles[0].Open.IsZero() {
		t.Fatalf("expected zero substitution for invalid open field, got %s", candles[0].Open)
	}
}
