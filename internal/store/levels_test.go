package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"marketfeed/internal/orderbook"
)

func TestEncodeDecodeLevelsRoundTrip(t *testing.T) {
	levels := []orderbook.PriceLevel{
		{Price: decimal.RequireFromString("100.12345678"), Quantity: decimal.RequireFromString("1.5")},
		{Price: decimal.RequireFromString("99.1"), Quantity: decimal.RequireFromString("0.00000001")},
	}

	data, err := encodeLevels(levels)
	if err != nil {
		t.Fatalf("encodeLevels: %v", err)
	}

	decoded, err := decodeLevels(data)
	if err != nil {
		t.Fatalf("decodeLevels: %v", err)
	}
	if len(decoded) != len(levels) {
		t.Fatalf("expected %d levels, got %d", len(levels), len(decoded))
	}
	for i := range levels {
		if !decoded[i].Price.Equal(levels[i].Price) {
			t.Fatalf("price[%d] mismatch: %s != %s", i, decoded[i].Price, levels[i].Price)
		}
		if !decoded[i].Quantity.Equal(levels[i].Quantity) {
			t.Fatalf("quantity[%d] mismatch: %s != %s", i, decoded[i].Quantity, levels[i].Quantity)
		}
	}
}

func TestEncodeLevelsEmpty(t *testing.T) {
	data, err := encodeLevels(nil)
	if err != nil {
		t.Fatalf("encodeLevels(nil): %v", err)
	}
	decoded, err := decodeLevels(data)
	if err != nil {
		t.Fatalf("decodeLevels: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected 0 levels, got %d", len(decoded))
	}
}
