package ingest

import (
	"testing"

	"marketfeed/internal/upstream"
)

func TestDecodeLevelsSubstitutesZeroOnGarbageField(t *testing.T) {
	raw := []upstream.DepthLevel{
		{"100.5", "1.25"},
		{"garbage", "1"},
		{"101", "garbage"},
	}
	levels := decodeLevels("BTCUSDT", raw)
	if len(levels) != 3 {
		t.Fatalf("expected all 3 levels preserved, got %d", len(levels))
	}
	if levels[0].Price.String() != "100.5" || levels[0].Quantity.String() != "1.25" {
		t.Fatalf("unexpected valid level: %+v", levels[0])
	}
	if !levels[1].Price.IsZero() || levels[1].Quantity.String() != "1" {
		t.Fatalf("expected price substituted with 0, got %+v", levels[1])
	}
	if levels[2].Price.String() != "101" || !levels[2].Quantity.IsZero() {
		t.Fatalf("expected quantity substituted with 0, got %+v", levels[2])
	}
}
