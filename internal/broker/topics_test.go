package broker

import "testing"

func TestCandleTopics(t *testing.T) {
	got := candleTopics("BTCUSDT")
	want := []string{"candles:BTCUSDT", "candles:all"}
	for i, topic := range want {
		if got[i] != topic {
			t.Fatalf("candleTopics()[%d] = %s, want %s", i, got[i], topic)
		}
	}
}

func TestOrderbookTopics(t *testing.T) {
	got := orderbookTopics("ETHUSDT")
	want := []string{"orderbook:ETHUSDT", "orderbook:all"}
	for i, topic := range want {
		if got[i] != topic {
			t.Fatalf("orderbookTopics()[%d] = %s, want %s", i, got[i], topic)
		}
	}
}
