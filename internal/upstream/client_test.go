package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketfeed/internal/upstream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*upstream.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := upstream.NewClient(upstream.Config{
		BaseURL:    srv.URL,
		RateRPS:    1000,
		RateBurst:  1000,
		RetryDelay: time.Millisecond,
	})
	return client, srv.Close
}

func TestFetchKlinesDecodesRawFields(t *testing.T) {
	row := []interface{}{
		1704067200000, "100.00000000", "110.00000000", "95.00000000", "105.00000000",
		"10.00000000", 1704067259999, "1000.00000000", 42, "5.00000000", "500.00000000", "0",
	}
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([][]interface{}{row})
	})
	defer closeFn()

	klines, err := client.FetchKlines(context.Background(), "BTCUSDT", 0, 1)
	if err != nil {
		t.Fatalf("FetchKlines: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("expected 1 kline, got %d", len(klines))
	}
	k := klines[0]
	if k.OpenTime != 1704067200000 || k.Open != "100.00000000" || k.Trades != 42 {
		t.Fatalf("unexpected kline decode: %+v", k)
	}
}

func TestFetchKlinesRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([][]interface{}{})
	})
	defer closeFn()

	_, err := client.FetchKlines(context.Background(), "BTCUSDT", 0, 1)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestFetchKlinesFatalOn400(t *testing.T) {
	var calls int32
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	defer closeFn()

	_, err := client.FetchKlines(context.Background(), "NOTASYMBOL", 0, 1)
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if !errors.Is(err, upstream.ErrUpstreamRejected) {
		t.Fatalf("expected ErrUpstreamRejected, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("fatal error should not retry, got %d calls", calls)
	}
}

func TestFetchKlinesExhaustsRetries(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer closeFn()

	_, err := client.FetchKlines(context.Background(), "BTCUSDT", 0, 1)
	if err == nil || !errors.Is(err, upstream.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetchDepth(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"lastUpdateId": 123456,
			"bids":         [][]string{{"100.00000000", "1.50000000"}},
			"asks":         [][]string{{"101.00000000", "2.00000000"}},
		})
	})
	defer closeFn()

	snap, err := client.FetchDepth(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("FetchDepth: %v", err)
	}
	if snap.LastUpdateID != 123456 || len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("unexpected depth snapshot: %+v", snap)
	}
}

