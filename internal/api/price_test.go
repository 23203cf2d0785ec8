package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"marketfeed/internal/candle"
	"marketfeed/internal/orderbook"
)

type fakeStore struct {
	latest []candle.Candle
}

func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) GetSymbols(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) GetCandles(ctx context.Context, symbol string, timeframeMinutes int, startMs *int64, limit int) ([]candle.Candle, error) {
	return nil, nil
}
func (f *fakeStore) GetLatestCandles(ctx context.Context, symbol string, timeframeMinutes int, limit int) ([]candle.Candle, error) {
	if limit < len(f.latest) {
		return f.latest[:limit], nil
	}
	return f.latest, nil
}
func (f *fakeStore) GetLatestOrderBook(ctx context.Context, symbol string, levels int) (*orderbook.Snapshot, bool, error) {
	return nil, false, nil
}

type fakeHub struct {
	partial candle.Candle
	ok      bool
}

func (f *fakeHub) CurrentPartial(symbol string, timeframeMinutes int) (candle.Candle, bool) {
	return f.partial, f.ok
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// TestPriceComputesChangeAgainstPreviousClose reproduces the worked example:
// a live 1H partial closing at 105654.78 against a previous closed bucket at
// 105200.45 should report an upward 454.33 / 0.43% move.
func TestPriceComputesChangeAgainstPreviousClose(t *testing.T) {
	openTime := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	partial := candle.Candle{Symbol: "BTCUSDT", OpenTime: openTime, Close: dec("105654.78"), Volume: dec("12.5")}
	previous := candle.Candle{Symbol: "BTCUSDT", Close: dec("105200.45")}

	s := NewServer(nil, nil, []int{1, 60})
	s.store = &fakeStore{latest: []candle.Candle{previous}}
	s.hub = &fakeHub{partial: partial, ok: true}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+url.Values{"symbol": {"BTCUSDT"}, "timeframe": {"60"}}.Encode(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.Price(c); err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	for _, want := range []string{
		`"current_price":"105654.78000000"`,
		`"previous_price":"105200.45000000"`,
		`"change_absolute":"454.33"`,
		`"change_percent":"0.43"`,
		`"trend":"up"`,
		`"volume":"12.50000000"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("response %s missing %s", body, want)
		}
	}
}

func TestPriceFallsBackToStoreWhenNoLivePartial(t *testing.T) {
	latest := candle.Candle{Symbol: "ETHUSDT", Close: dec("3000.00")}
	previous := candle.Candle{Symbol: "ETHUSDT", Close: dec("3100.00")}

	s := NewServer(nil, nil, []int{1})
	s.store = &fakeStore{latest: []candle.Candle{latest, previous}}
	s.hub = &fakeHub{ok: false}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+url.Values{"symbol": {"ETHUSDT"}}.Encode(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.Price(c); err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"trend":"down"`) {
		t.Fatalf("expected downward trend, got %s", rec.Body.String())
	}
}
