package aggregator_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketfeed/internal/aggregator"
	"marketfeed/internal/candle"
)

// minuteCandle builds a trivial candle whose high/low are simply the max
// and min of its fixed 100 open and the given close, so aggregating a
// run of these exercises high/low folding without extra bookkeeping.
func minuteCandle(t *testing.T, minute int, close string) candle.Candle {
	t.Helper()
	open := time.Date(2025, 1, 1, 9, minute, 0, 0, time.UTC)
	openPrice := decimal.RequireFromString("100")
	closePrice := decimal.RequireFromString(close)
	high, low := openPrice, openPrice
	if closePrice.GreaterThan(high) {
		high = closePrice
	}
	if closePrice.LessThan(low) {
		low = closePrice
	}
	return candle.Candle{
		Symbol:    "BTCUSDT",
		OpenTime:  open,
		CloseTime: candle.CloseTimeFor(open),
		Open:      openPrice,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    decimal.RequireFromString("1"),
	}
}

// TestFiveMinuteAggregation reproduces the spec's literal scenario: five
// 1-minute candles with closes 100,101,99,102,103 roll into one closed
// 5-minute candle with open=100, high=103, low=99, close=103 once the
// sixth (09:05) input arrives.
func TestFiveMinuteAggregation(t *testing.T) {
	agg := aggregator.New([]int{5})

	closes := []string{"100", "101", "99", "102", "103"}
	for i, close := range closes {
		events := agg.Feed(minuteCandle(t, i, close))
		if len(events) != 0 {
			t.Fatalf("unexpected event before period closes at minute %d: %+v", i, events)
		}
	}

	sixth := minuteCandle(t, 5, "104")
	events := agg.Feed(sixth)
	if len(events) != 1 {
		t.Fatalf("expected exactly one closed event, got %d", len(events))
	}
	closed := events[0]
	if closed.Kind != aggregator.Closed {
		t.Fatalf("expected a Closed event, got %v", closed.Kind)
	}
	if !closed.Candle.Open.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected open=100, got %s", closed.Candle.Open)
	}
	if !closed.Candle.High.Equal(decimal.RequireFromString("103")) {
		t.Fatalf("expected high=103, got %s", closed.Candle.High)
	}
	if !closed.Candle.Low.Equal(decimal.RequireFromString("99")) {
		t.Fatalf("expected low=99, got %s", closed.Candle.Low)
	}
	if !closed.Candle.Close.Equal(decimal.RequireFromString("103")) {
		t.Fatalf("expected close=103, got %s", closed.Candle.Close)
	}
	if !closed.Candle.Volume.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected summed volume=5, got %s", closed.Candle.Volume)
	}
	wantPeriodStart := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	if !closed.Candle.OpenTime.Equal(wantPeriodStart) {
		t.Fatalf("expected period_start=%v, got %v", wantPeriodStart, closed.Candle.OpenTime)
	}
}

// TestLateInputIgnored reproduces the spec's duplicate/late-input
// scenario: a candle whose timestamp does not strictly increase past the
// session's last observed input is ignored outright.
func TestLateInputIgnored(t *testing.T) {
	agg := aggregator.New([]int{5})

	for i := 0; i < 5; i++ {
		agg.Feed(minuteCandle(t, i, "100"))
	}
	agg.Feed(minuteCandle(t, 5, "101")) // closes the first period

	duplicate := minuteCandle(t, 2, "999")
	events := agg.Feed(duplicate)
	if len(events) != 0 {
		t.Fatalf("expected late duplicate input to be ignored, got %+v", events)
	}
}

func TestFeedIsIdempotentUnderDuplicateResend(t *testing.T) {
	build := func() []aggregator.Event {
		agg := aggregator.New([]int{5})
		var all []aggregator.Event
		for i := 0; i < 6; i++ {
			all = append(all, agg.Feed(minuteCandle(t, i, "100"))...)
		}
		return all
	}

	first := build()

	agg := aggregator.New([]int{5})
	var second []aggregator.Event
	for i := 0; i < 6; i++ {
		second = append(second, agg.Feed(minuteCandle(t, i, "100"))...)
		second = append(second, agg.Feed(minuteCandle(t, i, "100"))...) // resend
	}

	if len(first) != len(second) {
		t.Fatalf("expected same closed-event count regardless of duplicate resends: %d != %d", len(first), len(second))
	}
}

func TestPeriodStartRegularTimeframe(t *testing.T) {
	in := time.Date(2025, 3, 14, 9, 37, 12, 0, time.UTC)
	got := aggregator.PeriodStart(in, 15)
	want := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("PeriodStart(15m) = %v, want %v", got, want)
	}
}

func TestPeriodStartWeek(t *testing.T) {
	// 2025-03-14 is a Friday; ISO week start is Monday 2025-03-10.
	in := time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)
	got := aggregator.PeriodStart(in, 10080)
	want := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("PeriodStart(1W) = %v, want %v", got, want)
	}
}

func TestPeriodStartMonth(t *testing.T) {
	in := time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)
	got := aggregator.PeriodStart(in, 43200)
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("PeriodStart(1M) = %v, want %v", got, want)
	}
}

func TestInterimEventsReflectLivePartial(t *testing.T) {
	agg := aggregator.New([]int{5})
	agg.Feed(minuteCandle(t, 0, "100"))

	events := agg.InterimEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 interim event, got %d", len(events))
	}
	if events[0].Kind != aggregator.Interim {
		t.Fatalf("expected Interim kind, got %v", events[0].Kind)
	}
}
