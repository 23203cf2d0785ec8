// Package aggregator rolls a stream of 1-minute candles into higher
// timeframes entirely in memory. It has no teacher equivalent: the
// teacher re-fetches each interval from the exchange instead of deriving
// it online, so this package is built from spec-level first principles
// in the surrounding code's idiom (sentinel-free, small exported surface,
// plain stdlib time math).
package aggregator

import (
	"time"

	"marketfeed/internal/candle"
)

// EventKind distinguishes a fully closed period from an in-progress one.
type EventKind int

const (
	// Closed means the emitted candle's period has fully elapsed.
	Closed EventKind = iota
	// Interim means the emitted candle is still accumulating.
	Interim
)

// Event is one aggregation outcome for a (symbol, timeframe) session.
type Event struct {
	Kind             EventKind
	Candle           candle.Candle
	TimeframeMinutes int
}

// sessionKey identifies one in-memory aggregation session.
type sessionKey struct {
	Symbol           string
	TimeframeMinutes int
}

// session holds the mutable partial candle for one (symbol, timeframe).
type session struct {
	partial            candle.Candle
	hasPartial         bool
	lastInputTimestamp int64
}

// Aggregator owns every session for a configured set of timeframes. It is
// not safe for concurrent use: callers must serialize all Feed/Interim
// calls onto a single goroutine, matching the hub's broker-subscriber
// ownership model.
type Aggregator struct {
	timeframes []int
	sessions   map[sessionKey]*session
}

// New builds an Aggregator for the given timeframe-minutes set.
func New(timeframeMinutes []int) *Aggregator {
	return &Aggregator{
		timeframes: append([]int(nil), timeframeMinutes...),
		sessions:   make(map[sessionKey]*session),
	}
}

// Timeframes returns the configured timeframe-minutes set.
func (a *Aggregator) Timeframes() []int {
	return a.timeframes
}

// Feed folds a 1-minute candle into every configured timeframe's session
// for its symbol, returning one Closed event for each session whose period
// the candle advances past. Interim events come only from InterimEvents.
func (a *Aggregator) Feed(c candle.Candle) []Event {
	var events []Event
	inputTs := c.OpenTime.UnixMilli()

	for _, tf := range a.timeframes {
		key := sessionKey{Symbol: c.Symbol, TimeframeMinutes: tf}
		sess, ok := a.sessions[key]
		if !ok {
			sess = &session{}
			a.sessions[key] = sess
		}

		if inputTs <= sess.lastInputTimestamp && sess.hasPartial {
			continue
		}
		sess.lastInputTimestamp = inputTs

		periodStart := PeriodStart(c.OpenTime, tf)

		if !sess.hasPartial {
			sess.partial = newPartial(c, periodStart, tf)
			sess.hasPartial = true
			continue
		}

		currentStart := sess.partial.OpenTime
		switch {
		case periodStart.After(currentStart):
			events = append(events, Event{Kind: Closed, Candle: sess.partial, TimeframeMinutes: tf})
			sess.partial = newPartial(c, periodStart, tf)
		case periodStart.Equal(currentStart):
			fold(&sess.partial, c)
		default:
			// Out-of-order input for an already-advanced session: ignore.
		}
	}

	return events
}

// InterimEvents returns the current partial for every live session as an
// Interim event, for the hub's periodic (every 5s) broadcast tick.
func (a *Aggregator) InterimEvents() []Event {
	var events []Event
	for key, sess := range a.sessions {
		if !sess.hasPartial {
			continue
		}
		events = append(events, Event{Kind: Interim, Candle: sess.partial, TimeframeMinutes: key.TimeframeMinutes})
	}
	return events
}

// CurrentPartial returns the live partial candle for (symbol, timeframe),
// used directly by the /price endpoint, and whether one exists yet.
func (a *Aggregator) CurrentPartial(symbol string, timeframeMinutes int) (candle.Candle, bool) {
	sess, ok := a.sessions[sessionKey{Symbol: symbol, TimeframeMinutes: timeframeMinutes}]
	if !ok || !sess.hasPartial {
		return candle.Candle{}, false
	}
	return sess.partial, true
}

func newPartial(c candle.Candle, periodStart time.Time, timeframeMinutes int) candle.Candle {
	return candle.Candle{
		Symbol:              c.Symbol,
		OpenTime:            periodStart,
		CloseTime:           periodEnd(periodStart, timeframeMinutes),
		Open:                c.Open,
		High:                c.High,
		Low:                 c.Low,
		Close:               c.Close,
		Volume:              c.Volume,
		QuoteVolume:         c.QuoteVolume,
		Trades:              c.Trades,
		TakerBuyBaseVolume:  c.TakerBuyBaseVolume,
		TakerBuyQuoteVolume: c.TakerBuyQuoteVolume,
	}
}

func fold(partial *candle.Candle, in candle.Candle) {
	if in.High.GreaterThan(partial.High) {
		partial.High = in.High
	}
	if in.Low.LessThan(partial.Low) {
		partial.Low = in.Low
	}
	partial.Close = in.Close
	partial.Volume = partial.Volume.Add(in.Volume)
	partial.QuoteVolume = partial.QuoteVolume.Add(in.QuoteVolume)
	partial.Trades += in.Trades
	partial.TakerBuyBaseVolume = partial.TakerBuyBaseVolume.Add(in.TakerBuyBaseVolume)
	partial.TakerBuyQuoteVolume = partial.TakerBuyQuoteVolume.Add(in.TakerBuyQuoteVolume)
}

func periodEnd(periodStart time.Time, timeframeMinutes int) time.Time {
	switch timeframeMinutes {
	case 10080:
		return periodStart.AddDate(0, 0, 7).Add(-time.Millisecond)
	case 43200:
		return periodStart.AddDate(0, 1, 0).Add(-time.Millisecond)
	default:
		return periodStart.Add(time.Duration(timeframeMinutes)*time.Minute - time.Millisecond)
	}
}

// PeriodStart returns the start of the aggregation period containing t
// for the given timeframe in minutes: floor-to-multiple in UTC for
// regular timeframes, ISO-week Monday 00:00 UTC for 10080 (1 week), and
// the first instant of the UTC calendar month for 43200 (1 month).
func PeriodStart(t time.Time, timeframeMinutes int) time.Time {
	t = t.UTC()

	switch timeframeMinutes {
	case 10080:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7 // ISO: Sunday is day 7, not 0.
		}
		monday := t.AddDate(0, 0, -(weekday - 1))
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	case 43200:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		period := time.Duration(timeframeMinutes) * time.Minute
		floored := t.Truncate(period)
		return floored
	}
}
