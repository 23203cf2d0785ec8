// Package ingest runs the per-symbol collector state machines that pull
// candles and order-book snapshots from the upstream exchange and land
// them in the store and broker.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"marketfeed/internal/broker"
	marketdecimal "marketfeed/internal/decimal"
	"marketfeed/internal/candle"
	"marketfeed/internal/store"
	"marketfeed/internal/upstream"
)

// CandleCollectorConfig controls one symbol's candle collector.
type CandleCollectorConfig struct {
	Symbol           string
	StartMs          int64
	BatchSize        int
	RealtimeInterval time.Duration
	RetryDelay       time.Duration
}

// CandleCollector runs the bootstrap -> historical -> transition -> live
// state machine for one symbol, matching the teacher's
// one-goroutine-per-concern fan-out but generalized to an independent,
// resumable state machine rather than a shared polling loop.
type CandleCollector struct {
	cfg      CandleCollectorConfig
	upstream *upstream.Client
	store    *store.Store
	broker   *broker.Broker
}

// NewCandleCollector builds a collector for one symbol.
func NewCandleCollector(cfg CandleCollectorConfig, u *upstream.Client, s *store.Store, b *broker.Broker) *CandleCollector {
	return &CandleCollector{cfg: cfg, upstream: u, store: s, broker: b}
}

// Run drives the collector until ctx is canceled. wg.Done is called on
// return so main.go can join every collector goroutine at shutdown.
func (cc *CandleCollector) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	symbol := cc.cfg.Symbol

	start, err := cc.bootstrap(ctx)
	for err != nil {
		log.Printf("[CandleCollector:%s] bootstrap failed: %v", symbol, err)
		if !sleepOrDone(ctx, cc.cfg.RetryDelay) {
			return
		}
		start, err = cc.bootstrap(ctx)
	}
	log.Printf("[CandleCollector:%s] bootstrapped, starting from %d", symbol, start)

	start = cc.runHistorical(ctx, start)
	if ctx.Err() != nil {
		return
	}

	// start is the next minute to collect; the checkpoint and the live
	// high-water mark both record the last minute already collected.
	lastCollected := start - 60_000
	if err := cc.store.UpsertCollectorState(ctx, symbol, lastCollected, true); err != nil {
		log.Printf("[CandleCollector:%s] transition checkpoint failed: %v", symbol, err)
	} else {
		log.Printf("[CandleCollector:%s] transitioned to live", symbol)
	}

	cc.runLive(ctx, lastCollected)
}

// bootstrap resolves the starting timestamp: the symbol's checkpoint plus
// one minute, or the configured start date if the symbol has no
// checkpoint yet.
func (cc *CandleCollector) bootstrap(ctx context.Context) (int64, error) {
	last, found, err := cc.store.GetLastTimestamp(ctx, cc.cfg.Symbol)
	if err != nil {
		return 0, err
	}
	if !found {
		return cc.cfg.StartMs, nil
	}
	candidate := last + 60_000
	if candidate < cc.cfg.StartMs {
		candidate = cc.cfg.StartMs
	}
	return candidate, nil
}

// runHistorical backfills [start, now) in BatchSize-minute windows and
// returns the timestamp to resume live collection from.
func (cc *CandleCollector) runHistorical(ctx context.Context, start int64) int64 {
	symbol := cc.cfg.Symbol
	windowMs := int64(cc.cfg.BatchSize) * 60_000

	for {
		if ctx.Err() != nil {
			return start
		}
		now := time.Now().UnixMilli()
		if start+60_000 > now {
			return start
		}

		end := start + windowMs
		if end > now {
			end = now
		}

		klines, err := cc.upstream.FetchKlines(ctx, symbol, start, end)
		if err != nil {
			log.Printf("[CandleCollector:%s] historical fetch failed: %v", symbol, err)
			if !sleepOrDone(ctx, cc.cfg.RetryDelay) {
				return start
			}
			continue
		}

		if len(klines) == 0 {
			if !sleepOrDone(ctx, time.Minute) {
				return start
			}
			continue
		}

		candles := normalizeKlines(symbol, klines)
		if err := cc.store.InsertCandles(ctx, candles); err != nil {
			log.Printf("[CandleCollector:%s] historical insert failed: %v", symbol, err)
			if !sleepOrDone(ctx, cc.cfg.RetryDelay) {
				return start
			}
			continue
		}

		last := klines[len(klines)-1].OpenTime
		if err := cc.store.UpsertCollectorState(ctx, symbol, last, false); err != nil {
			log.Printf("[CandleCollector:%s] historical checkpoint failed: %v", symbol, err)
		}

		start = last + 60_000
	}
}

// runLive polls the trailing window on a ticker, publishing every candle
// newer than the symbol's high-water mark.
func (cc *CandleCollector) runLive(ctx context.Context, highWaterMs int64) {
	symbol := cc.cfg.Symbol
	ticker := time.NewTicker(cc.cfg.RealtimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UnixMilli()
		klines, err := cc.upstream.FetchKlines(ctx, symbol, now-5*60_000, now)
		if err != nil {
			log.Printf("[CandleCollector:%s] live fetch failed: %v", symbol, err)
			continue
		}
		if len(klines) == 0 {
			continue
		}

		candles := normalizeKlines(symbol, klines)
		if err := cc.store.InsertCandles(ctx, candles); err != nil {
			log.Printf("[CandleCollector:%s] live insert failed: %v", symbol, err)
			if !sleepOrDone(ctx, cc.cfg.RetryDelay) {
				return
			}
			continue
		}

		last := klines[len(klines)-1].OpenTime
		if err := cc.store.UpsertCollectorState(ctx, symbol, last, true); err != nil {
			log.Printf("[CandleCollector:%s] live checkpoint failed: %v", symbol, err)
		}

		for i, k := range klines {
			if k.OpenTime > highWaterMs {
				cc.broker.PublishCandle(ctx, candles[i], "closed")
			}
		}
		if last > highWaterMs {
			highWaterMs = last
		}
	}
}

func normalizeKlines(symbol string, klines []upstream.RawKline) []candle.Candle {
	out := make([]candle.Candle, len(klines))
	for i, k := range klines {
		openTime := time.UnixMilli(k.OpenTime).UTC()

		open, substituted := marketdecimal.MustZero(k.Open)
		warnIfSubstituted(symbol, openTime, "open", substituted)
		high, substituted := marketdecimal.MustZero(k.High)
		warnIfSubstituted(symbol, openTime, "high", substituted)
		low, substituted := marketdecimal.MustZero(k.Low)
		warnIfSubstituted(symbol, openTime, "low", substituted)
		closePrice, substituted := marketdecimal.MustZero(k.Close)
		warnIfSubstituted(symbol, openTime, "close", substituted)
		volume, substituted := marketdecimal.MustZero(k.Volume)
		warnIfSubstituted(symbol, openTime, "volume", substituted)
		quoteVolume, substituted := marketdecimal.MustZero(k.QuoteAssetVolume)
		warnIfSubstituted(symbol, openTime, "quote_volume", substituted)
		takerBase, substituted := marketdecimal.MustZero(k.TakerBuyBaseAssetVolume)
		warnIfSubstituted(symbol, openTime, "taker_buy_base_volume", substituted)
		takerQuote, substituted := marketdecimal.MustZero(k.TakerBuyQuoteAssetVolume)
		warnIfSubstituted(symbol, openTime, "taker_buy_quote_volume", substituted)

		out[i] = candle.Candle{
			Symbol:              symbol,
			OpenTime:            openTime,
			CloseTime:           candle.CloseTimeFor(openTime),
			Open:                open,
			High:                high,
			Low:                 low,
			Close:               closePrice,
			Volume:              volume,
			QuoteVolume:         quoteVolume,
			Trades:              k.Trades,
			TakerBuyBaseVolume:  takerBase,
			TakerBuyQuoteVolume: takerQuote,
		}
	}
	return out
}

// warnIfSubstituted logs the candle field substitutions the normalizer
// makes for a value MustZero couldn't parse, so an upstream data quality
// problem shows up in the logs instead of silently becoming a zero.
func warnIfSubstituted(symbol string, openTime time.Time, field string, substituted bool) {
	if substituted {
		log.Printf("[CandleCollector] %s %s: invalid %s substituted with 0", symbol, openTime.Format(time.RFC3339), field)
	}
}

// sleepOrDone sleeps for d, returning false immediately if ctx is canceled
// first so callers can unwind without completing the sleep.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
