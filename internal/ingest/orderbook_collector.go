package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"marketfeed/internal/broker"
	marketdecimal "marketfeed/internal/decimal"
	"marketfeed/internal/orderbook"
	"marketfeed/internal/store"
	"marketfeed/internal/upstream"
)

// OrderbookCollectorConfig controls one symbol's order-book collector.
type OrderbookCollectorConfig struct {
	Symbol         string
	Levels         int
	UpdateInterval time.Duration
}

// OrderbookCollector polls a depth snapshot on a fixed ticker and persists
// plus publishes every tick, one goroutine per symbol.
type OrderbookCollector struct {
	cfg      OrderbookCollectorConfig
	upstream *upstream.Client
	store    *store.Store
	broker   *broker.Broker
}

// NewOrderbookCollector builds a collector for one symbol.
func NewOrderbookCollector(cfg OrderbookCollectorConfig, u *upstream.Client, s *store.Store, b *broker.Broker) *OrderbookCollector {
	return &OrderbookCollector{cfg: cfg, upstream: u, store: s, broker: b}
}

// Run polls depth until ctx is canceled.
func (oc *OrderbookCollector) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	symbol := oc.cfg.Symbol
	ticker := time.NewTicker(oc.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		depth, err := oc.upstream.FetchDepth(ctx, symbol, oc.cfg.Levels)
		if err != nil {
			log.Printf("[OrderbookCollector:%s] fetch failed: %v", symbol, err)
			continue
		}

		snapshot := orderbook.Snapshot{
			Symbol:       symbol,
			Timestamp:    time.Now().UTC(),
			LastUpdateID: depth.LastUpdateID,
			Bids:         decodeLevels(symbol, depth.Bids),
			Asks:         decodeLevels(symbol, depth.Asks),
		}

		if err := oc.store.InsertOrderBook(ctx, snapshot); err != nil {
			log.Printf("[OrderbookCollector:%s] insert failed: %v", symbol, err)
			continue
		}

		oc.broker.PublishOrderBook(ctx, snapshot)
	}
}

// decodeLevels converts raw depth levels to PriceLevels, substituting 0 for
// any price or quantity the exchange sent in a form MustZero can't parse
// and logging a warning per occurrence, rather than dropping the level.
func decodeLevels(symbol string, raw []upstream.DepthLevel) []orderbook.PriceLevel {
	out := make([]orderbook.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, priceInvalid := marketdecimal.MustZero(lvl[0])
		if priceInvalid {
			log.Printf("[OrderbookCollector:%s] invalid price %q substituted with 0", symbol, lvl[0])
		}
		qty, qtyInvalid := marketdecimal.MustZero(lvl[1])
		if qtyInvalid {
			log.Printf("[OrderbookCollector:%s] invalid quantity %q substituted with 0", symbol, lvl[1])
		}
		out = append(out, orderbook.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}
