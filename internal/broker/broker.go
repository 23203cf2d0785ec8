// Package broker fans candle and order-book updates out over Redis
// pub/sub so every hub instance sees the same stream regardless of which
// collector produced it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"marketfeed/internal/candle"
	"marketfeed/internal/orderbook"
)

// ErrBrokerUnavailable wraps a publish or subscribe failure against Redis.
var ErrBrokerUnavailable = errors.New("broker: unavailable")

const reconnectMaxBackoff = 30 * time.Second

// Broker wraps a Redis client tuned the way this pack's caching layers
// tune theirs: a small warm connection pool and short per-call timeouts,
// since a stalled publish must never stall a collector.
type Broker struct {
	client *redis.Client
}

// New builds a Broker against addr/password/db.
func New(addr, password string, db int) *Broker {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Broker{client: client}
}

// Close releases the underlying Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Health pings Redis.
func (b *Broker) Health(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func candleTopics(symbol string) []string {
	return []string{"candles:" + symbol, "candles:all"}
}

func orderbookTopics(symbol string) []string {
	return []string{"orderbook:" + symbol, "orderbook:all"}
}

// PublishCandle publishes c to both its per-symbol and "all" topics.
// A publish failure is logged and swallowed: a momentary pub/sub outage
// must never block or kill a collector goroutine.
func (b *Broker) PublishCandle(ctx context.Context, c candle.Candle, kind string) {
	payload, err := c.MarshalTopic(kind)
	if err != nil {
		log.Printf("[Broker] marshal candle %s: %v", c.Symbol, err)
		return
	}
	for _, topic := range candleTopics(c.Symbol) {
		if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
			log.Printf("[Broker] publish %s: %v", topic, err)
		}
	}
}

// PublishOrderBook publishes ob to both its per-symbol and "all" topics.
func (b *Broker) PublishOrderBook(ctx context.Context, ob orderbook.Snapshot) {
	payload, err := ob.MarshalTopic("snapshot")
	if err != nil {
		log.Printf("[Broker] marshal orderbook %s: %v", ob.Symbol, err)
		return
	}
	for _, topic := range orderbookTopics(ob.Symbol) {
		if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
			log.Printf("[Broker] publish %s: %v", topic, err)
		}
	}
}

// SubscribeCandles subscribes to candles:all, the single topic every
// per-symbol candle is also published to, and delivers raw payloads on
// the returned channel until ctx is canceled. On a dropped connection it
// reconnects with exponential backoff capped at reconnectMaxBackoff.
func (b *Broker) SubscribeCandles(ctx context.Context) <-chan []byte {
	return b.subscribeWithReconnect(ctx, "candles:all")
}

// SubscribeOrderBooks subscribes to orderbook:all.
func (b *Broker) SubscribeOrderBooks(ctx context.Context) <-chan []byte {
	return b.subscribeWithReconnect(ctx, "orderbook:all")
}

func (b *Broker) subscribeWithReconnect(ctx context.Context, topic string) <-chan []byte {
	out := make(chan []byte, 256)

	go func() {
		defer close(out)
		backoff := time.Second

		for {
			if ctx.Err() != nil {
				return
			}

			pubsub := b.client.Subscribe(ctx, topic)
			ch := pubsub.Channel()

			drained := false
			for !drained {
				select {
				case <-ctx.Done():
					pubsub.Close()
					return
				case msg, ok := <-ch:
					if !ok {
						drained = true
						break
					}
					backoff = time.Second
					select {
					case out <- []byte(msg.Payload):
					case <-ctx.Done():
						pubsub.Close()
						return
					}
				}
			}
			pubsub.Close()

			log.Printf("[Broker] subscription to %s dropped, reconnecting in %s", topic, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMaxBackoff {
				backoff = reconnectMaxBackoff
			}
		}
	}()

	return out
}
