// Package store persists candles and order-book snapshots to Postgres and
// serves the bucketed/ranged reads the query layer needs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketfeed/internal/candle"
	"marketfeed/internal/orderbook"
)

// ErrStoreUnavailable wraps any failure reaching or querying Postgres.
var ErrStoreUnavailable = errors.New("store: unavailable")

// opTimeout bounds every individual database operation.
const opTimeout = 30 * time.Second

// Store wraps a pgx connection pool tuned for a small number of
// long-lived collector goroutines plus bursty query-layer reads.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses databaseURL, applies the pool's min/max connection and
// idle-in-transaction tuning, and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 300 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Health reports whether the pool can still reach Postgres.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// InsertCandles persists candles in a single batch, silently skipping any
// row whose (symbol, open_time) primary key already exists.
func (s *Store) InsertCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (
				symbol, open_time, close_time, open, high, low, close, volume,
				quote_volume, trades, taker_buy_base_volume, taker_buy_quote_volume
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (symbol, open_time) DO NOTHING
		`,
			c.Symbol, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume,
			c.QuoteVolume, c.Trades, c.TakerBuyBaseVolume, c.TakerBuyQuoteVolume,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(candles); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("%w: insert candle %d: %v", ErrStoreUnavailable, i, err)
		}
	}
	return nil
}

// InsertOrderBook persists one snapshot, silently skipping a duplicate
// (symbol, timestamp) primary key.
func (s *Store) InsertOrderBook(ctx context.Context, ob orderbook.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	bids, err := encodeLevels(ob.Bids)
	if err != nil {
		return err
	}
	asks, err := encodeLevels(ob.Asks)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orderbook_data (symbol, timestamp, last_update_id, bids, asks)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, timestamp) DO NOTHING
	`, ob.Symbol, ob.Timestamp, ob.LastUpdateID, bids, asks)
	if err != nil {
		return fmt.Errorf("%w: insert orderbook: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// UpsertCollectorState records a symbol's checkpoint so a restarted
// collector resumes instead of re-bootstrapping.
func (s *Store) UpsertCollectorState(ctx context.Context, symbol string, lastTimestampMs int64, isRealtime bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO collector_state (symbol, last_timestamp_ms, is_realtime, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol) DO UPDATE SET
			last_timestamp_ms = EXCLUDED.last_timestamp_ms,
			is_realtime = EXCLUDED.is_realtime,
			updated_at = now()
	`, symbol, lastTimestampMs, isRealtime)
	if err != nil {
		return fmt.Errorf("%w: upsert collector state: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetLastTimestamp returns the checkpointed timestamp for symbol, and
// false if the symbol has no recorded state yet.
func (s *Store) GetLastTimestamp(ctx context.Context, symbol string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var ts int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_timestamp_ms FROM collector_state WHERE symbol = $1`, symbol,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: get last timestamp: %v", ErrStoreUnavailable, err)
	}
	return ts, true, nil
}

// GetSymbols returns every symbol with at least one stored candle.
func (s *Store) GetSymbols(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM candles ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("%w: get symbols: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("%w: scan symbol: %v", ErrStoreUnavailable, err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// GetLatestOrderBook returns the most recent snapshot for symbol truncated
// to levels per side, or false if none is stored yet.
func (s *Store) GetLatestOrderBook(ctx context.Context, symbol string, levels int) (*orderbook.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var ob orderbook.Snapshot
	var bids, asks []byte
	err := s.pool.QueryRow(ctx, `
		SELECT symbol, timestamp, last_update_id, bids, asks
		FROM orderbook_data
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`, symbol).Scan(&ob.Symbol, &ob.Timestamp, &ob.LastUpdateID, &bids, &asks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get latest orderbook: %v", ErrStoreUnavailable, err)
	}

	ob.Bids, err = decodeLevels(bids)
	if err != nil {
		return nil, false, err
	}
	ob.Asks, err = decodeLevels(asks)
	if err != nil {
		return nil, false, err
	}

	truncated := ob.Truncate(levels)
	return &truncated, true, nil
}

// GetCandles returns candles for symbol at timeframeMinutes, optionally
// bounded below by startMs, newest-compatible ordering ascending by open
// time, capped at limit rows. timeframeMinutes == 1 reads stored rows
// directly; any other value buckets them server-side.
func (s *Store) GetCandles(ctx context.Context, symbol string, timeframeMinutes int, startMs *int64, limit int) ([]candle.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if timeframeMinutes <= 1 {
		return s.getRawCandles(ctx, symbol, startMs, limit)
	}
	return s.getBucketedCandles(ctx, symbol, timeframeMinutes, startMs, limit)
}

func (s *Store) getRawCandles(ctx context.Context, symbol string, startMs *int64, limit int) ([]candle.Candle, error) {
	var rows pgx.Rows
	var err error
	if startMs != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT symbol, open_time, close_time, open, high, low, close, volume,
			       quote_volume, trades, taker_buy_base_volume, taker_buy_quote_volume
			FROM candles
			WHERE symbol = $1 AND open_time >= to_timestamp($2 / 1000.0)
			ORDER BY open_time ASC
			LIMIT $3
		`, symbol, *startMs, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT symbol, open_time, close_time, open, high, low, close, volume,
			       quote_volume, trades, taker_buy_base_volume, taker_buy_quote_volume
			FROM candles
			WHERE symbol = $1
			ORDER BY open_time ASC
			LIMIT $2
		`, symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get candles: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func (s *Store) getBucketedCandles(ctx context.Context, symbol string, timeframeMinutes int, startMs *int64, limit int) ([]candle.Candle, error) {
	periodMs := int64(timeframeMinutes) * 60_000
	query := `
		SELECT
			$1::text AS symbol,
			to_timestamp((floor(extract(epoch from open_time) * 1000 / $2) * $2) / 1000.0) AS bucket_open,
			to_timestamp(((floor(extract(epoch from open_time) * 1000 / $2) + 1) * $2 - 1) / 1000.0) AS bucket_close,
			(array_agg(open ORDER BY open_time ASC))[1] AS open,
			max(high) AS high,
			min(low) AS low,
			(array_agg(close ORDER BY open_time DESC))[1] AS close,
			sum(volume) AS volume,
			sum(quote_volume) AS quote_volume,
			sum(trades) AS trades,
			sum(taker_buy_base_volume) AS taker_buy_base_volume,
			sum(taker_buy_quote_volume) AS taker_buy_quote_volume
		FROM candles
		WHERE symbol = $1 AND ($3::bigint IS NULL OR open_time >= to_timestamp($3 / 1000.0))
		GROUP BY bucket_open
		ORDER BY bucket_open ASC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, symbol, periodMs, startMs, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get bucketed candles: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetLatestCandles returns up to limit candles for symbol/timeframeMinutes
// ordered newest-first, for callers (the /price endpoint) that need the
// most recent buckets rather than a chronological range. The newest bucket
// is built from whatever 1-minute rows are stored, so its period may not
// have closed yet.
func (s *Store) GetLatestCandles(ctx context.Context, symbol string, timeframeMinutes int, limit int) ([]candle.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if timeframeMinutes <= 1 {
		rows, err := s.pool.Query(ctx, `
			SELECT symbol, open_time, close_time, open, high, low, close, volume,
			       quote_volume, trades, taker_buy_base_volume, taker_buy_quote_volume
			FROM candles
			WHERE symbol = $1
			ORDER BY open_time DESC
			LIMIT $2
		`, symbol, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: get latest candles: %v", ErrStoreUnavailable, err)
		}
		defer rows.Close()
		return scanCandles(rows)
	}

	periodMs := int64(timeframeMinutes) * 60_000
	rows, err := s.pool.Query(ctx, `
		SELECT
			$1::text AS symbol,
			to_timestamp((floor(extract(epoch from open_time) * 1000 / $2) * $2) / 1000.0) AS bucket_open,
			to_timestamp(((floor(extract(epoch from open_time) * 1000 / $2) + 1) * $2 - 1) / 1000.0) AS bucket_close,
			(array_agg(open ORDER BY open_time ASC))[1] AS open,
			max(high) AS high,
			min(low) AS low,
			(array_agg(close ORDER BY open_time DESC))[1] AS close,
			sum(volume) AS volume,
			sum(quote_volume) AS quote_volume,
			sum(trades) AS trades,
			sum(taker_buy_base_volume) AS taker_buy_base_volume,
			sum(taker_buy_quote_volume) AS taker_buy_quote_volume
		FROM candles
		WHERE symbol = $1
		GROUP BY bucket_open
		ORDER BY bucket_open DESC
		LIMIT $3
	`, symbol, periodMs, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get latest bucketed candles: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows pgx.Rows) ([]candle.Candle, error) {
	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(
			&c.Symbol, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.QuoteVolume, &c.Trades, &c.TakerBuyBaseVolume, &c.TakerBuyQuoteVolume,
		); err != nil {
			return nil, fmt.Errorf("%w: scan candle: %v", ErrStoreUnavailable, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
