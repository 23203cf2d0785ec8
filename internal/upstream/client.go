// Package upstream fetches raw kline and depth data from the exchange's
// REST API, applying outbound rate limiting and retry-with-backoff so
// callers never see a transient failure surface as a fatal one.
package upstream

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Client is a rate-limited REST client for the exchange's public market
// data endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	klineMaxRetries int
	depthMaxRetries int
	retryDelay      time.Duration
}

// Config controls Client construction.
type Config struct {
	BaseURL         string
	RateRPS         float64
	RateBurst       int
	RetryDelay      time.Duration
	KlineMaxRetries int
	DepthMaxRetries int
}

// NewClient builds a Client with a transport tuned the way the rest of
// this pack tunes its exchange clients: bounded idle connections, a short
// response-header timeout so a stalled upstream doesn't pin a goroutine.
func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	klineRetries := cfg.KlineMaxRetries
	if klineRetries <= 0 {
		klineRetries = 5
	}
	depthRetries := cfg.DepthMaxRetries
	if depthRetries <= 0 {
		depthRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		limiter:         rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst),
		klineMaxRetries: klineRetries,
		depthMaxRetries: depthRetries,
		retryDelay:      retryDelay,
	}
}

// RawKline is one unparsed candle row as the exchange returns it: twelve
// fields, numerics still as strings so internal/decimal normalizes them.
type RawKline struct {
	OpenTime                 int64
	Open                     string
	High                     string
	Low                      string
	Close                    string
	Volume                   string
	CloseTime                int64
	QuoteAssetVolume         string
	Trades                   int64
	TakerBuyBaseAssetVolume  string
	TakerBuyQuoteAssetVolume string
}

// UnmarshalJSON decodes the exchange's 12-element heterogeneous array
// shape into a RawKline.
func (k *RawKline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("upstream: kline: %w", err)
	}
	if len(raw) < 11 {
		return fmt.Errorf("upstream: kline: expected at least 11 fields, got %d", len(raw))
	}

	var str string
	var num json.Number

	decodeInt := func(field json.RawMessage) (int64, error) {
		if err := json.Unmarshal(field, &num); err != nil {
			return 0, err
		}
		return num.Int64()
	}
	decodeStr := func(field json.RawMessage) (string, error) {
		if err := json.Unmarshal(field, &str); err != nil {
			return "", err
		}
		return str, nil
	}

	var err error
	if k.OpenTime, err = decodeInt(raw[0]); err != nil {
		return fmt.Errorf("upstream: kline: open_time: %w", err)
	}
	if k.Open, err = decodeStr(raw[1]); err != nil {
		return fmt.Errorf("upstream: kline: open: %w", err)
	}
	if k.High, err = decodeStr(raw[2]); err != nil {
		return fmt.Errorf("upstream: kline: high: %w", err)
	}
	if k.Low, err = decodeStr(raw[3]); err != nil {
		return fmt.Errorf("upstream: kline: low: %w", err)
	}
	if k.Close, err = decodeStr(raw[4]); err != nil {
		return fmt.Errorf("upstream: kline: close: %w", err)
	}
	if k.Volume, err = decodeStr(raw[5]); err != nil {
		return fmt.Errorf("upstream: kline: volume: %w", err)
	}
	if k.CloseTime, err = decodeInt(raw[6]); err != nil {
		return fmt.Errorf("upstream: kline: close_time: %w", err)
	}
	if k.QuoteAssetVolume, err = decodeStr(raw[7]); err != nil {
		return fmt.Errorf("upstream: kline: quote_asset_volume: %w", err)
	}
	if k.Trades, err = decodeInt(raw[8]); err != nil {
		return fmt.Errorf("upstream: kline: trades: %w", err)
	}
	if k.TakerBuyBaseAssetVolume, err = decodeStr(raw[9]); err != nil {
		return fmt.Errorf("upstream: kline: taker_buy_base_asset_volume: %w", err)
	}
	if k.TakerBuyQuoteAssetVolume, err = decodeStr(raw[10]); err != nil {
		return fmt.Errorf("upstream: kline: taker_buy_quote_asset_volume: %w", err)
	}
	return nil
}

// DepthLevel is one raw (price, quantity) pair from the depth endpoint.
type DepthLevel [2]string

// DepthSnapshot is the unparsed depth response for one symbol.
type DepthSnapshot struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []DepthLevel `json:"bids"`
	Asks         []DepthLevel `json:"asks"`
}

// FetchKlines fetches at most 1000 one-minute candles in [startMs, endMs).
func (c *Client) FetchKlines(ctx context.Context, symbol string, startMs, endMs int64) ([]RawKline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1m")
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))
	params.Set("limit", "1000")

	var klines []RawKline
	err := c.withRetry(ctx, c.klineMaxRetries, func(ctx context.Context) error {
		body, err := c.get(ctx, "/api/v3/klines", params)
		if err != nil {
			return err
		}
		klines = nil
		return json.Unmarshal(body, &klines)
	})
	if err != nil {
		return nil, err
	}
	return klines, nil
}

// FetchDepth fetches an order-book snapshot with up to levels entries per
// side. levels is sent to the exchange unchanged; it is not checked against
// or rounded to one of the exchange's allowed values.
func (c *Client) FetchDepth(ctx context.Context, symbol string, levels int) (*DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(levels))

	var snapshot DepthSnapshot
	err := c.withRetry(ctx, c.depthMaxRetries, func(ctx context.Context) error {
		body, err := c.get(ctx, "/api/v3/depth", params)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// get performs one rate-limited GET and returns the decompressed body, or
// a *httpError / network error for withRetry to classify.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}

// withRetry runs fn, retrying on retryable failures with exponential
// backoff (retryDelay * 2^attempt) up to maxRetries times. A fatal
// *httpError (non-retryable 4xx) returns immediately wrapped in
// ErrUpstreamRejected. Exhausting retries returns ErrUpstreamUnavailable.
func (c *Client) withRetry(ctx context.Context, maxRetries int, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var httpErr *httpError
		if errors.As(err, &httpErr) && !retryable(httpErr.status) {
			return fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
		}

		if attempt == maxRetries {
			break
		}

		delay := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}
