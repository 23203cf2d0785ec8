// Package api exposes the HTTP query layer: health, symbol discovery,
// historical candles, order-book snapshots and the live price summary.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"marketfeed/config"
	"marketfeed/internal/candle"
	"marketfeed/internal/middleware"
	"marketfeed/internal/orderbook"
	"marketfeed/internal/store"
)

// hub is the subset of *wshub.Hub the query layer needs. Declared as an
// interface here so this package never imports wshub directly, matching
// the teacher's controller-depends-on-service-interface layering.
type hub interface {
	CurrentPartial(symbol string, timeframeMinutes int) (candle.Candle, bool)
}

// dataStore is the subset of *store.Store the query layer needs, declared
// as an interface so handlers can be exercised against a fake in tests.
type dataStore interface {
	Health(ctx context.Context) error
	GetSymbols(ctx context.Context) ([]string, error)
	GetCandles(ctx context.Context, symbol string, timeframeMinutes int, startMs *int64, limit int) ([]candle.Candle, error)
	GetLatestCandles(ctx context.Context, symbol string, timeframeMinutes int, limit int) ([]candle.Candle, error)
	GetLatestOrderBook(ctx context.Context, symbol string, levels int) (*orderbook.Snapshot, bool, error)
}

// Server holds the dependencies shared by every handler.
type Server struct {
	store      dataStore
	hub        hub
	timeframes map[int]bool
}

// NewServer builds the query layer's handler set.
func NewServer(st *store.Store, h hub, timeframeMinutes []int) *Server {
	tfSet := make(map[int]bool, len(timeframeMinutes))
	for _, tf := range timeframeMinutes {
		tfSet[tf] = true
	}
	return &Server{store: st, hub: h, timeframes: tfSet}
}

// Mount registers every route under /api/v1, reusing the teacher's CORS
// and rate-limit middleware.
func (s *Server) Mount(e *echo.Echo, cfg *config.Config) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(middleware.CORS(cfg))
	e.Use(middleware.RateLimit(cfg))

	v1 := e.Group("/api/v1")
	v1.GET("/health", s.Health)
	v1.GET("/symbols", s.Symbols)
	v1.GET("/candles", s.Candles)
	v1.GET("/orderbook", s.OrderBook)
	v1.GET("/price", s.Price)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Database  string `json:"database"`
}

// Health never returns a non-2xx status: a failing store marks the
// response "degraded" instead of surfacing a 503, since a data consumer
// should still be able to tell live WebSocket traffic from a database
// outage without its health probe itself failing.
func (s *Server) Health(c echo.Context) error {
	resp := healthResponse{Status: "ok", Database: "ok", Timestamp: time.Now().UnixMilli()}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := s.store.Health(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
	}
	return c.JSON(http.StatusOK, resp)
}

type symbolsResponse struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) Symbols(c echo.Context) error {
	symbols, err := s.store.GetSymbols(c.Request().Context())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, symbolsResponse{Symbols: symbols})
}

func (s *Server) Candles(c echo.Context) error {
	symbol, timeframe, limit, startMs, err := parseCandleParams(c, s.timeframes)
	if err != nil {
		return badRequest(c, err)
	}

	candles, err := s.store.GetCandles(c.Request().Context(), symbol, timeframe, startMs, limit)
	if err != nil {
		return serviceError(c, err)
	}
	if candles == nil {
		candles = []candle.Candle{}
	}
	return c.JSON(http.StatusOK, candles)
}

func (s *Server) OrderBook(c echo.Context) error {
	symbol, levels, err := parseOrderbookParams(c)
	if err != nil {
		return badRequest(c, err)
	}

	snapshot, found, err := s.store.GetLatestOrderBook(c.Request().Context(), symbol, levels)
	if err != nil {
		return serviceError(c, err)
	}
	if !found {
		return notFound(c, "orderbook", symbol)
	}
	return c.JSON(http.StatusOK, *snapshot)
}

func serviceError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "Service error",
		Message: err.Error(),
		Code:    "SERVICE_ERROR",
	})
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Message: err.Error(),
		Code:    "BAD_REQUEST",
	})
}

func notFound(c echo.Context, resource, symbol string) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "Not found",
		Message: resource + " has no data for " + symbol,
		Code:    "NOT_FOUND",
		Details: map[string]string{"symbol": symbol},
	})
}
