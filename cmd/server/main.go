package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"marketfeed/config"
	"marketfeed/internal/api"
	"marketfeed/internal/broker"
	"marketfeed/internal/ingest"
	"marketfeed/internal/store"
	"marketfeed/internal/upstream"
	"marketfeed/internal/wshub"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	b := broker.New(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	defer b.Close()

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL:         cfg.UpstreamBaseURL,
		RateRPS:         cfg.UpstreamRateRPS,
		RateBurst:       cfg.UpstreamBurst,
		RetryDelay:      cfg.RetryDelay,
		KlineMaxRetries: cfg.RetryMaxRetries,
		DepthMaxRetries: cfg.RetryDepthRetries,
	})

	var wg sync.WaitGroup

	for _, symbol := range cfg.Symbols {
		cc := ingest.NewCandleCollector(ingest.CandleCollectorConfig{
			Symbol:           symbol,
			StartMs:          cfg.StartDate.UnixMilli(),
			BatchSize:        cfg.BatchSize,
			RealtimeInterval: cfg.RealtimeInterval,
			RetryDelay:       cfg.RetryDelay,
		}, upstreamClient, st, b)
		wg.Add(1)
		go cc.Run(ctx, &wg)
	}

	for _, symbol := range cfg.OrderbookSymbols {
		oc := ingest.NewOrderbookCollector(ingest.OrderbookCollectorConfig{
			Symbol:         symbol,
			Levels:         cfg.OrderbookLevels,
			UpdateInterval: cfg.OrderbookUpdateInterval,
		}, upstreamClient, st, b)
		wg.Add(1)
		go oc.Run(ctx, &wg)
	}

	hub := wshub.New(b, cfg.Timeframes)
	go hub.Run(ctx)

	e := echo.New()
	apiServer := api.NewServer(st, hub, cfg.Timeframes)
	apiServer.Mount(e, cfg)
	e.GET("/ws", func(c echo.Context) error {
		hub.HandleUpgrade(c.Response().Writer, c.Request())
		return nil
	})

	go func() {
		addr := cfg.BindHost + ":" + cfg.BindPort
		log.Printf("Server starting on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Println("Server exited")
}
