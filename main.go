package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade/internal/api"
	"papertrade/internal/feed"
	"papertrade/internal/monitor"
	"papertrade/internal/push"
	"papertrade/internal/session"
	"papertrade/internal/strategy"
	"papertrade/internal/symbols"
	"papertrade/pkg/config"
	"papertrade/pkg/db"
	"papertrade/pkg/market/coindcx"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}
	log.Printf("🚀 Paper-trading core starting on port %s", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ DB init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ DB migrations failed: %v", err)
	}
	queries := database.Queries()

	// Market data (mock first, real later)
	var stream feed.Streamer
	var resolver session.Resolver
	if cfg.UseMockFeed {
		stream = &feed.MockStreamer{
			StartPrice: 100,
			Step:       0.8,
			Interval:   time.Second,
		}
		resolver = identityResolver{}
		log.Println("📡 Mock feed enabled")
	} else {
		stream = coindcx.NewStreamClient(cfg.CoinDCXWSURL)
		resolver = symbols.NewResolver(coindcx.NewClient(cfg.CoinDCXBaseURL))
	}

	open, err := session.ParseClock(cfg.MarketOpen)
	if err != nil {
		log.Fatalf("❌ Bad MARKET_OPEN: %v", err)
	}
	closeAt, err := session.ParseClock(cfg.MarketClose)
	if err != nil {
		log.Fatalf("❌ Bad MARKET_CLOSE: %v", err)
	}

	metrics := monitor.NewSystemMetrics()
	hub := push.NewHub()

	registry := session.NewRegistry(session.Config{
		Store:         queries,
		Resolver:      resolver,
		Stream:        stream,
		Hub:           hub,
		Metrics:       metrics,
		FeeRate:       cfg.FeeRate,
		BuyFraction:   cfg.BuyFraction,
		EvalMode:      cfg.EvalMode,
		IdleTTL:       cfg.IdleTTL,
		SweepInterval: cfg.SweepInterval,
		Hours: session.FixedOffsetHours{
			Open:      open,
			Close:     closeAt,
			UTCOffset: cfg.MarketUTCOffset,
		},
	})
	go registry.RunSweeper(ctx)

	presets, err := strategy.LoadPresets(cfg.StrategyPresetPath)
	if err != nil {
		log.Printf("⚠️ Strategy presets unavailable (%v); raw parameters only", err)
		presets = map[string]strategy.Preset{}
	} else {
		log.Printf("✅ Loaded %d strategy presets", len(presets))
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	server := api.NewServer(
		queries,
		registry,
		presets,
		api.SystemMeta{
			Venue:       "coindcx",
			Version:     buildVersion,
			EvalMode:    cfg.EvalMode,
			UseMockFeed: cfg.UseMockFeed,
		},
		cfg.JWTSecret,
		cfg.InitialBalance,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("🛑 Shutting down")
	registry.StopAll()
}

// identityResolver serves the mock feed, where any symbol is its own pair.
type identityResolver struct{}

func (identityResolver) Pair(ctx context.Context, symbol string) (string, error) {
	return symbol, nil
}
