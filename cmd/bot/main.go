// Package main runs the Polymarket copy-trading bot: watch a set of leader
// wallets, elect one authoritative wallet per market, and mirror its trades
// with sizing and price protection.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/api"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/buffer"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/config"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/engine"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/events"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/execution"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/feed"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/leader"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/metrics"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/positions"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/router"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/signals"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/sizing"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet; fail loudly.
		panic(err)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting copy-trading bot",
		zap.Int("watchedWallets", len(cfg.Feed.Wallets)),
		zap.Bool("paperTrading", cfg.PaperTrading),
		zap.Bool("memoryStore", cfg.UseMemoryStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Leader state and the processed-signal ledger share one store.
	var leaderStore leader.Store
	var marker router.ProcessedMarker
	if cfg.UseMemoryStore {
		leaderStore = leader.NewMemoryStore()
		marker = router.NewMemoryMarker()
	} else {
		db, err := storage.Open(logger, cfg.Storage)
		if err != nil {
			logger.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		leaderStore = storage.NewLeaderStore(db)
		marker = storage.NewProcessedLedger(db)
	}

	positionClient := positions.NewClient(logger, cfg.Positions)
	coordinator := leader.NewCoordinator(logger, leaderStore, positionClient, leader.DefaultCoordinatorConfig())

	routerCfg := router.DefaultConfig()
	routerCfg.ElectionWindow = cfg.ElectionWindow
	rtr := router.NewRouter(logger, coordinator, marker, routerCfg)

	var gateway execution.Gateway
	if cfg.PaperTrading {
		gateway = execution.NewPaperGateway(logger, cfg.PaperStartingBalanceUSD)
	} else {
		gateway = execution.NewCLOBGateway(logger, cfg.CLOB)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	engineCfg := engine.DefaultConfig()
	engineCfg.PollInterval = cfg.PollInterval
	engineCfg.StaleLeaderMaxAge = cfg.StaleLeaderMaxAge
	engineCfg.AggregationEnabled = cfg.AggregationEnabled
	engineCfg.WatchedWallets = cfg.Feed.Wallets

	eng := engine.New(logger, engineCfg, engine.Deps{
		Source:      feed.NewActivityPoller(logger, cfg.Feed),
		Aggregator:  signals.NewAggregator(logger),
		Router:      rtr,
		Coordinator: coordinator,
		Buffer:      buffer.New(logger, coordinator, cfg.Buffer),
		Sizer:       sizing.NewEngine(logger, cfg.Sizing),
		Slippage:    cfg.Slippage,
		Gateway:     gateway,
		Metrics:     m,
	})

	apiCfg := api.DefaultConfig()
	apiCfg.ListenAddr = cfg.APIListenAddr
	server := api.NewServer(logger, apiCfg, eng, registry)

	bus := events.NewDecisionBus(logger)
	defer bus.Close()
	bus.Subscribe(server.BroadcastDecision)
	eng.SetDecisionSink(bus.Publish)

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("Status server shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
