package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"schemawatch/internal/config"
	"schemawatch/internal/contracts"
	"schemawatch/internal/metrics"
	"schemawatch/internal/multicall"
	"schemawatch/internal/server"
	"schemawatch/internal/service"
	"schemawatch/internal/upstream"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", *configPath).
		Str("rpcUrl", cfg.RPCURL).
		Bool("heads", cfg.WSURL != "").
		Int("contracts", len(cfg.Contracts)).
		Int("schemaFiles", len(cfg.SchemaFiles)).
		Msg("starting schemawatch")

	m := metrics.New()

	book, err := contracts.New(cfg.Contracts, cfg.StableContract)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build contract address book")
	}
	if !book.HasStable() {
		logger.Warn().Msgf("no stable contract configured, %s will not resolve", contracts.Stable)
	}

	node := upstream.New(upstream.Config{
		RPCURL:         cfg.RPCURL,
		RequestTimeout: cfg.GetRequestTimeoutDuration(),
		CircuitBreaker: circuitBreakerConfig(cfg),
		Retry: upstream.RetryConfig{
			Enabled:     cfg.RetryEnabled,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
		Logger: logger,
	})
	defer node.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if block, err := node.BlockNumber(ctx); err != nil {
		logger.Warn().Err(err).Msg("node not reachable yet")
	} else {
		node.Status().UpdateBlock(block)
		logger.Info().Uint64("block", block).Msg("node reachable")
	}

	watcher, err := multicall.NewWatcher(multicall.Config{
		Address:         common.HexToAddress(cfg.Multicall.Address),
		MaxCalls:        cfg.Multicall.MaxCalls,
		AllowFailure:    cfg.Multicall.IsAllowFailure(),
		BlockNumber:     cfg.Multicall.GetBlockNumber(),
		PollInterval:    cfg.GetPollIntervalDuration(),
		ChangeCacheSize: cfg.ChangeCacheSize,
	}, node, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create multicall watcher")
	}

	svc := service.New(book, service.Options{
		ReplayLimit:   cfg.ReplayLimit,
		ScriptTimeout: cfg.GetScriptTimeoutDuration(),
		Metrics:       m,
		Logger:        logger,
	})
	if err := svc.Connect(watcher); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect watcher")
	}

	// Register schemas before polling starts
	defs, err := config.LoadDefinitions(cfg.SchemaFiles...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load schema definitions")
	}
	if err := svc.LoadDefinitions(defs); err != nil {
		logger.Fatal().Err(err).Msg("failed to register schema definitions")
	}
	for _, path := range svc.Pending() {
		logger.Warn().Str("path", path).Msg("derived value has unresolved dependencies")
	}

	watcher.Start(ctx)

	var heads *upstream.HeadsClient
	if cfg.WSURL != "" {
		heads = upstream.NewHeadsClient(upstream.HeadsConfig{
			WSURL:             cfg.WSURL,
			ReconnectInterval: cfg.GetReconnectIntervalDuration(),
			OnBlock:           watcher.Trigger,
			Status:            node.Status(),
			Logger:            logger,
		})
		if err := heads.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to subscribe to new heads, polling on interval only")
		}
	}

	var srv *server.Server
	if cfg.HTTP.Enabled {
		srv = server.New(cfg.HTTP, svc, m, logger)
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error during shutdown")
		}
	}
	if heads != nil {
		heads.Stop()
	}
	watcher.Stop()
	svc.Disconnect()
}

func circuitBreakerConfig(cfg *config.Config) upstream.CircuitBreakerConfig {
	if !cfg.IsCircuitBreakerEnabled() {
		return upstream.CircuitBreakerConfig{}
	}
	return upstream.CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:     cfg.CircuitBreaker.GetRecoveryTimeoutDuration(),
		HalfOpenMaxRequests: cfg.CircuitBreaker.HalfOpenMaxRequests,
	}
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// Configure output
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
