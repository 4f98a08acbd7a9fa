package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/streamrelay/internal/api"
	"github.com/iconidentify/streamrelay/internal/api/handler"
	"github.com/iconidentify/streamrelay/internal/config"
	"github.com/iconidentify/streamrelay/internal/extractor"
	"github.com/iconidentify/streamrelay/internal/service"
	"github.com/iconidentify/streamrelay/internal/stream"
	"github.com/iconidentify/streamrelay/internal/worker"
	"github.com/iconidentify/streamrelay/pkg/token"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("streamrelay %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamrelay",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Token codec
	codec, err := token.NewCodec(cfg.Crypto.Key)
	if err != nil {
		logger.Error("failed to initialize token codec", "error", err)
		os.Exit(1)
	}

	// Extraction client, optionally wrapped with the metadata cache
	var client extractor.Client = extractor.NewYtdlpClient(cfg.Extractor, logger)
	var cache *extractor.CachedClient
	if cfg.Cache.Enabled {
		cache, err = extractor.NewCachedClient(client, cfg.Cache.Path, cfg.Cache.TTL, logger)
		if err != nil {
			logger.Error("failed to open extraction cache", "error", err)
			os.Exit(1)
		}
		client = cache

		// Drop entries left over from a previous run.
		if n, err := cache.Prune(context.Background()); err != nil {
			logger.Warn("cache prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned stale cache entries", "count", n)
		}
	}

	// Worker pool shared by extraction and streaming
	pool := worker.NewPool(worker.Config{
		Capacity:       cfg.Pool.Capacity,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
	}, logger)

	// Services
	fetcher := stream.NewFetcher(cfg.Stream, logger)
	streamSvc := service.NewStreamService(codec, client, pool, fetcher, cfg.Stream, logger)
	linkSvc := service.NewLinkService(codec, client, pool, cfg.Server.BaseURL, cfg.Crypto.DefaultTTL, logger)

	// Handlers
	streamHandler := handler.NewStreamHandler(streamSvc, logger)
	linkHandler := handler.NewLinkHandler(linkSvc, logger)
	healthHandler := handler.NewHealthHandler(pool)

	// Setup router
	router := api.NewRouter(streamHandler, linkHandler, healthHandler, cfg.Server.APIKey)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server",
			"addr", srv.Addr,
			"pool_capacity", cfg.Pool.Capacity,
			"cache_enabled", cfg.Cache.Enabled,
		)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests; in-flight streams get to finish
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Wait for pool workers started by those streams
	if err := pool.Close(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	if cache != nil {
		if err := cache.Close(); err != nil {
			logger.Error("cache close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
