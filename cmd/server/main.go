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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conversational-translator/internal/ai"
	"github.com/conversational-translator/internal/cache"
	"github.com/conversational-translator/internal/config"
	"github.com/conversational-translator/internal/latency"
	"github.com/conversational-translator/internal/parser"
	"github.com/conversational-translator/internal/records"
	"github.com/conversational-translator/internal/server"
	"github.com/conversational-translator/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	exporter, err := session.NewExporter(cfg.ExportDirectory, logger)
	if err != nil {
		logger.Fatal("failed to create exporter", zap.Error(err))
	}

	registry := session.NewRegistry(session.Config{
		MaxContextMessages: cfg.Session.MaxContextMessages,
		SlidingWindow:      cfg.Session.SlidingWindow,
		IdleThreshold:      cfg.Session.IdleThreshold,
		SweepInterval:      cfg.Session.SweepInterval,
	}, exporter, logger)

	lifecycle := session.NewLifecycleManager(registry, logger)
	lifecycle.Start()

	tracker, err := latency.NewTracker(cfg.LogsDirectory, logger)
	if err != nil {
		logger.Fatal("failed to create latency tracker", zap.Error(err))
	}

	// Redis backs the record store and the L2 context tier; without it
	// the service still runs on in-process state alone.
	var redisClient *redis.Client
	var recordStore *records.Store
	if cfg.RedisAddress != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without it", zap.Error(err))
			redisClient = nil
		} else {
			recordStore = records.NewStore(redisClient, logger)
		}
		cancel()
	}

	ctxCache, err := cache.New(0, 0, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create context cache", zap.Error(err))
	}
	defer ctxCache.Close()

	srv := server.New(&cfg, server.Deps{
		Registry: registry,
		Provider: ai.NewClient(cfg.AIServiceURL, cfg.AIServiceTimeout, logger),
		Parser:   parser.New(logger),
		CtxCache: ctxCache,
		Records:  recordStore,
		Tracker:  tracker,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	lifecycle.Stop()

	// Every live session gets exported before the process exits;
	// in-memory conversation state must survive restarts on disk.
	flushed := lifecycle.Flush()
	logger.Info("flushed sessions at shutdown", zap.Int("count", flushed))

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
}
