// Package main is the entry point for the ragmux query server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/ragmux/internal/api"
	"github.com/blueberrycongee/ragmux/internal/cache"
	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/embedding"
	"github.com/blueberrycongee/ragmux/internal/kv"
	"github.com/blueberrycongee/ragmux/internal/llm"
	"github.com/blueberrycongee/ragmux/internal/observability"
	"github.com/blueberrycongee/ragmux/internal/pipeline"
	"github.com/blueberrycongee/ragmux/internal/prompt"
	"github.com/blueberrycongee/ragmux/internal/ratelimit"
	"github.com/blueberrycongee/ragmux/internal/retrieval"
	"github.com/blueberrycongee/ragmux/internal/session"
	"github.com/blueberrycongee/ragmux/internal/telemetry"
	"github.com/blueberrycongee/ragmux/internal/types"
	"github.com/blueberrycongee/ragmux/internal/vector"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootLogger := observability.NewLogger(config.LoggingConfig{Level: "info", Format: "json"}, os.Stdout)

	manager, err := config.NewManager(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer manager.Close()

	cfg := manager.Get()
	logger := observability.NewLogger(cfg.Logging, os.Stdout)
	logger.Info("starting ragmux", "version", version, "rags", config.RAGIDs(manager.RAGs()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracing, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// Redis is optional. Without it the cache reports misses, sessions are
	// stateless, and admission falls back to in-process token buckets.
	var redisClient goredis.UniversalClient
	var admitter ratelimit.Admitter
	if client, err := kv.Connect(ctx, cfg.Redis); err != nil {
		logger.Warn("redis unavailable, running degraded", "error", err)
		admitter = ratelimit.NewMemoryAdmitter()
	} else {
		redisClient = client
		admitter = ratelimit.NewRedisAdmitter(client, logger)
		defer redisClient.Close()
	}

	store, err := vector.NewQdrant(cfg.Qdrant.URL)
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	defer store.Close()

	embedder, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}

	// A declared dimension that disagrees with the provider is fatal:
	// every stored vector would be unsearchable.
	for id, ragCfg := range manager.RAGs() {
		if err := embedding.VerifyDimension(ctx, embedder, ragCfg.Embedding.Model, ragCfg.Embedding.Dimension); err != nil {
			return fmt.Errorf("rag %s: %w", id, err)
		}
		if err := store.EnsureCollection(ctx, types.CollectionName(id), ragCfg.Embedding.Dimension); err != nil {
			return fmt.Errorf("rag %s: ensure collection: %w", id, err)
		}
	}

	assembler := prompt.NewAssembler()
	manager.OnChange(func(rags map[string]*config.RAGConfig) {
		assembler.Flush()
		logger.Info("tenant configuration reloaded", "rags", config.RAGIDs(rags))
	})
	if err := manager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	metrics := telemetry.New()
	respCache := cache.New(redisClient, logger)

	pipe := pipeline.New(pipeline.Options{
		Manager:   manager,
		Admitter:  admitter,
		Cache:     respCache,
		Sessions:  session.New(redisClient, logger),
		Retriever: retrieval.New(embedder, store),
		Assembler: assembler,
		Invoker:   llm.NewInvoker(llm.NewOpenRouter(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Referer), cfg.LLM, logger),
		Metrics:   metrics,
		Tracer:    tracing.Tracer(),
		Logger:    logger,
	})

	handler := api.NewHandler(manager, pipe, respCache, metrics, logger)
	mux := buildMux(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      buildMiddlewareStack(logger)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
