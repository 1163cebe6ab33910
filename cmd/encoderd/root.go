package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/encoderhq/encoderd/internal/api"
	"github.com/encoderhq/encoderd/internal/backend"
	"github.com/encoderhq/encoderd/internal/config"
	"github.com/encoderhq/encoderd/internal/pipeline"
	"github.com/encoderhq/encoderd/internal/preprocess"
	"github.com/encoderhq/encoderd/internal/rerank"
	"github.com/encoderhq/encoderd/internal/store"
	"github.com/encoderhq/encoderd/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "encoderd",
	Short: "encoderd - batched embedding and rerank service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(slog.New(newLogHandler(cfg.Log)))
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize backend
	be, err := newBackend(cfg)
	if err != nil {
		return err
	}
	slog.Info("backend initialized", "backend", be.Name(), "model", be.Model())

	// 5. Initialize preprocessing pool
	pool := preprocess.NewPool(cfg.Pipeline.PoolSize)
	defer pool.Close()
	slog.Info("preprocessing pool started", "workers", cfg.Pipeline.PoolSize)

	// 6. Initialize embedding cache (optional)
	var cache *store.SQLiteCache
	opts := []pipeline.Option{pipeline.WithBatchRetries(cfg.Pipeline.BatchRetries)}
	if cfg.Cache.Enabled {
		cache, err = store.NewSQLiteCache(cfg.Cache.Path)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithCache(cache))
		slog.Info("cache initialized", "path", cfg.Cache.Path)
	}

	// 7. Initialize batch pipeline and reranker
	engine, err := pipeline.NewEngine(pool, be, cfg.Pipeline.BatchSize, opts...)
	if err != nil {
		return err
	}
	ranker := rerank.New(engine, be.Metric(), 0)
	slog.Info("pipeline initialized",
		"batch_size", cfg.Pipeline.BatchSize,
		"batch_retries", cfg.Pipeline.BatchRetries)

	// 8. Initialize HTTP router
	handler := api.NewHandler(engine, ranker, cfg.Auth.APIKey, api.ServerInfo{
		Version:      Version,
		Backend:      be.Name(),
		Model:        be.Model(),
		Metric:       string(be.Metric()),
		BatchSize:    cfg.Pipeline.BatchSize,
		PoolSize:     cfg.Pipeline.PoolSize,
		CacheEnabled: cfg.Cache.Enabled,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 9. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Worker lifecycle infrastructure
	var wg sync.WaitGroup
	if cfg.Cache.Enabled {
		eviction := worker.NewEvictionCoordinator(cache,
			time.Duration(cfg.Cache.EvictionInterval),
			time.Duration(cfg.Cache.TTL))
		startWorker(ctx, &wg, "cache-eviction", eviction.Run)
	}

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers to complete
	wg.Wait()

	// 13c. Close cache
	if cache != nil {
		if err := cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// newBackend constructs the configured inference backend. The kind is fixed
// at process start; requests never switch backends.
func newBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case "local":
		return backend.NewLocal(cfg.Backend.Dimensions)
	case "openai":
		return backend.NewOpenAI(cfg.Backend.APIKey, cfg.Backend.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
