package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelconv/internal/api"
	"github.com/dunamismax/pixelconv/internal/config"
	"github.com/dunamismax/pixelconv/internal/queue"
	"github.com/dunamismax/pixelconv/internal/ratelimit"
	"github.com/dunamismax/pixelconv/internal/storage"
	"github.com/dunamismax/pixelconv/internal/store"
	"github.com/dunamismax/pixelconv/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelconv-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("create storage client: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("ensure bucket %s failed, presigned uploads may fail: %v", storageClient.Bucket(), err)
	}

	opts := api.Options{
		PresignTTL:   cfg.API.PresignTTL,
		UserIDHeader: cfg.API.UserIDHeader,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("create rate limiter: %v", err)
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, queueClient, jobStore, storageClient, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s store=%s rate_limit=%t", cfg.API.Addr, cfg.Database.Driver, cfg.RateLimit.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
