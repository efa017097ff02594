package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-gateway/internal/api"
	"chat-gateway/internal/config"
	"chat-gateway/internal/coordinator"
	"chat-gateway/internal/invoker"
	"chat-gateway/internal/kv"
	"chat-gateway/internal/ratelimit"
	"chat-gateway/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "chat-gateway").Logger()
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	store := kv.NewRedisStore(cfg)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}

	inv, err := invoker.NewHTTP(invoker.Options{
		URL:     cfg.WorkerURL,
		Token:   cfg.WorkerToken,
		Timeout: cfg.WorkerTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure worker invoker")
	}

	coord := coordinator.New(coordinator.Options{
		Store:          store,
		Invoker:        inv,
		JobTTL:         cfg.JobTTL,
		LockTTL:        cfg.LockTTL,
		AnswerDeadline: cfg.AnswerDeadline,
		Logger:         logger,
	})

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.New(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(coord, inv, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().
		Str("port", cfg.HTTPPort).
		Dur("job_ttl", cfg.JobTTL).
		Dur("answer_deadline", cfg.AnswerDeadline).
		Msg("gateway listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
