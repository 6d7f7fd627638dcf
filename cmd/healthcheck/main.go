package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/health"
	"github.com/smukkama/abay-monitor/internal/logging"
	"github.com/smukkama/abay-monitor/internal/notification"
	"github.com/smukkama/abay-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "abay-healthcheck")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Operators are mailed directly so a broken queue cannot hide a stall.
	checker := health.NewChecker(
		health.NewHeartbeats(redisClient),
		notification.NewEmailNotifier(&cfg.SMTP, logger),
		health.WatchedJobs,
		cfg.Schedule.HeartbeatStale,
		cfg.Notify.Operators,
		cfg.Notify.SubjectPrefix,
		logger,
	)

	logger.Info("Health check running",
		zap.Duration("interval", cfg.Schedule.HealthInterval),
		zap.Duration("stale_after", cfg.Schedule.HeartbeatStale),
	)

	ticker := time.NewTicker(cfg.Schedule.HealthInterval)
	defer ticker.Stop()
	for {
		if err := checker.Check(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Health check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped")
			return
		case <-ticker.C:
		}
	}
}
