package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/logging"
	"github.com/smukkama/abay-monitor/internal/notification"
	"github.com/smukkama/abay-monitor/internal/queue"
	"github.com/smukkama/abay-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "abay-notification")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		// Exit without committing so the undelivered message is read again
		// after the restart.
		logger.Error("Notification service stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Notification service stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)
	if err := notifier.Check(); err != nil {
		logger.Warn("SMTP unavailable, notifications will be logged only", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms, "abay-notification")
	defer func() {
		stats := consumer.Stats()
		logger.Info("Consumer statistics",
			zap.Int64("messages", stats.Messages),
			zap.Int64("errors", stats.Errors),
			zap.Int64("lag", stats.Lag),
		)
		consumer.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relay := notification.NewRelay(consumer, notifier, notification.RetryPolicy{
		Attempts:   cfg.Notify.RetryAttempts,
		Backoff:    cfg.Notify.RetryBackoff,
		MaxBackoff: cfg.Notify.RetryMaxBackoff,
	}, logger)

	logger.Info("Notification service running",
		zap.String("topic", cfg.Kafka.TopicAlarms),
		zap.Int("retry_attempts", cfg.Notify.RetryAttempts),
	)
	return relay.Run(ctx)
}
