package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/alarming"
	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/forecast"
	"github.com/smukkama/abay-monitor/internal/health"
	"github.com/smukkama/abay-monitor/internal/ingest"
	"github.com/smukkama/abay-monitor/internal/logging"
	"github.com/smukkama/abay-monitor/internal/metrics"
	"github.com/smukkama/abay-monitor/internal/notification"
	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/queue"
	"github.com/smukkama/abay-monitor/internal/recreation"
	"github.com/smukkama/abay-monitor/internal/scheduler"
	"github.com/smukkama/abay-monitor/internal/series"
	"github.com/smukkama/abay-monitor/internal/store"
	"github.com/smukkama/abay-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "abay-monitor")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Monitor stopped", zap.Error(err))
	}
	logger.Info("Monitor stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	loc, err := time.LoadLocation(cfg.Alarm.Location)
	if err != nil {
		return fmt.Errorf("failed to load location: %w", err)
	}

	metrics.Init()
	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	defer metricsServer.Close()

	db, err := database.Connect(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis")

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	rules, err := recreation.DefaultRules()
	if err != nil {
		return err
	}

	piClient := pi.NewClient(&cfg.PI, logger)
	snapshots := store.New(db, store.NewLatestCache(redisClient, cfg.Schedule.HeartbeatStale), cfg.Alarm.SnapshotRetention, logger)
	evaluator := alarming.NewEvaluator(
		db,
		alarming.NewRedisLocker(redisClient, cfg.Alarm.LockTTL),
		recreation.NewSchedule(db, rules, loc, logger),
		alarming.SettingsFromConfig(&cfg.Alarm),
		logger,
	)
	dispatcher := notification.NewDispatcher(db, notifier, cfg.Notify.SubjectPrefix, loc, logger)

	cycle := ingest.NewCycle(
		piClient,
		pi.DefaultCatalog(),
		series.NewOutlierFilter(cfg.Alarm.ZThreshold, logger),
		snapshots,
		evaluator,
		dispatcher,
		ingest.Options{Lookback: cfg.PI.Lookback, Window: cfg.Alarm.Window, Workers: cfg.PI.Workers},
		logger,
	)
	forecastJob := forecast.NewJob(
		forecast.NewCNRFCClient(&cfg.CNRFC, logger),
		piClient,
		snapshots,
		db,
		&cfg.CNRFC,
		&cfg.PI,
		logger,
	)

	heartbeats := health.NewHeartbeats(redisClient)
	jobs := scheduler.New(logger)
	jobs.OnSuccess(func(ctx context.Context, name string) {
		if err := heartbeats.Beat(ctx, name, time.Now()); err != nil {
			logger.Warn("Failed to record heartbeat", zap.String("job", name), zap.Error(err))
		}
	})

	// A failed cycle is reported and stops the process so the supervisor
	// restarts it. A cycle that fetched nothing is left to the heartbeat
	// check instead.
	var fatal error
	jobs.OnFailure(func(ctx context.Context, name string, err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, ingest.ErrNoData) {
			return
		}
		reportFailure(ctx, notifier, cfg.Notify, name, err, logger)
		fatal = fmt.Errorf("%s failed: %w", name, err)
		cancel()
	})

	if err := jobs.Add(scheduler.Job{Name: health.JobIngest, Interval: cfg.Schedule.IngestInterval, Task: cycle.Run}); err != nil {
		return err
	}
	if err := jobs.Add(scheduler.Job{Name: health.JobForecast, Interval: cfg.Schedule.ForecastInterval, Task: forecastJob.Run}); err != nil {
		return err
	}

	logger.Info("Monitor running",
		zap.Duration("ingest_interval", cfg.Schedule.IngestInterval),
		zap.Duration("forecast_interval", cfg.Schedule.ForecastInterval),
		zap.String("notify_transport", cfg.Notify.Transport),
		zap.String("metrics_addr", cfg.Metrics.Addr),
	)

	err = jobs.Run(ctx)
	if fatal != nil {
		return fatal
	}
	return err
}

// newNotifier builds the configured transport and its cleanup.
func newNotifier(cfg *config.Config, logger *zap.Logger) (notification.Notifier, func(), error) {
	if cfg.Notify.Transport == "kafka" {
		if err := queue.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms, cfg.Kafka.NumPartitions, 1, logger); err != nil {
			return nil, nil, err
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms)
		logger.Info("Alarm messages are queued", zap.String("topic", cfg.Kafka.TopicAlarms))
		return notification.NewKafkaNotifier(producer), func() { producer.Close() }, nil
	}

	email := notification.NewEmailNotifier(&cfg.SMTP, logger)
	if err := email.Check(); err != nil {
		logger.Warn("SMTP unavailable, notifications will be logged only", zap.Error(err))
	}
	return email, func() {}, nil
}

func reportFailure(ctx context.Context, notifier notification.Notifier, cfg config.NotifyConfig, job string, jobErr error, logger *zap.Logger) {
	logger.Error("Scheduled job failed", zap.String("job", job), zap.Error(jobErr))
	if len(cfg.Operators) == 0 {
		return
	}

	// The run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	msg := &notification.Message{
		Trigger:    "job_failure",
		Recipients: cfg.Operators,
		Subject:    fmt.Sprintf("%s Monitor Failure: %s", cfg.SubjectPrefix, job),
		Body:       fmt.Sprintf("%s failed at %s\n\n%v\n", job, time.Now().UTC().Format(time.RFC3339), jobErr),
	}
	if err := notifier.Notify(ctx, msg); err != nil {
		logger.Error("Failed to notify operators", zap.Error(err))
	}
}
