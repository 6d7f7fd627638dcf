package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	PI       PIConfig
	CNRFC    CNRFCConfig
	Schedule ScheduleConfig
	Alarm    AlarmConfig
	Notify   NotifyConfig
	SMTP     SMTPConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicAlarms   string
	NumPartitions int
}

// PIConfig describes the PI Web API telemetry source.
type PIConfig struct {
	BaseURL         string
	Server          string
	Lookback        time.Duration
	ForecastHorizon time.Duration
	Interval        string
	Timeout         time.Duration
	Workers         int // concurrent point fetches per cycle
}

// CNRFCConfig describes the hydrologic forecast feed.
type CNRFCConfig struct {
	BaseURL    string
	Basin      string
	DaysBack   int
	IssueHours []int
	Freshness  time.Duration
	Timeout    time.Duration
}

type ScheduleConfig struct {
	IngestInterval   time.Duration
	ForecastInterval time.Duration
	HealthInterval   time.Duration
	HeartbeatStale   time.Duration
}

type AlarmConfig struct {
	ZThreshold        float64
	Window            time.Duration
	SnapshotRetention time.Duration
	SetpointDelta     float64
	RampTargetMW      float64
	RampRateMWPerMin  float64
	MaxLeadMinutes    int
	MinWindowSamples  int
	Location          string
	LockTTL           time.Duration
}

type NotifyConfig struct {
	Transport     string // smtp or kafka
	SubjectPrefix string
	Operators     []string

	// Delivery retries of a queued message before the consumer stops.
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "abay_user"),
			Password:      getEnv("DB_PASSWORD", "abay_pass"),
			DBName:        getEnv("DB_NAME", "abay_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicAlarms:   getEnv("KAFKA_TOPIC_ALARMS", "abay.alarms"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 1),
		},
		PI: PIConfig{
			BaseURL:         getEnv("PI_BASE_URL", "https://flows.pcwa.net/piwebapi"),
			Server:          getEnv("PI_SERVER", "BUSINESSPI2"),
			Lookback:        getEnvAsDuration("PI_LOOKBACK", 24*time.Hour),
			ForecastHorizon: getEnvAsDuration("PI_FORECAST_HORIZON", 72*time.Hour),
			Interval:        getEnv("PI_INTERVAL", "1m"),
			Timeout:         getEnvAsDuration("PI_TIMEOUT", 20*time.Second),
			Workers:         getEnvAsInt("PI_WORKERS", 4),
		},
		CNRFC: CNRFCConfig{
			BaseURL:    getEnv("CNRFC_BASE_URL", "https://www.cnrfc.noaa.gov/csv"),
			Basin:      getEnv("CNRFC_BASIN", "american"),
			DaysBack:   getEnvAsInt("CNRFC_DAYS_BACK", 2),
			IssueHours: getEnvAsIntList("CNRFC_ISSUE_HOURS", []int{12, 18}),
			Freshness:  getEnvAsDuration("CNRFC_FRESHNESS", 8*time.Hour),
			Timeout:    getEnvAsDuration("CNRFC_TIMEOUT", 30*time.Second),
		},
		Schedule: ScheduleConfig{
			IngestInterval:   getEnvAsDuration("SCHEDULE_INGEST_INTERVAL", time.Minute),
			ForecastInterval: getEnvAsDuration("SCHEDULE_FORECAST_INTERVAL", 30*time.Minute),
			HealthInterval:   getEnvAsDuration("SCHEDULE_HEALTH_INTERVAL", 30*time.Minute),
			HeartbeatStale:   getEnvAsDuration("SCHEDULE_HEARTBEAT_STALE", time.Hour),
		},
		Alarm: AlarmConfig{
			ZThreshold:        getEnvAsFloat("ALARM_Z_THRESHOLD", 3),
			Window:            getEnvAsDuration("ALARM_WINDOW", time.Hour),
			SnapshotRetention: getEnvAsDuration("ALARM_SNAPSHOT_RETENTION", 24*time.Hour),
			SetpointDelta:     getEnvAsFloat("ALARM_SETPOINT_DELTA", 0.5),
			RampTargetMW:      getEnvAsFloat("ALARM_RAMP_TARGET_MW", 5.4),
			RampRateMWPerMin:  getEnvAsFloat("ALARM_RAMP_RATE", 0.0422),
			MaxLeadMinutes:    getEnvAsInt("ALARM_MAX_LEAD_MINUTES", 60),
			MinWindowSamples:  getEnvAsInt("ALARM_MIN_WINDOW_SAMPLES", 1),
			Location:          getEnv("ALARM_LOCATION", "America/Los_Angeles"),
			LockTTL:           getEnvAsDuration("ALARM_LOCK_TTL", 10*time.Second),
		},
		Notify: NotifyConfig{
			Transport:     strings.ToLower(getEnv("NOTIFY_TRANSPORT", "smtp")),
			SubjectPrefix: getEnv("NOTIFY_SUBJECT_PREFIX", "PCWA"),
			Operators:     getEnvAsList("NOTIFY_OPERATORS", ""),

			RetryAttempts:   getEnvAsInt("NOTIFY_RETRY_ATTEMPTS", 5),
			RetryBackoff:    getEnvAsDuration("NOTIFY_RETRY_BACKOFF", time.Second),
			RetryMaxBackoff: getEnvAsDuration("NOTIFY_RETRY_MAX_BACKOFF", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "abay-monitor@example.com"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9102"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Notify.Transport {
	case "smtp", "kafka":
	default:
		return fmt.Errorf("unknown NOTIFY_TRANSPORT %q (want smtp or kafka)", c.Notify.Transport)
	}
	if c.Alarm.ZThreshold <= 0 {
		return fmt.Errorf("ALARM_Z_THRESHOLD must be positive, got %v", c.Alarm.ZThreshold)
	}
	if c.Alarm.RampRateMWPerMin <= 0 {
		return fmt.Errorf("ALARM_RAMP_RATE must be positive, got %v", c.Alarm.RampRateMWPerMin)
	}
	if c.Alarm.Window <= 0 || c.Alarm.SnapshotRetention < c.Alarm.Window {
		return fmt.Errorf("ALARM_SNAPSHOT_RETENTION (%s) must cover ALARM_WINDOW (%s)",
			c.Alarm.SnapshotRetention, c.Alarm.Window)
	}
	if longest := max(c.Schedule.IngestInterval, c.Schedule.ForecastInterval); c.Schedule.HeartbeatStale <= longest {
		return fmt.Errorf("SCHEDULE_HEARTBEAT_STALE (%s) must exceed the longest job interval (%s)",
			c.Schedule.HeartbeatStale, longest)
	}
	if c.Notify.RetryAttempts < 1 {
		return fmt.Errorf("NOTIFY_RETRY_ATTEMPTS must be at least 1, got %d", c.Notify.RetryAttempts)
	}
	if _, err := time.LoadLocation(c.Alarm.Location); err != nil {
		return fmt.Errorf("invalid ALARM_LOCATION: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsIntList(key string, defaultValue []int) []int {
	parts := getEnvAsList(key, "")
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, value)
	}
	return out
}
