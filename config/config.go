package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	HTTP       ServerConfig
	MySQL      MySQLConfig
	Redis      RedisConfig
	Log        LogConfig
	S3         S3Config
	Generation GenerationConfig
	Gateway    GatewayConfig
	Assets     AssetsConfig
	Worker     WorkerConfig
	Sweeps     SweepsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
	PublicBaseURL   string
}

type GenerationConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type GatewayConfig struct {
	WebhookSecret             string
	SignatureToleranceSeconds int64
}

type AssetsConfig struct {
	Namespace     string
	MaxBytes      int64
	FetchTimeout  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor int
}

type WorkerConfig struct {
	Count     int
	QueueName string
}

type SweepsConfig struct {
	ReconcileStaleAfter  time.Duration
	ReconcileInterval    time.Duration
	PruneInterval        time.Duration
	EventRetention       time.Duration
	IdempotencyRetention time.Duration
	BatchSize            int32
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "settlement-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		S3: S3Config{
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			EndpointURL:     getEnv("S3_ENDPOINT_URL", ""),
			PublicBaseURL:   getEnv("S3_PUBLIC_BASE_URL", ""),
		},
		Generation: GenerationConfig{
			BaseURL:       getEnv("GENERATION_BASE_URL", ""),
			APIKey:        getEnv("GENERATION_API_KEY", ""),
			WebhookSecret: getEnv("GENERATION_WEBHOOK_SECRET", ""),
			HTTPTimeout:   getSecondsEnv("GENERATION_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Gateway: GatewayConfig{
			WebhookSecret:             getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			SignatureToleranceSeconds: int64(getIntEnv("GATEWAY_SIGNATURE_TOLERANCE_SECONDS", 300)),
		},
		Assets: AssetsConfig{
			Namespace:     getEnv("ASSETS_NAMESPACE", "results"),
			MaxBytes:      int64(getIntEnv("ASSETS_MAX_BYTES", 25*1024*1024)),
			FetchTimeout:  getSecondsEnv("ASSETS_FETCH_TIMEOUT_SECONDS", 30*time.Second),
			MaxAttempts:   getIntEnv("ASSETS_MAX_ATTEMPTS", 5),
			BackoffBase:   getSecondsEnv("ASSETS_BACKOFF_BASE_SECONDS", time.Second),
			BackoffFactor: getIntEnv("ASSETS_BACKOFF_FACTOR", 2),
		},
		Worker: WorkerConfig{
			Count:     getIntEnv("WORKER_COUNT", 4),
			QueueName: getEnv("WORKER_QUEUE_NAME", "settlement:persist_queue"),
		},
		Sweeps: SweepsConfig{
			ReconcileStaleAfter:  getMinutesEnv("SWEEP_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			ReconcileInterval:    getMinutesEnv("SWEEP_RECONCILE_INTERVAL_MINUTES", 5*time.Minute),
			PruneInterval:        getMinutesEnv("SWEEP_PRUNE_INTERVAL_MINUTES", 60*time.Minute),
			EventRetention:       getDaysEnv("WEBHOOK_EVENT_RETENTION_DAYS", 90*24*time.Hour),
			IdempotencyRetention: getDaysEnv("IDEMPOTENCY_RETENTION_DAYS", 30*24*time.Hour),
			BatchSize:            int32(getIntEnv("SWEEP_BATCH_SIZE", 100)),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getDaysEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if days, err := strconv.Atoi(value); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return defaultValue
}
