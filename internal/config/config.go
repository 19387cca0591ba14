package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"logpipe/internal/dispatch"
	"logpipe/internal/models"
	"logpipe/internal/storage"
)

// Dead letter queue backends.
const (
	DeadLetterMemory = "memory"
	DeadLetterRedis  = "redis"
)

// Config holds configuration for the pipeline process.
type Config struct {
	AppName   string
	Version   string
	PodName   string
	DiagLevel string

	Admin      AdminConfig
	Service    ServiceConfig
	Dispatcher dispatch.Config
	Database   storage.DBConfig
	Redis      storage.RedisConfig
	S3         storage.S3Config
	DeadLetter DeadLetterConfig
	Retry      RetryConfig
	Catalog    CatalogConfig
}

// AdminConfig holds the admin HTTP API settings
type AdminConfig struct {
	HTTPPort  string
	JWTSecret []byte
	Username  string

	// PasswordHash is an argon2 hash produced by `logpipe hash-password`.
	// The token endpoint rejects every login while it is empty.
	PasswordHash string

	// ViewerUsername and ViewerPasswordHash describe an optional read-only
	// account.
	ViewerUsername     string
	ViewerPasswordHash string

	TokenTTL time.Duration
}

// ServiceConfig holds the service-level category filter
type ServiceConfig struct {
	Filter models.CategoryFilter
}

// DeadLetterConfig selects where failed deliveries are recorded
type DeadLetterConfig struct {
	Backend  string
	Capacity int
	Name     string
}

// RetryConfig bounds the connectivity retry interval
type RetryConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

// CatalogConfig locates the provider catalog
type CatalogConfig struct {
	// Path is a YAML catalog file. Empty selects DefaultCatalog.
	Path string

	// Watch re-applies the catalog when the file changes.
	Watch bool
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

// Load reads configuration from LOGPIPE_* environment variables.
func Load() (*Config, error) {
	fanOut, err := dispatch.ParseFanOut(getEnvString("LOGPIPE_FAN_OUT", string(dispatch.Sequential)))
	if err != nil {
		return nil, fmt.Errorf("LOGPIPE_FAN_OUT: %w", err)
	}

	enabled, err := models.ParseCategory(getEnvString("LOGPIPE_SERVICE_CATEGORIES", "all"))
	if err != nil {
		return nil, fmt.Errorf("LOGPIPE_SERVICE_CATEGORIES: %w", err)
	}
	disabled, err := models.ParseCategory(getEnvString("LOGPIPE_SERVICE_EXCLUDE", ""))
	if err != nil {
		return nil, fmt.Errorf("LOGPIPE_SERVICE_EXCLUDE: %w", err)
	}

	defaultDispatch := dispatch.DefaultConfig()
	defaultDB := storage.DefaultDBConfig()

	database := defaultDB
	database.URL = getEnvString("LOGPIPE_DATABASE_URL", "")
	database.MaxOpenConns = getEnvInt("LOGPIPE_DB_MAX_OPEN_CONNS", defaultDB.MaxOpenConns)
	database.MaxIdleConns = getEnvInt("LOGPIPE_DB_MAX_IDLE_CONNS", defaultDB.MaxIdleConns)
	database.ConnMaxLifetime = getEnvDuration("LOGPIPE_DB_CONN_MAX_LIFETIME", defaultDB.ConnMaxLifetime)
	database.ConnMaxIdleTime = getEnvDuration("LOGPIPE_DB_CONN_MAX_IDLE_TIME", defaultDB.ConnMaxIdleTime)
	database.ConnectTimeout = getEnvDuration("LOGPIPE_DB_CONNECT_TIMEOUT", defaultDB.ConnectTimeout)

	cfg := &Config{
		AppName:   getEnvString("LOGPIPE_APP_NAME", "logpipe"),
		Version:   getEnvString("LOGPIPE_VERSION", "dev"),
		PodName:   getEnvString("LOGPIPE_POD_NAME", getEnvString("POD_NAME", "logpipe-0")),
		DiagLevel: getEnvString("LOGPIPE_DIAG_LEVEL", "warn"),
		Admin: AdminConfig{
			HTTPPort:     getEnvString("LOGPIPE_HTTP_PORT", "8080"),
			JWTSecret:    []byte(getEnvString("LOGPIPE_JWT_SECRET", "")),
			Username:     getEnvString("LOGPIPE_ADMIN_USER", "admin"),
			PasswordHash: getEnvString("LOGPIPE_ADMIN_PASSWORD_HASH", ""),

			ViewerUsername:     getEnvString("LOGPIPE_VIEWER_USER", "viewer"),
			ViewerPasswordHash: getEnvString("LOGPIPE_VIEWER_PASSWORD_HASH", ""),

			TokenTTL: getEnvDuration("LOGPIPE_TOKEN_TTL", 12*time.Hour),
		},
		Service: ServiceConfig{
			Filter: models.NewCategoryFilter(enabled, disabled).OrDefault(),
		},
		Dispatcher: dispatch.Config{
			QueueCapacity:   getEnvInt("LOGPIPE_QUEUE_CAPACITY", defaultDispatch.QueueCapacity),
			BatchSize:       getEnvInt("LOGPIPE_BATCH_SIZE", defaultDispatch.BatchSize),
			BatchTimeout:    getEnvDuration("LOGPIPE_BATCH_TIMEOUT", defaultDispatch.BatchTimeout),
			FanOut:          fanOut,
			MaxConcurrency:  getEnvInt("LOGPIPE_MAX_CONCURRENCY", defaultDispatch.MaxConcurrency),
			DeliveryTimeout: getEnvDuration("LOGPIPE_DELIVERY_TIMEOUT", defaultDispatch.DeliveryTimeout),
			ShutdownGrace:   getEnvDuration("LOGPIPE_SHUTDOWN_GRACE", defaultDispatch.ShutdownGrace),
		},
		Database: database,
		Redis: storage.RedisConfig{
			Addr:        getEnvString("LOGPIPE_REDIS_ADDRESS", ""),
			Password:    getEnvString("LOGPIPE_REDIS_PASSWORD", ""),
			DB:          getEnvInt("LOGPIPE_REDIS_DB", 0),
			DialTimeout: getEnvDuration("LOGPIPE_REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		S3: storage.S3Config{
			Region:          getEnvString("LOGPIPE_S3_REGION", "us-east-1"),
			Endpoint:        getEnvString("LOGPIPE_S3_ENDPOINT", ""),
			UsePathStyle:    getEnvBool("LOGPIPE_S3_PATH_STYLE", false),
			AccessKeyID:     getEnvString("LOGPIPE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnvString("LOGPIPE_S3_SECRET_ACCESS_KEY", ""),
		},
		DeadLetter: DeadLetterConfig{
			Backend:  strings.ToLower(getEnvString("LOGPIPE_DLQ_BACKEND", DeadLetterMemory)),
			Capacity: getEnvInt("LOGPIPE_DLQ_CAPACITY", 1000),
			Name:     getEnvString("LOGPIPE_DLQ_NAME", "logpipe"),
		},
		Retry: RetryConfig{
			MinInterval: getEnvDuration("LOGPIPE_RETRY_MIN_INTERVAL", time.Second),
			MaxInterval: getEnvDuration("LOGPIPE_RETRY_MAX_INTERVAL", 30*time.Second),
		},
		Catalog: CatalogConfig{
			Path:  getEnvString("LOGPIPE_CATALOG", ""),
			Watch: getEnvBool("LOGPIPE_CATALOG_WATCH", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.DeadLetter.Backend {
	case DeadLetterMemory:
	case DeadLetterRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("LOGPIPE_DLQ_BACKEND=redis requires LOGPIPE_REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("unknown dead letter backend %q", c.DeadLetter.Backend)
	}

	if (c.Admin.PasswordHash != "" || c.Admin.ViewerPasswordHash != "") && len(c.Admin.JWTSecret) == 0 {
		return fmt.Errorf("LOGPIPE_JWT_SECRET is required when an admin or viewer password hash is set")
	}

	if c.Retry.MinInterval <= 0 || c.Retry.MaxInterval < c.Retry.MinInterval {
		return fmt.Errorf("invalid retry interval bounds [%s, %s]", c.Retry.MinInterval, c.Retry.MaxInterval)
	}
	return nil
}
