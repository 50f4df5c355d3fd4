package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"
	"github.com/redis/go-redis/v9"

	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Config holds configuration settings for a cascade process
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Flows
		FlowsPath string

		// Condition windows
		ConditionStore string
		Redis          RedisConfig

		// Execution and log index
		IndexStore   string
		HistoryStore timebox.StoreConfig
		HistoryCache int

		// Archiving
		ArchiveURL    string
		ArchivePrefix string

		// Worker & Retry
		WorkerThreads int
		TaskTimeout   time.Duration
		Retry         api.RetryConfig

		// Executor
		MaxCycles       int
		ShutdownTimeout time.Duration
	}

	// RedisConfig locates the Redis server multiple condition windows are
	// kept in
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

const (
	ConditionStoreMemory = "memory"
	ConditionStoreRedis  = "redis"

	IndexStoreMemory  = "memory"
	IndexStoreTimebox = "timebox"
)

const (
	DefaultTaskTimeout     = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "cascade"
	DefaultRedisDB       = 0
	MaxRedisDB           = 15

	DefaultHistoryPrefix       = "cascade-history"
	DefaultHistoryCache        = 4096
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second

	DefaultArchivePrefix = "executions/"
	DefaultWorkerThreads = 4
	DefaultMaxCycles     = 1000

	DefaultRetryMaxAttempts = 1
	DefaultRetryBackoff     = time.Second
	DefaultRetryMaxBackoff  = time.Minute
	DefaultRetryBackoffType = api.BackoffTypeExponential

	MaxWorkerThreads    = 1024
	MaxCycles           = 1_000_000
	MaxRetryMaxAttempts = 1000
	MaxTaskTimeout      = 365 * 24 * time.Hour
	MaxRetryBackoff     = 24 * time.Hour
	MaxRetryMaxBackoff  = MaxRetryBackoff
	MaxShutdownTimeout  = time.Hour
	MaxHistoryCache     = 1 << 20
)

var (
	ErrInvalidAPIPort        = errors.New("invalid API port")
	ErrInvalidTaskTimeout    = errors.New("task timeout must be positive")
	ErrInvalidWorkerThreads  = errors.New("worker threads must be positive")
	ErrInvalidMaxCycles      = errors.New("max cycles must be positive")
	ErrInvalidConditionStore = errors.New("invalid condition store")
	ErrInvalidIndexStore     = errors.New("invalid index store")
	ErrInvalidHistoryCache   = errors.New("history cache must be positive")
	ErrRedisAddrEmpty        = errors.New("redis address empty")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidRetry          = errors.New("invalid retry configuration")
	ErrInvalidEnv            = errors.New("invalid environment value")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// server, the worker, and retry behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:        DefaultAPIPort,
		APIHost:        DefaultAPIHost,
		LogLevel:       "info",
		ConditionStore: ConditionStoreMemory,
		Redis: RedisConfig{
			Addr:   DefaultRedisEndpoint,
			DB:     DefaultRedisDB,
			Prefix: DefaultRedisPrefix,
		},
		IndexStore: IndexStoreMemory,
		HistoryStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			DB:           DefaultRedisDB,
			Prefix:       DefaultHistoryPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		HistoryCache:  DefaultHistoryCache,
		ArchivePrefix: DefaultArchivePrefix,
		WorkerThreads: DefaultWorkerThreads,
		TaskTimeout:   DefaultTaskTimeout,
		Retry: api.RetryConfig{
			MaxAttempts: DefaultRetryMaxAttempts,
			Interval:    DefaultRetryBackoff,
			MaxInterval: DefaultRetryMaxBackoff,
			Type:        DefaultRetryBackoffType,
		},
		MaxCycles:       DefaultMaxCycles,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	LoadRedisConfigFromEnv(&c.Redis, "REDIS")
	LoadStoreConfigFromEnv(&c.HistoryStore, "HISTORY")

	loadEnvString("API_HOST", &c.APIHost)
	loadEnvString("LOG_LEVEL", &c.LogLevel)
	loadEnvString("FLOWS_PATH", &c.FlowsPath)
	loadEnvString("CONDITION_STORE", &c.ConditionStore)
	loadEnvString("INDEX_STORE", &c.IndexStore)
	loadEnvString("ARCHIVE_URL", &c.ArchiveURL)
	loadEnvString("ARCHIVE_PREFIX", &c.ArchivePrefix)
	loadEnvString("RETRY_BACKOFF_TYPE", &c.Retry.Type)

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"WORKER_THREADS", &c.WorkerThreads, 0, MaxWorkerThreads,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"EXECUTOR_MAX_CYCLES", &c.MaxCycles, 0, MaxCycles,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"HISTORY_CACHE_SIZE", &c.HistoryCache, 0, MaxHistoryCache,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts, 0, MaxRetryMaxAttempts,
	); err != nil {
		return err
	}

	if err := loadEnvDuration(
		"TASK_TIMEOUT", &c.TaskTimeout, MaxTaskTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RETRY_BACKOFF", &c.Retry.Interval, MaxRetryBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RETRY_MAX_BACKOFF", &c.Retry.MaxInterval, MaxRetryMaxBackoff,
	); err != nil {
		return err
	}
	return loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxShutdownTimeout,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.TaskTimeout <= 0 {
		return ErrInvalidTaskTimeout
	}

	if c.WorkerThreads <= 0 {
		return ErrInvalidWorkerThreads
	}

	if c.MaxCycles <= 0 {
		return ErrInvalidMaxCycles
	}

	switch c.ConditionStore {
	case ConditionStoreMemory:
	case ConditionStoreRedis:
		if c.Redis.Addr == "" {
			return ErrRedisAddrEmpty
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidConditionStore, c.ConditionStore)
	}

	switch c.IndexStore {
	case IndexStoreMemory:
	case IndexStoreTimebox:
		if c.HistoryStore.Addr == "" {
			return ErrRedisAddrEmpty
		}
		if c.HistoryCache <= 0 {
			return ErrInvalidHistoryCache
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidIndexStore, c.IndexStore)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRetry, err)
	}
	return nil
}

// RedisOptions returns the go-redis client options of the condition store
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// LoadRedisConfigFromEnv loads Redis configuration from environment
// variables with the given prefix (e.g., "REDIS")
func LoadRedisConfigFromEnv(r *RedisConfig, prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		r.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		r.Password = password
	}
	if dbStr := os.Getenv(prefix + "_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil && db >= 0 && db <= MaxRedisDB {
			r.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_PREFIX"); envPrefix != "" {
		r.Prefix = envPrefix
	}
}

// LoadStoreConfigFromEnv loads the Redis settings of a timebox store from
// environment variables with the given prefix (e.g., "HISTORY")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil && db >= 0 && db <= MaxRedisDB {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

func loadEnvString(key string, dst *string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: %q", ErrInvalidEnv, key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("%w: %s: %d out of range [%d, %d]",
			ErrInvalidEnv, key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key from the environment as a Go duration string
// and sets *dst if it is positive and no greater than max
func loadEnvDuration(key string, dst *time.Duration, max time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %s: %q", ErrInvalidEnv, key, s)
	}
	if v <= 0 || v > max {
		return fmt.Errorf("%w: %s: %s out of range (0, %s]",
			ErrInvalidEnv, key, v, max)
	}
	*dst = v
	return nil
}
