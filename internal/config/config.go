package config

import (
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds runtime configuration for the dashboard process.
type Config struct {
	Env               string
	HTTPPort          string
	RedisURL          string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	KeyPrefix         string
	DefaultQueue      string
	UnpicklePython    string
	UnpickleScript    string
	UnpickleTimeout   time.Duration
	ScanCount         int64
	CompletedScanMax  int
	DefaultPageSize   int
	SSEPollInterval   time.Duration
	StaleWorkerAfter  time.Duration
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with defaults suited
// to a local ARQ instance.
func Load() Config {
	return Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		KeyPrefix:        getEnv("KEY_PREFIX", "arq:"),
		DefaultQueue:     getEnv("DEFAULT_QUEUE", "default"),
		UnpicklePython:   getEnv("UNPICKLE_PYTHON", "python3"),
		UnpickleScript:   getEnv("UNPICKLE_SCRIPT", "scripts/unpickle.py"),
		UnpickleTimeout:  getEnvDuration("UNPICKLE_TIMEOUT", 5*time.Second),
		ScanCount:        int64(getEnvInt("SCAN_COUNT", 100)),
		CompletedScanMax: getEnvInt("COMPLETED_SCAN_LIMIT", 1000),
		DefaultPageSize:  getEnvInt("DEFAULT_PAGE_SIZE", 50),
		SSEPollInterval:  getEnvDuration("SSE_POLL_INTERVAL", 2*time.Second),
		StaleWorkerAfter: getEnvDuration("STALE_WORKER_AFTER", time.Minute),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

// RedisOptions resolves the Redis client options. REDIS_URL wins when set,
// matching how the dashboard has historically been deployed.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL != "" {
		return redis.ParseURL(c.RedisURL)
	}
	return &redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
