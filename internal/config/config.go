package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds shared runtime configuration for the gateway.
type Config struct {
	Env               string
	HTTPPort          string
	MetricsAddr       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	WorkerURL         string
	WorkerToken       string
	WorkerTimeout     time.Duration
	JobTTL            time.Duration
	LockTTL           time.Duration
	AnswerDeadline    time.Duration
	RateLimitCapacity int
	RateLimitRefill   float64
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with sane defaults for
// local development. A .env file is honored if present.
func Load() Config {
	_ = godotenv.Load(".env", ".env.local")

	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		WorkerURL:         getEnv("WORKER_WEBHOOK_URL", ""),
		WorkerToken:       getEnv("WORKER_WEBHOOK_TOKEN", ""),
		WorkerTimeout:     getEnvDuration("WORKER_TIMEOUT", 60*time.Second),
		JobTTL:            getEnvDuration("JOB_TTL", 3*time.Minute),
		LockTTL:           getEnvDuration("LOCK_TTL", 30*time.Second),
		AnswerDeadline:    getEnvDuration("ANSWER_DEADLINE", 120*time.Second),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
