// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // ORDERS_TIMEZONE must resolve on minimal images
)

// Backend names accepted in ORDERS_BACKEND.
const (
	BackendMemory   = "memory"
	BackendFiles    = "files"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// Config holds every setting shared by the binaries.
type Config struct {
	RunLocal bool
	Addr     string

	Backend     string
	DataDir     string
	TempTable    string
	FinalTable   string
	SessionTable string
	RedisAddr    string
	RedisPrefix  string

	AWSRegion   string
	AWSEndpoint string
	QueueURL    string

	MetricsNamespace string
	Stage            string

	Timezone      string
	Location      *time.Location
	Retention     time.Duration
	SweepInterval time.Duration
	OpTimeout     time.Duration
	ReadRetries   int
	PricingFile   string
	LogLevel      string
}

// Load reads the environment and applies defaults.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		RunLocal:         getenv("RUN_LOCAL") == "true",
		Addr:             env("HTTP_ADDR", ":8080"),
		Backend:          strings.ToLower(env("ORDERS_BACKEND", BackendMemory)),
		DataDir:          env("ORDERS_DATA_DIR", "data/orders"),
		TempTable:        env("ORDERS_TEMP_TABLE", "orders-temp"),
		FinalTable:       env("ORDERS_FINAL_TABLE", "orders-final"),
		SessionTable:     env("ORDERS_SESSION_TABLE", "orders-sessions"),
		RedisAddr:        env("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:      env("REDIS_PREFIX", "orders:"),
		AWSRegion:        getenv("AWS_REGION"),
		AWSEndpoint:      getenv("AWS_ENDPOINT_OVERRIDE"),
		QueueURL:         getenv("ORDERS_EVENTS_QUEUE_URL"),
		MetricsNamespace: getenv("METRICS_NAMESPACE"),
		Stage:            env("STAGE", "dev"),
		Timezone:         env("ORDERS_TIMEZONE", "Europe/Paris"),
		PricingFile:      getenv("PRICING_FILE"),
		LogLevel:         env("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Retention, err = duration(env("DRAFT_RETENTION", "24h"), "DRAFT_RETENTION"); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = duration(env("SWEEP_INTERVAL", "10m"), "SWEEP_INTERVAL"); err != nil {
		return cfg, err
	}
	if cfg.OpTimeout, err = duration(env("STORE_OP_TIMEOUT", "5s"), "STORE_OP_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadRetries, err = strconv.Atoi(env("STORE_READ_RETRIES", "3")); err != nil || cfg.ReadRetries < 0 {
		return cfg, fmt.Errorf("STORE_READ_RETRIES: want a non-negative integer, got %q", getenv("STORE_READ_RETRIES"))
	}

	switch cfg.Backend {
	case BackendMemory, BackendFiles, BackendDynamoDB, BackendRedis:
	default:
		return cfg, fmt.Errorf("ORDERS_BACKEND: unknown backend %q", cfg.Backend)
	}

	if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("ORDERS_TIMEZONE: %w", err)
	}
	return cfg, nil
}

func duration(raw, key string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, raw)
	}
	return d, nil
}
