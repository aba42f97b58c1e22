package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string // WORKSET_DATABASE_URL (required)
	NATSURL     string // WORKSET_NATS_URL (optional, empty = bus disabled)
	RedisAddr   string // WORKSET_REDIS_ADDR (optional, empty = in-memory action tracking)

	// Tenancy
	GlobalTenantID string // WORKSET_GLOBAL_TENANT (default "tn-global")
	MultiTenant    bool   // WORKSET_MULTI_TENANT (default false)

	// Event pipeline
	GenerationCeiling int           // WORKSET_GENERATION_CEILING (default 10)
	ActionTTL         time.Duration // WORKSET_ACTION_TTL (default 10m)
	DebugEvents       bool          // WORKSET_DEBUG_EVENTS (default false)

	// Outbox relay
	RelayInterval  time.Duration // WORKSET_RELAY_INTERVAL (default 2s; 0 = disabled)
	RelayBatchSize int           // WORKSET_RELAY_BATCH (default 100)
	LeaseTTL       time.Duration // WORKSET_LEASE_TTL (default 1m)
	SendRetryLimit int           // WORKSET_SEND_RETRY_LIMIT (default 5)

	// Dead-letter archive (enabled when bucket is set)
	DeadLetterS3Bucket   string // WORKSET_DEADLETTER_S3_BUCKET
	DeadLetterS3Prefix   string // WORKSET_DEADLETTER_S3_PREFIX (default "workset/deadletter")
	DeadLetterS3Region   string // WORKSET_DEADLETTER_S3_REGION (default "us-east-1")
	DeadLetterS3Endpoint string // WORKSET_DEADLETTER_S3_ENDPOINT (custom endpoint for MinIO)
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:          os.Getenv("WORKSET_DATABASE_URL"),
		NATSURL:              os.Getenv("WORKSET_NATS_URL"),
		RedisAddr:            os.Getenv("WORKSET_REDIS_ADDR"),
		GlobalTenantID:       envOrDefault("WORKSET_GLOBAL_TENANT", "tn-global"),
		DeadLetterS3Bucket:   os.Getenv("WORKSET_DEADLETTER_S3_BUCKET"),
		DeadLetterS3Prefix:   envOrDefault("WORKSET_DEADLETTER_S3_PREFIX", "workset/deadletter"),
		DeadLetterS3Region:   envOrDefault("WORKSET_DEADLETTER_S3_REGION", "us-east-1"),
		DeadLetterS3Endpoint: os.Getenv("WORKSET_DEADLETTER_S3_ENDPOINT"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("WORKSET_DATABASE_URL is required")
	}

	var err error
	if c.MultiTenant, err = envBool("WORKSET_MULTI_TENANT", false); err != nil {
		return nil, err
	}
	if c.DebugEvents, err = envBool("WORKSET_DEBUG_EVENTS", false); err != nil {
		return nil, err
	}
	if c.GenerationCeiling, err = envInt("WORKSET_GENERATION_CEILING", 10); err != nil {
		return nil, err
	}
	if c.GenerationCeiling < 1 {
		return nil, fmt.Errorf("WORKSET_GENERATION_CEILING must be at least 1")
	}
	if c.RelayBatchSize, err = envInt("WORKSET_RELAY_BATCH", 100); err != nil {
		return nil, err
	}
	if c.SendRetryLimit, err = envInt("WORKSET_SEND_RETRY_LIMIT", 5); err != nil {
		return nil, err
	}
	if c.ActionTTL, err = envDuration("WORKSET_ACTION_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.RelayInterval, err = envDuration("WORKSET_RELAY_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if c.LeaseTTL, err = envDuration("WORKSET_LEASE_TTL", time.Minute); err != nil {
		return nil, err
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
