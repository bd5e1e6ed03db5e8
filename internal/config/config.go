// Package config provides configuration for the orchestration core.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the process configuration.
type Config struct {
	// Server settings
	HTTPPort int
	WSPort   int

	// Database
	DatabaseURL string

	// Pipeline settings
	MaxRetries         int
	RetryBackoff       time.Duration
	HaltOnStageFailure bool
	RunTimeout         time.Duration

	// Resource factory settings
	MaxClientsPerUser int
	ClientTTL         time.Duration
	SweepInterval     time.Duration

	// Event delivery
	SendRetries int

	// Snapshot garbage collection
	SnapshotTTL   time.Duration
	PruneInterval time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		WSPort:             getEnvInt("WS_PORT", 8090),
		DatabaseURL:        getEnv("DATABASE_URL", "file:optiq.db?cache=shared&mode=rwc"),
		MaxRetries:         getEnvInt("MAX_RETRIES", 2),
		RetryBackoff:       time.Duration(getEnvInt("RETRY_BACKOFF_MS", 100)) * time.Millisecond,
		HaltOnStageFailure: getEnvBool("HALT_ON_STAGE_FAILURE", true),
		RunTimeout:         time.Duration(getEnvInt("RUN_TIMEOUT_MS", 300000)) * time.Millisecond,
		MaxClientsPerUser:  getEnvInt("MAX_CLIENTS_PER_USER", 5),
		ClientTTL:          time.Duration(getEnvInt("CLIENT_TTL_MS", 300000)) * time.Millisecond,
		SweepInterval:      time.Duration(getEnvInt("SWEEP_INTERVAL_MS", 30000)) * time.Millisecond,
		SendRetries:        getEnvInt("SEND_RETRIES", 1),
		SnapshotTTL:        time.Duration(getEnvInt("SNAPSHOT_TTL_MS", 86400000)) * time.Millisecond,
		PruneInterval:      time.Duration(getEnvInt("PRUNE_INTERVAL_MS", 600000)) * time.Millisecond,
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
