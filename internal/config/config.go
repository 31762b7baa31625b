// Package config provides configuration loading for ucl-sync binaries.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process settings shared by the CLI and the worker.
type Config struct {
	// Sync settings
	BatchSize         int
	ProgressInterval  time.Duration
	StallWarningAfter time.Duration
	LogLevel          string
	StateDir          string

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TaskQueue         string

	// MetricsAddr is where the worker serves /metrics. Empty disables it.
	MetricsAddr string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		BatchSize:         getEnvInt("UCL_BATCH_SIZE", 100),
		ProgressInterval:  getEnvDuration("UCL_PROGRESS_INTERVAL", 500*time.Millisecond),
		StallWarningAfter: getEnvDuration("UCL_STALL_WARNING_AFTER", 30*time.Second),
		LogLevel:          getEnv("UCL_LOG_LEVEL", "info"),
		StateDir:          getEnv("UCL_STATE_DIR", ".ucl-state"),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "127.0.0.1:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TaskQueue:         getEnv("UCL_TASK_QUEUE", "ucl-sync"),
		MetricsAddr:       getEnv("UCL_METRICS_ADDR", ":9464"),
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
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
