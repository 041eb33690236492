package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Result cache (per-fingerprint, serving layer only)
	CacheSize int
	CacheTTL  time.Duration

	// Run store
	SQLiteDBPath string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPJobQueue    string
	AMQPResultQueue string

	// Google Sheets event source
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Local file event source
	EventsFile string

	// Request limits
	MaxRequestBytes int64

	// Worker
	WorkerStatsInterval time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		CacheSize: getEnvInt("RESULT_CACHE_SIZE", 256),
		CacheTTL:  getEnvDuration("RESULT_CACHE_TTL", 10*time.Minute),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/cashflowsim.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "cashflowsim"),
		AMQPJobQueue:    getEnv("AMQP_JOB_QUEUE", "simulation_jobs"),
		AMQPResultQueue: getEnv("AMQP_RESULT_QUEUE", "simulation_results"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Events"),

		EventsFile: getEnv("EVENTS_FILE", ""),

		MaxRequestBytes: int64(getEnvInt("MAX_REQUEST_BYTES", 1<<20)),

		WorkerStatsInterval: getEnvDuration("WORKER_STATS_INTERVAL", time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate cache settings
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid result cache size %d: must be at least 1", c.CacheSize))
	} else if c.CacheSize > 100000 {
		errors = append(errors, fmt.Sprintf("invalid result cache size %d: must be at most 100000", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid result cache TTL %v: must be at least 1 second", c.CacheTTL))
	} else if c.CacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid result cache TTL %v: must be at most 24 hours", c.CacheTTL))
	}

	// Validate run store path; the directory must exist or be creatable
	if c.SQLiteDBPath != "" {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create run store directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPJobQueue == "" {
			errors = append(errors, "AMQP job queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPResultQueue == "" {
			errors = append(errors, "AMQP result queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPJobQueue != "" && c.AMQPJobQueue == c.AMQPResultQueue {
			errors = append(errors, "AMQP job and result queues must differ")
		}
	}

	// Validate the sheet source when a spreadsheet is configured
	if c.GoogleSpreadsheetID != "" && c.GoogleSheetName == "" {
		errors = append(errors, "Google sheet name is required when a spreadsheet ID is provided")
	}

	// Validate the file source if configured
	if c.EventsFile != "" {
		if _, err := os.Stat(c.EventsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("events file does not exist: %s", c.EventsFile))
		}
	}

	if c.MaxRequestBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max request bytes %d: must be at least 1024", c.MaxRequestBytes))
	}

	if c.WorkerStatsInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid worker stats interval %v: must be at least 1 second", c.WorkerStatsInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
