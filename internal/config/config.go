package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MaxPullPageSize is the server-side cap on pull page sizes. Larger
// configured values are clamped.
const MaxPullPageSize = 1000

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only STORE_ID is required.
type Config struct {
	// Store identity
	StoreID string

	// Logging
	LogLevel  string
	LogFormat string

	// Local API server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Embedded database
	DatabasePath string

	// Cloud service
	CloudBaseURL   string
	CloudAPIKey    string
	CloudTimeout   time.Duration
	CloudRateLimit int

	// Circuit breaker guarding the cloud client
	BreakerConsecutiveFailures uint32
	BreakerOpenTimeout         time.Duration

	// Push and pull loops
	PushInterval  time.Duration
	PullInterval  time.Duration
	PushBatchSize int
	PullPageSize  int

	// Attempt policy per direction
	PushMaxAttempts int
	PullMaxAttempts int

	// Retry backoff for failures without a server-directed delay
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// Pull markers older than this are removed after a successful cycle
	PullMarkerStaleAfter time.Duration

	// Lifetime of a prepared day close
	DayCloseTokenTTL time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	storeID := os.Getenv("STORE_ID")
	if storeID == "" {
		return nil, fmt.Errorf("STORE_ID is required")
	}

	pageSize := getInt("PULL_PAGE_SIZE", 500)
	if pageSize > MaxPullPageSize {
		pageSize = MaxPullPageSize
	} else if pageSize < 1 {
		pageSize = 1
	}

	return &Config{
		StoreID: storeID,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		HTTPPort:        getEnv("HTTP_PORT", "8787"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabasePath: getEnv("DATABASE_PATH", "lottery.db"),

		CloudBaseURL:   getEnv("CLOUD_BASE_URL", "https://api.example.invalid"),
		CloudAPIKey:    os.Getenv("CLOUD_API_KEY"),
		CloudTimeout:   getDuration("CLOUD_TIMEOUT", 30*time.Second),
		CloudRateLimit: getInt("CLOUD_RATE_LIMIT", 10),

		BreakerConsecutiveFailures: uint32(getInt("BREAKER_CONSECUTIVE_FAILURES", 5)),
		BreakerOpenTimeout:         getDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second),

		PushInterval:  getDuration("PUSH_INTERVAL", 30*time.Second),
		PullInterval:  getDuration("PULL_INTERVAL", 5*time.Minute),
		PushBatchSize: getInt("PUSH_BATCH_SIZE", 50),
		PullPageSize:  pageSize,

		PushMaxAttempts: getInt("SYNC_PUSH_MAX_ATTEMPTS", 5),
		PullMaxAttempts: getInt("SYNC_PULL_MAX_ATTEMPTS", 2),

		RetryBackoffBase: getDuration("RETRY_BACKOFF_BASE", 5*time.Second),
		RetryBackoffMax:  getDuration("RETRY_BACKOFF_MAX", 10*time.Minute),

		PullMarkerStaleAfter: getDuration("PULL_MARKER_STALE_AFTER", 24*time.Hour),

		DayCloseTokenTTL: getDuration("DAY_CLOSE_TOKEN_TTL", 15*time.Minute),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
