package watch

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Default configuration values
const (
	// DefaultRetryInterval spaces the ticks of the retry loop armed
	// when a day's obligation is unmet after a cycle
	DefaultRetryInterval = 5 * time.Minute

	// MinRetryInterval guards against hammering the source site
	MinRetryInterval = 30 * time.Second

	// DefaultDailyRunAt is the local wall-clock time of the daily trigger
	DefaultDailyRunAt = "09:30"

	// DefaultTimezone is the market's local timezone; day keys, the
	// daily trigger and the midnight reset all use it
	DefaultTimezone = "Asia/Shanghai"
)

// Config holds the timing configuration for the watch loop
type Config struct {
	// DailyHour/DailyMinute is when the daily cycle fires
	DailyHour   int
	DailyMinute int

	// Location anchors "today" and both schedule triggers
	Location *time.Location

	// RetryInterval is the tick of the retry loop
	RetryInterval time.Duration

	// RunOnStart triggers one cycle at process start on trading days,
	// so a restart after the daily trigger still meets the obligation
	RunOnStart bool

	// General Config
	Logger *logrus.Logger
}

// NewConfig loads the watch configuration from the environment
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	runAt := getEnvOrDefault("WATCH_DAILY_RUN_AT", DefaultDailyRunAt)
	at, err := time.Parse("15:04", runAt)
	if err != nil {
		return nil, fmt.Errorf("invalid WATCH_DAILY_RUN_AT %q: %w", runAt, err)
	}

	tzName := getEnvOrDefault("WATCH_TIMEZONE", DefaultTimezone)
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid WATCH_TIMEZONE %q: %w", tzName, err)
	}

	retryInterval := DefaultRetryInterval
	if raw := os.Getenv("WATCH_RETRY_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid WATCH_RETRY_INTERVAL %q: %w", raw, err)
		}
		retryInterval = parsed
	}

	config := &Config{
		DailyHour:     at.Hour(),
		DailyMinute:   at.Minute(),
		Location:      loc,
		RetryInterval: retryInterval,
		RunOnStart:    getEnvOrDefault("WATCH_RUN_ON_START", "true") != "false",
		Logger:        logrus.New(),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks interval bounds and fills missing fields
func (c *Config) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("location is required")
	}
	if c.RetryInterval < MinRetryInterval {
		return fmt.Errorf("retry interval must be at least %v", MinRetryInterval)
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return nil
}

// Helper function to get environment variable with default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
