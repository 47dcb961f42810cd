package feishu

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// FeishuConfig holds the outbound endpoints: the delivery webhook that
// receives the daily price record and the bot channel for alerts.
type FeishuConfig struct {
	// Delivery webhook
	WebhookURL   string
	WebhookToken string

	// Alert channel (optional; alerts are skipped when unset)
	AlertURL   string
	AlertToken string

	// Request timeout for both endpoints
	Timeout time.Duration

	// General Config
	Logger *logrus.Logger
}

// NewFeishuConfig loads the webhook configuration from the environment
func NewFeishuConfig() (*FeishuConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	timeout := 15 * time.Second
	if raw := os.Getenv("FEISHU_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FEISHU_TIMEOUT %q: %w", raw, err)
		}
		timeout = parsed
	}

	config := &FeishuConfig{
		WebhookURL:   os.Getenv("FEISHU_WEBHOOK_URL"),
		WebhookToken: os.Getenv("FEISHU_WEBHOOK_TOKEN"),
		AlertURL:     os.Getenv("FEISHU_ALERT_URL"),
		AlertToken:   os.Getenv("FEISHU_ALERT_TOKEN"),
		Timeout:      timeout,

		Logger: func() *logrus.Logger {
			log := logrus.New()
			if level := os.Getenv("LOG_LEVEL"); level != "" {
				if parsedLevel, err := logrus.ParseLevel(level); err == nil {
					log.SetLevel(parsedLevel)
				}
			}
			return log
		}(),
	}

	config.Logger.WithFields(logrus.Fields{
		"webhook_url_exists": config.WebhookURL != "",
		"alert_url_exists":   config.AlertURL != "",
		"timeout":            config.Timeout,
	}).Debug("Feishu config initialized")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that the delivery endpoint is usable. The alert
// channel may stay unconfigured; alert sends then become no-ops.
func (c *FeishuConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("FEISHU_WEBHOOK_URL must be provided")
	}
	if c.WebhookToken == "" {
		return fmt.Errorf("FEISHU_WEBHOOK_TOKEN must be provided")
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return nil
}

// HasAlertChannel returns true if the alert endpoint is configured
func (c *FeishuConfig) HasAlertChannel() bool {
	return c.AlertURL != ""
}
