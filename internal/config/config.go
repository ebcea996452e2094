package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/courier/internal/domain"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	TimeZone    string `env:"TIME_ZONE,default=Local"`

	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT,default=587"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	SMTPUseTLS    bool   `env:"SMTP_USE_TLS,default=true"`
	SMTPUseSSL    bool   `env:"SMTP_USE_SSL,default=false"`
	SMTPFrom      string `env:"SMTP_FROM"`
	SMSWebhookURL string `env:"SMS_WEBHOOK_URL"`

	MaxRetries              int     `env:"DELIVERY_MAX_RETRIES,default=3"`
	BaseBackoffSeconds      int     `env:"DELIVERY_BASE_BACKOFF_SECONDS,default=300"`
	PollIntervalSeconds     int     `env:"DELIVERY_POLL_INTERVAL_SECONDS,default=60"`
	TransportTimeoutSeconds int     `env:"TRANSPORT_TIMEOUT_SECONDS,default=30"`
	WorkerConcurrency       int     `env:"WORKER_CONCURRENCY,default=1"`
	RateLimitPerSec         int     `env:"RATE_LIMIT_PER_SEC,default=100"`
	RateLimitSMSPerSec      int     `env:"RATE_LIMIT_SMS_PER_SEC,default=0"`
	ChannelStability        float64 `env:"PRIORITY_CHANNEL_STABILITY,default=0.98"`
	InboxDefaultLimit       int     `env:"INBOX_DEFAULT_LIMIT,default=20"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("invalid config: DATABASE_DSN is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid config: DELIVERY_MAX_RETRIES must not be negative (got %d)", c.MaxRetries)
	}
	if c.BaseBackoffSeconds <= 0 {
		return fmt.Errorf("invalid config: DELIVERY_BASE_BACKOFF_SECONDS must be positive (got %d)", c.BaseBackoffSeconds)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("invalid config: DELIVERY_POLL_INTERVAL_SECONDS must be positive (got %d)", c.PollIntervalSeconds)
	}
	if c.TransportTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid config: TRANSPORT_TIMEOUT_SECONDS must be positive (got %d)", c.TransportTimeoutSeconds)
	}
	if c.RateLimitPerSec < 0 || c.RateLimitSMSPerSec < 0 {
		return fmt.Errorf("invalid config: rate limits must not be negative")
	}
	if c.ChannelStability <= 0 || c.ChannelStability > 1 {
		return fmt.Errorf("invalid config: PRIORITY_CHANNEL_STABILITY must be within (0, 1] (got %v)", c.ChannelStability)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: TIME_ZONE: %w", err)
	}
	return nil
}

func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.TransportTimeoutSeconds) * time.Second
}

// Location resolves TimeZone; "Local" and empty mean the process zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// RateLimitOverrides returns per-channel send limits that differ from RateLimitPerSec.
func (c *Config) RateLimitOverrides() map[domain.Channel]int {
	overrides := map[domain.Channel]int{}
	if c.RateLimitSMSPerSec > 0 {
		overrides[domain.ChannelSMS] = c.RateLimitSMSPerSec
	}
	return overrides
}
