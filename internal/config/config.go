package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// Optional backends. An empty value disables the component that needs it.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	RedisURL    string `env:"REDIS_URL"`
	DatabaseDSN string `env:"DATABASE_DSN"`

	MaxRetries             int `env:"ALARM_MAX_RETRIES,default=3"`
	ConsumerConcurrency    int `env:"CONSUMER_CONCURRENCY,default=3"`
	ConsumerMaxConcurrency int `env:"CONSUMER_MAX_CONCURRENCY,default=10"`
	ConsumerPrefetch       int `env:"CONSUMER_PREFETCH,default=25"`
	PublishTimeoutSec      int `env:"PUBLISH_TIMEOUT_SEC,default=5"`
	StreamTimeoutSec       int `env:"STREAM_TIMEOUT_SEC,default=3600"`
	HeartbeatIntervalSec   int `env:"HEARTBEAT_INTERVAL_SEC,default=30"`

	// DispatchRateLimitPerSec of 0 disables the limiter.
	DispatchRateLimitPerSec int `env:"DISPATCH_RATE_LIMIT_PER_SEC,default=0"`
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
	positive := []struct {
		name  string
		value int
	}{
		{"API_PORT", c.APIPort},
		{"CONSUMER_CONCURRENCY", c.ConsumerConcurrency},
		{"CONSUMER_MAX_CONCURRENCY", c.ConsumerMaxConcurrency},
		{"CONSUMER_PREFETCH", c.ConsumerPrefetch},
		{"PUBLISH_TIMEOUT_SEC", c.PublishTimeoutSec},
		{"STREAM_TIMEOUT_SEC", c.StreamTimeoutSec},
		{"HEARTBEAT_INTERVAL_SEC", c.HeartbeatIntervalSec},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", p.name, p.value)
		}
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid config: ALARM_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.DispatchRateLimitPerSec < 0 {
		return fmt.Errorf("invalid config: DISPATCH_RATE_LIMIT_PER_SEC must not be negative, got %d", c.DispatchRateLimitPerSec)
	}
	if c.DispatchRateLimitPerSec > 0 && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("invalid config: DISPATCH_RATE_LIMIT_PER_SEC requires REDIS_URL")
	}

	return nil
}

func (c *Config) BrokerEnabled() bool   { return strings.TrimSpace(c.RabbitMQURL) != "" }
func (c *Config) RedisEnabled() bool    { return strings.TrimSpace(c.RedisURL) != "" }
func (c *Config) DatabaseEnabled() bool { return strings.TrimSpace(c.DatabaseDSN) != "" }

func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSec) * time.Second
}

func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSec) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}
