package config

import (
	"fmt"
	"time"
)

// Store drivers.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverBolt   = "bolt"
)

// Config holds relay configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	StoreDriver    string        `mapstructure:"store_driver" yaml:"store_driver"`
	StorePath      string        `mapstructure:"store_path" yaml:"store_path"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`

	TypingQuietWindow  time.Duration `mapstructure:"typing_quiet_window" yaml:"typing_quiet_window"`
	SendQueueSize      int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	MaxMessageBytes    int           `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	HistoryLimit       int           `mapstructure:"history_limit" yaml:"history_limit"`

	// JWTSecret enables token verification on join and on /api when set.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		StoreDriver:        StoreDriverSQLite,
		StorePath:          "chatrelay.db",
		PersistTimeout:     5 * time.Second,
		TypingQuietWindow:  time.Second,
		SendQueueSize:      32,
		MaxMessageBytes:    4096,
		RateLimitPerMinute: 120,
		HistoryLimit:       200,
		JWTIssuer:          "chatrelay",
		JWTAudience:        "chatrelay",
		MetricsEnabled:     true,
	}
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverSQLite, StoreDriverBolt:
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("persist_timeout must be positive")
	}
	if c.TypingQuietWindow <= 0 {
		return fmt.Errorf("typing_quiet_window must be positive")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send_queue_size must be positive")
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StoreDriver != "" {
		c.StoreDriver = other.StoreDriver
	}
	if other.StorePath != "" {
		c.StorePath = other.StorePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
}
