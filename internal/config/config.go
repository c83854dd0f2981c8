// Package config loads process configuration with the same
// flag > env > file > default precedence Viper provides out of the box.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting the fraud-shield binary needs to wire its
// adapters at startup.
type Config struct {
	LogLevel string `mapstructure:"log-level"`

	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`

	PostgresDSN string `mapstructure:"postgres-dsn"`

	WebhookURL string `mapstructure:"webhook-url"`

	MXTimeout       time.Duration `mapstructure:"mx-timeout"`
	MXCacheTTL      time.Duration `mapstructure:"mx-cache-ttl"`
	MXCacheCapacity int           `mapstructure:"mx-cache-capacity"`

	// DefaultWarnThreshold/DefaultBlockThreshold are parsed and validated
	// (warn positive and below block) but not passed on to the scoring
	// pipeline: until config.json loads, it uses the thresholds of
	// domain.DefaultConfig.
	DefaultWarnThreshold  float64 `mapstructure:"default-warn-threshold"`
	DefaultBlockThreshold float64 `mapstructure:"default-block-threshold"`
}

// New parses flags, environment variables (prefixed FRAUD_SHIELD_), and an
// optional config file, in that precedence order, into a validated Config.
func New(args []string) (*Config, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("fraud-shield", pflag.ContinueOnError)

	fs.String("log-level", "info", "Logging level (debug, info, warn, error)")
	fs.String("redis-addr", "localhost:6379", "Redis address backing the artifact store")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis logical database index")
	fs.String("postgres-dsn", "", "Postgres connection string for the validations store")
	fs.String("webhook-url", "", "Webhook URL for block/degraded-model alerts; empty disables alerting")
	fs.Duration("mx-timeout", 200*time.Millisecond, "Per-lookup MX resolution timeout")
	fs.Duration("mx-cache-ttl", 300*time.Second, "MX resolver cache entry lifetime")
	fs.Int("mx-cache-capacity", 10000, "MX resolver LRU cache capacity")
	fs.Float64("default-warn-threshold", 0.30, "Default warn threshold (validated only; not passed to the scoring pipeline)")
	fs.Float64("default-block-threshold", 0.35, "Default block threshold (validated only; not passed to the scoring pipeline)")
	fs.String("config-file", "", "Path to a YAML config file. Can also be set with FRAUD_SHIELD_CONFIG_FILE.")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix("FRAUD_SHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile := v.GetString("config-file"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects a configuration that would make the pipeline misbehave
// in an obviously wrong way.
func (c *Config) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	ok := false
	for _, lvl := range validLevels {
		if c.LogLevel == lvl {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log-level: %s, must be one of %v", c.LogLevel, validLevels)
	}
	if c.DefaultWarnThreshold <= 0 || c.DefaultWarnThreshold >= c.DefaultBlockThreshold {
		return fmt.Errorf("default-warn-threshold (%.2f) must be positive and below default-block-threshold (%.2f)",
			c.DefaultWarnThreshold, c.DefaultBlockThreshold)
	}
	if c.MXTimeout <= 0 {
		return fmt.Errorf("mx-timeout must be positive, got %s", c.MXTimeout)
	}
	return nil
}
