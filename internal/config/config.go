// Package config provides configuration structures and loading functionality
// for the objstream CLI and store adapter.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config is the main configuration structure.
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
}

// ClientConfig contains the object storage endpoint and credentials.
type ClientConfig struct {
	Endpoint    string        `mapstructure:"endpoint" envconfig:"CLIENT_ENDPOINT"`
	Region      string        `mapstructure:"region" envconfig:"CLIENT_REGION"`
	AccessKey   string        `mapstructure:"access_key" envconfig:"CLIENT_ACCESS_KEY"`
	SecretKey   string        `mapstructure:"secret_key" envconfig:"CLIENT_SECRET_KEY"`
	VirtualHost bool          `mapstructure:"virtual_host" envconfig:"CLIENT_VIRTUAL_HOST"`
	Accelerate  bool          `mapstructure:"accelerate" envconfig:"CLIENT_ACCELERATE"`
	DualStack   bool          `mapstructure:"dual_stack" envconfig:"CLIENT_DUAL_STACK"`
	Timeout     time.Duration `mapstructure:"timeout" envconfig:"CLIENT_TIMEOUT"`

	// AWS-style environment variables (take precedence if set)
	AWSAccessKeyID     string `mapstructure:"-" envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `mapstructure:"-" envconfig:"AWS_SECRET_ACCESS_KEY"`
}

// StoreConfig contains the defaults the store adapter applies per call.
type StoreConfig struct {
	Bucket        string        `mapstructure:"bucket" envconfig:"STORE_BUCKET"`
	Prefix        string        `mapstructure:"prefix" envconfig:"STORE_PREFIX"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry" envconfig:"STORE_PRESIGN_EXPIRY"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" envconfig:"LOG_LEVEL"`
	Format string `mapstructure:"format" envconfig:"LOG_FORMAT"`
}

// SentryConfig contains Sentry error tracking configuration.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled" envconfig:"SENTRY_ENABLED"`
	DSN              string  `mapstructure:"dsn" envconfig:"SENTRY_DSN"`
	Environment      string  `mapstructure:"environment" envconfig:"SENTRY_ENVIRONMENT"`
	SampleRate       float64 `mapstructure:"sample_rate" envconfig:"SENTRY_SAMPLE_RATE"`
	AttachStacktrace bool    `mapstructure:"attach_stacktrace" envconfig:"SENTRY_ATTACH_STACKTRACE"`
	Debug            bool    `mapstructure:"debug" envconfig:"SENTRY_DEBUG"`
	Release          string  `mapstructure:"release" envconfig:"SENTRY_RELEASE"`
}

// Load reads and validates configuration from a file or environment
// variables. If configFile is empty, only environment variables are
// processed. Environment values override file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("store.presign_expiry", 168*time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("sentry.attach_stacktrace", true)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	// AWS environment variables take precedence
	if cfg.Client.AWSAccessKeyID != "" {
		cfg.Client.AccessKey = cfg.Client.AWSAccessKeyID
	}
	if cfg.Client.AWSSecretAccessKey != "" {
		cfg.Client.SecretKey = cfg.Client.AWSSecretAccessKey
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures the configuration is usable before any client is built.
func validate(cfg *Config) error {
	if cfg.Client.Endpoint == "" {
		return fmt.Errorf("client endpoint is required")
	}
	if (cfg.Client.AccessKey == "") != (cfg.Client.SecretKey == "") {
		return fmt.Errorf("access key and secret key must be given together")
	}
	if cfg.Store.PresignExpiry < 0 {
		return fmt.Errorf("presign expiry must not be negative")
	}
	if cfg.Store.PresignExpiry > 7*24*time.Hour {
		return fmt.Errorf("presign expiry must not exceed 7 days")
	}
	return nil
}

// MaskCredential masks sensitive credential values for safe logging.
func MaskCredential(credential string) string {
	if len(credential) <= 4 {
		return "[REDACTED]"
	}
	return credential[:4] + "****"
}
