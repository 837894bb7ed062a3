// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	DBPath         string `mapstructure:"DB_PATH"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// TrustedMode enables registry-side policy evaluation on plaintext payloads.
	TrustedMode bool `mapstructure:"TRUSTED_MODE"`
	// SelfHosted permits callback URLs resolving to private address ranges.
	SelfHosted bool `mapstructure:"SELF_HOSTED"`

	MaxPayloadBytes    int `mapstructure:"MAX_PAYLOAD_BYTES"`
	MaxRetries         int `mapstructure:"MAX_RETRIES"`
	CallbackTimeoutSec int `mapstructure:"CALLBACK_TIMEOUT_SEC"`
	PingTimeoutSec     int `mapstructure:"PING_TIMEOUT_SEC"`
	RetryIntervalSec   int `mapstructure:"RETRY_INTERVAL_SEC"`
	RateLimitPerMin    int `mapstructure:"RATE_LIMIT_PER_MIN"`

	// LLMEvaluatorURL, when set, enables outbound evaluation of llm policies.
	LLMEvaluatorURL string `mapstructure:"LLM_EVALUATOR_URL"`
	LLMTimeoutSec   int    `mapstructure:"LLM_TIMEOUT_SEC"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			log.Printf("No profile-specific configuration config.%s.yml, using base config and defaults", env)
		}
	}

	viper.SetDefault("PORT", "8480")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_PATH", "mahilo.db")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("TRUSTED_MODE", true)
	viper.SetDefault("SELF_HOSTED", false)
	viper.SetDefault("MAX_PAYLOAD_BYTES", 32*1024)
	viper.SetDefault("MAX_RETRIES", 5)
	viper.SetDefault("CALLBACK_TIMEOUT_SEC", 30)
	viper.SetDefault("PING_TIMEOUT_SEC", 5)
	viper.SetDefault("RETRY_INTERVAL_SEC", 1)
	viper.SetDefault("RATE_LIMIT_PER_MIN", 100)
	viper.SetDefault("LLM_EVALUATOR_URL", "")
	viper.SetDefault("LLM_TIMEOUT_SEC", 5)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	if c.MaxPayloadBytes <= 0 {
		return errors.New("MAX_PAYLOAD_BYTES must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("MAX_RETRIES must not be negative")
	}
	if c.CallbackTimeoutSec <= 0 {
		return errors.New("CALLBACK_TIMEOUT_SEC must be positive")
	}
	if c.RateLimitPerMin <= 0 {
		return errors.New("RATE_LIMIT_PER_MIN must be positive")
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction {
		if c.SelfHosted {
			log.Println("WARNING: SELF_HOSTED is enabled in production; private callback targets are allowed.")
		}
		if !c.TrustedMode {
			log.Println("WARNING: TRUSTED_MODE is disabled; policies will not be evaluated.")
		}
	}

	return nil
}

// CallbackTimeout returns the outbound callback timeout as a duration.
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSec) * time.Second
}

// PingTimeout returns the agent-ping timeout as a duration.
func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSec) * time.Second
}

// RetryInterval returns the retry processor wake interval as a duration.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSec) * time.Second
}

// LLMTimeout returns the external policy evaluator timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}
