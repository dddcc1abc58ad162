// Package config provides configuration for the signing service, read from
// environment variables with an optional YAML file underneath.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the signing service.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Admin authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIPort int
	APIHost string

	// PublicBaseURL is the externally reachable base used to build
	// magic-link URLs in signer emails.
	PublicBaseURL string

	// Signing session and secrets lifetimes
	LinkExpiry    time.Duration
	OTPExpiry     time.Duration
	SessionExpiry time.Duration

	// Outbound mail
	MailFrom string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// fileConfig mirrors Config for the YAML file. Durations are Go duration
// strings such as "72h" or "10m".
type fileConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	JWTSecret       string `yaml:"jwt_secret"`
	JWTExpiry       string `yaml:"jwt_expiry"`
	APIPort         int    `yaml:"api_port"`
	APIHost         string `yaml:"api_host"`
	PublicBaseURL   string `yaml:"public_base_url"`
	LinkExpiry      string `yaml:"link_expiry"`
	OTPExpiry       string `yaml:"otp_expiry"`
	SessionExpiry   string `yaml:"session_expiry"`
	MailFrom        string `yaml:"mail_from"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// Load reads configuration from the environment. If CONFIG_FILE points to a
// YAML file it is read first; environment variables override file values.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration without validating required fields,
// useful for testing.
func LoadWithDefaults() *Config {
	cfg := defaults()
	cfg.JWTSecret = "development-secret-key-min-32-chars"
	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		DatabaseDSN:     "postgres://localhost:5432/studiosign?sslmode=disable",
		JWTExpiry:       24 * time.Hour,
		APIPort:         8080,
		APIHost:         "0.0.0.0",
		PublicBaseURL:   "http://localhost:8080",
		LinkExpiry:      72 * time.Hour,
		OTPExpiry:       10 * time.Minute,
		SessionExpiry:   24 * time.Hour,
		MailFrom:        "sign@localhost",
		ShutdownTimeout: 30 * time.Second,
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	setString(&c.DatabaseDSN, fc.DatabaseURL)
	setString(&c.JWTSecret, fc.JWTSecret)
	setString(&c.APIHost, fc.APIHost)
	setString(&c.PublicBaseURL, fc.PublicBaseURL)
	setString(&c.MailFrom, fc.MailFrom)
	if fc.APIPort != 0 {
		c.APIPort = fc.APIPort
	}
	for _, d := range []struct {
		dst *time.Duration
		val string
	}{
		{&c.JWTExpiry, fc.JWTExpiry},
		{&c.LinkExpiry, fc.LinkExpiry},
		{&c.OTPExpiry, fc.OTPExpiry},
		{&c.SessionExpiry, fc.SessionExpiry},
		{&c.ShutdownTimeout, fc.ShutdownTimeout},
	} {
		if d.val == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.val, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func (c *Config) applyEnv() {
	c.DatabaseDSN = getEnv("DATABASE_URL", c.DatabaseDSN)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiry = getDurationEnv("JWT_EXPIRY", c.JWTExpiry)
	c.APIPort = getIntEnv("API_PORT", c.APIPort)
	c.APIHost = getEnv("API_HOST", c.APIHost)
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.LinkExpiry = getDurationEnv("LINK_EXPIRY", c.LinkExpiry)
	c.OTPExpiry = getDurationEnv("OTP_EXPIRY", c.OTPExpiry)
	c.SessionExpiry = getDurationEnv("SESSION_EXPIRY", c.SessionExpiry)
	c.MailFrom = getEnv("MAIL_FROM", c.MailFrom)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
