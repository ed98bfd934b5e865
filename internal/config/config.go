package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// ServerConfig holds the dashboard bindings listener configuration
type ServerConfig struct {
	Address      string   `yaml:"address"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// SessionConfig holds session store and lifecycle configuration
type SessionConfig struct {
	Store   string        `yaml:"store"` // memory, file, keyring, sqlite
	Path    string        `yaml:"path"`  // file/sqlite location, empty = default
	Refresh string        `yaml:"refresh"`
	Latency LatencyConfig `yaml:"latency"`
}

// LatencyConfig holds the simulated round-trip delays of the credential check
type LatencyConfig struct {
	Login  time.Duration `yaml:"login"`
	Resume time.Duration `yaml:"resume"`
	Revoke time.Duration `yaml:"revoke"`
}

// CredentialsConfig describes the single accepted credential pair and the
// user issued for it
type CredentialsConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	UserID       string `yaml:"user_id"`
	Email        string `yaml:"email"`
	Role         string `yaml:"role"`
}

var validStores = map[string]bool{"memory": true, "file": true, "keyring": true, "sqlite": true}

// Load loads configuration from .env files, environment variables and the
// optional YAML file named by PROAUTH_CONFIG, in increasing precedence.
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Server: ServerConfig{
			Address:      getEnv("PROAUTH_ADDR", "127.0.0.1:8080"),
			AllowOrigins: splitList(getEnv("PROAUTH_ALLOW_ORIGINS", "http://localhost:3000")),
		},
		Session: SessionConfig{
			Store:   getEnv("PROAUTH_SESSION_STORE", "file"),
			Path:    os.Getenv("PROAUTH_SESSION_PATH"),
			Refresh: getEnv("PROAUTH_SESSION_REFRESH", "@every 5m"),
		},
		Credentials: CredentialsConfig{
			Username:     getEnv("PROAUTH_ADMIN_USERNAME", "admin"),
			Password:     os.Getenv("PROAUTH_ADMIN_PASSWORD"),
			PasswordHash: os.Getenv("PROAUTH_ADMIN_PASSWORD_HASH"),
			UserID:       getEnv("PROAUTH_ADMIN_ID", "1"),
			Email:        getEnv("PROAUTH_ADMIN_EMAIL", "admin@example.com"),
			Role:         getEnv("PROAUTH_ADMIN_ROLE", "admin"),
		},
	}

	latency, err := loadLatency()
	if err != nil {
		return nil, err
	}
	cfg.Session.Latency = latency

	if path := os.Getenv("PROAUTH_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Credentials.Password == "" && cfg.Credentials.PasswordHash == "" {
		cfg.Credentials.Password = "admin123"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeFile overlays values present in a YAML file
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if !validStores[strings.ToLower(c.Session.Store)] {
		return fmt.Errorf("invalid session store %q, must be one of: memory, file, keyring, sqlite", c.Session.Store)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q, must be json or console", c.Logging.Format)
	}

	if c.Credentials.Username == "" {
		return fmt.Errorf("credentials username is required")
	}

	if c.Session.Latency.Login < 0 || c.Session.Latency.Resume < 0 || c.Session.Latency.Revoke < 0 {
		return fmt.Errorf("simulated latency must not be negative")
	}

	return nil
}

// loadLatency reads PROAUTH_SIMULATE_LATENCY and the per-operation overrides
func loadLatency() (LatencyConfig, error) {
	latency := LatencyConfig{
		Login:  time.Second,
		Resume: 500 * time.Millisecond,
		Revoke: 300 * time.Millisecond,
	}

	if v := os.Getenv("PROAUTH_SIMULATE_LATENCY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return latency, fmt.Errorf("invalid PROAUTH_SIMULATE_LATENCY: %w", err)
		}
		if !enabled {
			latency = LatencyConfig{}
		}
	}

	overrides := []struct {
		env string
		dst *time.Duration
	}{
		{"PROAUTH_LOGIN_LATENCY", &latency.Login},
		{"PROAUTH_RESUME_LATENCY", &latency.Resume},
		{"PROAUTH_REVOKE_LATENCY", &latency.Revoke},
	}
	for _, o := range overrides {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return latency, fmt.Errorf("invalid %s: %w", o.env, err)
		}
		*o.dst = d
	}

	return latency, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
