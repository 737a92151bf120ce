// Package config provides configuration loading for nerond.
//
// Configuration is loaded from an optional YAML file and overridden by
// environment variables. The bearer token, database password, and embedding
// API key have no defaults: startup fails fast when they are missing.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete nerond configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Auth          AuthConfig          `koanf:"auth"`
	Database      DatabaseConfig      `koanf:"database"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	PublicURL       string   `koanf:"public_url"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// AuthConfig holds the provisioned credential and authorization flow tuning.
type AuthConfig struct {
	// Token is the single bearer token every successful authorization
	// flow hands out. Externally provisioned, constant for the process.
	Token Secret `koanf:"token"`
	// CodeTTL bounds how long an unredeemed authorization code stays valid.
	CodeTTL Duration `koanf:"code_ttl"`
	// RegisterRatePerMinute limits client registrations per source IP.
	RegisterRatePerMinute int `koanf:"register_rate_per_minute"`
	// TokenRatePerMinute limits token exchanges per source IP.
	TokenRatePerMinute int `koanf:"token_rate_per_minute"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	Name         string   `koanf:"name"`
	User         string   `koanf:"user"`
	Password     Secret   `koanf:"password"`
	MinConns     int      `koanf:"min_conns"`
	MaxConns     int      `koanf:"max_conns"`
	QueryTimeout Duration `koanf:"query_timeout"`
}

// EmbeddingsConfig holds the Voyage AI embedding provider configuration.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
	// Dimension must match the dimension the notes table was built with.
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds telemetry configuration.
type ObservabilityConfig struct {
	ServiceName   string `koanf:"service_name"`
	EnableMetrics bool   `koanf:"enable_metrics"`
}

// ConnString builds a pgx-compatible connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_min_conns=%d pool_max_conns=%d",
		d.Host, d.Port, d.Name, d.User, d.Password.Value(), d.MinConns, d.MaxConns,
	)
}

// Validate validates the configuration.
//
// The provisioned bearer token is the only credential gating the MCP
// endpoint; an empty token would either lock everyone out or, worse, let a
// sloppy comparison accept anything. Missing token is therefore fatal.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if !c.Auth.Token.IsSet() {
		return errors.New("auth token is required (set AUTH_TOKEN)")
	}
	if c.Auth.CodeTTL.Duration() <= 0 {
		return errors.New("auth code TTL must be positive")
	}

	if !c.Database.Password.IsSet() {
		return errors.New("database password is required (set DATABASE_PASSWORD)")
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < 1 {
		return fmt.Errorf("invalid connection pool bounds: min=%d max=%d", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("min connections (%d) exceed max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if !c.Embeddings.APIKey.IsSet() {
		return errors.New("embeddings API key is required (set EMBEDDINGS_API_KEY)")
	}
	if c.Embeddings.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Auth.CodeTTL == 0 {
		cfg.Auth.CodeTTL = Duration(10 * time.Minute)
	}
	if cfg.Auth.RegisterRatePerMinute == 0 {
		cfg.Auth.RegisterRatePerMinute = 30
	}
	if cfg.Auth.TokenRatePerMinute == 0 {
		cfg.Auth.TokenRatePerMinute = 60
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "postgres"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "neron_bot"
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 2
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = Duration(10 * time.Second)
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.voyageai.com"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "voyage-3-large"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1024
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "nerond"
	}
}
