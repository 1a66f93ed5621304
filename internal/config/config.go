// Package config loads petition service configuration from defaults, an
// optional YAML file, a .env file and PETITION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Content   ContentConfig   `yaml:"content"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"PETITION_SERVER_HOST"`
	Port            int           `yaml:"port" env:"PETITION_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"PETITION_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"PETITION_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PETITION_SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"PETITION_SERVER_ALLOWED_ORIGINS"`
}

// DatabaseConfig selects the persistence backend. Driver is one of
// memory, postgres or sqlite.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"PETITION_DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"PETITION_DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"PETITION_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"PETITION_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"PETITION_DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"PETITION_DATABASE_AUTO_MIGRATE"`
}

// ContentConfig selects where image bytes live. Backend is one of fs, bolt or gcs.
type ContentConfig struct {
	Backend         string `yaml:"backend" env:"PETITION_CONTENT_BACKEND"`
	Dir             string `yaml:"dir" env:"PETITION_CONTENT_DIR"`
	BoltPath        string `yaml:"bolt_path" env:"PETITION_CONTENT_BOLT_PATH"`
	Bucket          string `yaml:"bucket" env:"PETITION_CONTENT_BUCKET"`
	CredentialsFile string `yaml:"credentials_file" env:"PETITION_CONTENT_CREDENTIALS_FILE"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes" env:"PETITION_CONTENT_MAX_UPLOAD_BYTES"`
}

type AuthConfig struct {
	TokenSecret string        `yaml:"token_secret" env:"PETITION_AUTH_TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"PETITION_AUTH_TOKEN_TTL"`
	BcryptCost  int           `yaml:"bcrypt_cost" env:"PETITION_AUTH_BCRYPT_COST"`
}

// RateLimitConfig throttles callers. When RedisAddr is set the limit is
// shared across instances.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" env:"PETITION_RATELIMIT_ENABLED"`
	RequestsPerSecond int           `yaml:"requests_per_second" env:"PETITION_RATELIMIT_RPS"`
	Burst             int           `yaml:"burst" env:"PETITION_RATELIMIT_BURST"`
	RedisAddr         string        `yaml:"redis_addr" env:"PETITION_RATELIMIT_REDIS_ADDR"`
	Window            time.Duration `yaml:"window" env:"PETITION_RATELIMIT_WINDOW"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"PETITION_LOG_LEVEL"`
	Format string `yaml:"format" env:"PETITION_LOG_FORMAT"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4941,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Content: ContentConfig{
			Backend:        "fs",
			Dir:            "storage/images",
			MaxUploadBytes: 10 << 20,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Window:            time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFromPath(path, cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath overlays the YAML file at path onto cfg.
func LoadFromPath(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks enumerated settings and required combinations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}

	switch strings.ToLower(c.Content.Backend) {
	case "fs":
		if c.Content.Dir == "" {
			return fmt.Errorf("content.dir is required for the fs backend")
		}
	case "bolt":
		if c.Content.BoltPath == "" {
			return fmt.Errorf("content.bolt_path is required for the bolt backend")
		}
	case "gcs":
		if c.Content.Bucket == "" {
			return fmt.Errorf("content.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("content.backend %q not supported", c.Content.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost %d out of range", c.Auth.BcryptCost)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
