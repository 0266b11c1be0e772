package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures runtime settings for the escrowflow API.
type Config struct {
	DatabaseURL    string        `yaml:"database_url"`
	ListenAddress  string        `yaml:"listen"`
	JWTSecret      string        `yaml:"jwt_secret"`
	Environment    string        `yaml:"env"`
	LogFile        string        `yaml:"log_file"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	OutboxInterval time.Duration `yaml:"outbox_interval"`
	OutboxBatch    int           `yaml:"outbox_batch"`
	Migrate        bool          `yaml:"migrate"`
	Pool           PoolConfig    `yaml:"pool"`
}

// PoolConfig sizes the pgx pool. It is only settable from the YAML file.
type PoolConfig struct {
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

func defaults() Config {
	return Config{
		ListenAddress:  ":8080",
		Environment:    "development",
		RateLimit:      20,
		RateBurst:      40,
		OutboxInterval: time.Second,
		OutboxBatch:    50,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// ESCROWFLOW_CONFIG if any, then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("ESCROWFLOW_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.ListenAddress = getenvDefault("ESCROWFLOW_LISTEN", cfg.ListenAddress)
	cfg.JWTSecret = getenvDefault("ESCROWFLOW_JWT_SECRET", cfg.JWTSecret)
	cfg.Environment = getenvDefault("ESCROWFLOW_ENV", cfg.Environment)
	cfg.LogFile = getenvDefault("ESCROWFLOW_LOG_FILE", cfg.LogFile)

	if raw := strings.TrimSpace(os.Getenv("ESCROWFLOW_RATE_LIMIT")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse ESCROWFLOW_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = val
	}
	if raw := strings.TrimSpace(os.Getenv("ESCROWFLOW_RATE_BURST")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse ESCROWFLOW_RATE_BURST: %w", err)
		}
		cfg.RateBurst = val
	}
	if raw := strings.TrimSpace(os.Getenv("ESCROWFLOW_OUTBOX_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse ESCROWFLOW_OUTBOX_INTERVAL: %w", err)
		}
		cfg.OutboxInterval = dur
	}
	if raw := strings.TrimSpace(os.Getenv("ESCROWFLOW_OUTBOX_BATCH")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse ESCROWFLOW_OUTBOX_BATCH: %w", err)
		}
		cfg.OutboxBatch = val
	}
	if raw := strings.TrimSpace(os.Getenv("ESCROWFLOW_MIGRATE")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse ESCROWFLOW_MIGRATE: %w", err)
		}
		cfg.Migrate = val
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("ESCROWFLOW_JWT_SECRET must be at least 16 characters")
	}
	if c.RateLimit <= 0 {
		return errors.New("ESCROWFLOW_RATE_LIMIT must be positive")
	}
	if c.RateBurst <= 0 {
		return errors.New("ESCROWFLOW_RATE_BURST must be positive")
	}
	if c.OutboxInterval <= 0 {
		return errors.New("ESCROWFLOW_OUTBOX_INTERVAL must be positive")
	}
	if c.OutboxBatch <= 0 {
		return errors.New("ESCROWFLOW_OUTBOX_BATCH must be positive")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
