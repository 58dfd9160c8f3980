package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rhino-ai/billing-gateway/internal/pricing"
)

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds optional Redis settings for the payment dedup cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds JWT settings for user authentication.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt-secret"`
	TokenExpiry time.Duration `yaml:"token-expiry"`
}

// PaymentsConfig holds payment gateway webhook settings.
type PaymentsConfig struct {
	WebhookSecret string `yaml:"webhook-secret"`
	// CreditMicrosPerMinorUnit converts one minor currency unit (cent)
	// of a gateway payment into wallet micros.
	CreditMicrosPerMinorUnit int64 `yaml:"credit-micros-per-minor-unit"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ProviderConfig declares one upstream model provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key"`
}

// ReconcilerConfig holds settings for the pending payment reconciler.
type ReconcilerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	PendingCutoff time.Duration `yaml:"pending-cutoff"`
}

// Config is the root configuration loaded from YAML with env overrides.
type Config struct {
	Listen     string           `yaml:"listen"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Log        LogConfig        `yaml:"log"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Providers  []ProviderConfig `yaml:"providers"`
	Pricing    []pricing.Entry  `yaml:"pricing"`
}

// Load reads the YAML config at path, applies environment overrides and
// defaults, and validates required fields. A .env file alongside the
// process is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	var cfg Config
	if errParse := yaml.Unmarshal(data, &cfg); errParse != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errParse)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.validate(); errValidate != nil {
		return nil, errValidate
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		c.Payments.WebhookSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Auth.TokenExpiry <= 0 {
		c.Auth.TokenExpiry = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt-secret is required")
	}
	return nil
}
