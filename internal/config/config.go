package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Webhook  WebhookConfig  `yaml:"webhook" envconfig:"WEBHOOK"`
	Email    EmailConfig    `yaml:"email" envconfig:"EMAIL"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/keymint.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// StoreConfig contains license store configuration
type StoreConfig struct {
	Path           string        `yaml:"path" envconfig:"PATH" default:"data/licenses.db"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"5s"`
}

// WebhookConfig contains order-webhook configuration. The shared
// secret is required in production; Validate enforces it.
type WebhookConfig struct {
	Secret          string `yaml:"-" envconfig:"SECRET"`
	SignatureHeader string `yaml:"signature_header" envconfig:"SIGNATURE_HEADER" default:"X-Signature"`
}

// EmailConfig contains notification sender configuration. When the
// API key is empty the dispatcher degrades to log-only mode.
type EmailConfig struct {
	SendGridAPIKey string `yaml:"-" envconfig:"SENDGRID_API_KEY"`
	FromAddress    string `yaml:"from_address" envconfig:"FROM_ADDRESS"`
	Subject        string `yaml:"subject" envconfig:"SUBJECT" default:"Your License Key"`
	SupportAddress string `yaml:"support_address" envconfig:"SUPPORT_ADDRESS"`
}

// LicenseConfig contains issuance policy configuration
type LicenseConfig struct {
	DeviceLimit    int           `yaml:"device_limit" envconfig:"DEVICE_LIMIT" default:"1"`
	ValidityPeriod time.Duration `yaml:"validity_period" envconfig:"VALIDITY_PERIOD" default:"8760h"`
	DefaultProduct string        `yaml:"default_product" envconfig:"DEFAULT_PRODUCT" default:"Software License"`
}

// Load loads configuration from built-in defaults, environment
// variables and an optional config file, in that order; the file wins
// for any field it sets. envconfig folds defaults and environment into
// one pass, so the file must come last to not be clobbered by the
// default tags.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("KEYMINT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Legacy environment names from the original deployment.
	if cfg.Webhook.Secret == "" {
		cfg.Webhook.Secret = os.Getenv("SHOPIFY_WEBHOOK_SECRET")
	}
	if cfg.Email.SendGridAPIKey == "" {
		cfg.Email.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	}
	if cfg.Email.FromAddress == "" {
		cfg.Email.FromAddress = os.Getenv("FROM_SENDER_EMAIL")
	}
	if cfg.Email.SupportAddress == "" {
		cfg.Email.SupportAddress = cfg.Email.FromAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; fields absent from the
// file keep their current values.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func getConfigFilePath() string {
	if path := os.Getenv("KEYMINT_CONFIG"); path != "" {
		return path
	}
	return "keymint.yaml"
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required (KEYMINT_WEBHOOK_SECRET or SHOPIFY_WEBHOOK_SECRET)")
	}
	if c.License.DeviceLimit < 1 {
		return fmt.Errorf("license device limit must be positive, got %d", c.License.DeviceLimit)
	}
	if c.License.ValidityPeriod <= 0 {
		return fmt.Errorf("license validity period must be positive, got %s", c.License.ValidityPeriod)
	}
	if c.Store.RequestTimeout <= 0 {
		return fmt.Errorf("store request timeout must be positive, got %s", c.Store.RequestTimeout)
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
