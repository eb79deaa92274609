package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Retry    RetryConfig    `yaml:"retry"`
	Poller   PollerConfig   `yaml:"poller"`
	Regen    RegenConfig    `yaml:"regen"`
	LLM      LLMConfig      `yaml:"llm"`
	Platform PlatformConfig `yaml:"platform"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// QueueConfig contains background task queue settings
type QueueConfig struct {
	Path            string        `yaml:"path"`
	Workers         int           `yaml:"workers"`
	MaxPending      int           `yaml:"max_pending"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	ProcessInterval time.Duration `yaml:"process_interval"`
	Retention       time.Duration `yaml:"retention"` // finished tasks older than this are removed
}

// RetryConfig contains store contention retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// PollerConfig contains metrics polling settings
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// RegenConfig contains content regeneration settings
type RegenConfig struct {
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// LLMConfig contains generation service settings.
// An empty endpoint selects the built-in mock generator.
type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PlatformConfig contains social platform API settings
type PlatformConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`
	Path           string        `yaml:"path"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// NotifyConfig contains operator e-mail settings
type NotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPAddr string   `yaml:"smtp_addr"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Environment variables that override secrets from the YAML file
const (
	EnvLLMAPIKey      = "JANUS_LLM_API_KEY"
	EnvPlatformAPIKey = "JANUS_PLATFORM_API_KEY"
	EnvAPIKey         = "JANUS_API_KEY"
	EnvSMTPPassword   = "JANUS_SMTP_PASSWORD"
)

// Load loads configuration from a YAML file. Secrets found in the
// environment (or a .env file in the working directory) take precedence.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// A missing .env is the normal case in production
	_ = godotenv.Load()
	cfg.applyEnv()

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvLLMAPIKey, &c.LLM.APIKey},
		{EnvPlatformAPIKey, &c.Platform.APIKey},
		{EnvAPIKey, &c.Server.APIKey},
		{EnvSMTPPassword, &c.Notify.Password},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/janus/janus.db"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.Queue.Path == "" {
		c.Queue.Path = "/var/lib/janus/tasks.db"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxPending == 0 {
		c.Queue.MaxPending = 256
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.RetryInterval == 0 {
		c.Queue.RetryInterval = 30 * time.Second
	}
	if c.Queue.ProcessInterval == 0 {
		c.Queue.ProcessInterval = time.Second
	}
	if c.Queue.Retention == 0 {
		c.Queue.Retention = 7 * 24 * time.Hour
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 2 * time.Second
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = 60 * time.Second
	}

	if c.Regen.LeaseTTL == 0 {
		c.Regen.LeaseTTL = 10 * time.Minute
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 90 * time.Second
	}

	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = 30 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.SampleInterval == 0 {
		c.Metrics.SampleInterval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must not be negative")
	}
	if c.Queue.MaxPending < 0 {
		return fmt.Errorf("queue.max_pending must not be negative")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be less than retry.base_delay")
	}

	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}

	if c.Notify.Enabled {
		if c.Notify.SMTPAddr == "" {
			return fmt.Errorf("notify.smtp_addr is required when notifications are enabled")
		}
		if c.Notify.From == "" {
			return fmt.Errorf("notify.from is required when notifications are enabled")
		}
		if len(c.Notify.To) == 0 {
			return fmt.Errorf("notify.to must not be empty when notifications are enabled")
		}
	}

	return nil
}

// UseMockLLM reports whether the generation services should be mocked
func (c *Config) UseMockLLM() bool {
	return c.LLM.Endpoint == ""
}
