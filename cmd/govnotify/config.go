package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig selects the durable stores. An empty driver keeps every
// store and the queue in memory.
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"` // sqlite3 | postgres
	DSN         string        `yaml:"dsn"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
	Debug       bool          `yaml:"debug"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

type TelegramConfig struct {
	Token         string `yaml:"token"`
	APIBaseURL    string `yaml:"api_base_url"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type SnapshotConfig struct {
	HubURL        string        `yaml:"hub_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type QueueConfig struct {
	Lease    time.Duration `yaml:"lease"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type FileConfig struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Queue    QueueConfig    `yaml:"queue"`
	Log      LogConfig      `yaml:"log"`
	// Service is handed to the core config loader untouched.
	Service map[string]any `yaml:"service"`
}

// secretEnv maps environment variables onto the secrets they override.
var secretEnv = map[string]func(*FileConfig) *string{
	"GOVNOTIFY_DATABASE_DSN":            func(c *FileConfig) *string { return &c.Database.DSN },
	"GOVNOTIFY_TELEGRAM_TOKEN":          func(c *FileConfig) *string { return &c.Telegram.Token },
	"GOVNOTIFY_TELEGRAM_WEBHOOK_SECRET": func(c *FileConfig) *string { return &c.Telegram.WebhookSecret },
	"GOVNOTIFY_SNAPSHOT_WEBHOOK_SECRET": func(c *FileConfig) *string { return &c.Snapshot.WebhookSecret },
	"GOVNOTIFY_GEMINI_API_KEY":          func(c *FileConfig) *string { return &c.Gemini.APIKey },
}

// LoadConfig reads path (optional) and applies environment overrides and
// defaults.
func LoadConfig(path string, lookup func(string) (string, bool)) (FileConfig, error) {
	var cfg FileConfig
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return FileConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return FileConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for name, field := range secretEnv {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			*field(&cfg) = strings.TrimSpace(value)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.PingTimeout == 0 {
		c.Database.PingTimeout = 5 * time.Second
	}
	if c.Queue.Lease == 0 {
		c.Queue.Lease = time.Minute
	}
	if c.Queue.MaxDelay == 0 {
		c.Queue.MaxDelay = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c FileConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "":
	case "sqlite3", "sqlite", "postgres", "pgx":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config: database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Telegram.WebhookURL != "" && c.Telegram.WebhookSecret == "" {
		return fmt.Errorf("config: telegram.webhook_secret is required with telegram.webhook_url")
	}
	return nil
}

func (c FileConfig) HasDatabase() bool {
	return strings.TrimSpace(c.Database.Driver) != ""
}
