package core

import (
	"fmt"
	"strings"
	"time"
)

type MatchingConfig struct {
	Workers   int `koanf:"workers" mapstructure:"workers"`
	ChunkSize int `koanf:"chunk_size" mapstructure:"chunk_size"`
}

type DeliveryConfig struct {
	Workers         int           `koanf:"workers" mapstructure:"workers"`
	Concurrency     int           `koanf:"concurrency" mapstructure:"concurrency"`
	SendTimeout     time.Duration `koanf:"send_timeout" mapstructure:"send_timeout"`
	RedeliveryDelay time.Duration `koanf:"redelivery_delay" mapstructure:"redelivery_delay"`
	MaxRedeliveries int           `koanf:"max_redeliveries" mapstructure:"max_redeliveries"`
	PollInterval    time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
}

type EnrichmentConfig struct {
	Enabled       bool          `koanf:"enabled" mapstructure:"enabled"`
	RetryDelay    time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxInputChars int           `koanf:"max_input_chars" mapstructure:"max_input_chars"`
}

type CacheConfig struct {
	SubscriptionTTL time.Duration `koanf:"subscription_ttl" mapstructure:"subscription_ttl"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Matching    MatchingConfig   `koanf:"matching" mapstructure:"matching"`
	Delivery    DeliveryConfig   `koanf:"delivery" mapstructure:"delivery"`
	Enrichment  EnrichmentConfig `koanf:"enrichment" mapstructure:"enrichment"`
	Cache       CacheConfig      `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "govnotify",
		Matching: MatchingConfig{
			Workers:   4,
			ChunkSize: defaultMatchChunkSize,
		},
		Delivery: DeliveryConfig{
			Workers:         2,
			Concurrency:     8,
			SendTimeout:     10 * time.Second,
			RedeliveryDelay: 30 * time.Second,
			MaxRedeliveries: 20,
			PollInterval:    time.Second,
		},
		Enrichment: EnrichmentConfig{
			Enabled:       true,
			RetryDelay:    DefaultRetryDelay,
			Timeout:       DefaultEnrichmentTimeout,
			MaxInputChars: DefaultMaxInputChars,
		},
		Cache: CacheConfig{
			SubscriptionTTL: 5 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Matching.Workers < 0 || c.Matching.ChunkSize < 0 {
		return fmt.Errorf("core: matching workers and chunk_size must not be negative")
	}
	if c.Delivery.Workers < 0 || c.Delivery.Concurrency < 0 {
		return fmt.Errorf("core: delivery workers and concurrency must not be negative")
	}
	if c.Delivery.SendTimeout < 0 || c.Delivery.RedeliveryDelay < 0 || c.Delivery.PollInterval < 0 {
		return fmt.Errorf("core: delivery durations must not be negative")
	}
	if c.Enrichment.RetryDelay < 0 || c.Enrichment.Timeout < 0 {
		return fmt.Errorf("core: enrichment durations must not be negative")
	}
	return nil
}
