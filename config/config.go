package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Deriflow DeriflowConfig `yaml:"deriflow"`
	Channels ChannelsConfig `yaml:"channels"`
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DeriflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	BookBuffer int `yaml:"book_buffer"`
}

// FeedConfig describes the upstream exchange feed connection. Depth and
// update interval are fixed configuration, not negotiated with the feed.
type FeedConfig struct {
	URL          string   `yaml:"url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Depth        int      `yaml:"depth"`
	IntervalMs   int      `yaml:"interval_ms"`
	Instruments  []string `yaml:"instruments"`
}

type APIConfig struct {
	URL            string               `yaml:"url"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// ServerConfig describes the downstream broadcast server. SendBuffer is
// the per-session outbound queue depth; a session that overflows it is
// disconnected rather than allowed to stall the broadcast path.
type ServerConfig struct {
	Address    string `yaml:"address"`
	SendBuffer int    `yaml:"send_buffer"`
	Welcome    string `yaml:"welcome"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{BookBuffer: 1024},
		Server:   ServerConfig{SendBuffer: 256},
		Feed:     FeedConfig{Depth: 10, IntervalMs: 100},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when present so secrets stay
	// out of checked-in configuration files.
	if v := os.Getenv("DERIBIT_CLIENT_ID"); v != "" {
		config.Feed.ClientID = strings.TrimSpace(v)
	}
	if v := os.Getenv("DERIBIT_CLIENT_SECRET"); v != "" {
		config.Feed.ClientSecret = strings.TrimSpace(v)
	}
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Deriflow.Name == "" {
		return fmt.Errorf("deriflow.name is required")
	}

	if cfg.Deriflow.Version == "" {
		return fmt.Errorf("deriflow.version is required")
	}

	if cfg.Channels.BookBuffer <= 0 {
		return fmt.Errorf("channels.book_buffer must be greater than 0")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if cfg.Feed.Depth <= 0 {
		return fmt.Errorf("feed.depth must be greater than 0")
	}

	if cfg.Feed.IntervalMs <= 0 {
		return fmt.Errorf("feed.interval_ms must be greater than 0")
	}

	if cfg.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}

	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 10 * time.Second
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be greater than 0")
	}

	return nil
}
