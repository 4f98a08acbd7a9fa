package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Pool      PoolConfig      `yaml:"pool"`
	Stream    StreamConfig    `yaml:"stream"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port        int           `yaml:"port" envconfig:"SERVER_PORT" default:"3021"`
	BaseURL     string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:3021"`
	APIKey      string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	// WriteTimeout covers the whole streamed response, so it is generous.
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"10m"`
}

// CryptoConfig holds the token codec configuration.
type CryptoConfig struct {
	Key        string        `yaml:"key" envconfig:"ENCRYPTION_KEY"`
	DefaultTTL time.Duration `yaml:"default_ttl" envconfig:"TOKEN_DEFAULT_TTL" default:"6h"`
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Capacity int `yaml:"capacity" envconfig:"POOL_CAPACITY" default:"20"`
	// AcquireTimeout of zero queues submissions indefinitely instead of
	// rejecting them.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" envconfig:"POOL_ACQUIRE_TIMEOUT" default:"0"`
}

// StreamConfig holds the stream bridge tuning knobs. Worst-case memory per
// stream is roughly QueueCapacity * ChunkSize; times PoolCapacity that has to
// fit the deployment's memory budget.
type StreamConfig struct {
	QueueCapacity int           `yaml:"queue_capacity" envconfig:"STREAM_QUEUE_CAPACITY" default:"20"`
	ChunkSize     int           `yaml:"chunk_size" envconfig:"STREAM_CHUNK_SIZE" default:"65536"`
	StallTimeout  time.Duration `yaml:"stall_timeout" envconfig:"STREAM_STALL_TIMEOUT" default:"30s"`
	UserAgent     string        `yaml:"user_agent" envconfig:"STREAM_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
}

// ExtractorConfig holds yt-dlp extraction configuration.
type ExtractorConfig struct {
	BinaryPath  string        `yaml:"binary_path" envconfig:"YTDLP_PATH" default:"yt-dlp"`
	CookiesPath string        `yaml:"cookies_path" envconfig:"COOKIES_PATH"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"YTDLP_TIMEOUT" default:"30s"`
}

// CacheConfig holds the extraction metadata cache configuration. Only
// extraction results are cached, never media bytes.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"CACHE_ENABLED" default:"false"`
	Path    string        `yaml:"path" envconfig:"CACHE_PATH" default:"./streamrelay-cache.db"`
	TTL     time.Duration `yaml:"ttl" envconfig:"CACHE_TTL" default:"5m"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and sane.
func (c *Config) Validate() error {
	if c.Crypto.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.Crypto.DefaultTTL <= 0 {
		return fmt.Errorf("TOKEN_DEFAULT_TTL must be positive")
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("POOL_CAPACITY must be positive")
	}
	if c.Stream.QueueCapacity <= 0 {
		return fmt.Errorf("STREAM_QUEUE_CAPACITY must be positive")
	}
	if c.Stream.ChunkSize < 1024 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be at least 1KB")
	}
	if c.Stream.StallTimeout <= 0 {
		return fmt.Errorf("STREAM_STALL_TIMEOUT must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
