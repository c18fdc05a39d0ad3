package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// HTTP server settings
	HTTP struct {
		Address     string        `yaml:"address"`
		Port        string        `yaml:"port"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
		// WriteTimeout bounds each write of a proxied body, not the whole
		// response. 0 disables the deadline.
		WriteTimeout time.Duration `yaml:"write_timeout"`
		// PublicURL overrides the scheme and host used in rewritten playlists
		// when the service runs behind another proxy.
		PublicURL string `yaml:"public_url"`
	} `yaml:"http"`

	// Playlist rewriting settings
	HLS struct {
		ContentRouting   string `yaml:"content_routing"`
		StremioProxyURL  string `yaml:"stremio_proxy_url"`
		StreamingRewrite bool   `yaml:"streaming_rewrite"`
		EncryptionKey    string `yaml:"encryption_key"`
	} `yaml:"hls"`

	// Origin fetch settings
	Upstream struct {
		Timeout      time.Duration `yaml:"timeout"`
		MaxRedirects int           `yaml:"max_redirects"`
		UserAgent    string        `yaml:"user_agent"`
	} `yaml:"upstream"`

	// Segment prebuffering settings
	Prebuffer struct {
		Enabled        bool          `yaml:"enabled"`
		QueueSize      int           `yaml:"queue_size"`
		Workers        int           `yaml:"workers"`
		Segments       int           `yaml:"segments"`
		RateLimit      int           `yaml:"rate_limit"`
		DedupeWindow   time.Duration `yaml:"dedupe_window"`
		SegmentTTL     time.Duration `yaml:"segment_ttl"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		MaxSegmentSize int           `yaml:"max_segment_size"`
		DBPath         string        `yaml:"db_path"`
	} `yaml:"prebuffer"`

	// Resilience settings (embedded)
	Resilience ResilienceConfig `yaml:"resilience"`
}

var contentRoutings = map[string]bool{
	"proxy":   true,
	"direct":  true,
	"stremio": true,
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Address == "" {
		errs = append(errs, "HTTP address is required")
	}
	if c.HTTP.Port == "" {
		errs = append(errs, "HTTP port is required")
	}
	if c.HTTP.ReadTimeout <= 0 {
		errs = append(errs, "HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout < 0 {
		errs = append(errs, "HTTP write timeout must not be negative")
	}
	if c.HTTP.PublicURL != "" {
		if u, err := url.Parse(c.HTTP.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "Public URL must be an absolute URL")
		}
	}

	if !contentRoutings[c.HLS.ContentRouting] {
		errs = append(errs, "Content routing must be one of: proxy, direct, stremio")
	}
	if c.HLS.StremioProxyURL != "" {
		if u, err := url.Parse(c.HLS.StremioProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "Stremio proxy URL must be an absolute URL")
		}
	}

	if c.Upstream.Timeout <= 0 {
		errs = append(errs, "Upstream timeout must be positive")
	}
	if c.Upstream.MaxRedirects < 0 {
		errs = append(errs, "Upstream max redirects must not be negative")
	}

	if c.Prebuffer.Enabled {
		if c.Prebuffer.QueueSize <= 0 {
			errs = append(errs, "Prebuffer queue size must be positive")
		}
		if c.Prebuffer.Workers <= 0 {
			errs = append(errs, "Prebuffer workers must be positive")
		}
		if c.Prebuffer.Segments <= 0 {
			errs = append(errs, "Prebuffer segments must be positive")
		}
		if c.Prebuffer.RateLimit <= 0 {
			errs = append(errs, "Prebuffer rate limit must be positive")
		}
		if c.Prebuffer.SegmentTTL <= 0 {
			errs = append(errs, "Segment TTL must be positive")
		}
		if c.Prebuffer.SweepInterval <= 0 {
			errs = append(errs, "Segment sweep interval must be positive")
		}
		if c.Prebuffer.MaxSegmentSize <= 0 {
			errs = append(errs, "Max segment size must be positive")
		}
		if c.Prebuffer.DBPath == "" {
			errs = append(errs, "Database path is required when prebuffering is enabled")
		}
	}

	if err := c.Resilience.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("Resilience config: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Default returns a Config with sensible default values
func Default() *Config {
	cfg := &Config{}

	cfg.HTTP.Address = "0.0.0.0"
	cfg.HTTP.Port = "8888"
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.WriteTimeout = 10 * time.Second

	cfg.HLS.ContentRouting = "proxy"
	cfg.HLS.StreamingRewrite = true

	cfg.Upstream.Timeout = 30 * time.Second
	cfg.Upstream.MaxRedirects = 10

	cfg.Prebuffer.Enabled = false
	cfg.Prebuffer.QueueSize = 64
	cfg.Prebuffer.Workers = 4
	cfg.Prebuffer.Segments = 3
	cfg.Prebuffer.RateLimit = 20 // segments per second
	cfg.Prebuffer.DedupeWindow = 10 * time.Second
	cfg.Prebuffer.SegmentTTL = 2 * time.Minute
	cfg.Prebuffer.SweepInterval = 30 * time.Second
	cfg.Prebuffer.MaxSegmentSize = 16 * 1024 * 1024 // 16MB
	cfg.Prebuffer.DBPath = "segments.db"

	cfg.Resilience = *DefaultResilienceConfig()

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Load loads configuration from a file (if provided), the .env file (if
// present) and applies environment variable overrides
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// Variables already set in the process environment win over .env
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	p := &envParser{}

	p.parseString("HTTP_ADDRESS", &cfg.HTTP.Address)
	p.parseString("HTTP_PORT", &cfg.HTTP.Port)
	p.parseDuration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	p.parseDuration("HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)
	p.parseDuration("STREAM_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	p.parseString("PUBLIC_URL", &cfg.HTTP.PublicURL)

	p.parseLowerEnum("M3U8_CONTENT_ROUTING", &cfg.HLS.ContentRouting, contentRoutings)
	p.parseString("STREMIO_PROXY_URL", &cfg.HLS.StremioProxyURL)
	p.parseBool("STREAMING_REWRITE", &cfg.HLS.StreamingRewrite)
	p.parseString("ENCRYPTION_KEY", &cfg.HLS.EncryptionKey)

	p.parseDuration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	p.parseString("UPSTREAM_USER_AGENT", &cfg.Upstream.UserAgent)

	p.parseBool("ENABLE_HLS_PREBUFFER", &cfg.Prebuffer.Enabled)
	p.parseInt("PREBUFFER_WORKERS", &cfg.Prebuffer.Workers)
	p.parseInt("PREBUFFER_SEGMENTS", &cfg.Prebuffer.Segments)
	p.parseInt("PREBUFFER_QUEUE_SIZE", &cfg.Prebuffer.QueueSize)
	p.parseInt("PREBUFFER_RATE_LIMIT", &cfg.Prebuffer.RateLimit)
	p.parseDuration("PREBUFFER_DEDUPE_WINDOW", &cfg.Prebuffer.DedupeWindow)
	p.parseByteSize("PREBUFFER_MAX_SEGMENT_SIZE", &cfg.Prebuffer.MaxSegmentSize)
	p.parseDuration("SEGMENT_TTL", &cfg.Prebuffer.SegmentTTL)
	if val := os.Getenv("DB_PATH"); val != "" {
		absPath, err := validateDBPath(val)
		if err != nil {
			p.errors = append(p.errors, fmt.Sprintf("DB_PATH: %v", err))
		} else {
			cfg.Prebuffer.DBPath = absPath
		}
	}

	if len(p.errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(p.errors, "\n  - "))
	}

	resCfg, err := LoadFromEnv(cfg.Resilience)
	if err != nil {
		return fmt.Errorf("failed to load resilience config: %w", err)
	}
	cfg.Resilience = *resCfg

	return nil
}

// validateDBPath validates and normalizes the database file path
func validateDBPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("database path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path for database: %w", err)
		}
		return absPath, nil
	}

	return path, nil
}

// LogArgs lists the effective settings as slog attributes. The encryption
// key itself is never included.
func (c *Config) LogArgs() []any {
	return []any{
		"http_address", c.HTTP.Address,
		"http_port", c.HTTP.Port,
		"public_url", c.HTTP.PublicURL,
		"stream_write_timeout", c.HTTP.WriteTimeout.String(),
		"content_routing", c.HLS.ContentRouting,
		"stremio_proxy_url", c.HLS.StremioProxyURL,
		"streaming_rewrite", c.HLS.StreamingRewrite,
		"encryption_enabled", c.HLS.EncryptionKey != "",
		"upstream_timeout", c.Upstream.Timeout.String(),
		"prebuffer_enabled", c.Prebuffer.Enabled,
		"prebuffer_workers", c.Prebuffer.Workers,
		"prebuffer_segments", c.Prebuffer.Segments,
		"segment_ttl", c.Prebuffer.SegmentTTL.String(),
		"db_path", c.Prebuffer.DBPath,
		"log_level", c.Resilience.LogLevel,
	}
}
