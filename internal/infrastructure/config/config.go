package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration. It is loaded once at process
// start and handed to components as plain values; nothing reads it through
// shared global state afterwards.
type Config struct {
	Access  AccessConfig  `yaml:"access"`
	Cache   CacheConfig   `yaml:"cache"`
	Server  ServerConfig  `yaml:"server"`
	Logging LogConfig     `yaml:"logging"`
}

// AccessConfig holds URL allow-list configuration.
type AccessConfig struct {
	Enabled     bool     `envconfig:"ACCESS_ENABLED" yaml:"enabled"`
	AllowedURLs []string `envconfig:"ACCESS_ALLOWED_URLS" yaml:"allowed_urls"`
}

// CacheConfig holds resource cache configuration.
type CacheConfig struct {
	Dir              string  `envconfig:"CACHE_DIR" yaml:"dir"`
	MaxAgeHours      int     `envconfig:"CACHE_MAX_AGE_HOURS" yaml:"max_age_hours"`
	StaleWindowHours int     `envconfig:"CACHE_STALE_WINDOW_HOURS" yaml:"stale_window_hours"`
	MaxDiskMB        int     `envconfig:"CACHE_MAX_DISK_MB" yaml:"max_disk_mb"`
	MemoryFraction   float64 `envconfig:"CACHE_MEMORY_FRACTION" yaml:"memory_fraction"`
	HeapBudgetMB     int     `envconfig:"CACHE_HEAP_BUDGET_MB" yaml:"heap_budget_mb"`
}

// MaxAge returns the freshness window as a duration.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// StaleWindow returns the stale-while-revalidate window as a duration.
func (c CacheConfig) StaleWindow() time.Duration {
	return time.Duration(c.StaleWindowHours) * time.Hour
}

// MaxDiskBytes returns the disk tier quota in bytes.
func (c CacheConfig) MaxDiskBytes() int64 {
	return int64(c.MaxDiskMB) * 1024 * 1024
}

// ServerConfig holds delivery server configuration.
type ServerConfig struct {
	PortRangeStart       int      `envconfig:"SERVER_PORT_RANGE_START" yaml:"port_range_start"`
	PortRangeEnd         int      `envconfig:"SERVER_PORT_RANGE_END" yaml:"port_range_end"`
	FileTTLMinutes       int      `envconfig:"SERVER_FILE_TTL_MINUTES" yaml:"file_ttl_minutes"`
	SweepIntervalMinutes int      `envconfig:"SERVER_SWEEP_INTERVAL_MINUTES" yaml:"sweep_interval_minutes"`
	MaxConnections       int      `envconfig:"SERVER_MAX_CONNECTIONS" yaml:"max_connections"`
	ConnTimeoutSeconds   int      `envconfig:"SERVER_CONN_TIMEOUT_SECONDS" yaml:"conn_timeout_seconds"`
	AllowedRoots         []string `envconfig:"SERVER_ALLOWED_ROOTS" yaml:"allowed_roots"`
}

// FileTTL returns how long a registered file stays served.
func (c ServerConfig) FileTTL() time.Duration {
	return time.Duration(c.FileTTLMinutes) * time.Minute
}

// SweepInterval returns the period of the expiry sweep.
func (c ServerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// ConnTimeout returns the per-connection read/write timeout.
func (c ServerConfig) ConnTimeout() time.Duration {
	return time.Duration(c.ConnTimeoutSeconds) * time.Second
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// Default returns default configuration. Defaults live here, not in
// envconfig tags, so the YAML overlay sits between defaults and
// environment in precedence order.
func Default() *Config {
	cacheDir := "gateway-cache"
	if base, err := os.UserCacheDir(); err == nil {
		cacheDir = base + string(os.PathSeparator) + "gateway"
	}
	return &Config{
		Access: AccessConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			Dir:              cacheDir,
			MaxAgeHours:      24,
			StaleWindowHours: 24,
			MaxDiskMB:        100,
			MemoryFraction:   0.1,
			HeapBudgetMB:     256,
		},
		Server: ServerConfig{
			PortRangeStart:       42750,
			PortRangeEnd:         42779,
			FileTTLMinutes:       30,
			SweepIntervalMinutes: 5,
			MaxConnections:       10,
			ConnTimeoutSeconds:   30,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load builds the configuration in precedence order: defaults, then the
// optional YAML overlay file, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if c.Server.PortRangeStart <= 0 || c.Server.PortRangeEnd > 65535 {
		return fmt.Errorf("port range %d-%d out of bounds", c.Server.PortRangeStart, c.Server.PortRangeEnd)
	}
	if c.Server.PortRangeEnd < c.Server.PortRangeStart {
		return fmt.Errorf("port range end %d before start %d", c.Server.PortRangeEnd, c.Server.PortRangeStart)
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", c.Server.MaxConnections)
	}
	if c.Cache.MaxDiskMB <= 0 {
		return fmt.Errorf("cache disk quota must be positive, got %d MB", c.Cache.MaxDiskMB)
	}
	if c.Cache.MaxAgeHours < 0 || c.Cache.StaleWindowHours < 0 {
		return fmt.Errorf("cache freshness windows cannot be negative")
	}
	if c.Cache.MemoryFraction <= 0 || c.Cache.MemoryFraction > 1 {
		return fmt.Errorf("memory fraction must be in (0,1], got %v", c.Cache.MemoryFraction)
	}
	if c.Cache.HeapBudgetMB <= 0 {
		return fmt.Errorf("heap budget must be positive, got %d MB", c.Cache.HeapBudgetMB)
	}
	return nil
}
