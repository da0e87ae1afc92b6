package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/storage"
	"github.com/vjranagit/patternsearch/pkg/storage/influx"
)

// EnvPrefix prefixes every environment override, e.g.
// PATTERNSEARCH_STORAGE_PATH for storage.path
const EnvPrefix = "PATTERNSEARCH"

// Storage backends
const (
	BackendBadger = "badger"
	BackendInflux = "influx"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	Cache   CacheConfig   `mapstructure:"cache" json:"cache"`
	Search  SearchConfig  `mapstructure:"search" json:"search"`
	Influx  InfluxConfig  `mapstructure:"influx" json:"influx"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr" json:"listen_addr"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval" json:"batch_interval"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Backend          string `mapstructure:"backend" json:"backend"`
	Path             string `mapstructure:"path" json:"path"`
	RetentionDays    int    `mapstructure:"retention_days" json:"retention_days"`
	CompressionLevel int    `mapstructure:"compression_level" json:"compression_level"`
	EnableWAL        bool   `mapstructure:"enable_wal" json:"enable_wal"`
	InMemory         bool   `mapstructure:"in_memory" json:"in_memory"`
}

// CacheConfig holds range cache configuration
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Capacity int           `mapstructure:"capacity" json:"capacity"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
}

// SearchConfig holds the defaults of pattern searches
type SearchConfig struct {
	Resolution    time.Duration `mapstructure:"resolution" json:"resolution"`
	ResultSize    int           `mapstructure:"result_size" json:"result_size"`
	Workers       int           `mapstructure:"workers" json:"workers"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`
	FetchRate     float64       `mapstructure:"fetch_rate" json:"fetch_rate"`
	ExactDTW      bool          `mapstructure:"exact_dtw" json:"exact_dtw"`
	MaxExactCells int64         `mapstructure:"max_exact_cells" json:"max_exact_cells"`
	Radius        int           `mapstructure:"radius" json:"radius"`
}

// InfluxConfig holds InfluxDB connection settings
type InfluxConfig struct {
	URL     string        `mapstructure:"url" json:"url"`
	Token   string        `mapstructure:"token" json:"-"`
	Org     string        `mapstructure:"org" json:"org"`
	Bucket  string        `mapstructure:"bucket" json:"bucket"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:    ":9090",
			Timeout:       30 * time.Second,
			BatchSize:     100,
			BatchInterval: time.Second,
		},
		Storage: StorageConfig{
			Backend:          BackendBadger,
			Path:             "./data",
			RetentionDays:    0,
			CompressionLevel: 3,
			EnableWAL:        true,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 1024,
			TTL:      5 * time.Minute,
		},
		Search: SearchConfig{
			Resolution:    time.Second,
			ResultSize:    search.DefaultResultSize,
			Workers:       4,
			FetchTimeout:  30 * time.Second,
			ExactDTW:      true,
			MaxExactCells: 4_000_000,
			Radius:        1,
		},
		Influx: InfluxConfig{
			URL:     "http://localhost:8086",
			Org:     "patternsearch",
			Bucket:  "sensors",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers the defaults with v so that every key can be
// overridden from a config file or the environment
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.batch_size", d.Server.BatchSize)
	v.SetDefault("server.batch_interval", d.Server.BatchInterval)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.retention_days", d.Storage.RetentionDays)
	v.SetDefault("storage.compression_level", d.Storage.CompressionLevel)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("search.resolution", d.Search.Resolution)
	v.SetDefault("search.result_size", d.Search.ResultSize)
	v.SetDefault("search.workers", d.Search.Workers)
	v.SetDefault("search.fetch_timeout", d.Search.FetchTimeout)
	v.SetDefault("search.fetch_rate", d.Search.FetchRate)
	v.SetDefault("search.exact_dtw", d.Search.ExactDTW)
	v.SetDefault("search.max_exact_cells", d.Search.MaxExactCells)
	v.SetDefault("search.radius", d.Search.Radius)

	v.SetDefault("influx.url", d.Influx.URL)
	v.SetDefault("influx.token", d.Influx.Token)
	v.SetDefault("influx.org", d.Influx.Org)
	v.SetDefault("influx.bucket", d.Influx.Bucket)
	v.SetDefault("influx.timeout", d.Influx.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// BindEnv makes v read PATTERNSEARCH_SECTION_KEY variables
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
		InMemory:         c.Storage.InMemory,
	}
}

// ToInfluxConfig converts to influx.Config
func (c *Config) ToInfluxConfig() influx.Config {
	return influx.Config{
		URL:     c.Influx.URL,
		Token:   c.Influx.Token,
		Org:     c.Influx.Org,
		Bucket:  c.Influx.Bucket,
		Timeout: c.Influx.Timeout,
	}
}

// ToSearchOptions converts to search.Options
func (c *Config) ToSearchOptions(logger *slog.Logger) *search.Options {
	return &search.Options{
		Workers:       c.Search.Workers,
		FetchTimeout:  c.Search.FetchTimeout,
		FetchRate:     c.Search.FetchRate,
		Radius:        c.Search.Radius,
		MaxExactCells: c.Search.MaxExactCells,
		Probe:         search.StaticProbe(c.Search.ExactDTW),
		Logger:        logger,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return fmt.Errorf("storage path is required")
		}
		if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
			return fmt.Errorf("compression level must be between 1 and 4")
		}
	case BackendInflux:
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx url, org and bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}

	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1")
	}

	if c.Search.Resolution <= 0 {
		return fmt.Errorf("search resolution must be positive")
	}
	if c.Search.ResultSize < 1 {
		return fmt.Errorf("search result size must be at least 1")
	}
	if c.Search.Workers < 1 {
		return fmt.Errorf("search workers must be at least 1")
	}
	if c.Search.Radius < 1 {
		return fmt.Errorf("FastDTW radius must be at least 1")
	}
	if c.Search.FetchRate < 0 {
		return fmt.Errorf("fetch rate cannot be negative")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// NewLogger builds the slog logger described by the config
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
