package utils

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	Prefork bool   `yaml:"prefork"`
}

// LoggerConfig controls log output and rotation.
type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// CacheConfig controls the Redis-backed cache for rendered PDFs and the
// rate limiter store.
type CacheConfig struct {
	RedisHost       string        `yaml:"redis_host"`
	PDFCacheDB      int           `yaml:"redis_pdf_db"`
	RateLimitDB     int           `yaml:"redis_rate_db"`
	PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
	PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
}

// RateLimiterConfig controls the per-client request limiter.
type RateLimiterConfig struct {
	Interval          time.Duration `yaml:"interval"`
	UserLimit         int           `yaml:"user_limit"`
	EnableUserLimiter bool          `yaml:"enable_user_limiter"`
}

// DiscogsConfig holds upstream API settings. Token may also come from the
// DISCOGS_USER_TOKEN environment variable; free-text search requires it.
type DiscogsConfig struct {
	APIHost     string `yaml:"api_host"`
	Token       string `yaml:"token"`
	UserAgent   string `yaml:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LabelConfig holds the physical geometry and typography of one track strip.
// All lengths are millimetres, font sizes are points.
type LabelConfig struct {
	StripWidth     float64 `yaml:"strip_width"`
	StripHeight    float64 `yaml:"strip_height"`
	Margin         float64 `yaml:"margin"`
	Font           string  `yaml:"font"`
	AlbumFontSize  float64 `yaml:"album_font_size"`
	ArtistFontSize float64 `yaml:"artist_font_size"`
	TrackFontSize  float64 `yaml:"track_font_size"`
	MinFontSize    float64 `yaml:"min_font_size"`
	CoverSize      float64 `yaml:"cover_size"`
	StripBrackets  bool    `yaml:"strip_brackets"`
	AlternateRows  bool    `yaml:"alternate_rows"`
	ShowTitleBG    bool    `yaml:"show_title_bg"`
	ShowRuler      bool    `yaml:"show_ruler"`
}

// LimitsConfig caps response and upstream payload sizes.
type LimitsConfig struct {
	MaxPDFBytes   int `yaml:"max_pdf_bytes"`
	MaxImageBytes int `yaml:"max_image_bytes"`
}

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Discogs     DiscogsConfig     `yaml:"discogs"`
	Label       LabelConfig       `yaml:"label"`
	Limits      LimitsConfig      `yaml:"limits"`
}

var current struct {
	sync.RWMutex
	cfg Config
}

// LoadConfig reads the YAML configuration from CONFIG_PATH (default
// "config.yaml"), applies defaults and environment overrides, and stores the
// result for later GetConfig calls. A missing file is not an error; the
// defaults describe a working local setup.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	// Defaulting booleans that are on unless the file switches them off.
	cfg.Label.StripBrackets = true
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic("invalid config file " + path + ": " + err.Error())
		}
	}

	applyDefaults(&cfg)

	if v := os.Getenv("DISCOGS_USER_TOKEN"); v != "" {
		cfg.Discogs.Token = v
	}

	current.Lock()
	current.cfg = cfg
	current.Unlock()
	return cfg
}

// GetConfig returns the most recently loaded configuration.
func GetConfig() Config {
	current.RLock()
	defer current.RUnlock()
	return current.cfg
}

// SetConfigForTest replaces the stored configuration. Intended for tests.
func SetConfigForTest(cfg Config) {
	current.Lock()
	current.cfg = cfg
	current.Unlock()
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Cache.RedisHost == "" {
		cfg.Cache.RedisHost = "127.0.0.1:6379"
	}
	if cfg.Cache.PDFCacheTTL <= 0 {
		cfg.Cache.PDFCacheTTL = 24 * time.Hour
	}
	if cfg.RateLimiter.Interval <= 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Discogs.APIHost == "" {
		cfg.Discogs.APIHost = "https://api.discogs.com"
	}
	if cfg.Discogs.UserAgent == "" {
		cfg.Discogs.UserAgent = "cdlabel/1.0 +https://github.com/aplgr/cdlabel"
	}
	if cfg.Discogs.TimeoutSecs <= 0 {
		cfg.Discogs.TimeoutSecs = 10
	}
	if cfg.Label.StripWidth <= 0 {
		cfg.Label.StripWidth = 74
	}
	if cfg.Label.StripHeight <= 0 {
		cfg.Label.StripHeight = 109
	}
	if cfg.Label.Margin <= 0 {
		cfg.Label.Margin = 2
	}
	if cfg.Label.Font == "" {
		cfg.Label.Font = "Helvetica"
	}
	if cfg.Label.AlbumFontSize <= 0 {
		cfg.Label.AlbumFontSize = 14
	}
	if cfg.Label.ArtistFontSize <= 0 {
		cfg.Label.ArtistFontSize = 12
	}
	if cfg.Label.TrackFontSize <= 0 {
		cfg.Label.TrackFontSize = 10
	}
	if cfg.Label.MinFontSize <= 0 {
		cfg.Label.MinFontSize = 6
	}
	if cfg.Label.CoverSize <= 0 {
		cfg.Label.CoverSize = 30
	}
	if cfg.Limits.MaxPDFBytes <= 0 {
		cfg.Limits.MaxPDFBytes = 10 << 20
	}
	if cfg.Limits.MaxImageBytes <= 0 {
		cfg.Limits.MaxImageBytes = 2 << 20
	}
}
