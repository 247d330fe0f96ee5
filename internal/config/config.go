// Package config provides configuration management for hlsvault using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/hlsvault/hlsvault/pkg/bytesize"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	defaultMaxSegmentBytes    = 15 * bytesize.MB
	defaultMinSegmentDuration = 2 * time.Second
	defaultMaxSegmentDuration = 30 * time.Second
	defaultPlanBudget         = 10 * time.Minute

	defaultCacheSize            = 512 * bytesize.MB
	defaultCacheTTL             = 300 * time.Second
	defaultPreloadSegments      = 5
	defaultMaxConcurrentPreload = 4

	defaultUploadConcurrency = 4
	defaultUploadRetries     = 3

	defaultUploadTimeout   = 10 * time.Minute
	defaultDownloadTimeout = 5 * time.Minute
	defaultInfoTimeout     = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database DatabaseConfig  `mapstructure:"database"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Segment  SegmentConfig   `mapstructure:"segment"`
	Cache    CacheConfig     `mapstructure:"cache"`
	Upload   UploadConfig    `mapstructure:"upload"`
	Blob     BlobConfig      `mapstructure:"blob"`
	FFmpeg   FFmpegConfig    `mapstructure:"ffmpeg"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	PublicDomain    string        `mapstructure:"public_domain"`
	ForceHTTPS      bool          `mapstructure:"force_https"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the embedded database configuration.
type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	ScratchDir string `mapstructure:"scratch_dir"` // empty = {data_dir}/scratch
	CacheDir   string `mapstructure:"cache_dir"`   // empty = {data_dir}/cache
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// SegmentConfig holds segment planning configuration.
type SegmentConfig struct {
	// MaxBytes is the per-segment size cap. Must not exceed the platform
	// per-file upload limit. Supports human-readable values like "15MB".
	MaxBytes    ByteSize      `mapstructure:"max_bytes"`
	MinDuration time.Duration `mapstructure:"min_duration"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	// PlanBudget bounds the optimal-duration search wall clock.
	PlanBudget time.Duration `mapstructure:"plan_budget"`
}

// CacheConfig holds segment cache configuration.
type CacheConfig struct {
	Type                 string        `mapstructure:"type"` // memory, disk
	Size                 ByteSize      `mapstructure:"size"`
	TTL                  time.Duration `mapstructure:"ttl"` // 0 disables TTL eviction
	PreloadSegments      int           `mapstructure:"preload_segments"`
	MaxConcurrentPreload int           `mapstructure:"max_concurrent_preloads"`
}

// UploadConfig holds segment upload distribution configuration.
type UploadConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	Retries     int `mapstructure:"retries"`
}

// BlobConfig holds remote blob platform client configuration.
type BlobConfig struct {
	// APIBase is the bot API endpoint. Override for self-hosted gateways
	// and tests.
	APIBase         string        `mapstructure:"api_base"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	InfoTimeout     time.Duration `mapstructure:"info_timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath    string `mapstructure:"binary_path"` // empty = look up in PATH
	ProbePath     string `mapstructure:"probe_path"`  // empty = look up in PATH
	HardwareAccel string `mapstructure:"hardware_accel"`
}

// AccountConfig is one credentialed identity on the blob platform.
// Account IDs are assigned by position: account index i gets ID "account_{i+1}".
type AccountConfig struct {
	Token  string `mapstructure:"token"`
	ChatID string `mapstructure:"chat_id"`
}

// Load reads configuration from file and environment variables.
// Environment variables are prefixed with HLSVAULT_ and use underscores for
// nesting, e.g. HLSVAULT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hlsvault")
		v.AddConfigPath("$HOME/.hlsvault")
	}

	v.SetEnvPrefix("HLSVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine - defaults plus env vars.
	}

	var cfg Config
	// The hook composition replaces viper's default, so the duration and
	// slice hooks ride along with the TextUnmarshaler one ByteSize needs.
	decodeHooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHooks); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.public_domain", "")
	v.SetDefault("server.force_https", false)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // streaming responses must not be cut off
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.path", "hlsvault.db")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.scratch_dir", "")
	v.SetDefault("storage.cache_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("segment.max_bytes", int64(defaultMaxSegmentBytes))
	v.SetDefault("segment.min_duration", defaultMinSegmentDuration)
	v.SetDefault("segment.max_duration", defaultMaxSegmentDuration)
	v.SetDefault("segment.plan_budget", defaultPlanBudget)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.size", int64(defaultCacheSize))
	v.SetDefault("cache.ttl", defaultCacheTTL)
	v.SetDefault("cache.preload_segments", defaultPreloadSegments)
	v.SetDefault("cache.max_concurrent_preloads", defaultMaxConcurrentPreload)

	v.SetDefault("upload.concurrency", defaultUploadConcurrency)
	v.SetDefault("upload.retries", defaultUploadRetries)

	v.SetDefault("blob.api_base", "https://api.telegram.org")
	v.SetDefault("blob.upload_timeout", defaultUploadTimeout)
	v.SetDefault("blob.download_timeout", defaultDownloadTimeout)
	v.SetDefault("blob.info_timeout", defaultInfoTimeout)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hardware_accel", "none")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Segment.MaxBytes <= 0 {
		return fmt.Errorf("segment.max_bytes must be positive")
	}
	if c.Segment.MinDuration < time.Second {
		return fmt.Errorf("segment.min_duration must be at least 1s")
	}
	if c.Segment.MaxDuration < c.Segment.MinDuration {
		return fmt.Errorf("segment.max_duration must be >= segment.min_duration")
	}

	if c.Cache.Type != "memory" && c.Cache.Type != "disk" {
		return fmt.Errorf("cache.type must be one of: memory, disk")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive")
	}
	if c.Cache.PreloadSegments < 0 {
		return fmt.Errorf("cache.preload_segments must not be negative")
	}
	if c.Cache.MaxConcurrentPreload < 1 {
		return fmt.Errorf("cache.max_concurrent_preloads must be at least 1")
	}

	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1")
	}
	if c.Upload.Retries < 0 {
		return fmt.Errorf("upload.retries must not be negative")
	}

	for i, acc := range c.Accounts {
		if acc.Token == "" {
			return fmt.Errorf("accounts[%d].token is required", i)
		}
		if acc.ChatID == "" {
			return fmt.Errorf("accounts[%d].chat_id is required", i)
		}
	}

	return nil
}

// RequireAccounts returns an error unless at least one account is configured.
// Commands that upload or download call this after Load.
func (c *Config) RequireAccounts() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ScratchPath returns the scratch directory for ingest jobs.
func (c *StorageConfig) ScratchPath() string {
	if c.ScratchDir != "" {
		return c.ScratchDir
	}
	return fmt.Sprintf("%s/scratch", c.DataDir)
}

// CachePath returns the on-disk cache directory.
func (c *StorageConfig) CachePath() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return fmt.Sprintf("%s/cache", c.DataDir)
}
