// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "VODARR"

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultProbeTimeout        = 2 * time.Minute
	defaultAdmissionTimeout    = 10 * time.Second
	defaultFirstSegmentTimeout = 30 * time.Second
	defaultSegmentDuration     = 4 * time.Second
	defaultIdleTTL             = 2 * time.Minute
	defaultSweepSchedule       = "@every 30s"
	defaultSeekEpsilon         = 2 * time.Second
	defaultSegmentWait         = 10 * time.Second
	defaultOrphanMaxAge        = time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Streaming StreamingConfig `mapstructure:"streaming"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	// WorkDir holds per-session segment directories. Relative paths are
	// resolved against BaseDir.
	WorkDir      string        `mapstructure:"work_dir"`
	OrphanMaxAge time.Duration `mapstructure:"orphan_max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary and capability detection configuration.
type FFmpegConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string        `mapstructure:"probe_path"`       // Path to ffprobe binary (empty = auto-detect)
	HWAccel         string        `mapstructure:"hwaccel"`          // auto or none
	HWAccelPriority []string      `mapstructure:"hwaccel_priority"` // Preference order for hardware encoders
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
}

// StreamingConfig holds session and transcode orchestration configuration.
type StreamingConfig struct {
	// MaxConcurrentEncodes bounds concurrently running encode processes.
	// 0 uses the concurrency hint of the detected encoder profile.
	MaxConcurrentEncodes int           `mapstructure:"max_concurrent_encodes"`
	AdmissionTimeout     time.Duration `mapstructure:"admission_timeout"`
	FirstSegmentTimeout  time.Duration `mapstructure:"first_segment_timeout"`
	SegmentDuration      time.Duration `mapstructure:"segment_duration"`
	IdleTTL              time.Duration `mapstructure:"idle_ttl"`
	SweepSchedule        string        `mapstructure:"sweep_schedule"`
	// SeekEpsilon is the distance under which a seek on a live session is a no-op.
	SeekEpsilon    time.Duration `mapstructure:"seek_epsilon"`
	SegmentWait    time.Duration `mapstructure:"segment_wait"`
	VerifySegments bool          `mapstructure:"verify_segments"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VODARR_ and use underscores for nesting.
// Example: VODARR_STREAMING_IDLE_TTL=5m.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration from an already prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.work_dir", "sessions")
	v.SetDefault("storage.orphan_max_age", defaultOrphanMaxAge)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel", "auto")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"nvenc", "qsv", "videotoolbox", "vaapi"})
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	// Streaming defaults
	v.SetDefault("streaming.max_concurrent_encodes", 0)
	v.SetDefault("streaming.admission_timeout", defaultAdmissionTimeout)
	v.SetDefault("streaming.first_segment_timeout", defaultFirstSegmentTimeout)
	v.SetDefault("streaming.segment_duration", defaultSegmentDuration)
	v.SetDefault("streaming.idle_ttl", defaultIdleTTL)
	v.SetDefault("streaming.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("streaming.seek_epsilon", defaultSeekEpsilon)
	v.SetDefault("streaming.segment_wait", defaultSegmentWait)
	v.SetDefault("streaming.verify_segments", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.WorkDir == "" {
		return fmt.Errorf("storage.work_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validAccel := map[string]bool{"auto": true, "none": true}
	if !validAccel[c.FFmpeg.HWAccel] {
		return fmt.Errorf("ffmpeg.hwaccel must be one of: auto, none")
	}

	return c.Streaming.Validate()
}

// Validate checks the streaming configuration for errors.
func (s *StreamingConfig) Validate() error {
	if s.MaxConcurrentEncodes < 0 {
		return fmt.Errorf("streaming.max_concurrent_encodes must not be negative")
	}
	if s.AdmissionTimeout <= 0 {
		return fmt.Errorf("streaming.admission_timeout must be positive")
	}
	if s.FirstSegmentTimeout <= 0 {
		return fmt.Errorf("streaming.first_segment_timeout must be positive")
	}
	if s.SegmentDuration < time.Second {
		return fmt.Errorf("streaming.segment_duration must be at least 1s")
	}
	if s.IdleTTL <= 0 {
		return fmt.Errorf("streaming.idle_ttl must be positive")
	}
	if s.SeekEpsilon < 0 {
		return fmt.Errorf("streaming.seek_epsilon must not be negative")
	}
	if _, err := cron.ParseStandard(s.SweepSchedule); err != nil {
		return fmt.Errorf("streaming.sweep_schedule is invalid: %w", err)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkPath returns the directory holding per-session segment directories.
func (c *StorageConfig) WorkPath() string {
	if filepath.IsAbs(c.WorkDir) {
		return c.WorkDir
	}
	return filepath.Join(c.BaseDir, c.WorkDir)
}
