package config

import (
	"fmt"
	"strings"
)

// Config represents the complete configuration for the docpipe application.
// It includes settings for all commands (process, batch, serve) and supports
// loading from configuration files, environment variables, and command-line
// flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Pipeline configuration
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// Error reporting
	Sentry SentryConfig `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
}

// PipelineConfig contains the collaborator endpoints and processing defaults.
type PipelineConfig struct {
	DetectorURL   string  `mapstructure:"detector_url" yaml:"detector_url" json:"detector_url"`
	RecognizerURL string  `mapstructure:"recognizer_url" yaml:"recognizer_url" json:"recognizer_url"`
	ConfThreshold float64 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	IoUThreshold  float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	TimeoutSec    int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	MaxRPS        float64 `mapstructure:"max_rps" yaml:"max_rps" json:"max_rps"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int64           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	MaxImageDim     int             `mapstructure:"max_image_dim" yaml:"max_image_dim" json:"max_image_dim"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains request throttling settings.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	ContinueOnError bool   `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// SentryConfig contains error reporting settings. Reporting is disabled
// when DSN is empty.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// DefaultConfig returns a configuration populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Verbose:  false,
		Pipeline: PipelineConfig{
			DetectorURL:   "http://localhost:8001",
			RecognizerURL: "http://localhost:8002",
			ConfThreshold: 0.5,
			IoUThreshold:  0.45,
			TimeoutSec:    60,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigin:      "*",
			MaxUploadMB:     10,
			MaxImageDim:     2048,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
			},
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: true,
		},
		Sentry: SentryConfig{
			Environment: "production",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.Pipeline.DetectorURL == "" {
		return fmt.Errorf("detector URL must not be empty")
	}
	if c.Pipeline.RecognizerURL == "" {
		return fmt.Errorf("recognizer URL must not be empty")
	}
	if c.Pipeline.ConfThreshold < 0 || c.Pipeline.ConfThreshold > 1 {
		return fmt.Errorf("conf_threshold must be between 0.0 and 1.0, got %v", c.Pipeline.ConfThreshold)
	}
	if c.Pipeline.IoUThreshold < 0 || c.Pipeline.IoUThreshold > 1 {
		return fmt.Errorf("iou_threshold must be between 0.0 and 1.0, got %v", c.Pipeline.IoUThreshold)
	}
	if c.Pipeline.TimeoutSec < 0 {
		return fmt.Errorf("pipeline timeout must not be negative, got %d", c.Pipeline.TimeoutSec)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Server.MaxImageDim <= 0 {
		return fmt.Errorf("max_image_dim must be positive, got %d", c.Server.MaxImageDim)
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch workers must be at least 1, got %d", c.Batch.Workers)
	}

	return nil
}
