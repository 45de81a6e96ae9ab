package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIsolatedLoader() *Loader {
	// A fresh viper instance keeps tests from polluting the global one.
	return &Loader{v: viper.New()}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://localhost:8001", cfg.Pipeline.DetectorURL)
	assert.Equal(t, "http://localhost:8002", cfg.Pipeline.RecognizerURL)
	assert.InDelta(t, 0.5, cfg.Pipeline.ConfThreshold, 1e-9)
	assert.InDelta(t, 0.45, cfg.Pipeline.IoUThreshold, 1e-9)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.Workers)

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "empty detector url",
			mutate:  func(c *Config) { c.Pipeline.DetectorURL = "" },
			wantErr: "detector URL",
		},
		{
			name:    "empty recognizer url",
			mutate:  func(c *Config) { c.Pipeline.RecognizerURL = "" },
			wantErr: "recognizer URL",
		},
		{
			name:    "conf threshold above one",
			mutate:  func(c *Config) { c.Pipeline.ConfThreshold = 1.2 },
			wantErr: "conf_threshold",
		},
		{
			name:    "negative iou threshold",
			mutate:  func(c *Config) { c.Pipeline.IoUThreshold = -0.1 },
			wantErr: "iou_threshold",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server port",
		},
		{
			name:    "zero upload limit",
			mutate:  func(c *Config) { c.Server.MaxUploadMB = 0 },
			wantErr: "max_upload_mb",
		},
		{
			name:    "zero batch workers",
			mutate:  func(c *Config) { c.Batch.Workers = 0 },
			wantErr: "batch workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoader_Load_Defaults(t *testing.T) {
	loader := newIsolatedLoader()

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", cfg.Pipeline.DetectorURL)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoader_LoadWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docpipe.yaml")
	content := `
log_level: debug
pipeline:
  detector_url: http://detector:9001
  conf_threshold: 0.7
server:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := newIsolatedLoader()
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://detector:9001", cfg.Pipeline.DetectorURL)
	assert.InDelta(t, 0.7, cfg.Pipeline.ConfThreshold, 1e-9)
	assert.Equal(t, 9000, cfg.Server.Port)

	// Untouched keys keep their defaults.
	assert.Equal(t, "http://localhost:8002", cfg.Pipeline.RecognizerURL)
}

func TestLoader_LoadWithFile_Missing(t *testing.T) {
	loader := newIsolatedLoader()
	_, err := loader.LoadWithFile("/nonexistent/docpipe.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoader_LoadWithFile_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  conf_threshold: 2.0\n"), 0o600))

	loader := newIsolatedLoader()
	_, err := loader.LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoader_EnvironmentOverride(t *testing.T) {
	t.Setenv("DOCPIPE_PIPELINE_DETECTOR_URL", "http://env-detector:8001")

	loader := newIsolatedLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://env-detector:8001", cfg.Pipeline.DetectorURL)
}
