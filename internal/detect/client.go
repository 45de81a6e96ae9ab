// Package detect provides the HTTP client for the region detection service.
package detect

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MeKo-Tech/docpipe/internal/remote"
)

// Region is one detected area of interest in source-image pixel coordinates.
// BBox is (x1, y1, x2, y2); coordinates are passed through as reported by the
// detector, even when x1<x2 / y1<y2 is violated.
type Region struct {
	BBox       [4]float64 `json:"bbox"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
}

// Config holds detector client configuration.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
	// MaxRPS throttles outbound detection requests; zero disables it.
	MaxRPS float64
}

// DefaultConfig returns the detector client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8001",
		Timeout:       remote.DefaultTimeout,
		HealthTimeout: remote.DefaultHealthTimeout,
	}
}

// Options are per-call detection parameters.
type Options struct {
	ConfThreshold float64
	IoUThreshold  float64
}

// Client calls the detection service.
type Client struct {
	rc *remote.Client
}

// NewClient builds a detector client from config.
func NewClient(cfg Config) (*Client, error) {
	rc, err := remote.NewClient("detector", cfg.BaseURL, remote.Options{
		Timeout:       cfg.Timeout,
		HealthTimeout: cfg.HealthTimeout,
		MaxRPS:        cfg.MaxRPS,
	})
	if err != nil {
		return nil, err
	}
	return &Client{rc: rc}, nil
}

// Health reports whether the detection service answers its liveness probe.
func (c *Client) Health(ctx context.Context) bool {
	return c.rc.Healthy(ctx)
}

type detectResponse struct {
	Detections    []Region `json:"detections"`
	NumDetections int      `json:"num_detections"`
}

// Detect submits image bytes and returns the detected regions in the order
// the service reported them. An empty slice means "nothing found" and is not
// an error; transport and HTTP-level failures surface as remote errors.
func (c *Client) Detect(ctx context.Context, image []byte, opts Options) ([]Region, error) {
	fields := map[string]string{
		"conf_threshold": formatFloat(opts.ConfThreshold),
		"iou_threshold":  formatFloat(opts.IoUThreshold),
	}

	var resp detectResponse
	if err := c.rc.PostImage(ctx, "/detect", image, fields, &resp); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return resp.Detections, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
