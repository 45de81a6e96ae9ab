// Package recognize provides the HTTP client for the text recognition service.
package recognize

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/MeKo-Tech/docpipe/internal/remote"
)

// RecognizedText is one recognition result for one submitted region.
// Index is the caller-assigned sequence number echoed back by the service;
// -1 when the service did not echo it, in which case BBox is the only
// correlation key.
type RecognizedText struct {
	Index      int
	BBox       [4]float64
	Text       string
	Confidence float64
}

// Config holds recognizer client configuration.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
	// MaxRPS throttles outbound recognition requests; zero disables it.
	MaxRPS float64
}

// DefaultConfig returns the recognizer client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:8002",
		Timeout:       remote.DefaultTimeout,
		HealthTimeout: remote.DefaultHealthTimeout,
	}
}

// Client calls the recognition service.
type Client struct {
	rc *remote.Client
}

// NewClient builds a recognizer client from config.
func NewClient(cfg Config) (*Client, error) {
	rc, err := remote.NewClient("recognizer", cfg.BaseURL, remote.Options{
		Timeout:       cfg.Timeout,
		HealthTimeout: cfg.HealthTimeout,
		MaxRPS:        cfg.MaxRPS,
	})
	if err != nil {
		return nil, err
	}
	return &Client{rc: rc}, nil
}

// Health reports whether the recognition service answers its liveness probe.
func (c *Client) Health(ctx context.Context) bool {
	return c.rc.Healthy(ctx)
}

type recognizeResultItem struct {
	Index      *int       `json:"index,omitempty"`
	BBox       [4]float64 `json:"bbox"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
}

type recognizeResponse struct {
	Results        []recognizeResultItem `json:"results"`
	TotalProcessed int                   `json:"total_processed"`
}

// Recognize submits the image plus candidate regions and returns one
// RecognizedText per region the service chose to process. The service applies
// threshold itself and silently drops regions below it, so the returned slice
// may be shorter than the submitted one. Each region is tagged with its slice
// position so results can be correlated without comparing float geometry.
func (c *Client) Recognize(
	ctx context.Context,
	image []byte,
	boxes [][4]float64,
	confidences []float64,
	threshold float64,
) ([]RecognizedText, error) {
	if len(boxes) != len(confidences) {
		return nil, fmt.Errorf("recognize: %d boxes but %d confidences", len(boxes), len(confidences))
	}

	indices := make([]int, len(boxes))
	for i := range indices {
		indices[i] = i
	}

	bboxesJSON, err := json.Marshal(boxes)
	if err != nil {
		return nil, fmt.Errorf("recognize: encode bboxes: %w", err)
	}
	confJSON, err := json.Marshal(confidences)
	if err != nil {
		return nil, fmt.Errorf("recognize: encode confidences: %w", err)
	}
	idxJSON, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("recognize: encode indices: %w", err)
	}

	fields := map[string]string{
		"bboxes":         string(bboxesJSON),
		"confidences":    string(confJSON),
		"indices":        string(idxJSON),
		"conf_threshold": strconv.FormatFloat(threshold, 'f', -1, 64),
	}

	var resp recognizeResponse
	if err := c.rc.PostImage(ctx, "/ocr", image, fields, &resp); err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	out := make([]RecognizedText, 0, len(resp.Results))
	for _, item := range resp.Results {
		rt := RecognizedText{
			Index:      -1,
			BBox:       item.BBox,
			Text:       item.Text,
			Confidence: item.Confidence,
		}
		if item.Index != nil {
			rt.Index = *item.Index
		}
		out = append(out, rt)
	}
	return out, nil
}
