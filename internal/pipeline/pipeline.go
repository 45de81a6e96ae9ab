// Package pipeline orchestrates the detection and recognition services into
// one coherent call: detect regions, forward them for recognition, correlate
// the two result sets and assemble a unified response.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MeKo-Tech/docpipe/internal/detect"
	"github.com/MeKo-Tech/docpipe/internal/recognize"
)

// Config holds configuration for the pipeline and its two clients.
type Config struct {
	Detector   detect.Config
	Recognizer recognize.Config

	// Default thresholds used when a call does not override them.
	ConfThreshold float64
	IoUThreshold  float64
}

// DefaultConfig returns a default pipeline config with client defaults.
func DefaultConfig() Config {
	return Config{
		Detector:      detect.DefaultConfig(),
		Recognizer:    recognize.DefaultConfig(),
		ConfThreshold: 0.5,
		IoUThreshold:  0.45,
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithDetectorURL sets the detection service base URL.
func (b *Builder) WithDetectorURL(url string) *Builder {
	if url != "" {
		b.cfg.Detector.BaseURL = url
	}
	return b
}

// WithRecognizerURL sets the recognition service base URL.
func (b *Builder) WithRecognizerURL(url string) *Builder {
	if url != "" {
		b.cfg.Recognizer.BaseURL = url
	}
	return b
}

// WithConfThreshold sets the default confidence threshold.
func (b *Builder) WithConfThreshold(th float64) *Builder {
	if th > 0 {
		b.cfg.ConfThreshold = th
	}
	return b
}

// WithIoUThreshold sets the default NMS IoU threshold.
func (b *Builder) WithIoUThreshold(th float64) *Builder {
	if th > 0 {
		b.cfg.IoUThreshold = th
	}
	return b
}

// WithTimeout sets the inference round-trip timeout for both clients.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.cfg.Detector.Timeout = d
		b.cfg.Recognizer.Timeout = d
	}
	return b
}

// WithMaxRPS throttles outbound requests to both services.
func (b *Builder) WithMaxRPS(rps float64) *Builder {
	if rps > 0 {
		b.cfg.Detector.MaxRPS = rps
		b.cfg.Recognizer.MaxRPS = rps
	}
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that the configuration looks sane.
func (b *Builder) Validate() error {
	if err := (Options{ConfThreshold: b.cfg.ConfThreshold, IoUThreshold: b.cfg.IoUThreshold}).Validate(); err != nil {
		return err
	}
	return nil
}

// Build initializes the pipeline clients.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	det, err := detect.NewClient(b.cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("init detector client: %w", err)
	}
	rec, err := recognize.NewClient(b.cfg.Recognizer)
	if err != nil {
		return nil, fmt.Errorf("init recognizer client: %w", err)
	}
	return &Pipeline{cfg: b.cfg, detector: det, recognizer: rec}, nil
}

// Pipeline wires together the detector and recognizer clients. It is
// stateless across calls and safe for concurrent use.
type Pipeline struct {
	cfg        Config
	detector   *detect.Client
	recognizer *recognize.Client
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// DefaultOptions returns per-call options filled from the configured defaults.
func (p *Pipeline) DefaultOptions() Options {
	return Options{ConfThreshold: p.cfg.ConfThreshold, IoUThreshold: p.cfg.IoUThreshold}
}

// CheckServices probes both collaborators concurrently. Used by the health
// endpoint; Process never pre-checks, it surfaces failures as errors instead.
func (p *Pipeline) CheckServices(ctx context.Context) ServiceStatus {
	var st ServiceStatus
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		st.Detector = p.detector.Health(ctx)
	}()
	go func() {
		defer wg.Done()
		st.Recognizer = p.recognizer.Health(ctx)
	}()
	wg.Wait()
	return st
}
