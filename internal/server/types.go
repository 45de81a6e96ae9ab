package server

import (
	"context"
	"net/http"

	"github.com/MeKo-Tech/docpipe/internal/imageio"
	"github.com/MeKo-Tech/docpipe/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pipelineRunner defines the methods the server needs from a pipeline.
type pipelineRunner interface {
	Process(ctx context.Context, image []byte, opts pipeline.Options) (*pipeline.Result, error)
	CheckServices(ctx context.Context) pipeline.ServiceStatus
	DefaultOptions() pipeline.Options
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    pipelineRunner
	corsOrigin  string
	maxUploadMB int64
	maxImageDim int
	rateLimiter *RateLimiter
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	MaxImageDim int
	TimeoutSec  int
	RateLimit   RateLimitConfig
}

// HealthResponse aggregates collaborator availability.
type HealthResponse struct {
	Status   string                 `json:"status"` // "healthy" or "degraded"
	Services pipeline.ServiceStatus `json:"services"`
	Time     string                 `json:"time"`
}

// InfoResponse describes the running service.
type InfoResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// ErrorResponse is the JSON error envelope for all failure paths.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Service string `json:"service,omitempty"`
}

// NewServer creates a server around an already-built pipeline.
func NewServer(config Config, pl pipelineRunner) *Server {
	s := &Server{
		pipeline:    pl,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		maxImageDim: config.MaxImageDim,
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = imageio.DefaultMaxBytes >> 20
	}
	if s.maxImageDim <= 0 {
		s.maxImageDim = imageio.DefaultMaxDimension
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.MaxRequestsPerDay,
			config.RateLimit.MaxDataPerDay,
		)
	}
	return s
}

// constraints returns the upload constraints derived from server config.
func (s *Server) constraints() imageio.Constraints {
	return imageio.Constraints{
		MaxBytes:     s.maxUploadMB << 20,
		MaxDimension: s.maxImageDim,
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.corsMiddleware(s.infoHandler))
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/process", s.corsMiddleware(s.rateLimitMiddleware(s.processHandler)))
	mux.HandleFunc("/ws/process", s.processWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
