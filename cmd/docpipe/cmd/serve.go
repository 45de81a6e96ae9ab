package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docpipe/internal/pipeline"
	"github.com/MeKo-Tech/docpipe/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the processing API",
	Long: `Start an HTTP server that exposes the document processing pipeline.

The server provides the following endpoints:
  POST /process    - Process an uploaded card image
  GET  /health     - Aggregate health of the collaborator services
  GET  /metrics    - Prometheus metrics
  GET  /ws/process - WebSocket processing with progress updates

Examples:
  docpipe serve
  docpipe serve --port 8000
  docpipe serve --detector-url http://detector:8001 --recognizer-url http://recognizer:8002`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}

	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}

	corsOrigin := cfg.Server.CORSOrigin
	if cmd.Flags().Changed("cors-origin") {
		corsOrigin, _ = cmd.Flags().GetString("cors-origin")
	}

	maxUploadMB := cfg.Server.MaxUploadMB
	if cmd.Flags().Changed("max-upload-size") {
		maxUploadMB, _ = cmd.Flags().GetInt64("max-upload-size")
	}

	maxImageDim := cfg.Server.MaxImageDim
	if cmd.Flags().Changed("max-image-dim") {
		maxImageDim, _ = cmd.Flags().GetInt("max-image-dim")
	}

	timeout := cfg.Server.TimeoutSec
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetInt("timeout")
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}

	rateLimitEnabled := cfg.Server.RateLimit.Enabled
	if cmd.Flags().Changed("rate-limit-enabled") {
		rateLimitEnabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
	}

	requestsPerMinute := cfg.Server.RateLimit.RequestsPerMinute
	if cmd.Flags().Changed("requests-per-minute") {
		requestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
	}

	maxRequestsPerDay := cfg.Server.RateLimit.MaxRequestsPerDay
	if cmd.Flags().Changed("max-requests-per-day") {
		maxRequestsPerDay, _ = cmd.Flags().GetInt("max-requests-per-day")
	}

	maxDataPerDay := cfg.Server.RateLimit.MaxDataPerDay
	if cmd.Flags().Changed("max-data-per-day") {
		maxDataPerDay, _ = cmd.Flags().GetInt64("max-data-per-day")
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			slog.Warn("Sentry initialization failed, continuing without error reporting", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pl, err := buildPipeline(cmd)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	st := pl.CheckServices(ctx)
	if !st.Healthy() {
		slog.Warn("Not all collaborator services are reachable",
			"detector", st.Detector, "recognizer", st.Recognizer)
	}

	serverConfig := server.Config{
		Host:        host,
		Port:        port,
		CORSOrigin:  corsOrigin,
		MaxUploadMB: maxUploadMB,
		MaxImageDim: maxImageDim,
		TimeoutSec:  timeout,
		RateLimit: server.RateLimitConfig{
			Enabled:           rateLimitEnabled,
			RequestsPerMinute: requestsPerMinute,
			MaxRequestsPerDay: maxRequestsPerDay,
			MaxDataPerDay:     maxDataPerDay,
		},
	}

	srv := server.NewServer(serverConfig, pl)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(timeout) * time.Second,
		WriteTimeout:      time.Duration(timeout) * time.Second,
	}

	go func() {
		slog.Info("Starting processing server", "host", host, "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	return nil
}

// buildPipeline assembles the pipeline from config plus CLI flag overrides.
func buildPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	cfg := GetConfig()

	detectorURL := cfg.Pipeline.DetectorURL
	if cmd.Flags().Changed("detector-url") {
		detectorURL, _ = cmd.Flags().GetString("detector-url")
	}

	recognizerURL := cfg.Pipeline.RecognizerURL
	if cmd.Flags().Changed("recognizer-url") {
		recognizerURL, _ = cmd.Flags().GetString("recognizer-url")
	}

	confThreshold := cfg.Pipeline.ConfThreshold
	if cmd.Flags().Changed("conf-threshold") {
		confThreshold, _ = cmd.Flags().GetFloat64("conf-threshold")
	}

	iouThreshold := cfg.Pipeline.IoUThreshold
	if cmd.Flags().Changed("iou-threshold") {
		iouThreshold, _ = cmd.Flags().GetFloat64("iou-threshold")
	}

	return pipeline.NewBuilder().
		WithDetectorURL(detectorURL).
		WithRecognizerURL(recognizerURL).
		WithConfThreshold(confThreshold).
		WithIoUThreshold(iouThreshold).
		WithTimeout(time.Duration(cfg.Pipeline.TimeoutSec) * time.Second).
		WithMaxRPS(cfg.Pipeline.MaxRPS).
		Build()
}

// addPipelineFlags registers the collaborator endpoint and threshold flags
// shared by all processing commands.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("detector-url", "", "detection service base URL")
	cmd.Flags().String("recognizer-url", "", "recognition service base URL")
	cmd.Flags().Float64("conf-threshold", 0, "detection confidence threshold (0..1)")
	cmd.Flags().Float64("iou-threshold", 0, "detection NMS IoU threshold (0..1)")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "0.0.0.0", "server host")
	serveCmd.Flags().IntP("port", "p", 8000, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int64("max-upload-size", 10, "maximum upload size in MB")
	serveCmd.Flags().Int("max-image-dim", 2048, "maximum image dimension before downscaling")
	serveCmd.Flags().Int("timeout", 120, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	addPipelineFlags(serveCmd)
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 100*1024*1024, "maximum data processed per day per client (bytes)")
}
