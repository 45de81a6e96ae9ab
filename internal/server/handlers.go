package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/docpipe/internal/imageio"
	"github.com/MeKo-Tech/docpipe/internal/pipeline"
	"github.com/MeKo-Tech/docpipe/internal/remote"
	"github.com/MeKo-Tech/docpipe/internal/version"
)

const formatText = "text"

// infoHandler returns basic service information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	v, _, _ := version.Info()
	response := InfoResponse{
		Name:        "docpipe",
		Version:     v,
		Status:      "running",
		Description: "document detection and text recognition pipeline",
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode info response", "error", err)
	}
}

// healthHandler reports aggregate and per-collaborator availability.
// Degraded states still answer 200; the body carries the detail.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.pipeline.CheckServices(r.Context())
	status := "healthy"
	if !st.Healthy() {
		status = "degraded"
	}

	response := HealthResponse{
		Status:   status,
		Services: st,
		Time:     time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode health response", "error", err)
	}
}

// processHandler runs the full pipeline on an uploaded image.
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	image, opts, ok := s.parseProcessRequest(w, r)
	if !ok {
		pipelineRequestsTotal.WithLabelValues("http", "invalid").Inc()
		return // error already written
	}

	start := time.Now()
	res, err := s.pipeline.Process(r.Context(), image, opts)
	if err != nil {
		s.writePipelineError(w, err)
		pipelineRequestsTotal.WithLabelValues("http", "error").Inc()
		return
	}

	pipelineRequestsTotal.WithLabelValues("http", "success").Inc()
	pipelineDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	observeResult(res)

	s.writeProcessResponse(w, r, res)
}

// parseProcessRequest validates the multipart upload and per-request
// thresholds. On failure it writes the error response and returns ok=false.
func (s *Server) parseProcessRequest(w http.ResponseWriter, r *http.Request) ([]byte, pipeline.Options, bool) {
	var opts pipeline.Options

	maxBytes := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return nil, opts, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, opts, false
	}
	defer func() { _ = file.Close() }()

	// Clients that do not set a part type send application/octet-stream;
	// the sniff in imageio.Prepare is authoritative either way.
	ct := header.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" && !imageio.SupportedContentType(ct) {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid file type %s, expected JPEG or PNG", ct), http.StatusBadRequest)
		return nil, opts, false
	}
	uploadSizeBytes.Observe(float64(header.Size))

	defaults := s.pipeline.DefaultOptions()
	opts.ConfThreshold, err = parseThreshold(r.FormValue("conf_threshold"), defaults.ConfThreshold)
	if err != nil {
		s.writeErrorResponse(w, "conf_threshold must be between 0.0 and 1.0", http.StatusBadRequest)
		return nil, opts, false
	}
	opts.IoUThreshold, err = parseThreshold(r.FormValue("iou_threshold"), defaults.IoUThreshold)
	if err != nil {
		s.writeErrorResponse(w, "iou_threshold must be between 0.0 and 1.0", http.StatusBadRequest)
		return nil, opts, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return nil, opts, false
	}

	prepared, err := imageio.Prepare(data, s.constraints())
	if err != nil {
		if imageio.IsInvalidInput(err) {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		} else {
			s.writeErrorResponse(w, "Failed to prepare image", http.StatusInternalServerError)
		}
		return nil, opts, false
	}

	return prepared, opts, true
}

// writeProcessResponse encodes the result in the requested format.
func (s *Server) writeProcessResponse(w http.ResponseWriter, r *http.Request, res *pipeline.Result) {
	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		out, err := pipeline.ToCSV(res)
		if err != nil {
			http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(out))
	case formatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		out, err := pipeline.ToPlainText(res)
		if err != nil {
			http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(out))
	default:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			slog.Error("Failed to encode process response", "error", err)
		}
	}
}

// writePipelineError maps pipeline failures onto the HTTP error taxonomy:
// unreachable collaborator -> 503, collaborator failure -> 502, bad input
// -> 400, everything else -> 500.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var unavailable *remote.UnavailableError
	var status *remote.StatusError
	switch {
	case errors.As(err, &unavailable):
		slog.Warn("Collaborator unreachable", "service", unavailable.Service, "error", err)
		s.writeServiceError(w, fmt.Sprintf("%s service is unavailable", unavailable.Service),
			unavailable.Service, http.StatusServiceUnavailable)
	case errors.As(err, &status):
		slog.Warn("Collaborator error", "service", status.Service, "status", status.StatusCode, "error", err)
		s.writeServiceError(w, err.Error(), status.Service, http.StatusBadGateway)
	default:
		slog.Error("Pipeline processing failed", "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("Pipeline processing failed: %v", err), http.StatusInternalServerError)
	}
}

func observeResult(res *pipeline.Result) {
	pipelineStageDuration.WithLabelValues("detect").Observe(float64(res.Processing.DetectionNs) / 1e9)
	pipelineStageDuration.WithLabelValues("recognize").Observe(float64(res.Processing.RecognitionNs) / 1e9)
	regionsDetected.Observe(float64(res.DetectorCount))

	var textLength int
	for _, d := range res.DetectionsWithText {
		textLength += len(d.Text)
	}
	recognizedTextLength.Observe(float64(textLength))
}

// parseThreshold parses a form threshold value, falling back to def when the
// field is absent.
func parseThreshold(value string, def float64) (float64, error) {
	if value == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("threshold %v out of range", v)
	}
	return v, nil
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Success: false, Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}

// writeServiceError writes a JSON error response naming the failing
// collaborator.
func (s *Server) writeServiceError(w http.ResponseWriter, message, service string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Success: false, Error: message, Service: service}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}
