package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docpipe/internal/pipeline"
	"github.com/MeKo-Tech/docpipe/internal/remote"
)

// stubPipeline implements pipelineRunner for handler tests.
type stubPipeline struct {
	result   *pipeline.Result
	err      error
	status   pipeline.ServiceStatus
	lastOpts pipeline.Options
}

func (p *stubPipeline) Process(_ context.Context, _ []byte, opts pipeline.Options) (*pipeline.Result, error) {
	p.lastOpts = opts
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *stubPipeline) CheckServices(context.Context) pipeline.ServiceStatus {
	return p.status
}

func (p *stubPipeline) DefaultOptions() pipeline.Options {
	return pipeline.Options{ConfThreshold: 0.5, IoUThreshold: 0.45}
}

func newTestServer(pl pipelineRunner) *Server {
	return NewServer(Config{CORSOrigin: "*"}, pl)
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// buildProcessRequest assembles a multipart POST to /process.
func buildProcessRequest(t *testing.T, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if image != nil {
		part, err := writer.CreateFormFile("image", "card.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/process", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestServer_InfoHandler(t *testing.T) {
	server := newTestServer(&stubPipeline{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	server.infoHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response InfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "docpipe", response.Name)
	assert.Equal(t, "running", response.Status)
}

func TestServer_InfoHandler_UnknownPath(t *testing.T) {
	server := newTestServer(&stubPipeline{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	server.infoHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		status         pipeline.ServiceStatus
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "both services up",
			method:         http.MethodGet,
			status:         pipeline.ServiceStatus{Detector: true, Recognizer: true},
			expectedStatus: http.StatusOK,
			expectedBody:   "healthy",
		},
		{
			name:           "recognizer down reports degraded",
			method:         http.MethodGet,
			status:         pipeline.ServiceStatus{Detector: true, Recognizer: false},
			expectedStatus: http.StatusOK,
			expectedBody:   "degraded",
		},
		{
			name:           "POST not allowed",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(&stubPipeline{status: tt.status})

			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()
			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedBody != "" {
				var response HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, tt.expectedBody, response.Status)
				assert.NotEmpty(t, response.Time)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_ProcessHandler_Success(t *testing.T) {
	pl := &stubPipeline{
		result: &pipeline.Result{
			RequestID: "req-1",
			DetectionsWithText: []pipeline.DetectionWithText{
				{BBox: [4]float64{1, 2, 3, 4}, ClassName: "id_number", Confidence: 0.9, Text: "079123"},
			},
			TotalDetections: 1,
			DetectorCount:   1,
			RecognizerCount: 1,
			ProcessingTime:  0.2,
		},
	}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), nil)
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.TotalDetections)
	assert.Equal(t, "079123", response.DetectionsWithText[0].Text)

	// Defaults applied when no thresholds are sent.
	assert.InDelta(t, 0.5, pl.lastOpts.ConfThreshold, 1e-9)
	assert.InDelta(t, 0.45, pl.lastOpts.IoUThreshold, 1e-9)
}

func TestServer_ProcessHandler_CustomThresholds(t *testing.T) {
	pl := &stubPipeline{result: &pipeline.Result{}}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), map[string]string{
		"conf_threshold": "0.7",
		"iou_threshold":  "0.3",
	})
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.7, pl.lastOpts.ConfThreshold, 1e-9)
	assert.InDelta(t, 0.3, pl.lastOpts.IoUThreshold, 1e-9)
}

func TestServer_ProcessHandler_BadInput(t *testing.T) {
	tests := []struct {
		name   string
		image  []byte
		fields map[string]string
	}{
		{
			name: "missing image file",
		},
		{
			name:   "conf_threshold above one",
			image:  []byte("ignored"),
			fields: map[string]string{"conf_threshold": "1.5"},
		},
		{
			name:   "iou_threshold not a number",
			image:  []byte("ignored"),
			fields: map[string]string{"iou_threshold": "high"},
		},
		{
			name:  "payload is not an image",
			image: []byte("definitely not an image payload"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(&stubPipeline{result: &pipeline.Result{}})

			req := buildProcessRequest(t, tt.image, tt.fields)
			w := httptest.NewRecorder()
			server.processHandler(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.False(t, response.Success)
			assert.NotEmpty(t, response.Error)
		})
	}
}

func TestServer_ProcessHandler_OversizedUpload(t *testing.T) {
	server := NewServer(Config{CORSOrigin: "*", MaxUploadMB: 1}, &stubPipeline{result: &pipeline.Result{}})

	big := make([]byte, 2<<20)
	req := buildProcessRequest(t, big, nil)
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ProcessHandler_DetectorUnavailable(t *testing.T) {
	pl := &stubPipeline{err: &remote.UnavailableError{Service: "detector", Err: errors.New("connection refused")}}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), nil)
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "detector", response.Service)
	assert.Contains(t, response.Error, "unavailable")
}

func TestServer_ProcessHandler_RecognizerFailure(t *testing.T) {
	pl := &stubPipeline{err: &remote.StatusError{Service: "recognizer", StatusCode: 500, Message: "boom"}}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), nil)
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "recognizer", response.Service)
}

func TestServer_ProcessHandler_InternalError(t *testing.T) {
	pl := &stubPipeline{err: errors.New("unexpected")}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), nil)
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_ProcessHandler_TextFormat(t *testing.T) {
	pl := &stubPipeline{
		result: &pipeline.Result{
			DetectionsWithText: []pipeline.DetectionWithText{
				{ClassName: "full_name", Text: "NGUYEN VAN A", Confidence: 0.9},
			},
			TotalDetections: 1,
		},
	}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), map[string]string{"format": "text"})
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "full_name: NGUYEN VAN A", w.Body.String())
}

func TestServer_ProcessHandler_CSVFormat(t *testing.T) {
	pl := &stubPipeline{
		result: &pipeline.Result{
			DetectionsWithText: []pipeline.DetectionWithText{
				{BBox: [4]float64{1, 2, 3, 4}, ClassName: "dob", Text: "01/01/1990", Confidence: 0.8},
			},
			TotalDetections: 1,
		},
	}
	server := newTestServer(pl)

	req := buildProcessRequest(t, encodeTestPNG(t), map[string]string{"format": "csv"})
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "x1,y1,x2,y2,class,confidence,text")
	assert.Contains(t, w.Body.String(), "01/01/1990")
}

func TestServer_ProcessHandler_MethodNotAllowed(t *testing.T) {
	server := newTestServer(&stubPipeline{})

	req := httptest.NewRequest(http.MethodGet, "/process", nil)
	w := httptest.NewRecorder()
	server.processHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_WriteErrorResponse(t *testing.T) {
	server := newTestServer(&stubPipeline{})

	tests := []struct {
		name       string
		message    string
		statusCode int
	}{
		{
			name:       "bad request error",
			message:    "Invalid input",
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "internal server error",
			message:    "Something went wrong",
			statusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			server.writeErrorResponse(w, tt.message, tt.statusCode)

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.False(t, response.Success)
			assert.Equal(t, tt.message, response.Error)
		})
	}
}
