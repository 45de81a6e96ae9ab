package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/docpipe/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, srv
}

func TestClient_Detect(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "0.5", r.FormValue("conf_threshold"))
		assert.Equal(t, "0.45", r.FormValue("iou_threshold"))

		resp := detectResponse{
			Detections: []Region{
				{BBox: [4]float64{10, 10, 50, 30}, ClassName: "id_number", Confidence: 0.93},
				{BBox: [4]float64{10, 40, 80, 60}, ClassName: "full_name", Confidence: 0.88},
			},
			NumDetections: 2,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	regions, err := c.Detect(context.Background(), []byte{0xFF, 0xD8}, Options{ConfThreshold: 0.5, IoUThreshold: 0.45})
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "id_number", regions[0].ClassName)
	assert.InDelta(t, 0.93, regions[0].Confidence, 1e-9)
	assert.Equal(t, [4]float64{10, 40, 80, 60}, regions[1].BBox)
}

func TestClient_Detect_EmptyIsNotError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detections": [], "num_detections": 0}`))
	})

	regions, err := c.Detect(context.Background(), []byte{1}, Options{})
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestClient_Detect_ServiceDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://127.0.0.1:1"
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), []byte{1}, Options{})
	var unavailable *remote.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "detector", unavailable.Service)
}

func TestClient_Detect_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "inference failed", http.StatusBadGateway)
	})

	_, err := c.Detect(context.Background(), []byte{1}, Options{})
	var status *remote.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadGateway, status.StatusCode)
}

func TestClient_Health(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, c.Health(context.Background()))
}
