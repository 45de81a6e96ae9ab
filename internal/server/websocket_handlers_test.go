package server

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docpipe/internal/pipeline"
)

// mockWebSocketConn records messages written by the handlers.
type mockWebSocketConn struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, sentMessage{
		messageType: messageType,
		data:        data,
	})
	return nil
}

func TestServer_SendWebSocketResponse(t *testing.T) {
	server := &Server{}
	conn := &mockWebSocketConn{}

	server.sendWebSocketResponse(conn, WebSocketProcessResponse{
		Type:      "process_response",
		Status:    "completed",
		Progress:  1.0,
		RequestID: "req-1",
	})

	require.Len(t, conn.sentMessages, 1)
	assert.Equal(t, websocket.TextMessage, conn.sentMessages[0].messageType)

	var decoded WebSocketProcessResponse
	require.NoError(t, json.Unmarshal(conn.sentMessages[0].data, &decoded))
	assert.Equal(t, "completed", decoded.Status)
	assert.Equal(t, "req-1", decoded.RequestID)
}

func TestServer_SendWebSocketError(t *testing.T) {
	server := &Server{}
	conn := &mockWebSocketConn{}

	server.sendWebSocketError(conn, "invalid_request", "No image data provided")

	require.Len(t, conn.sentMessages, 1)

	var decoded WebSocketProcessResponse
	require.NoError(t, json.Unmarshal(conn.sentMessages[0].data, &decoded))
	assert.Equal(t, "error", decoded.Type)
	assert.Equal(t, "error", decoded.Status)
	assert.Equal(t, "invalid_request", decoded.ErrorType)
	assert.Equal(t, "No image data provided", decoded.Error)
}

func TestServer_WebSocketOptions(t *testing.T) {
	server := &Server{pipeline: &stubPipeline{}}

	t.Run("defaults when no thresholds given", func(t *testing.T) {
		opts, err := server.webSocketOptions(WebSocketProcessRequest{})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, opts.ConfThreshold, 1e-9)
		assert.InDelta(t, 0.45, opts.IoUThreshold, 1e-9)
	})

	t.Run("request thresholds override defaults", func(t *testing.T) {
		conf, iou := 0.8, 0.2
		opts, err := server.webSocketOptions(WebSocketProcessRequest{
			ConfThreshold: &conf,
			IoUThreshold:  &iou,
		})
		require.NoError(t, err)
		assert.InDelta(t, 0.8, opts.ConfThreshold, 1e-9)
		assert.InDelta(t, 0.2, opts.IoUThreshold, 1e-9)
	})

	t.Run("out of range threshold rejected", func(t *testing.T) {
		conf := 1.5
		_, err := server.webSocketOptions(WebSocketProcessRequest{ConfThreshold: &conf})
		assert.Error(t, err)
	})
}

func TestWebSocketProcessRequest_RoundTrip(t *testing.T) {
	conf := 0.6
	req := WebSocketProcessRequest{
		Image:         []byte{0x89, 0x50, 0x4e, 0x47},
		ConfThreshold: &conf,
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded WebSocketProcessRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.Image, decoded.Image)
	require.NotNil(t, decoded.ConfThreshold)
	assert.InDelta(t, 0.6, *decoded.ConfThreshold, 1e-9)
	assert.Nil(t, decoded.IoUThreshold)
}

func TestWebSocketProcessResponse_ResultPayload(t *testing.T) {
	res := &pipeline.Result{
		RequestID:       "req-2",
		TotalDetections: 1,
		DetectionsWithText: []pipeline.DetectionWithText{
			{ClassName: "id_number", Text: "079", Confidence: 0.9},
		},
	}

	data, err := json.Marshal(WebSocketProcessResponse{
		Type:     "process_response",
		Status:   "completed",
		Progress: 1.0,
		Result:   res,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_detections":1`)
	assert.Contains(t, string(data), `"079"`)
}
