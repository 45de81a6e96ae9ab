package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/docpipe/internal/imageio"
	"github.com/MeKo-Tech/docpipe/internal/pipeline"
	"github.com/MeKo-Tech/docpipe/internal/remote"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, you should check against allowed origins
		return true
	},
}

// WebSocketProcessRequest carries one image to run through the pipeline.
// Image holds base64-encoded bytes (encoding/json decodes []byte that way).
type WebSocketProcessRequest struct {
	Image         []byte   `json:"image"`
	ConfThreshold *float64 `json:"conf_threshold,omitempty"`
	IoUThreshold  *float64 `json:"iou_threshold,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketProcessResponse reports progress and the final result.
type WebSocketProcessResponse struct {
	Type      string      `json:"type"`
	Status    string      `json:"status"` // "processing", "completed", "error"
	Progress  float64     `json:"progress,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// processWebSocketHandler handles WebSocket connections for streaming
// pipeline processing.
func (s *Server) processWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages from a WebSocket connection.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	// Set read deadline to prevent hanging connections
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Send ping messages to keep connection alive
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			break
		}

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

// handleWebSocketMessage processes a single processing request.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, data []byte) {
	var req WebSocketProcessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, "invalid_request", "No image data provided")
		return
	}

	requestID := uuid.NewString()

	s.sendWebSocketResponse(conn, WebSocketProcessResponse{
		Type:      "process_response",
		Status:    "processing",
		Progress:  0.0,
		RequestID: requestID,
	})

	opts, err := s.webSocketOptions(req)
	if err != nil {
		s.sendWebSocketError(conn, "invalid_request", err.Error())
		return
	}

	prepared, err := imageio.Prepare(req.Image, s.constraints())
	if err != nil {
		pipelineRequestsTotal.WithLabelValues("websocket", "invalid").Inc()
		s.sendWebSocketError(conn, "invalid_request", fmt.Sprintf("Invalid image: %v", err))
		return
	}

	s.sendWebSocketResponse(conn, WebSocketProcessResponse{
		Type:      "process_response",
		Status:    "processing",
		Progress:  0.5,
		RequestID: requestID,
	})

	start := time.Now()
	res, err := s.pipeline.Process(ctx, prepared, opts)
	duration := time.Since(start)

	if err != nil {
		pipelineRequestsTotal.WithLabelValues("websocket", "error").Inc()
		var unavailable *remote.UnavailableError
		if errors.As(err, &unavailable) {
			s.sendWebSocketError(conn, "service_unavailable",
				fmt.Sprintf("%s service is unavailable", unavailable.Service))
			return
		}
		s.sendWebSocketError(conn, "processing_error", fmt.Sprintf("Pipeline processing failed: %v", err))
		return
	}

	pipelineRequestsTotal.WithLabelValues("websocket", "success").Inc()
	pipelineDuration.WithLabelValues("websocket").Observe(duration.Seconds())
	observeResult(res)

	s.sendWebSocketResponse(conn, WebSocketProcessResponse{
		Type:      "process_response",
		Status:    "completed",
		Progress:  1.0,
		Result:    res,
		RequestID: requestID,
	})
}

// webSocketOptions merges request thresholds over the pipeline defaults.
func (s *Server) webSocketOptions(req WebSocketProcessRequest) (pipeline.Options, error) {
	opts := s.pipeline.DefaultOptions()
	if req.ConfThreshold != nil {
		opts.ConfThreshold = *req.ConfThreshold
	}
	if req.IoUThreshold != nil {
		opts.IoUThreshold = *req.IoUThreshold
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketProcessResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, errorType, message string) {
	response := WebSocketProcessResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
	}

	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket error response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket error message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
