package eventservice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/soorma-ai/soorma/pkg/bus"
	"github.com/soorma-ai/soorma/pkg/envelope"
	"github.com/soorma-ai/soorma/pkg/httpx"
	"github.com/soorma-ai/soorma/pkg/version"
)

// PublishRequest is the body of POST /v1/events/publish.
type PublishRequest struct {
	Event *envelope.Envelope `json:"event"`
}

// PublishResponse confirms a publish.
type PublishResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Adapter       string `json:"adapter"`
	Connected     bool   `json:"connected"`
	ActiveStreams int    `json:"active_streams"`
}

// publishHandler handles POST /v1/events/publish.
func (s *Server) publishHandler(c *echo.Context) error {
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if req.Event == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "event field is required")
	}

	env := req.Event
	env.Normalize()
	if err := env.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if s.validator != nil {
		if err := s.validator.ValidatePayload(c.Request().Context(), env.Type, env.Data); err != nil {
			return httpx.MapServiceError(err)
		}
	}

	if !s.adapter.IsConnected() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "bus adapter is not connected")
	}

	if err := s.adapter.Publish(c.Request().Context(), env.Topic.String(), env); err != nil {
		slog.Error("Publish failed", "topic", env.Topic, "event_id", env.ID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "publish failed")
	}

	return c.JSON(http.StatusOK, &PublishResponse{
		Success: true,
		EventID: env.ID,
		Message: "event published",
	})
}

// streamHandler handles GET /v1/events/stream. It holds the request open
// as an SSE stream until the client disconnects or the server shuts down.
func (s *Server) streamHandler(c *echo.Context) error {
	agentID := c.QueryParam("agent_id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "agent_id query parameter is required")
	}
	agentName := c.QueryParam("agent_name")

	topicsCSV := c.QueryParam("topics")
	if topicsCSV == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "topics query parameter is required")
	}
	var topics []string
	for _, t := range strings.Split(topicsCSV, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if err := bus.ValidatePattern(t); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "at least one topic is required")
	}

	if !s.adapter.IsConnected() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "bus adapter is not connected")
	}

	ctx := c.Request().Context()
	conn, err := s.streams.Open(ctx, agentID, agentName, topics)
	if err != nil {
		slog.Error("Failed to open stream", "agent_id", agentID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open stream")
	}
	defer s.streams.Close(ctx, conn)

	w, uerr := echo.UnwrapResponse(c.Response())
	if uerr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open stream")
	}
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "connected", map[string]any{
		"connection_id": conn.ID,
		"topics":        topics,
		"agent_id":      agentID,
	}); err != nil {
		return nil
	}

	slog.Info("Stream connected",
		"connection_id", conn.ID, "agent_id", agentID, "queue_group", conn.QueueGroup, "topics", topics)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client went away or server is shutting down; the final
			// frame is best effort.
			_ = writeSSE(w, "disconnected", map[string]any{"connection_id": conn.ID})
			slog.Info("Stream disconnected", "connection_id", conn.ID, "dropped", conn.Dropped())
			return nil

		case env := <-conn.Queue():
			if err := writeSSE(w, "message", env); err != nil {
				slog.Warn("Stream write failed", "connection_id", conn.ID, "error", err)
				return nil
			}

		case <-heartbeat.C:
			if err := writeSSE(w, "heartbeat", map[string]any{"connection_id": conn.ID}); err != nil {
				return nil
			}
		}
	}
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	connected := s.adapter.IsConnected()
	status := "healthy"
	httpStatus := http.StatusOK
	if !connected {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{
		Status:        status,
		Version:       version.Full(),
		Adapter:       s.adapter.Name(),
		Connected:     connected,
		ActiveStreams: s.streams.Count(),
	})
}

// connectionsHandler handles GET /connections (debug only).
func (s *Server) connectionsHandler(c *echo.Context) error {
	infos := s.streams.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"count":       len(infos),
		"connections": infos,
	})
}

// writeSSE emits one SSE frame and flushes it to the client.
func writeSSE(w *echo.Response, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
