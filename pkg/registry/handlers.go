package registry

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/soorma-ai/soorma/pkg/database"
	"github.com/soorma-ai/soorma/pkg/httpx"
	"github.com/soorma-ai/soorma/pkg/version"
)

// UpsertEventRequest is the body of POST /v1/events.
type UpsertEventRequest struct {
	Event *EventDefinitionInput `json:"event"`
}

// upsertEventHandler handles POST /v1/events.
func (s *Server) upsertEventHandler(c *echo.Context) error {
	var req UpsertEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if req.Event == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "event field is required")
	}

	def, err := s.service.UpsertEvent(c.Request().Context(), req.Event)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"event":   def,
	})
}

// listEventsHandler handles GET /v1/events.
func (s *Server) listEventsHandler(c *echo.Context) error {
	defs, err := s.service.ListEvents(c.Request().Context(), EventFilter{
		EventName: c.QueryParam("event_name"),
		Topic:     c.QueryParam("topic"),
	})
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":  len(defs),
		"events": defs,
	})
}

// registerAgentHandler handles POST /v1/agents.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	agent, err := s.service.RegisterAgent(c.Request().Context(), &req)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"agent":   agent,
	})
}

// listAgentsHandler handles GET /v1/agents. Expired agents are filtered
// out unless include_expired=true.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	agents, err := s.service.ListAgents(c.Request().Context(), AgentFilter{
		AgentID:        c.QueryParam("agent_id"),
		Name:           c.QueryParam("name"),
		ConsumedEvent:  c.QueryParam("consumed_event"),
		ProducedEvent:  c.QueryParam("produced_event"),
		IncludeExpired: c.QueryParam("include_expired") == "true",
	})
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":  len(agents),
		"agents": agents,
	})
}

// heartbeatHandler handles PUT|POST /v1/agents/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	last, err := s.service.Heartbeat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":       true,
		"agentId":       c.Param("id"),
		"lastHeartbeat": last.UTC().Format(time.RFC3339Nano),
	})
}

// deleteAgentHandler handles DELETE /v1/agents/:id.
func (s *Server) deleteAgentHandler(c *echo.Context) error {
	if err := s.service.DeleteAgent(c.Request().Context(), c.Param("id")); err != nil {
		return httpx.MapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	if err := database.Health(c.Request().Context(), s.pool); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": version.Full(),
	})
}
