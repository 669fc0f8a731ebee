package memory

import (
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/soorma-ai/soorma/pkg/database"
	"github.com/soorma-ai/soorma/pkg/httpx"
	"github.com/soorma-ai/soorma/pkg/version"
)

// requestScope extracts the tenant/user pair. Tenant comes from the
// X-Tenant-ID header; user from the user_id query parameter, falling back
// to the X-User-ID header.
func requestScope(c *echo.Context) Scope {
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = c.Request().Header.Get("X-User-ID")
	}
	return Scope{
		TenantID: c.Request().Header.Get("X-Tenant-ID"),
		UserID:   userID,
	}
}

// ---- working memory ----

// PutWorkingRequest is the body of PUT /v1/memory/working/:plan_id/:key.
type PutWorkingRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) putWorkingHandler(c *echo.Context) error {
	var req PutWorkingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	rec, err := s.service.PutWorking(c.Request().Context(), requestScope(c),
		c.Param("plan_id"), c.Param("key"), req.Value)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) getWorkingHandler(c *echo.Context) error {
	rec, err := s.service.GetWorking(c.Request().Context(), requestScope(c),
		c.Param("plan_id"), c.Param("key"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteWorkingHandler(c *echo.Context) error {
	deleted, err := s.service.DeleteWorking(c.Request().Context(), requestScope(c),
		c.Param("plan_id"), c.Param("key"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
	})
}

func (s *Server) deleteWorkingPlanHandler(c *echo.Context) error {
	count, err := s.service.DeleteWorkingPlan(c.Request().Context(), requestScope(c),
		c.Param("plan_id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":       true,
		"count_deleted": count,
	})
}

// ---- episodic memory ----

func (s *Server) appendEpisodicHandler(c *echo.Context) error {
	var in EpisodicInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	rec, err := s.service.AppendEpisodic(c.Request().Context(), requestScope(c), &in)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) recentEpisodicHandler(c *echo.Context) error {
	recs, err := s.service.RecentEpisodic(c.Request().Context(), requestScope(c),
		c.QueryParam("agent_id"), intParam(c, "limit"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":    len(recs),
		"memories": recs,
	})
}

func (s *Server) searchEpisodicHandler(c *echo.Context) error {
	recs, err := s.service.SearchEpisodic(c.Request().Context(), requestScope(c),
		c.QueryParam("agent_id"), c.QueryParam("q"), intParam(c, "limit"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":    len(recs),
		"memories": recs,
	})
}

// ---- semantic memory ----

func (s *Server) upsertSemanticHandler(c *echo.Context) error {
	var in SemanticInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	rec, err := s.service.UpsertSemantic(c.Request().Context(), requestScope(c), &in)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) searchSemanticHandler(c *echo.Context) error {
	var req SemanticSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	includePublic := req.IncludePublic == nil || *req.IncludePublic
	recs, err := s.service.SearchSemantic(c.Request().Context(), requestScope(c),
		req.Query, req.Limit, includePublic)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":    len(recs),
		"memories": recs,
	})
}

// ---- procedural memory ----

func (s *Server) addProceduralHandler(c *echo.Context) error {
	var in ProceduralInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	rec, err := s.service.AddProcedural(c.Request().Context(), requestScope(c), &in)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) listProceduralHandler(c *echo.Context) error {
	recs, err := s.service.ListProcedural(c.Request().Context(), requestScope(c),
		c.QueryParam("agent_id"), c.QueryParam("procedure_type"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":    len(recs),
		"memories": recs,
	})
}

func (s *Server) searchProceduralHandler(c *echo.Context) error {
	recs, err := s.service.SearchProcedural(c.Request().Context(), requestScope(c),
		c.QueryParam("agent_id"), c.QueryParam("q"), intParam(c, "limit"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":    len(recs),
		"memories": recs,
	})
}

// ---- plans ----

func (s *Server) createPlanHandler(c *echo.Context) error {
	var in PlanInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	plan, err := s.service.CreatePlan(c.Request().Context(), requestScope(c), &in)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) listPlansHandler(c *echo.Context) error {
	plans, err := s.service.ListPlans(c.Request().Context(), requestScope(c), PlanFilter{
		Status:       c.QueryParam("status"),
		SessionID:    c.QueryParam("session_id"),
		ParentPlanID: c.QueryParam("parent_plan_id"),
	})
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count": len(plans),
		"plans": plans,
	})
}

func (s *Server) getPlanHandler(c *echo.Context) error {
	plan, err := s.service.GetPlan(c.Request().Context(), requestScope(c), c.Param("plan_id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) getPlanByCorrelationHandler(c *echo.Context) error {
	plan, err := s.service.GetPlanByCorrelation(c.Request().Context(), requestScope(c),
		c.Param("correlation_id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) updatePlanHandler(c *echo.Context) error {
	var upd PlanUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	plan, err := s.service.UpdatePlan(c.Request().Context(), requestScope(c),
		c.Param("plan_id"), &upd)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) deletePlanHandler(c *echo.Context) error {
	count, err := s.service.DeletePlan(c.Request().Context(), requestScope(c), c.Param("plan_id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":              true,
		"working_keys_deleted": count,
	})
}

// ---- tasks ----

func (s *Server) upsertTaskHandler(c *echo.Context) error {
	var in TaskInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	task, err := s.service.UpsertTask(c.Request().Context(), requestScope(c), &in)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) getTaskHandler(c *echo.Context) error {
	task, err := s.service.GetTask(c.Request().Context(), requestScope(c), c.Param("task_id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) getTaskBySubtaskHandler(c *echo.Context) error {
	task, err := s.service.GetTaskBySubtask(c.Request().Context(), requestScope(c),
		c.Param("sub_task_id"))
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) updateTaskHandler(c *echo.Context) error {
	var upd TaskUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	task, err := s.service.UpdateTask(c.Request().Context(), requestScope(c),
		c.Param("task_id"), &upd)
	if err != nil {
		return httpx.MapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTaskHandler(c *echo.Context) error {
	if err := s.service.DeleteTask(c.Request().Context(), requestScope(c), c.Param("task_id")); err != nil {
		return httpx.MapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---- admin ----

func (s *Server) healthHandler(c *echo.Context) error {
	if err := database.Health(c.Request().Context(), s.pool); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unhealthy"})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "healthy", "version": version.Full()})
}

func intParam(c *echo.Context, name string) int {
	v := c.QueryParam(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
