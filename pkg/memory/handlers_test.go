package memory

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/soorma-ai/soorma/pkg/config"
)

// Validation happens before any database access, so these paths run
// against a service with no pool. Persistence behaviour is covered by the
// integration tests.
func newValidationServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Memory{Port: "0", EmbeddingModelDim: 16}
	return NewServer(cfg, NewService(nil, NewHashingEmbedder(cfg.EmbeddingModelDim)), nil)
}

func do(s *Server, method, target, body string, scoped bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if scoped {
		req.Header.Set("X-Tenant-ID", "t1")
		req.Header.Set("X-User-ID", "u1")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestWorkingHandlers_RequireScope(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPut, "/v1/memory/working/p1/k1", `{"value": 1}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_id")
}

func TestWorkingHandlers_UserFromQueryParam(t *testing.T) {
	s := newValidationServer(t)

	// Tenant header present but no user anywhere: still a validation error.
	req := httptest.NewRequest(http.MethodGet, "/v1/memory/working/p1/k1", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id")
}

func TestAppendEpisodicHandler_InvalidRole(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/memory/episodic",
		`{"role": "robot", "content": "hi"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "role")
}

func TestAppendEpisodicHandler_MissingContent(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/memory/episodic", `{"role": "user"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSearchEpisodicHandler_MissingQuery(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodGet, "/v1/memory/episodic/search", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpsertSemanticHandler_MissingContent(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/memory/semantic", `{"external_id": "doc"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSearchSemanticHandler_MissingQuery(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/memory/semantic/search", `{"limit": 5}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreatePlanHandler_UnknownStatus(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/plans",
		`{"plan_id": "p1", "status": "exploded"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreatePlanHandler_MissingPlanID(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/plans", `{"goal_event": "g"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "plan_id")
}

func TestUpsertTaskHandler_MissingTaskID(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/tasks", `{"event_type": "x"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "task_id")
}

func TestAddProceduralHandler_MissingContent(t *testing.T) {
	s := newValidationServer(t)

	rec := do(s, http.MethodPost, "/v1/memory/procedural", `{"agent_id": "a1"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestContentHash_Stable(t *testing.T) {
	assert.Equal(t, ContentHash("abc"), ContentHash("abc"))
	assert.NotEqual(t, ContentHash("abc"), ContentHash("abd"))
	assert.Len(t, ContentHash("abc"), 64)
}
