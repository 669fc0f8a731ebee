package registry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/soorma-ai/soorma/pkg/config"
)

// Validation happens before any database access, so these paths run
// against a service with no pool. Persistence behaviour is covered by the
// integration tests.
func newValidationServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Registry{Port: "0", AgentTTLSeconds: 300, AgentCleanupIntervalSeconds: 60}
	return NewServer(cfg, NewService(nil, 5*time.Minute), nil)
}

func doJSON(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestUpsertEventHandler_MissingEvent(t *testing.T) {
	s := newValidationServer(t)
	rec := doJSON(s, http.MethodPost, "/v1/events", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpsertEventHandler_MissingName(t *testing.T) {
	s := newValidationServer(t)
	rec := doJSON(s, http.MethodPost, "/v1/events", `{"event": {"topic": "business-facts"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "event_name")
}

func TestUpsertEventHandler_UnknownTopic(t *testing.T) {
	s := newValidationServer(t)
	rec := doJSON(s, http.MethodPost, "/v1/events",
		`{"event": {"event_name": "x", "topic": "not-a-topic"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpsertEventHandler_UnparsableSchema(t *testing.T) {
	s := newValidationServer(t)
	rec := doJSON(s, http.MethodPost, "/v1/events",
		`{"event": {"event_name": "x", "topic": "business-facts", "payload_schema": {"type": 12}}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRegisterAgentHandler_MissingAgentID(t *testing.T) {
	s := newValidationServer(t)
	rec := doJSON(s, http.MethodPost, "/v1/agents", `{"name": "worker"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_id")
}

func TestRegisterAgentHandler_MalformedBody(t *testing.T) {
	s := newValidationServer(t)
	rec := doJSON(s, http.MethodPost, "/v1/agents", `{"agent_id": `)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHeartbeatHandler_MissingID(t *testing.T) {
	s := newValidationServer(t)
	// Empty path param never matches the route.
	rec := doJSON(s, http.MethodPut, "/v1/agents//heartbeat", ``)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
