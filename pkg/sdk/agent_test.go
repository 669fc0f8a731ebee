package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soorma-ai/soorma/pkg/envelope"
)

func newTestAgent(t *testing.T, eventURL, registryURL string) *Agent {
	t.Helper()
	if eventURL == "" {
		eventURL = "http://localhost:0"
	}
	a, err := NewAgent(Config{
		AgentID:         "worker-1",
		Name:            "workers",
		EventServiceURL: eventURL,
		RegistryURL:     registryURL,
		RequestTimeout:  100 * time.Millisecond,
	})
	require.NoError(t, err)
	return a
}

func TestNewAgent_RequiresIDAndURL(t *testing.T) {
	_, err := NewAgent(Config{EventServiceURL: "http://x"})
	assert.Error(t, err)

	_, err = NewAgent(Config{AgentID: "a"})
	assert.Error(t, err)
}

func TestOnEvent_DuplicateRejected(t *testing.T) {
	a := newTestAgent(t, "", "")
	h := func(context.Context, *envelope.Envelope) error { return nil }

	require.NoError(t, a.OnEvent("research.requested", "action-requests", h))
	assert.Error(t, a.OnEvent("research.requested", "action-requests", h))
}

func TestOnEvent_InvalidPatternRejected(t *testing.T) {
	a := newTestAgent(t, "", "")
	err := a.OnEvent("x", "a..b", func(context.Context, *envelope.Envelope) error { return nil })
	assert.Error(t, err)
}

func TestOnEvent_WildcardNotConsumed(t *testing.T) {
	a := newTestAgent(t, "", "")
	h := func(context.Context, *envelope.Envelope) error { return nil }

	require.NoError(t, a.OnEvent("research.requested", "action-requests", h))
	require.NoError(t, a.OnEvent("anything", "system-events", h))
	require.NoError(t, a.OnEvent("wild.event", "plan-events.>", h))

	assert.True(t, a.consumed["research.requested"])
	assert.True(t, a.consumed["anything"])
	assert.False(t, a.consumed["wild.event"], "wildcard subscriptions are implementation, not contract")
}

func TestSubscribedTopics_DedupedAndIncludeResponses(t *testing.T) {
	a := newTestAgent(t, "", "")
	h := func(context.Context, *envelope.Envelope) error { return nil }

	require.NoError(t, a.OnEvent("a", "action-requests", h))
	require.NoError(t, a.OnEvent("b", "action-requests", h))
	require.NoError(t, a.OnEvent("c", "system-events", h))

	assert.Equal(t, []string{"action-requests", "action-results", "system-events"}, a.subscribedTopics())
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	a := newTestAgent(t, "", "")
	var got atomic.Value
	require.NoError(t, a.OnEvent("research.requested", "action-requests",
		func(_ context.Context, env *envelope.Envelope) error {
			got.Store(env.ID)
			return nil
		}))

	env := envelope.New("planner", "research.requested", envelope.TopicActionRequests, nil)
	a.dispatch(context.Background(), env)
	assert.Equal(t, env.ID, got.Load())
}

func TestDispatch_WildcardPattern(t *testing.T) {
	a := newTestAgent(t, "", "")
	var calls atomic.Int64
	require.NoError(t, a.OnEvent("tick", "system-events", // exact
		func(context.Context, *envelope.Envelope) error { calls.Add(1); return nil }))

	env := envelope.New("s", "tick", envelope.TopicSystemEvents, nil)
	a.dispatch(context.Background(), env)
	assert.Equal(t, int64(1), calls.Load())
}

func TestDispatch_NoHandlerIsDropped(t *testing.T) {
	a := newTestAgent(t, "", "")
	env := envelope.New("s", "unknown.event", envelope.TopicSystemEvents, nil)
	a.dispatch(context.Background(), env) // no panic, no error
}

func TestRequest_ReceivesMatchingResponse(t *testing.T) {
	publishServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/publish", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer publishServer.Close()

	a := newTestAgent(t, publishServer.URL, "")

	req := envelope.NewActionRequest("worker-1", "research.requested", nil)
	req.ResponseEvent = "research.completed"

	go func() {
		time.Sleep(10 * time.Millisecond)
		resp := req.Response("other-agent", map[string]any{"answer": "42"})
		a.dispatch(context.Background(), resp)
	}()

	resp, err := a.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "research.completed", resp.Type)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
}

func TestRequest_Timeout(t *testing.T) {
	publishServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer publishServer.Close()

	a := newTestAgent(t, publishServer.URL, "")

	req := envelope.NewActionRequest("worker-1", "research.requested", nil)
	_, err := a.Request(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRegister_SendsFlatShape(t *testing.T) {
	var body map[string]any
	registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer registryServer.Close()

	a := newTestAgent(t, "", registryServer.URL)
	require.NoError(t, a.OnEvent("research.requested", "action-requests",
		func(context.Context, *envelope.Envelope) error { return nil }))

	require.NoError(t, a.register(context.Background()))
	assert.Equal(t, "worker-1", body["agent_id"])
	assert.Equal(t, []any{"research.requested"}, body["events_consumed"])
}

func TestHeartbeat_UsesAgentPath(t *testing.T) {
	var path atomic.Value
	registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer registryServer.Close()

	c := NewClient("http://unused", registryServer.URL)
	require.NoError(t, c.Heartbeat(context.Background(), "worker-1"))
	assert.Equal(t, "/v1/agents/worker-1/heartbeat", path.Load())
}

func TestHeartbeat_NotFoundIsError(t *testing.T) {
	registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer registryServer.Close()

	c := NewClient("http://unused", registryServer.URL)
	assert.Error(t, c.Heartbeat(context.Background(), "ghost"))
}
