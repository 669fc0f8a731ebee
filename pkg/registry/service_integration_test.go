package registry_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soorma-ai/soorma/pkg/httpx"
	"github.com/soorma-ai/soorma/pkg/registry"
	"github.com/soorma-ai/soorma/test/util"
)

func newIntegrationService(t *testing.T, ttl time.Duration) *registry.Service {
	t.Helper()
	client := util.SetupTestDatabase(t)
	return registry.NewService(client.Pool(), ttl)
}

func TestUpsertEvent_InsertThenReplace(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)
	ctx := context.Background()

	def, err := svc.UpsertEvent(ctx, &registry.EventDefinitionInput{
		EventName:     "research.requested",
		Topic:         "action-requests",
		Description:   "ask for research",
		PayloadSchema: json.RawMessage(`{"type": "object"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "research.requested", def.EventName)
	assert.JSONEq(t, `{"type": "object"}`, string(def.PayloadSchema))

	// Same name replaces, created_at stays.
	replaced, err := svc.UpsertEvent(ctx, &registry.EventDefinitionInput{
		EventName:   "research.requested",
		Topic:       "action-requests",
		Description: "updated",
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", replaced.Description)
	assert.Equal(t, def.CreatedAt, replaced.CreatedAt)

	defs, err := svc.ListEvents(ctx, registry.EventFilter{})
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestListEvents_Filters(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)
	ctx := context.Background()

	for _, in := range []*registry.EventDefinitionInput{
		{EventName: "a.requested", Topic: "action-requests"},
		{EventName: "b.completed", Topic: "action-results"},
	} {
		_, err := svc.UpsertEvent(ctx, in)
		require.NoError(t, err)
	}

	defs, err := svc.ListEvents(ctx, registry.EventFilter{Topic: "action-results"})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "b.completed", defs[0].EventName)

	defs, err = svc.ListEvents(ctx, registry.EventFilter{EventName: "a.requested"})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "a.requested", defs[0].EventName)
}

func TestRegisterAgent_ReplacesCapabilities(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)
	ctx := context.Background()

	_, err := svc.RegisterAgent(ctx, &registry.RegisterAgentRequest{
		AgentID: "worker-1",
		Name:    "workers",
		Capabilities: []registry.CapabilityInput{
			{TaskName: "research", ConsumedEvent: "research.requested", ProducedEvents: []string{"research.completed"}},
			{TaskName: "summarize", ConsumedEvent: "summarize.requested", ProducedEvents: []string{}},
		},
		ConsumedEvents: []string{"research.requested", "summarize.requested"},
	})
	require.NoError(t, err)

	// Re-registration with fewer capabilities wipes the old rows.
	agent, err := svc.RegisterAgent(ctx, &registry.RegisterAgentRequest{
		AgentID: "worker-1",
		Capabilities: []registry.CapabilityInput{
			{TaskName: "research", ConsumedEvent: "research.requested", ProducedEvents: []string{}},
		},
		ConsumedEvents: []string{"research.requested"},
	})
	require.NoError(t, err)
	require.Len(t, agent.Capabilities, 1)

	agents, err := svc.ListAgents(ctx, registry.AgentFilter{AgentID: "worker-1"})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Len(t, agents[0].Capabilities, 1)
	assert.Equal(t, "research", agents[0].Capabilities[0].TaskName)
}

func TestListAgents_ConsumedEventFilter(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)
	ctx := context.Background()

	for _, req := range []*registry.RegisterAgentRequest{
		{AgentID: "a1", ConsumedEvents: []string{"x.requested"}},
		{AgentID: "a2", ConsumedEvents: []string{"y.requested"}},
	} {
		_, err := svc.RegisterAgent(ctx, req)
		require.NoError(t, err)
	}

	agents, err := svc.ListAgents(ctx, registry.AgentFilter{ConsumedEvent: "y.requested"})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a2", agents[0].AgentID)
}

func TestHeartbeat_UnknownAgent(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)

	_, err := svc.Heartbeat(context.Background(), "ghost")
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestHeartbeat_AdvancesLiveness(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)
	ctx := context.Background()

	agent, err := svc.RegisterAgent(ctx, &registry.RegisterAgentRequest{AgentID: "w1"})
	require.NoError(t, err)

	last, err := svc.Heartbeat(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, last.Before(agent.LastHeartbeat))
}

func TestDeleteAgent(t *testing.T) {
	svc := newIntegrationService(t, 5*time.Minute)
	ctx := context.Background()

	_, err := svc.RegisterAgent(ctx, &registry.RegisterAgentRequest{AgentID: "w1"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAgent(ctx, "w1"))
	assert.ErrorIs(t, svc.DeleteAgent(ctx, "w1"), httpx.ErrNotFound)
}

func TestExpiry_ListExcludesAndReaperDeletes(t *testing.T) {
	// TTL short enough for the agent to expire inside the test.
	svc := newIntegrationService(t, 500*time.Millisecond)
	ctx := context.Background()

	_, err := svc.RegisterAgent(ctx, &registry.RegisterAgentRequest{
		AgentID: "fleeting",
		Capabilities: []registry.CapabilityInput{
			{TaskName: "t", ConsumedEvent: "e", ProducedEvents: []string{}},
		},
	})
	require.NoError(t, err)

	time.Sleep(time.Second)

	agents, err := svc.ListAgents(ctx, registry.AgentFilter{})
	require.NoError(t, err)
	assert.Empty(t, agents)

	agents, err = svc.ListAgents(ctx, registry.AgentFilter{IncludeExpired: true})
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	deleted, err := svc.DeleteExpiredAgents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	// Capabilities cascaded with the agent; nothing left to orphan-sweep.
	orphans, err := svc.DeleteOrphanCapabilities(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, orphans)
}
