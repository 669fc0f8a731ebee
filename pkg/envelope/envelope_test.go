package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsDefaults(t *testing.T) {
	e := New("planner", "research.requested", TopicActionRequests, map[string]any{"q": "x"})

	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.CorrelationID)
	assert.Equal(t, SpecVersion, e.SpecVersion)
	assert.False(t, e.Time.IsZero())
	assert.Equal(t, time.UTC, e.Time.Location())
	require.NoError(t, e.Validate())
}

func TestNormalize_KeepsExistingValues(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &Envelope{
		ID:            "E1",
		Source:        "planner",
		Type:          "research.requested",
		Topic:         TopicActionRequests,
		CorrelationID: "C1",
		Time:          ts,
	}
	e.Normalize()

	assert.Equal(t, "E1", e.ID)
	assert.Equal(t, "C1", e.CorrelationID)
	assert.Equal(t, ts, e.Time)
}

func TestValidate_RejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }},
		{"missing source", func(e *Envelope) { e.Source = "" }},
		{"missing type", func(e *Envelope) { e.Type = "" }},
		{"invalid topic", func(e *Envelope) { e.Topic = "not-a-topic" }},
		{"missing correlation", func(e *Envelope) { e.CorrelationID = "" }},
		{"invalid response topic", func(e *Envelope) { e.ResponseTopic = "bogus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("src", "a.b", TopicSystemEvents, nil)
			tt.mutate(e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestTopic_Valid(t *testing.T) {
	for _, topic := range Topics() {
		assert.True(t, topic.Valid(), "topic %q should be valid", topic)
	}
	assert.False(t, Topic("random").Valid())
	assert.False(t, Topic("").Valid())
}

func TestRoundTrip_PreservesFields(t *testing.T) {
	e := New("worker-1", "research.completed", TopicActionResults, map[string]any{"answer": "42"})
	e.ResponseEvent = "research.acked"
	e.ResponseTopic = TopicSystemEvents
	e.TraceID = "T1"
	e.ParentEventID = "P1"
	e.TenantID = "tenant-a"
	e.UserID = "user-b"
	e.SessionID = "sess-c"
	e.Subject = "subj"
	e.PayloadSchemaName = "research_completed_v1"

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Source, got.Source)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.Topic, got.Topic)
	assert.Equal(t, e.SpecVersion, got.SpecVersion)
	assert.True(t, e.Time.Equal(got.Time))
	assert.Equal(t, e.Data, got.Data)
	assert.Equal(t, e.CorrelationID, got.CorrelationID)
	assert.Equal(t, e.ResponseEvent, got.ResponseEvent)
	assert.Equal(t, e.ResponseTopic, got.ResponseTopic)
	assert.Equal(t, e.TraceID, got.TraceID)
	assert.Equal(t, e.ParentEventID, got.ParentEventID)
	assert.Equal(t, e.TenantID, got.TenantID)
	assert.Equal(t, e.UserID, got.UserID)
	assert.Equal(t, e.SessionID, got.SessionID)
	assert.Equal(t, e.Subject, got.Subject)
	assert.Equal(t, e.PayloadSchemaName, got.PayloadSchemaName)
}

func TestWireFormat_TopicIsStringValue(t *testing.T) {
	e := New("src", "a.b", TopicActionRequests, nil)
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "action-requests", m["topic"])
}

func TestChild_DerivationInvariants(t *testing.T) {
	parent := New("planner", "plan.started", TopicPlanEvents, nil)
	parent.TraceID = "trace-1"
	parent.TenantID = "tenant-1"
	parent.SessionID = "sess-1"

	child := parent.Child("planner", "fetch.requested", TopicActionRequests, map[string]any{"url": "u"})

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.TenantID, child.TenantID)
	assert.Equal(t, parent.SessionID, child.SessionID)
	assert.Equal(t, parent.ID, child.ParentEventID)
	// A child is a new conversation: fresh correlation id.
	assert.NotEqual(t, parent.CorrelationID, child.CorrelationID)
	assert.NotEmpty(t, child.CorrelationID)
}

func TestResponse_DerivationInvariants(t *testing.T) {
	req := New("client", "research.requested", TopicActionRequests, nil)
	req.ResponseEvent = "research.completed"
	req.TraceID = "trace-9"
	req.TenantID = "tenant-9"
	req.SessionID = "sess-9"

	resp := req.Response("worker", map[string]any{"ok": true})

	assert.Equal(t, "research.completed", resp.Type)
	assert.Equal(t, TopicActionResults, resp.Topic, "response topic defaults to action-results")
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	assert.Equal(t, req.TraceID, resp.TraceID)
	assert.Equal(t, req.TenantID, resp.TenantID)
	assert.Equal(t, req.SessionID, resp.SessionID)
}

func TestResponse_HonorsExplicitResponseTopic(t *testing.T) {
	req := New("client", "bill.requested", TopicActionRequests, nil)
	req.ResponseEvent = "bill.completed"
	req.ResponseTopic = TopicBillingEvents

	resp := req.Response("biller", nil)
	assert.Equal(t, TopicBillingEvents, resp.Topic)
}
