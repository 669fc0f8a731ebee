// Package envelope defines the platform's uniform wire message and the
// closed set of topics the bus carries. Every component — the Event
// Service, the Registry, the Memory Service, and agent SDKs — exchanges
// these envelopes as JSON.
package envelope

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the CloudEvents spec version stamped on every envelope.
const SpecVersion = "1.0"

// Topic is one of the eight logical channels the bus carries.
// The set is closed: publishing to an unknown topic is a validation error.
type Topic string

const (
	TopicBusinessFacts      Topic = "business-facts"
	TopicActionRequests     Topic = "action-requests"
	TopicActionResults      Topic = "action-results"
	TopicBillingEvents      Topic = "billing-events"
	TopicNotificationEvents Topic = "notification-events"
	TopicSystemEvents       Topic = "system-events"
	TopicPlanEvents         Topic = "plan-events"
	TopicTaskEvents         Topic = "task-events"
)

// Topics returns all valid topics in a stable order.
func Topics() []Topic {
	return []Topic{
		TopicBusinessFacts,
		TopicActionRequests,
		TopicActionResults,
		TopicBillingEvents,
		TopicNotificationEvents,
		TopicSystemEvents,
		TopicPlanEvents,
		TopicTaskEvents,
	}
}

// Valid reports whether t is a member of the closed topic set.
func (t Topic) Valid() bool {
	switch t {
	case TopicBusinessFacts, TopicActionRequests, TopicActionResults,
		TopicBillingEvents, TopicNotificationEvents, TopicSystemEvents,
		TopicPlanEvents, TopicTaskEvents:
		return true
	}
	return false
}

func (t Topic) String() string { return string(t) }

// Envelope is the platform's uniform wire message. It is CloudEvents-shaped:
// identity, routing, and tracing fields around an opaque JSON payload.
//
// Envelopes are treated as immutable once published. Derivation helpers
// (Child, Response) construct new envelopes rather than mutating.
type Envelope struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Type        string `json:"type"`
	Topic       Topic  `json:"topic"`
	SpecVersion string `json:"specversion"`

	// Time is the creation timestamp. Serialized as RFC3339; the server
	// always emits UTC.
	Time time.Time `json:"time"`

	// Data is the opaque JSON payload. May be nil.
	Data map[string]any `json:"data,omitempty"`

	// CorrelationID is the only identifier used for request↔response
	// matching. Trace fields below are diagnostics, never matching keys.
	CorrelationID string `json:"correlation_id"`

	// ResponseEvent names the event type the callee must use to reply.
	ResponseEvent string `json:"response_event,omitempty"`
	// ResponseTopic is the topic for the reply; defaults to action-results.
	ResponseTopic Topic `json:"response_topic,omitempty"`

	TraceID       string `json:"trace_id,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`

	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Subject           string `json:"subject,omitempty"`
	PayloadSchemaName string `json:"payload_schema_name,omitempty"`
}

// New creates an envelope with generated id, correlation id, spec version,
// and UTC timestamp.
func New(source, eventType string, topic Topic, data map[string]any) *Envelope {
	e := &Envelope{
		Source: source,
		Type:   eventType,
		Topic:  topic,
		Data:   data,
	}
	e.Normalize()
	return e
}

// NewActionRequest creates an envelope on the action-requests topic.
func NewActionRequest(source, eventType string, data map[string]any) *Envelope {
	return New(source, eventType, TopicActionRequests, data)
}

// NewActionResult creates an envelope on the action-results topic.
func NewActionResult(source, eventType string, data map[string]any) *Envelope {
	return New(source, eventType, TopicActionResults, data)
}

// Normalize fills generated defaults for fields the producer may omit:
// id, correlation_id, specversion, and time. Existing values are kept.
func (e *Envelope) Normalize() {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.New().String()
	}
	if e.SpecVersion == "" {
		e.SpecVersion = SpecVersion
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	} else {
		e.Time = e.Time.UTC()
	}
}

// Validate checks the envelope's required fields and topic membership.
// Callers should Normalize first; Validate does not fill defaults.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope: id is required")
	}
	if e.Source == "" {
		return fmt.Errorf("envelope: source is required")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope: type is required")
	}
	if !e.Topic.Valid() {
		return fmt.Errorf("envelope: invalid topic %q", e.Topic)
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("envelope: correlation_id is required")
	}
	if e.ResponseTopic != "" && !e.ResponseTopic.Valid() {
		return fmt.Errorf("envelope: invalid response_topic %q", e.ResponseTopic)
	}
	return nil
}

// Child derives a new request from a parent envelope. The child inherits
// trace_id, tenant_id, and session_id, records the parent's id as
// parent_event_id, and mints a fresh correlation_id — the child is a new
// conversation, not a reply.
func (e *Envelope) Child(source, eventType string, topic Topic, data map[string]any) *Envelope {
	child := New(source, eventType, topic, data)
	child.TraceID = e.TraceID
	child.TenantID = e.TenantID
	child.SessionID = e.SessionID
	child.ParentEventID = e.ID
	return child
}

// Response derives the reply to a request envelope. The response copies
// correlation_id, trace_id, tenant_id, and session_id from the request,
// uses the request's response_event as its type, and is published on the
// request's response_topic (defaulting to action-results).
func (e *Envelope) Response(source string, data map[string]any) *Envelope {
	topic := e.ResponseTopic
	if topic == "" {
		topic = TopicActionResults
	}
	resp := New(source, e.ResponseEvent, topic, data)
	resp.CorrelationID = e.CorrelationID
	resp.TraceID = e.TraceID
	resp.TenantID = e.TenantID
	resp.SessionID = e.SessionID
	resp.ParentEventID = e.ID
	return resp
}
