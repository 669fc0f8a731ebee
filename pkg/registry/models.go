// Package registry is the discovery layer: durable definitions of events
// (name → schema) and agents (id → capabilities), with heartbeat-driven
// TTL liveness and a background reaper.
package registry

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

// EventDefinition is the response shape for a registered event type.
type EventDefinition struct {
	EventName      string          `json:"eventName"`
	Topic          string          `json:"topic"`
	Description    string          `json:"description,omitempty"`
	PayloadSchema  json.RawMessage `json:"payloadSchema,omitempty"`
	ResponseSchema json.RawMessage `json:"responseSchema,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Capability is one task an agent can perform.
type Capability struct {
	TaskName       string   `json:"taskName"`
	ConsumedEvent  string   `json:"consumedEvent"`
	ProducedEvents []string `json:"producedEvents"`
	Description    string   `json:"description,omitempty"`
}

// Agent is the response shape for a registered agent.
type Agent struct {
	AgentID        string          `json:"agentId"`
	Name           string          `json:"name,omitempty"`
	Description    string          `json:"description,omitempty"`
	AgentType      string          `json:"agentType,omitempty"`
	Capabilities   []Capability    `json:"capabilities"`
	ConsumedEvents []string        `json:"eventsConsumed"`
	ProducedEvents []string        `json:"eventsProduced"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	LastHeartbeat  time.Time       `json:"lastHeartbeat"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// EventDefinitionInput is the request shape for event upserts. Incoming
// keys may be snake_case or camelCase.
type EventDefinitionInput struct {
	EventName      string          `json:"event_name"`
	Topic          string          `json:"topic"`
	Description    string          `json:"description"`
	PayloadSchema  json.RawMessage `json:"payload_schema"`
	ResponseSchema json.RawMessage `json:"response_schema"`
}

func (e *EventDefinitionInput) UnmarshalJSON(data []byte) error {
	type alias EventDefinitionInput
	var a alias
	if err := looseUnmarshal(data, &a); err != nil {
		return err
	}
	*e = EventDefinitionInput(a)
	return nil
}

// CapabilityInput accepts either a full capability object or a bare task
// name string; the latter expands to a capability with an unknown
// consumed event.
type CapabilityInput Capability

func (c *CapabilityInput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*c = CapabilityInput{TaskName: name, ConsumedEvent: "unknown", ProducedEvents: []string{}}
		return nil
	}

	var a struct {
		TaskName       string   `json:"task_name"`
		ConsumedEvent  string   `json:"consumed_event"`
		ProducedEvents []string `json:"produced_events"`
		Description    string   `json:"description"`
	}
	if err := looseUnmarshal(data, &a); err != nil {
		return err
	}
	if a.ConsumedEvent == "" {
		a.ConsumedEvent = "unknown"
	}
	if a.ProducedEvents == nil {
		a.ProducedEvents = []string{}
	}
	*c = CapabilityInput(a)
	return nil
}

// RegisterAgentRequest is the flat registration shape agents send.
type RegisterAgentRequest struct {
	AgentID        string            `json:"agent_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	AgentType      string            `json:"agent_type"`
	Capabilities   []CapabilityInput `json:"capabilities"`
	ConsumedEvents []string          `json:"events_consumed"`
	ProducedEvents []string          `json:"events_produced"`
	Metadata       json.RawMessage   `json:"metadata"`
}

func (r *RegisterAgentRequest) UnmarshalJSON(data []byte) error {
	type alias RegisterAgentRequest
	var a alias
	if err := looseUnmarshal(data, &a); err != nil {
		return err
	}
	*r = RegisterAgentRequest(a)
	return nil
}

func looseUnmarshal(data []byte, v any) error {
	return httpx.LooseUnmarshal(data, v)
}
