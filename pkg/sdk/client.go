// Package sdk is the agent-side boundary of the platform: it connects a
// worker process to the Event Service stream, registers it with the
// Registry, keeps a heartbeat alive, and dispatches envelopes to handlers.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soorma-ai/soorma/pkg/envelope"
	"github.com/soorma-ai/soorma/pkg/registry"
)

// ErrTimeout is returned by Request when no response arrives in time.
var ErrTimeout = errors.New("request timed out")

// Client is the thin REST client for the Event Service and Registry.
type Client struct {
	eventServiceURL string
	registryURL     string
	http            *http.Client
}

// NewClient creates a client for the given service base URLs.
func NewClient(eventServiceURL, registryURL string) *Client {
	return &Client{
		eventServiceURL: strings.TrimRight(eventServiceURL, "/"),
		registryURL:     strings.TrimRight(registryURL, "/"),
		http:            &http.Client{Timeout: 30 * time.Second},
	}
}

// Publish normalizes and POSTs one envelope to the Event Service.
func (c *Client) Publish(ctx context.Context, env *envelope.Envelope) error {
	env.Normalize()
	if err := env.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return c.postJSON(ctx, c.eventServiceURL+"/v1/events/publish",
		map[string]any{"event": env})
}

// Registration is the flat agent-registration payload.
type Registration struct {
	AgentID        string                `json:"agent_id"`
	Name           string                `json:"name,omitempty"`
	Description    string                `json:"description,omitempty"`
	AgentType      string                `json:"agent_type,omitempty"`
	Capabilities   []registry.Capability `json:"capabilities,omitempty"`
	ConsumedEvents []string              `json:"events_consumed"`
	ProducedEvents []string              `json:"events_produced"`
	Metadata       json.RawMessage       `json:"metadata,omitempty"`
}

// Register upserts the agent's registration at the Registry.
func (c *Client) Register(ctx context.Context, reg *Registration) error {
	return c.postJSON(ctx, c.registryURL+"/v1/agents", reg)
}

// Heartbeat stamps the agent's liveness clock at the Registry.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.registryURL+"/v1/agents/"+agentID+"/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("heartbeat request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: registry returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
