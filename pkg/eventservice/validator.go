package eventservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/soorma-ai/soorma/pkg/httpx"
	"github.com/soorma-ai/soorma/pkg/registry"
)

// SchemaValidator checks an event payload against its registered schema.
type SchemaValidator interface {
	ValidatePayload(ctx context.Context, eventType string, data map[string]any) error
}

const schemaCacheTTL = time.Minute

// RegistryValidator fetches payload schemas from the Registry Service and
// validates published payloads against them. Event types without a
// registered definition, or without a payload schema, pass through
// unvalidated — the registry is advisory, not a publish allowlist.
type RegistryValidator struct {
	registryURL string
	http        *http.Client
	cache       *registry.Cache
}

// NewRegistryValidator creates a validator backed by the given registry.
func NewRegistryValidator(registryURL string) *RegistryValidator {
	return &RegistryValidator{
		registryURL: strings.TrimRight(registryURL, "/"),
		http:        &http.Client{Timeout: 10 * time.Second},
		cache:       registry.NewCache(schemaCacheTTL, 1000),
	}
}

// ValidatePayload validates data against the schema registered for the
// event type. Schema violations come back as validation errors; registry
// unavailability surfaces as such rather than failing open.
func (v *RegistryValidator) ValidatePayload(ctx context.Context, eventType string, data map[string]any) error {
	schema, err := v.schemaFor(ctx, eventType)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	var doc any = map[string]any{}
	if data != nil {
		doc = data
	}
	if err := schema.Validate(doc); err != nil {
		return httpx.NewValidationError("data", err.Error())
	}
	return nil
}

// schemaFor returns the compiled schema for an event type, nil when the
// type has no registered payload schema. Lookups are cached, negative
// results included.
func (v *RegistryValidator) schemaFor(ctx context.Context, eventType string) (*jsonschema.Schema, error) {
	if cached, ok := v.cache.Get(eventType); ok {
		schema, _ := cached.(*jsonschema.Schema)
		return schema, nil
	}

	u := v.registryURL + "/v1/events?event_name=" + url.QueryEscape(eventType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create schema lookup request: %w", err)
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch event definition: %w: %w", httpx.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch event definition: registry returned status %d: %w",
			resp.StatusCode, httpx.ErrUnavailable)
	}

	var body struct {
		Events []struct {
			PayloadSchema json.RawMessage `json:"payloadSchema"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode event definition: %w", err)
	}

	if len(body.Events) == 0 || len(body.Events[0].PayloadSchema) == 0 {
		v.cache.Set(eventType, (*jsonschema.Schema)(nil))
		return nil, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body.Events[0].PayloadSchema))
	if err != nil {
		return nil, fmt.Errorf("parse payload schema for %s: %w", eventType, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("load payload schema for %s: %w", eventType, err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile payload schema for %s: %w", eventType, err)
	}

	v.cache.Set(eventType, schema)
	return schema, nil
}
