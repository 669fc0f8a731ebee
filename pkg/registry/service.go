package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/soorma-ai/soorma/pkg/envelope"
	"github.com/soorma-ai/soorma/pkg/httpx"
)

const (
	cacheTTL      = 30 * time.Second
	cacheCapacity = 1000
)

// Service owns registry persistence: event definitions and agents with
// their capabilities. Reads go through two short-TTL caches that any
// write invalidates in full.
type Service struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	eventCache *Cache
	agentCache *Cache
}

// NewService creates a registry service. ttl is the agent liveness window.
func NewService(pool *pgxpool.Pool, ttl time.Duration) *Service {
	return &Service{
		pool:       pool,
		ttl:        ttl,
		eventCache: NewCache(cacheTTL, cacheCapacity),
		agentCache: NewCache(cacheTTL, cacheCapacity),
	}
}

// TTL returns the agent liveness window.
func (s *Service) TTL() time.Duration { return s.ttl }

// UpsertEvent registers or replaces an event definition keyed by its name.
// Schemas must be valid JSON Schema documents.
func (s *Service) UpsertEvent(ctx context.Context, in *EventDefinitionInput) (*EventDefinition, error) {
	if in.EventName == "" {
		return nil, httpx.NewValidationError("event_name", "is required")
	}
	if in.Topic == "" {
		return nil, httpx.NewValidationError("topic", "is required")
	}
	if !envelope.Topic(in.Topic).Valid() {
		return nil, httpx.NewValidationError("topic", fmt.Sprintf("unknown topic %q", in.Topic))
	}
	if err := validateSchema("payload_schema", in.PayloadSchema); err != nil {
		return nil, err
	}
	if err := validateSchema("response_schema", in.ResponseSchema); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO event_definitions (id, event_name, topic, description, payload_schema, response_schema)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_name) DO UPDATE SET
			topic           = EXCLUDED.topic,
			description     = EXCLUDED.description,
			payload_schema  = EXCLUDED.payload_schema,
			response_schema = EXCLUDED.response_schema,
			updated_at      = now()
		RETURNING event_name, topic, description, payload_schema, response_schema, created_at, updated_at`,
		uuid.New(), in.EventName, in.Topic, in.Description,
		nullableJSON(in.PayloadSchema), nullableJSON(in.ResponseSchema))

	def, err := scanEventDefinition(row)
	if err != nil {
		return nil, fmt.Errorf("upsert event definition: %w", err)
	}
	s.eventCache.Purge()
	return def, nil
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	EventName string
	Topic     string
}

// ListEvents returns definitions matching the filter.
func (s *Service) ListEvents(ctx context.Context, f EventFilter) ([]*EventDefinition, error) {
	key := "events|name=" + f.EventName + "|topic=" + f.Topic
	if cached, ok := s.eventCache.Get(key); ok {
		return cached.([]*EventDefinition), nil
	}

	query := `SELECT event_name, topic, description, payload_schema, response_schema, created_at, updated_at
		FROM event_definitions`
	var conds []string
	var args []any
	if f.EventName != "" {
		args = append(args, f.EventName)
		conds = append(conds, fmt.Sprintf("event_name = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, f.Topic)
		conds = append(conds, fmt.Sprintf("topic = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY event_name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list event definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]*EventDefinition, 0)
	for rows.Next() {
		def, err := scanEventDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list event definitions: %w", err)
	}

	s.eventCache.Set(key, defs)
	return defs, nil
}

// RegisterAgent upserts an agent by id, stamps its heartbeat, and replaces
// its capability rows in the same transaction.
func (s *Service) RegisterAgent(ctx context.Context, req *RegisterAgentRequest) (*Agent, error) {
	if req.AgentID == "" {
		return nil, httpx.NewValidationError("agent_id", "is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin register agent: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx, `
		INSERT INTO agents (agent_id, name, description, agent_type, consumed_events, produced_events, metadata, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			name            = EXCLUDED.name,
			description     = EXCLUDED.description,
			agent_type      = EXCLUDED.agent_type,
			consumed_events = EXCLUDED.consumed_events,
			produced_events = EXCLUDED.produced_events,
			metadata        = EXCLUDED.metadata,
			last_heartbeat  = now(),
			updated_at      = now()
		RETURNING last_heartbeat, created_at, updated_at`,
		req.AgentID, req.Name, req.Description, req.AgentType,
		textArray(req.ConsumedEvents), textArray(req.ProducedEvents),
		nullableJSON(req.Metadata))

	agent := &Agent{
		AgentID:        req.AgentID,
		Name:           req.Name,
		Description:    req.Description,
		AgentType:      req.AgentType,
		ConsumedEvents: textArray(req.ConsumedEvents),
		ProducedEvents: textArray(req.ProducedEvents),
		Metadata:       req.Metadata,
		Capabilities:   make([]Capability, 0, len(req.Capabilities)),
	}
	if err := row.Scan(&agent.LastHeartbeat, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}

	// Capability rows are wiped and replaced wholesale so re-registration
	// never leaves stale capabilities behind.
	if _, err := tx.Exec(ctx, `DELETE FROM capabilities WHERE agent_id = $1`, req.AgentID); err != nil {
		return nil, fmt.Errorf("clear capabilities: %w", err)
	}
	for _, capability := range req.Capabilities {
		if capability.TaskName == "" {
			return nil, httpx.NewValidationError("capabilities", "task_name is required")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO capabilities (id, agent_id, task_name, consumed_event, produced_events, description)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), req.AgentID, capability.TaskName, capability.ConsumedEvent,
			textArray(capability.ProducedEvents), capability.Description); err != nil {
			return nil, fmt.Errorf("insert capability: %w", err)
		}
		agent.Capabilities = append(agent.Capabilities, Capability(capability))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit register agent: %w", err)
	}
	s.agentCache.Purge()
	return agent, nil
}

// AgentFilter narrows ListAgents. Zero values match everything; expired
// agents are excluded unless IncludeExpired is set.
type AgentFilter struct {
	AgentID        string
	Name           string
	ConsumedEvent  string
	ProducedEvent  string
	IncludeExpired bool
}

// ListAgents returns agents matching the filter, capabilities included.
func (s *Service) ListAgents(ctx context.Context, f AgentFilter) ([]*Agent, error) {
	key := fmt.Sprintf("agents|id=%s|name=%s|ce=%s|pe=%s|exp=%t",
		f.AgentID, f.Name, f.ConsumedEvent, f.ProducedEvent, f.IncludeExpired)
	if cached, ok := s.agentCache.Get(key); ok {
		return cached.([]*Agent), nil
	}

	query := `SELECT agent_id, name, description, agent_type, consumed_events, produced_events,
		metadata, last_heartbeat, created_at, updated_at FROM agents`
	var conds []string
	var args []any
	if !f.IncludeExpired {
		args = append(args, time.Now().UTC().Add(-s.ttl))
		conds = append(conds, fmt.Sprintf("last_heartbeat >= $%d", len(args)))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		conds = append(conds, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if f.Name != "" {
		args = append(args, f.Name)
		conds = append(conds, fmt.Sprintf("name = $%d", len(args)))
	}
	if f.ConsumedEvent != "" {
		args = append(args, f.ConsumedEvent)
		conds = append(conds, fmt.Sprintf("$%d = ANY(consumed_events)", len(args)))
	}
	if f.ProducedEvent != "" {
		args = append(args, f.ProducedEvent)
		conds = append(conds, fmt.Sprintf("$%d = ANY(produced_events)", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY agent_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*Agent, 0)
	byID := make(map[string]*Agent)
	for rows.Next() {
		var a Agent
		var metadata []byte
		if err := rows.Scan(&a.AgentID, &a.Name, &a.Description, &a.AgentType,
			&a.ConsumedEvents, &a.ProducedEvents, &metadata,
			&a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Metadata = metadata
		a.Capabilities = make([]Capability, 0)
		agents = append(agents, &a)
		byID[a.AgentID] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	if len(agents) > 0 {
		ids := make([]string, 0, len(agents))
		for _, a := range agents {
			ids = append(ids, a.AgentID)
		}
		capRows, err := s.pool.Query(ctx, `
			SELECT agent_id, task_name, consumed_event, produced_events, description
			FROM capabilities WHERE agent_id = ANY($1) ORDER BY task_name`, ids)
		if err != nil {
			return nil, fmt.Errorf("list capabilities: %w", err)
		}
		defer capRows.Close()
		for capRows.Next() {
			var agentID string
			var capability Capability
			if err := capRows.Scan(&agentID, &capability.TaskName, &capability.ConsumedEvent,
				&capability.ProducedEvents, &capability.Description); err != nil {
				return nil, fmt.Errorf("scan capability: %w", err)
			}
			if a, ok := byID[agentID]; ok {
				a.Capabilities = append(a.Capabilities, capability)
			}
		}
		if err := capRows.Err(); err != nil {
			return nil, fmt.Errorf("list capabilities: %w", err)
		}
	}

	s.agentCache.Set(key, agents)
	return agents, nil
}

// Heartbeat stamps the agent's liveness clock.
func (s *Service) Heartbeat(ctx context.Context, agentID string) (time.Time, error) {
	if agentID == "" {
		return time.Time{}, httpx.NewValidationError("agent_id", "is required")
	}
	var last time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE agents SET last_heartbeat = now(), updated_at = now()
		WHERE agent_id = $1
		RETURNING last_heartbeat`, agentID).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, httpx.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("heartbeat agent %s: %w", agentID, err)
	}
	s.agentCache.Purge()
	return last, nil
}

// DeleteAgent removes an agent; capability rows cascade.
func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	s.agentCache.Purge()
	return nil
}

// DeleteExpiredAgents removes every agent whose heartbeat is older than
// the TTL. Capability rows cascade with each agent.
func (s *Service) DeleteExpiredAgents(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE last_heartbeat < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired agents: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.agentCache.Purge()
	}
	return tag.RowsAffected(), nil
}

// DeleteOrphanCapabilities removes capability rows whose agent no longer
// exists. Self-healing for rows that predate the cascade constraint.
func (s *Service) DeleteOrphanCapabilities(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM capabilities c
		WHERE NOT EXISTS (SELECT 1 FROM agents a WHERE a.agent_id = c.agent_id)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan capabilities: %w", err)
	}
	return tag.RowsAffected(), nil
}

// validateSchema compiles a JSON Schema document and rejects anything the
// compiler cannot load.
func validateSchema(field string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return httpx.NewValidationError(field, "not valid JSON: "+err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return httpx.NewValidationError(field, err.Error())
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return httpx.NewValidationError(field, err.Error())
	}
	return nil
}

func scanEventDefinition(row pgx.Row) (*EventDefinition, error) {
	var def EventDefinition
	var payload, response []byte
	if err := row.Scan(&def.EventName, &def.Topic, &def.Description,
		&payload, &response, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.PayloadSchema = payload
	def.ResponseSchema = response
	return &def, nil
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// textArray maps nil to an empty slice so TEXT[] columns never go NULL.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
