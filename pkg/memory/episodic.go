package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

var episodicRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
	"tool":      true,
}

// EpisodicRecord is one immutable interaction-log row.
type EpisodicRecord struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	UserID    string          `json:"userId"`
	AgentID   string          `json:"agentId,omitempty"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Score     *float64        `json:"score,omitempty"`
}

// EpisodicInput is the append request shape.
type EpisodicInput struct {
	AgentID  string          `json:"agent_id"`
	Role     string          `json:"role"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
}

func (in *EpisodicInput) UnmarshalJSON(data []byte) error {
	type alias EpisodicInput
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*in = EpisodicInput(a)
	return nil
}

// AppendEpisodic embeds the content and persists a new log row.
func (s *Service) AppendEpisodic(ctx context.Context, scope Scope, in *EpisodicInput) (*EpisodicRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, httpx.NewValidationError("content", "is required")
	}
	if !episodicRoles[in.Role] {
		return nil, httpx.NewValidationError("role", "must be one of user, assistant, system, tool")
	}

	embedding, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("embed episodic content: %w", err)
	}

	rec := &EpisodicRecord{
		ID:       uuid.New().String(),
		TenantID: scope.TenantID,
		UserID:   scope.UserID,
		AgentID:  in.AgentID,
		Role:     in.Role,
		Content:  in.Content,
		Metadata: in.Metadata,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO episodic_memory (id, tenant_id, user_id, agent_id, role, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		rec.ID, scope.TenantID, scope.UserID, in.AgentID, in.Role, in.Content,
		nullableJSON(in.Metadata), embedding).
		Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append episodic memory: %w", err)
	}
	return rec, nil
}

// RecentEpisodic returns the newest rows first, up to limit.
func (s *Service) RecentEpisodic(ctx context.Context, scope Scope, agentID string, limit int) ([]*EpisodicRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	query := `SELECT id, agent_id, role, content, metadata, created_at
		FROM episodic_memory WHERE tenant_id = $1 AND user_id = $2`
	args := []any{scope.TenantID, scope.UserID}
	if agentID != "" {
		args = append(args, agentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent episodic memory: %w", err)
	}
	defer rows.Close()

	recs := make([]*EpisodicRecord, 0, limit)
	for rows.Next() {
		rec := &EpisodicRecord{TenantID: scope.TenantID, UserID: scope.UserID}
		var metadata []byte
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Role, &rec.Content, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan episodic memory: %w", err)
		}
		rec.Metadata = metadata
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent episodic memory: %w", err)
	}
	return recs, nil
}

// SearchEpisodic embeds the query and returns rows ranked by similarity,
// each carrying its score.
func (s *Service) SearchEpisodic(ctx context.Context, scope Scope, agentID, q string, limit int) ([]*EpisodicRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if q == "" {
		return nil, httpx.NewValidationError("q", "is required")
	}
	limit = clampLimit(limit)

	queryVec, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed episodic query: %w", err)
	}

	query := `SELECT id, agent_id, role, content, metadata, created_at, embedding
		FROM episodic_memory
		WHERE tenant_id = $1 AND user_id = $2 AND embedding IS NOT NULL`
	args := []any{scope.TenantID, scope.UserID}
	if agentID != "" {
		args = append(args, agentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	args = append(args, candidateFetchLimit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search episodic memory: %w", err)
	}
	defer rows.Close()

	var recs []*EpisodicRecord
	var embeddings [][]float32
	for rows.Next() {
		rec := &EpisodicRecord{TenantID: scope.TenantID, UserID: scope.UserID}
		var metadata []byte
		var embedding []float32
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Role, &rec.Content, &metadata,
			&rec.CreatedAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan episodic memory: %w", err)
		}
		rec.Metadata = metadata
		recs = append(recs, rec)
		embeddings = append(embeddings, embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search episodic memory: %w", err)
	}

	ranked := rankBySimilarity(recs, embeddings, queryVec, limit)
	out := make([]*EpisodicRecord, 0, len(ranked))
	for _, r := range ranked {
		score := r.score
		r.row.Score = &score
		out = append(out, r.row)
	}
	return out, nil
}
