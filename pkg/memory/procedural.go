package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

// ProceduralRecord is one learned procedure.
type ProceduralRecord struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId"`
	UserID           string    `json:"userId"`
	AgentID          string    `json:"agentId,omitempty"`
	ProcedureType    string    `json:"procedureType,omitempty"`
	TriggerCondition string    `json:"triggerCondition,omitempty"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Score            *float64  `json:"score,omitempty"`
}

// ProceduralInput is the store request shape.
type ProceduralInput struct {
	AgentID          string `json:"agent_id"`
	ProcedureType    string `json:"procedure_type"`
	TriggerCondition string `json:"trigger_condition"`
	Content          string `json:"content"`
}

func (in *ProceduralInput) UnmarshalJSON(data []byte) error {
	type alias ProceduralInput
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*in = ProceduralInput(a)
	return nil
}

// AddProcedural embeds and persists a procedure row.
func (s *Service) AddProcedural(ctx context.Context, scope Scope, in *ProceduralInput) (*ProceduralRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, httpx.NewValidationError("content", "is required")
	}

	embedding, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("embed procedural content: %w", err)
	}

	rec := &ProceduralRecord{
		ID:               uuid.New().String(),
		TenantID:         scope.TenantID,
		UserID:           scope.UserID,
		AgentID:          in.AgentID,
		ProcedureType:    in.ProcedureType,
		TriggerCondition: in.TriggerCondition,
		Content:          in.Content,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO procedural_memory (id, tenant_id, user_id, agent_id, procedure_type, trigger_condition, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		rec.ID, scope.TenantID, scope.UserID, in.AgentID, in.ProcedureType,
		in.TriggerCondition, in.Content, embedding).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("add procedural memory: %w", err)
	}
	return rec, nil
}

// ListProcedural returns procedures for the scope, optionally narrowed by
// agent and procedure type.
func (s *Service) ListProcedural(ctx context.Context, scope Scope, agentID, procedureType string) ([]*ProceduralRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT id, agent_id, procedure_type, trigger_condition, content, created_at, updated_at
		FROM procedural_memory WHERE tenant_id = $1 AND user_id = $2`
	args := []any{scope.TenantID, scope.UserID}
	if agentID != "" {
		args = append(args, agentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if procedureType != "" {
		args = append(args, procedureType)
		query += fmt.Sprintf(" AND procedure_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list procedural memory: %w", err)
	}
	defer rows.Close()

	recs := make([]*ProceduralRecord, 0)
	for rows.Next() {
		rec := &ProceduralRecord{TenantID: scope.TenantID, UserID: scope.UserID}
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.ProcedureType, &rec.TriggerCondition,
			&rec.Content, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan procedural memory: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list procedural memory: %w", err)
	}
	return recs, nil
}

// SearchProcedural returns procedures ranked by similarity to the query.
func (s *Service) SearchProcedural(ctx context.Context, scope Scope, agentID, q string, limit int) ([]*ProceduralRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if q == "" {
		return nil, httpx.NewValidationError("q", "is required")
	}
	limit = clampLimit(limit)

	queryVec, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed procedural query: %w", err)
	}

	query := `SELECT id, agent_id, procedure_type, trigger_condition, content, created_at, updated_at, embedding
		FROM procedural_memory
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
		return nil, fmt.Errorf("search procedural memory: %w", err)
	}
	defer rows.Close()

	var recs []*ProceduralRecord
	var embeddings [][]float32
	for rows.Next() {
		rec := &ProceduralRecord{TenantID: scope.TenantID, UserID: scope.UserID}
		var embedding []float32
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.ProcedureType, &rec.TriggerCondition,
			&rec.Content, &rec.CreatedAt, &rec.UpdatedAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan procedural memory: %w", err)
		}
		recs = append(recs, rec)
		embeddings = append(embeddings, embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search procedural memory: %w", err)
	}

	ranked := rankBySimilarity(recs, embeddings, queryVec, limit)
	out := make([]*ProceduralRecord, 0, len(ranked))
	for _, r := range ranked {
		score := r.score
		r.row.Score = &score
		out = append(out, r.row)
	}
	return out, nil
}
