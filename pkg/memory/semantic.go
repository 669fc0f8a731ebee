package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

// SemanticRecord is one knowledge item.
type SemanticRecord struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	UserID      string          `json:"userId"`
	Content     string          `json:"content"`
	ExternalID  string          `json:"externalId,omitempty"`
	ContentHash string          `json:"contentHash"`
	IsPublic    bool            `json:"isPublic"`
	Tags        []string        `json:"tags"`
	Source      string          `json:"source,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Score       *float64        `json:"score,omitempty"`
}

// SemanticInput is the upsert request shape.
type SemanticInput struct {
	Content    string          `json:"content"`
	ExternalID string          `json:"external_id"`
	IsPublic   bool            `json:"is_public"`
	Tags       []string        `json:"tags"`
	Source     string          `json:"source"`
	Metadata   json.RawMessage `json:"metadata"`
}

func (in *SemanticInput) UnmarshalJSON(data []byte) error {
	type alias SemanticInput
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*in = SemanticInput(a)
	return nil
}

// SemanticSearchRequest is the search request shape.
type SemanticSearchRequest struct {
	Query         string `json:"query"`
	Limit         int    `json:"limit"`
	IncludePublic *bool  `json:"include_public"`
}

func (r *SemanticSearchRequest) UnmarshalJSON(data []byte) error {
	type alias SemanticSearchRequest
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*r = SemanticSearchRequest(a)
	return nil
}

// ContentHash returns the dedupe key for content without an external id.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UpsertSemantic applies the semantic upsert rule: match on external id
// when given, content hash otherwise; public items dedupe tenant-wide,
// private ones per user. Updates keep created_at and bump updated_at.
// The embedding is regenerated on every write.
func (s *Service) UpsertSemantic(ctx context.Context, scope Scope, in *SemanticInput) (*SemanticRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, httpx.NewValidationError("content", "is required")
	}

	embedding, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("embed semantic content: %w", err)
	}
	hash := ContentHash(in.Content)

	rec, err := s.upsertSemanticTx(ctx, scope, in, hash, embedding)
	if err != nil && isUniqueViolation(err) {
		// Two first-time writers can both see no row to lock; the loser's
		// insert hits the unique index. The row exists now, so a second
		// pass takes the update path.
		rec, err = s.upsertSemanticTx(ctx, scope, in, hash, embedding)
	}
	return rec, err
}

func (s *Service) upsertSemanticTx(ctx context.Context, scope Scope, in *SemanticInput, hash string, embedding []float32) (*SemanticRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin semantic upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Locate the row this write targets, locking it against concurrent
	// upserts on the same key.
	match := `SELECT id FROM semantic_memory WHERE tenant_id = $1`
	args := []any{scope.TenantID}
	if in.ExternalID != "" {
		args = append(args, in.ExternalID)
		match += fmt.Sprintf(" AND external_id = $%d", len(args))
	} else {
		args = append(args, hash)
		match += fmt.Sprintf(" AND content_hash = $%d", len(args))
	}
	if in.IsPublic {
		match += " AND is_public"
	} else {
		args = append(args, scope.UserID)
		match += fmt.Sprintf(" AND user_id = $%d AND NOT is_public", len(args))
	}
	match += " FOR UPDATE"

	var existingID string
	err = tx.QueryRow(ctx, match, args...).Scan(&existingID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		rec := &SemanticRecord{
			ID:          uuid.New().String(),
			TenantID:    scope.TenantID,
			UserID:      scope.UserID,
			Content:     in.Content,
			ExternalID:  in.ExternalID,
			ContentHash: hash,
			IsPublic:    in.IsPublic,
			Tags:        textArray(in.Tags),
			Source:      in.Source,
			Metadata:    in.Metadata,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO semantic_memory (id, tenant_id, user_id, content, external_id, content_hash,
				is_public, tags, source, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at`,
			rec.ID, scope.TenantID, scope.UserID, in.Content, nullableText(in.ExternalID), hash,
			in.IsPublic, textArray(in.Tags), in.Source, nullableJSON(in.Metadata), embedding).
			Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert semantic memory: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit semantic upsert: %w", err)
		}
		return rec, nil

	case err != nil:
		return nil, fmt.Errorf("match semantic memory: %w", err)
	}

	rec := &SemanticRecord{
		ID:          existingID,
		TenantID:    scope.TenantID,
		Content:     in.Content,
		ExternalID:  in.ExternalID,
		ContentHash: hash,
		IsPublic:    in.IsPublic,
		Tags:        textArray(in.Tags),
		Source:      in.Source,
		Metadata:    in.Metadata,
	}
	err = tx.QueryRow(ctx, `
		UPDATE semantic_memory SET
			content      = $2,
			content_hash = $3,
			is_public    = $4,
			tags         = $5,
			source       = $6,
			metadata     = $7,
			embedding    = $8,
			updated_at   = now()
		WHERE id = $1
		RETURNING user_id, created_at, updated_at`,
		existingID, in.Content, hash, in.IsPublic, textArray(in.Tags), in.Source,
		nullableJSON(in.Metadata), embedding).
		Scan(&rec.UserID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update semantic memory: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit semantic upsert: %w", err)
	}
	return rec, nil
}

// SearchSemantic returns items visible to the scope ranked by similarity.
// Public rows from other users are included unless includePublic is false.
func (s *Service) SearchSemantic(ctx context.Context, scope Scope, query string, limit int, includePublic bool) ([]*SemanticRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, httpx.NewValidationError("query", "is required")
	}
	limit = clampLimit(limit)

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed semantic query: %w", err)
	}

	visibility := "(user_id = $2 OR is_public)"
	if !includePublic {
		visibility = "user_id = $2"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, content, external_id, content_hash, is_public, tags, source,
			metadata, embedding, created_at, updated_at
		FROM semantic_memory
		WHERE tenant_id = $1 AND %s AND embedding IS NOT NULL
		ORDER BY updated_at DESC LIMIT $3`, visibility),
		scope.TenantID, scope.UserID, candidateFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("search semantic memory: %w", err)
	}
	defer rows.Close()

	var recs []*SemanticRecord
	var embeddings [][]float32
	for rows.Next() {
		rec := &SemanticRecord{TenantID: scope.TenantID}
		var externalID *string
		var metadata []byte
		var embedding []float32
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &externalID, &rec.ContentHash,
			&rec.IsPublic, &rec.Tags, &rec.Source, &metadata, &embedding,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan semantic memory: %w", err)
		}
		if externalID != nil {
			rec.ExternalID = *externalID
		}
		rec.Metadata = metadata
		recs = append(recs, rec)
		embeddings = append(embeddings, embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search semantic memory: %w", err)
	}

	ranked := rankBySimilarity(recs, embeddings, queryVec, limit)
	out := make([]*SemanticRecord, 0, len(ranked))
	for _, r := range ranked {
		score := r.score
		r.row.Score = &score
		out = append(out, r.row)
	}
	return out, nil
}
