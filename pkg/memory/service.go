package memory

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100

	// candidateFetchLimit bounds how many rows a vector search pulls for
	// in-process ranking.
	candidateFetchLimit = 1000
)

// Scope identifies the tenant/user pair every memory operation runs under.
type Scope struct {
	TenantID string
	UserID   string
}

// Validate rejects scopes missing either identifier.
func (s Scope) Validate() error {
	if s.TenantID == "" {
		return httpx.NewValidationError("tenant_id", "is required")
	}
	if s.UserID == "" {
		return httpx.NewValidationError("user_id", "is required")
	}
	return nil
}

// Service owns memory persistence. All queries filter by tenant (and
// usually user); rows from one scope are invisible to every other.
type Service struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewService creates a memory service backed by the pool and embedder.
func NewService(pool *pgxpool.Pool, embedder Embedder) *Service {
	return &Service{pool: pool, embedder: embedder}
}

// clampLimit folds a requested result limit into [1, maxSearchLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// textArray maps nil to an empty slice so TEXT[] columns never go NULL.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableText maps "" to SQL NULL for nullable TEXT columns.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
