package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

// WorkingRecord is one plan-scoped key/value row.
type WorkingRecord struct {
	TenantID  string          `json:"tenantId"`
	UserID    string          `json:"userId"`
	PlanID    string          `json:"planId"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PutWorking upserts one key under a plan. Value is any JSON value,
// null included.
func (s *Service) PutWorking(ctx context.Context, scope Scope, planID, key string, value json.RawMessage) (*WorkingRecord, error) {
	if err := s.validateWorkingKey(scope, planID, key); err != nil {
		return nil, err
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}

	rec := &WorkingRecord{TenantID: scope.TenantID, UserID: scope.UserID, PlanID: planID, Key: key, Value: value}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO working_memory (tenant_id, user_id, plan_id, key, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, user_id, plan_id, key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = now()
		RETURNING created_at, updated_at`,
		scope.TenantID, scope.UserID, planID, key, []byte(value)).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("put working memory: %w", err)
	}
	return rec, nil
}

// GetWorking returns the record for a key, or ErrNotFound.
func (s *Service) GetWorking(ctx context.Context, scope Scope, planID, key string) (*WorkingRecord, error) {
	if err := s.validateWorkingKey(scope, planID, key); err != nil {
		return nil, err
	}

	rec := &WorkingRecord{TenantID: scope.TenantID, UserID: scope.UserID, PlanID: planID, Key: key}
	var value []byte
	err := s.pool.QueryRow(ctx, `
		SELECT value, created_at, updated_at FROM working_memory
		WHERE tenant_id = $1 AND user_id = $2 AND plan_id = $3 AND key = $4`,
		scope.TenantID, scope.UserID, planID, key).
		Scan(&value, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get working memory: %w", err)
	}
	rec.Value = value
	return rec, nil
}

// DeleteWorking removes one key. Idempotent: deleting an absent key
// returns deleted=false, never an error.
func (s *Service) DeleteWorking(ctx context.Context, scope Scope, planID, key string) (bool, error) {
	if err := s.validateWorkingKey(scope, planID, key); err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM working_memory
		WHERE tenant_id = $1 AND user_id = $2 AND plan_id = $3 AND key = $4`,
		scope.TenantID, scope.UserID, planID, key)
	if err != nil {
		return false, fmt.Errorf("delete working memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteWorkingPlan removes every key the scope holds under the plan and
// returns the count.
func (s *Service) DeleteWorkingPlan(ctx context.Context, scope Scope, planID string) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if planID == "" {
		return 0, httpx.NewValidationError("plan_id", "is required")
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM working_memory
		WHERE tenant_id = $1 AND user_id = $2 AND plan_id = $3`,
		scope.TenantID, scope.UserID, planID)
	if err != nil {
		return 0, fmt.Errorf("delete working memory for plan: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Service) validateWorkingKey(scope Scope, planID, key string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if planID == "" {
		return httpx.NewValidationError("plan_id", "is required")
	}
	if key == "" {
		return httpx.NewValidationError("key", "is required")
	}
	return nil
}
