package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

var planStatuses = map[string]bool{
	"pending":   true,
	"running":   true,
	"paused":    true,
	"completed": true,
	"failed":    true,
}

// PlanContext is the persisted state machine record driving one plan.
type PlanContext struct {
	TenantID       string          `json:"tenantId"`
	UserID         string          `json:"userId"`
	PlanID         string          `json:"planId"`
	SessionID      string          `json:"sessionId,omitempty"`
	GoalEvent      string          `json:"goalEvent,omitempty"`
	GoalData       json.RawMessage `json:"goalData,omitempty"`
	ResponseEvent  string          `json:"responseEvent,omitempty"`
	Status         string          `json:"status"`
	State          json.RawMessage `json:"state,omitempty"`
	CurrentState   string          `json:"currentState,omitempty"`
	CorrelationIDs []string        `json:"correlationIds"`
	ParentPlanID   string          `json:"parentPlanId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// PlanInput is the create request shape.
type PlanInput struct {
	PlanID         string          `json:"plan_id"`
	SessionID      string          `json:"session_id"`
	GoalEvent      string          `json:"goal_event"`
	GoalData       json.RawMessage `json:"goal_data"`
	ResponseEvent  string          `json:"response_event"`
	Status         string          `json:"status"`
	State          json.RawMessage `json:"state"`
	CurrentState   string          `json:"current_state"`
	CorrelationIDs []string        `json:"correlation_ids"`
	ParentPlanID   string          `json:"parent_plan_id"`
}

func (in *PlanInput) UnmarshalJSON(data []byte) error {
	type alias PlanInput
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*in = PlanInput(a)
	return nil
}

// PlanUpdate carries the fields a transition may change. Nil pointers
// leave the stored value alone.
type PlanUpdate struct {
	Status               *string         `json:"status"`
	State                json.RawMessage `json:"state"`
	CurrentState         *string         `json:"current_state"`
	AppendCorrelationIDs []string        `json:"append_correlation_ids"`
}

func (u *PlanUpdate) UnmarshalJSON(data []byte) error {
	type alias PlanUpdate
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*u = PlanUpdate(a)
	return nil
}

// PlanFilter narrows ListPlans. Zero values match everything.
type PlanFilter struct {
	Status       string
	SessionID    string
	ParentPlanID string
}

// CreatePlan persists a new plan record. The plan's own id always appears
// in correlation_ids so responses can be routed back by either key.
func (s *Service) CreatePlan(ctx context.Context, scope Scope, in *PlanInput) (*PlanContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.PlanID == "" {
		return nil, httpx.NewValidationError("plan_id", "is required")
	}
	status := in.Status
	if status == "" {
		status = "pending"
	}
	if !planStatuses[status] {
		return nil, httpx.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	correlationIDs := textArray(in.CorrelationIDs)
	if !slices.Contains(correlationIDs, in.PlanID) {
		correlationIDs = append(correlationIDs, in.PlanID)
	}

	plan := &PlanContext{
		TenantID:       scope.TenantID,
		UserID:         scope.UserID,
		PlanID:         in.PlanID,
		SessionID:      in.SessionID,
		GoalEvent:      in.GoalEvent,
		GoalData:       in.GoalData,
		ResponseEvent:  in.ResponseEvent,
		Status:         status,
		State:          in.State,
		CurrentState:   in.CurrentState,
		CorrelationIDs: correlationIDs,
		ParentPlanID:   in.ParentPlanID,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO plan_contexts (id, tenant_id, user_id, plan_id, session_id, goal_event, goal_data,
			response_event, status, state, current_state, correlation_ids, parent_plan_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		uuid.New(), scope.TenantID, scope.UserID, in.PlanID, nullableText(in.SessionID),
		in.GoalEvent, nullableJSON(in.GoalData), in.ResponseEvent, status,
		nullableJSON(in.State), in.CurrentState, correlationIDs, nullableText(in.ParentPlanID)).
		Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("plan %s: %w", in.PlanID, httpx.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return plan, nil
}

// GetPlan returns the plan, or ErrNotFound.
func (s *Service) GetPlan(ctx context.Context, scope Scope, planID string) (*PlanContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.queryOnePlan(ctx, scope, `plan_id = $2`, planID)
}

// GetPlanByCorrelation finds the plan whose correlation_ids array contains
// the given id.
func (s *Service) GetPlanByCorrelation(ctx context.Context, scope Scope, correlationID string) (*PlanContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if correlationID == "" {
		return nil, httpx.NewValidationError("correlation_id", "is required")
	}
	return s.queryOnePlan(ctx, scope, `$2 = ANY(correlation_ids)`, correlationID)
}

// ListPlans returns plans matching the filter, newest first.
func (s *Service) ListPlans(ctx context.Context, scope Scope, f PlanFilter) ([]*PlanContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if f.Status != "" && !planStatuses[f.Status] {
		return nil, httpx.NewValidationError("status", fmt.Sprintf("unknown status %q", f.Status))
	}

	query := planSelect + ` WHERE tenant_id = $1 AND user_id = $2`
	args := []any{scope.TenantID, scope.UserID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if f.ParentPlanID != "" {
		args = append(args, f.ParentPlanID)
		query += fmt.Sprintf(" AND parent_plan_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]*PlanContext, 0)
	for rows.Next() {
		plan, err := scanPlan(rows, scope)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// UpdatePlan applies a partial update to the plan record.
func (s *Service) UpdatePlan(ctx context.Context, scope Scope, planID string, upd *PlanUpdate) (*PlanContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if upd.Status != nil && !planStatuses[*upd.Status] {
		return nil, httpx.NewValidationError("status", fmt.Sprintf("unknown status %q", *upd.Status))
	}

	sets := []string{"updated_at = now()"}
	args := []any{scope.TenantID, scope.UserID, planID}
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(upd.State) > 0 {
		args = append(args, []byte(upd.State))
		sets = append(sets, fmt.Sprintf("state = $%d", len(args)))
	}
	if upd.CurrentState != nil {
		args = append(args, *upd.CurrentState)
		sets = append(sets, fmt.Sprintf("current_state = $%d", len(args)))
	}
	if len(upd.AppendCorrelationIDs) > 0 {
		args = append(args, upd.AppendCorrelationIDs)
		sets = append(sets, fmt.Sprintf(
			"correlation_ids = (SELECT array_agg(DISTINCT c) FROM unnest(correlation_ids || $%d) AS c)", len(args)))
	}

	query := "UPDATE plan_contexts SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += ` WHERE tenant_id = $1 AND user_id = $2 AND plan_id = $3
		RETURNING session_id, goal_event, goal_data, response_event, status, state,
			current_state, correlation_ids, parent_plan_id, created_at, updated_at`

	plan := &PlanContext{TenantID: scope.TenantID, UserID: scope.UserID, PlanID: planID}
	var sessionID, parentPlanID *string
	var goalData, state []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sessionID, &plan.GoalEvent, &goalData, &plan.ResponseEvent, &plan.Status,
		&state, &plan.CurrentState, &plan.CorrelationIDs, &parentPlanID,
		&plan.CreatedAt, &plan.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	plan.GoalData = goalData
	plan.State = state
	if sessionID != nil {
		plan.SessionID = *sessionID
	}
	if parentPlanID != nil {
		plan.ParentPlanID = *parentPlanID
	}
	return plan, nil
}

// DeletePlan removes the plan and purges every working-memory row written
// under it, tenant-wide. Returns the number of purged keys.
func (s *Service) DeletePlan(ctx context.Context, scope Scope, planID string) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if planID == "" {
		return 0, httpx.NewValidationError("plan_id", "is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin delete plan: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		DELETE FROM plan_contexts WHERE tenant_id = $1 AND user_id = $2 AND plan_id = $3`,
		scope.TenantID, scope.UserID, planID)
	if err != nil {
		return 0, fmt.Errorf("delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, httpx.ErrNotFound
	}

	// Working memory for the plan goes with it, regardless of which user
	// wrote each key.
	wmTag, err := tx.Exec(ctx, `
		DELETE FROM working_memory WHERE tenant_id = $1 AND plan_id = $2`,
		scope.TenantID, planID)
	if err != nil {
		return 0, fmt.Errorf("purge plan working memory: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit delete plan: %w", err)
	}
	return wmTag.RowsAffected(), nil
}

const planSelect = `SELECT plan_id, session_id, goal_event, goal_data, response_event, status,
	state, current_state, correlation_ids, parent_plan_id, created_at, updated_at
	FROM plan_contexts`

func (s *Service) queryOnePlan(ctx context.Context, scope Scope, cond string, arg string) (*PlanContext, error) {
	row := s.pool.QueryRow(ctx,
		planSelect+` WHERE tenant_id = $1 AND `+cond+` AND user_id = $3`,
		scope.TenantID, arg, scope.UserID)
	plan, err := scanPlan(row, scope)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func scanPlan(row pgx.Row, scope Scope) (*PlanContext, error) {
	plan := &PlanContext{TenantID: scope.TenantID, UserID: scope.UserID}
	var sessionID, parentPlanID *string
	var goalData, state []byte
	if err := row.Scan(&plan.PlanID, &sessionID, &plan.GoalEvent, &goalData,
		&plan.ResponseEvent, &plan.Status, &state, &plan.CurrentState,
		&plan.CorrelationIDs, &parentPlanID, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	plan.GoalData = goalData
	plan.State = state
	if sessionID != nil {
		plan.SessionID = *sessionID
	}
	if parentPlanID != nil {
		plan.ParentPlanID = *parentPlanID
	}
	return plan, nil
}
