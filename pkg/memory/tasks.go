package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/soorma-ai/soorma/pkg/httpx"
)

// TaskContext tracks one delegated unit of work and its sub-tasks. The
// sub_tasks array is the canonical parent-finding index; per-sub-task
// status and results live in the state document.
type TaskContext struct {
	TenantID      string          `json:"tenantId"`
	UserID        string          `json:"userId"`
	TaskID        string          `json:"taskId"`
	PlanID        string          `json:"planId,omitempty"`
	EventType     string          `json:"eventType,omitempty"`
	ResponseEvent string          `json:"responseEvent,omitempty"`
	ResponseTopic string          `json:"responseTopic"`
	Data          json.RawMessage `json:"data,omitempty"`
	SubTasks      []string        `json:"subTasks"`
	State         json.RawMessage `json:"state,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TaskInput is the upsert request shape.
type TaskInput struct {
	TaskID        string          `json:"task_id"`
	PlanID        string          `json:"plan_id"`
	EventType     string          `json:"event_type"`
	ResponseEvent string          `json:"response_event"`
	ResponseTopic string          `json:"response_topic"`
	Data          json.RawMessage `json:"data"`
	SubTasks      []string        `json:"sub_tasks"`
	State         json.RawMessage `json:"state"`
}

func (in *TaskInput) UnmarshalJSON(data []byte) error {
	type alias TaskInput
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*in = TaskInput(a)
	return nil
}

// TaskUpdate carries the fields an update may change. Nil pointers leave
// the stored value alone.
type TaskUpdate struct {
	ResponseEvent  *string         `json:"response_event"`
	ResponseTopic  *string         `json:"response_topic"`
	Data           json.RawMessage `json:"data"`
	State          json.RawMessage `json:"state"`
	AppendSubTasks []string        `json:"append_sub_tasks"`
}

func (u *TaskUpdate) UnmarshalJSON(data []byte) error {
	type alias TaskUpdate
	var a alias
	if err := httpx.LooseUnmarshal(data, &a); err != nil {
		return err
	}
	*u = TaskUpdate(a)
	return nil
}

// UpsertTask creates or replaces the task record keyed by (tenant, task_id).
func (s *Service) UpsertTask(ctx context.Context, scope Scope, in *TaskInput) (*TaskContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.TaskID == "" {
		return nil, httpx.NewValidationError("task_id", "is required")
	}
	responseTopic := in.ResponseTopic
	if responseTopic == "" {
		responseTopic = "action-results"
	}

	task := &TaskContext{
		TenantID:      scope.TenantID,
		UserID:        scope.UserID,
		TaskID:        in.TaskID,
		PlanID:        in.PlanID,
		EventType:     in.EventType,
		ResponseEvent: in.ResponseEvent,
		ResponseTopic: responseTopic,
		Data:          in.Data,
		SubTasks:      textArray(in.SubTasks),
		State:         in.State,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO task_contexts (id, tenant_id, user_id, task_id, plan_id, event_type,
			response_event, response_topic, data, sub_tasks, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, task_id) DO UPDATE SET
			user_id        = EXCLUDED.user_id,
			plan_id        = EXCLUDED.plan_id,
			event_type     = EXCLUDED.event_type,
			response_event = EXCLUDED.response_event,
			response_topic = EXCLUDED.response_topic,
			data           = EXCLUDED.data,
			sub_tasks      = EXCLUDED.sub_tasks,
			state          = EXCLUDED.state,
			updated_at     = now()
		RETURNING created_at, updated_at`,
		uuid.New(), scope.TenantID, scope.UserID, in.TaskID, nullableText(in.PlanID),
		in.EventType, in.ResponseEvent, responseTopic, nullableJSON(in.Data),
		textArray(in.SubTasks), nullableJSON(in.State)).
		Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert task: %w", err)
	}
	return task, nil
}

// GetTask returns the task, or ErrNotFound.
func (s *Service) GetTask(ctx context.Context, scope Scope, taskID string) (*TaskContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.queryOneTask(ctx, scope, `task_id = $2`, taskID)
}

// GetTaskBySubtask finds the parent task whose sub_tasks array contains
// the given sub-task id.
func (s *Service) GetTaskBySubtask(ctx context.Context, scope Scope, subTaskID string) (*TaskContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if subTaskID == "" {
		return nil, httpx.NewValidationError("sub_task_id", "is required")
	}
	return s.queryOneTask(ctx, scope, `$2 = ANY(sub_tasks)`, subTaskID)
}

// UpdateTask applies a partial update to the task record.
func (s *Service) UpdateTask(ctx context.Context, scope Scope, taskID string, upd *TaskUpdate) (*TaskContext, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sets := []string{"updated_at = now()"}
	args := []any{scope.TenantID, scope.UserID, taskID}
	if upd.ResponseEvent != nil {
		args = append(args, *upd.ResponseEvent)
		sets = append(sets, fmt.Sprintf("response_event = $%d", len(args)))
	}
	if upd.ResponseTopic != nil {
		args = append(args, *upd.ResponseTopic)
		sets = append(sets, fmt.Sprintf("response_topic = $%d", len(args)))
	}
	if len(upd.Data) > 0 {
		args = append(args, []byte(upd.Data))
		sets = append(sets, fmt.Sprintf("data = $%d", len(args)))
	}
	if len(upd.State) > 0 {
		args = append(args, []byte(upd.State))
		sets = append(sets, fmt.Sprintf("state = $%d", len(args)))
	}
	if len(upd.AppendSubTasks) > 0 {
		args = append(args, upd.AppendSubTasks)
		sets = append(sets, fmt.Sprintf(
			"sub_tasks = (SELECT array_agg(DISTINCT st) FROM unnest(sub_tasks || $%d) AS st)", len(args)))
	}

	query := "UPDATE task_contexts SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += ` WHERE tenant_id = $1 AND user_id = $2 AND task_id = $3
		RETURNING plan_id, event_type, response_event, response_topic, data, sub_tasks, state,
			created_at, updated_at`

	task := &TaskContext{TenantID: scope.TenantID, UserID: scope.UserID, TaskID: taskID}
	var planID *string
	var data, state []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&planID, &task.EventType, &task.ResponseEvent, &task.ResponseTopic,
		&data, &task.SubTasks, &state, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	task.Data = data
	task.State = state
	if planID != nil {
		task.PlanID = *planID
	}
	return task, nil
}

// DeleteTask removes the task record, or returns ErrNotFound.
func (s *Service) DeleteTask(ctx context.Context, scope Scope, taskID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM task_contexts WHERE tenant_id = $1 AND user_id = $2 AND task_id = $3`,
		scope.TenantID, scope.UserID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

const taskSelect = `SELECT task_id, plan_id, event_type, response_event, response_topic,
	data, sub_tasks, state, created_at, updated_at FROM task_contexts`

func (s *Service) queryOneTask(ctx context.Context, scope Scope, cond string, arg string) (*TaskContext, error) {
	task := &TaskContext{TenantID: scope.TenantID, UserID: scope.UserID}
	var planID *string
	var data, state []byte
	err := s.pool.QueryRow(ctx,
		taskSelect+` WHERE tenant_id = $1 AND `+cond+` AND user_id = $3`,
		scope.TenantID, arg, scope.UserID).Scan(
		&task.TaskID, &planID, &task.EventType, &task.ResponseEvent, &task.ResponseTopic,
		&data, &task.SubTasks, &state, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpx.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	task.Data = data
	task.State = state
	if planID != nil {
		task.PlanID = *planID
	}
	return task, nil
}
