package query

import (
	"context"
	"time"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
)

// DefaultAtRiskWindow - окно, в котором задача с дедлайном считается
// под угрозой.
const DefaultAtRiskWindow = 2 * time.Hour

// ══════════════════════════════════════════════════════════════════════════════
// GET TASKS QUERY
// Задачи пользователя с вычисляемым признаком "под угрозой".
// Признак только для отображения и никогда не сохраняется.
// ══════════════════════════════════════════════════════════════════════════════

// GetTasksQuery содержит параметры запроса задач.
type GetTasksQuery struct {
	UserID string

	// Status - фильтр по статусу (пустая строка = все).
	Status task.Status
}

// TaskDTO - задача для отображения.
type TaskDTO struct {
	ID               shared.TaskID    `json:"id"`
	Title            string           `json:"title"`
	Category         shared.Category  `json:"category"`
	Priority         bool             `json:"priority"`
	ScheduledAt      time.Time        `json:"scheduled_at"`
	Deadline         *time.Time       `json:"deadline,omitempty"`
	Proof            shared.ProofType `json:"proof"`
	Recurring        bool             `json:"recurring"`
	TimeSavedMinutes int              `json:"time_saved_minutes"`
	Status           task.Status      `json:"status"`
	AtRisk           bool             `json:"at_risk"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// NewTaskDTO конвертирует задачу в DTO.
func NewTaskDTO(t *task.Task, now time.Time, window time.Duration) TaskDTO {
	return TaskDTO{
		ID:               t.ID,
		Title:            t.Title,
		Category:         t.Category,
		Priority:         t.Priority,
		ScheduledAt:      t.ScheduledAt,
		Deadline:         t.Deadline,
		Proof:            t.Proof,
		Recurring:        t.Recurring,
		TimeSavedMinutes: t.TimeSavedMinutes,
		Status:           t.Status,
		AtRisk:           t.IsAtRisk(now, window),
		CompletedAt:      t.CompletedAt,
	}
}

// GetTasksHandler обрабатывает запрос задач.
type GetTasksHandler struct {
	users        user.Repository
	tasks        task.Repository
	projector    *progression.Projector
	atRiskWindow time.Duration
}

// NewGetTasksHandler создаёт обработчик. Неположительное окно заменяется
// DefaultAtRiskWindow.
func NewGetTasksHandler(users user.Repository, tasks task.Repository, projector *progression.Projector, atRiskWindow time.Duration) *GetTasksHandler {
	if atRiskWindow <= 0 {
		atRiskWindow = DefaultAtRiskWindow
	}
	return &GetTasksHandler{
		users:        users,
		tasks:        tasks,
		projector:    projector,
		atRiskWindow: atRiskWindow,
	}
}

// Handle возвращает задачи в порядке планирования.
func (h *GetTasksHandler) Handle(ctx context.Context, q GetTasksQuery) ([]TaskDTO, error) {
	if q.UserID == "" {
		return nil, shared.NewDomainError("get_tasks", "Handle", shared.ErrInvalidID, "user_id is required")
	}
	if err := findUser(ctx, h.projector, h.users, q.UserID); err != nil {
		return nil, err
	}

	var tasks []*task.Task
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		var err error
		tasks, err = h.tasks.ListByOwner(ctx, q.UserID)
		return err
	}); err != nil {
		return nil, err
	}

	now := h.projector.Now()
	out := make([]TaskDTO, 0, len(tasks))
	for _, t := range tasks {
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		out = append(out, NewTaskDTO(t, now, h.atRiskWindow))
	}
	return out, nil
}
