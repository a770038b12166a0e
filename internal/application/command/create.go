package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE USER
// ══════════════════════════════════════════════════════════════════════════════

// CreateUserCommand registers a user. An empty ID is generated.
type CreateUserCommand struct {
	UserID      string
	DisplayName string
}

// CreateUserHandler handles the CreateUserCommand.
type CreateUserHandler struct {
	users     user.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewCreateUserHandler creates a new CreateUserHandler.
func NewCreateUserHandler(users user.Repository, projector *progression.Projector) *CreateUserHandler {
	return &CreateUserHandler{
		users:     users,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("create_user")),
	}
}

// Handle creates the user.
func (h *CreateUserHandler) Handle(ctx context.Context, cmd CreateUserCommand) (*user.User, error) {
	u, err := user.New(shared.UserID(strings.TrimSpace(cmd.UserID)), cmd.DisplayName, h.projector.Now())
	if err != nil {
		return nil, err
	}
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		return h.users.Create(ctx, u)
	}); err != nil {
		return nil, err
	}

	h.logger.Info("user created", logger.UserID(u.ID.String()))
	return u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE TASK
// ══════════════════════════════════════════════════════════════════════════════

// CreateTaskCommand schedules a task for its owner.
type CreateTaskCommand struct {
	OwnerID          string
	Title            string
	Category         shared.Category
	Priority         bool
	ScheduledAt      time.Time
	Deadline         *time.Time
	Proof            shared.ProofType
	Recurring        bool
	TimeSavedMinutes int
}

// Validate validates the command fields not covered by task.NewTask.
func (c CreateTaskCommand) Validate() error {
	if c.Proof != "" && !c.Proof.IsValid() {
		return shared.NewDomainError("create_task", "Validate", shared.ErrInvalidInput, "unknown proof type")
	}
	if c.TimeSavedMinutes < 0 {
		return shared.NewDomainError("create_task", "Validate", shared.ErrValueOutOfRange, "time_saved_minutes must be non-negative")
	}
	if c.Deadline != nil && !c.ScheduledAt.IsZero() && c.Deadline.Before(c.ScheduledAt) {
		return shared.NewDomainError("create_task", "Validate", shared.ErrValidation, "deadline is before the scheduled time")
	}
	return nil
}

// CreateTaskHandler handles the CreateTaskCommand.
type CreateTaskHandler struct {
	users     user.Repository
	tasks     task.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewCreateTaskHandler creates a new CreateTaskHandler.
func NewCreateTaskHandler(users user.Repository, tasks task.Repository, projector *progression.Projector) *CreateTaskHandler {
	return &CreateTaskHandler{
		users:     users,
		tasks:     tasks,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("create_task")),
	}
}

// Handle creates the task. A zero ScheduledAt means now.
func (h *CreateTaskHandler) Handle(ctx context.Context, cmd CreateTaskCommand) (*task.Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		_, err := h.users.FindByID(ctx, cmd.OwnerID)
		return err
	}); err != nil {
		return nil, err
	}

	now := h.projector.Now()
	scheduledAt := cmd.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	t, err := task.NewTask(shared.UserID(cmd.OwnerID), cmd.Title, cmd.Category, scheduledAt, now)
	if err != nil {
		return nil, err
	}
	t.Priority = cmd.Priority
	t.Deadline = cmd.Deadline
	t.Recurring = cmd.Recurring
	t.TimeSavedMinutes = cmd.TimeSavedMinutes
	if cmd.Proof != "" {
		t.Proof = cmd.Proof
	}

	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		return h.tasks.Save(ctx, t)
	}); err != nil {
		return nil, err
	}

	h.logger.Info("task created",
		logger.UserID(cmd.OwnerID),
		logger.TaskID(t.ID.String()),
		zap.String("category", string(t.Category)),
	)
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// CreateScopeCommand creates a circle or a challenge.
type CreateScopeCommand struct {
	ScopeID string
	Kind    leaderboard.ScopeKind
	Name    string
	Privacy shared.PrivacyLevel
}

// CreateScopeHandler handles the CreateScopeCommand.
type CreateScopeHandler struct {
	scopes    leaderboard.ScopeRepository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewCreateScopeHandler creates a new CreateScopeHandler.
func NewCreateScopeHandler(scopes leaderboard.ScopeRepository, projector *progression.Projector) *CreateScopeHandler {
	return &CreateScopeHandler{
		scopes:    scopes,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("create_scope")),
	}
}

// Handle creates the scope. An existing ID is rejected.
func (h *CreateScopeHandler) Handle(ctx context.Context, cmd CreateScopeCommand) (*leaderboard.Scope, error) {
	id := shared.ScopeID(strings.TrimSpace(cmd.ScopeID))
	if id == "" {
		id = shared.ScopeID(uuid.NewString())
	}

	scope, err := leaderboard.NewScope(id, cmd.Kind, cmd.Name, cmd.Privacy, h.projector.Now())
	if err != nil {
		return nil, err
	}

	unlock, err := h.projector.LockScope(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := h.scopes.FindByID(ctx, id.String()); err == nil {
		return nil, shared.NewDomainError("create_scope", "Handle", shared.ErrAlreadyExists, "scope already exists")
	} else if !shared.IsNotFound(err) {
		return nil, err
	}

	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		return h.scopes.Save(ctx, scope)
	}); err != nil {
		return nil, err
	}

	h.logger.Info("scope created",
		logger.ScopeID(id.String()),
		zap.String("kind", string(scope.Kind)),
	)
	return scope, nil
}
