package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// TaskRepository implements task.Repository for PostgreSQL.
type TaskRepository struct {
	conn *Connection
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(conn *Connection) *TaskRepository {
	return &TaskRepository{conn: conn}
}

const taskColumns = `
	id, owner_id, title, category, priority, scheduled_at, deadline, proof,
	recurring, time_saved_minutes, status, completed_at, created_at
`

// Save inserts or updates the task.
func (r *TaskRepository) Save(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			priority = EXCLUDED.priority,
			scheduled_at = EXCLUDED.scheduled_at,
			deadline = EXCLUDED.deadline,
			proof = EXCLUDED.proof,
			recurring = EXCLUDED.recurring,
			time_saved_minutes = EXCLUDED.time_saved_minutes,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.conn.Exec(ctx, query,
		t.ID.String(),
		t.OwnerID.String(),
		t.Title,
		string(t.Category),
		t.Priority,
		t.ScheduledAt.UTC(),
		t.Deadline,
		string(t.Proof),
		t.Recurring,
		t.TimeSavedMinutes,
		string(t.Status),
		t.CompletedAt,
		t.CreatedAt.UTC(),
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrUserNotFound
		}
		return classify("SaveTask", err)
	}
	return nil
}

// FindByID returns the task or shared.ErrTaskNotFound.
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTaskNotFound
		}
		return nil, classify("FindTask", err)
	}
	return t, nil
}

// ListByOwner returns the owner's tasks ordered by schedule.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE owner_id = $1
		ORDER BY scheduled_at, id
	`
	return r.list(ctx, "ListByOwner", query, ownerID)
}

// ListOverdue returns pending one-off tasks past their deadline.
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	limit = shared.Pagination{Limit: limit}.Normalize().Limit
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'pending' AND recurring = FALSE
		  AND deadline IS NOT NULL AND deadline < $1
		ORDER BY scheduled_at, id
		LIMIT $2
	`
	return r.list(ctx, "ListOverdue", query, now.UTC(), limit)
}

func (r *TaskRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*task.Task, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t                            task.Task
		id, ownerID, category, proof string
		status                       string
		deadline, completedAt        *time.Time
	)
	err := row.Scan(
		&id,
		&ownerID,
		&t.Title,
		&category,
		&t.Priority,
		&t.ScheduledAt,
		&deadline,
		&proof,
		&t.Recurring,
		&t.TimeSavedMinutes,
		&status,
		&completedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ID = shared.TaskID(id)
	t.OwnerID = shared.UserID(ownerID)
	t.Category = shared.Category(category)
	t.Proof = shared.ProofType(proof)
	t.Status = task.Status(status)
	t.ScheduledAt = t.ScheduledAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	if deadline != nil {
		d := deadline.UTC()
		t.Deadline = &d
	}
	if completedAt != nil {
		c := completedAt.UTC()
		t.CompletedAt = &c
	}
	return &t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	query := `INSERT INTO users (id, display_name, created_at) VALUES ($1, $2, $3)`

	if _, err := r.conn.Exec(ctx, query, u.ID.String(), u.DisplayName, u.CreatedAt.UTC()); err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("user", "Create", shared.ErrAlreadyExists, "user already exists", err)
		}
		return classify("CreateUser", err)
	}
	return nil
}

// FindByID returns the user or shared.ErrUserNotFound.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*user.User, error) {
	query := `SELECT id, display_name, created_at FROM users WHERE id = $1`

	var u user.User
	var uid string
	if err := r.conn.QueryRow(ctx, query, id).Scan(&uid, &u.DisplayName, &u.CreatedAt); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, classify("FindUser", err)
	}
	u.ID = shared.UserID(uid)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
