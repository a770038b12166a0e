package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
)

// TaskRepository implements task.Repository.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a task repository over db.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Save inserts or replaces the task.
func (r *TaskRepository) Save(ctx context.Context, t *task.Task) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if err := r.db.injected("SaveTask"); err != nil {
		return err
	}
	r.db.tasks[t.ID.String()] = *t
	return nil
}

// FindByID returns a copy of the task.
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*task.Task, error) {
	if err := r.db.injectedLocked("FindTask"); err != nil {
		return nil, err
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	t, ok := r.db.tasks[id]
	if !ok {
		return nil, shared.ErrTaskNotFound
	}
	return &t, nil
}

// ListByOwner returns the owner's tasks ordered by schedule.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]*task.Task, 0)
	for _, t := range r.db.tasks {
		if t.OwnerID.String() == ownerID {
			t := t
			out = append(out, &t)
		}
	}
	sortTasks(out)
	return out, nil
}

// ListOverdue returns pending one-off tasks past their deadline.
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	limit = shared.Pagination{Limit: limit}.Normalize().Limit

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]*task.Task, 0)
	for _, t := range r.db.tasks {
		if t.Status != task.StatusPending || t.Recurring || t.Deadline == nil || !t.Deadline.Before(now) {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sortTasks(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTasks(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].ScheduledAt.Equal(tasks[j].ScheduledAt) {
			return tasks[i].ScheduledAt.Before(tasks[j].ScheduledAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// UserRepository implements user.Repository.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a user repository over db.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, exists := r.db.users[u.ID]; exists {
		return shared.NewDomainError("user", "Create", shared.ErrAlreadyExists, "user already exists")
	}
	r.db.users[u.ID] = *u
	return nil
}

// FindByID returns a copy of the user.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*user.User, error) {
	if err := r.db.injectedLocked("FindUser"); err != nil {
		return nil, err
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	u, ok := r.db.users[shared.UserID(id)]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return &u, nil
}
