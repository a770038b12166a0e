// Package task contains the task (mission) entity and its lifecycle.
// A task moves Pending → Completed or Pending → Missed; both are terminal.
// Recurring tasks stay Pending and are completed once per occurrence date.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// IsTerminal returns true for Completed and Missed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

// Task is a unit of work owned by a user.
type Task struct {
	ID          shared.TaskID
	OwnerID     shared.UserID
	Title       string
	Category    shared.Category
	Priority    bool
	ScheduledAt time.Time
	Deadline    *time.Time
	Proof       shared.ProofType
	Recurring   bool

	// TimeSavedMinutes is credited to the owner's wallet on completion.
	TimeSavedMinutes int

	Status      Status
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// NewTask creates a pending task with validation.
func NewTask(
	ownerID shared.UserID,
	title string,
	category shared.Category,
	scheduledAt time.Time,
	createdAt time.Time,
) (*Task, error) {
	if !ownerID.IsValid() {
		return nil, shared.NewDomainError("task", "New", shared.ErrInvalidID, "owner ID is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, shared.NewDomainError("task", "New", shared.ErrValidation, "title is required")
	}
	if !category.IsValid() {
		return nil, shared.NewDomainError("task", "New", shared.ErrInvalidInput, fmt.Sprintf("unknown category %q", category))
	}
	if scheduledAt.IsZero() {
		scheduledAt = createdAt
	}

	return &Task{
		ID:          shared.TaskID(uuid.NewString()),
		OwnerID:     ownerID,
		Title:       title,
		Category:    category,
		ScheduledAt: scheduledAt,
		Proof:       shared.ProofNone,
		Status:      StatusPending,
		CreatedAt:   createdAt,
	}, nil
}

// CanComplete checks whether userID may complete the task with the given proof.
func (t *Task) CanComplete(userID shared.UserID, proof shared.ProofType, occurrence shared.Date) error {
	if t.OwnerID != userID {
		return shared.ErrTaskNotOwned
	}
	if t.Status != StatusPending {
		return shared.ErrTaskNotPending
	}
	if t.Proof == shared.ProofPhoto && proof != shared.ProofPhoto {
		return shared.ErrProofRequired
	}
	if t.Recurring && occurrence.IsZero() {
		return shared.ErrOccurrenceNeeded
	}
	return nil
}

// CheckOccurrence bounds the occurrence of a recurring task to the days
// between the task's creation and today, both seen in loc.
// One-off tasks accept any occurrence because it is not part of their key.
func (t *Task) CheckOccurrence(occurrence, today shared.Date, loc *time.Location) error {
	if !t.Recurring {
		return nil
	}
	if occurrence.IsZero() {
		return shared.ErrOccurrenceNeeded
	}
	if occurrence.Before(shared.DateOf(t.CreatedAt, loc)) || occurrence.After(today) {
		return shared.ErrOccurrenceRange
	}
	return nil
}

// MarkCompleted moves a non-recurring task to Completed.
// Recurring tasks keep their Pending status.
func (t *Task) MarkCompleted(at time.Time) error {
	if t.Status != StatusPending {
		return shared.ErrTaskNotPending
	}
	completedAt := at
	t.CompletedAt = &completedAt
	if !t.Recurring {
		t.Status = StatusCompleted
	}
	return nil
}

// MarkMissed moves a pending task past its deadline to Missed.
func (t *Task) MarkMissed(now time.Time) error {
	if t.Status != StatusPending {
		return shared.ErrTaskNotPending
	}
	if t.Recurring {
		return shared.NewDomainError("task", "MarkMissed", shared.ErrStateTransition, "recurring tasks cannot be missed")
	}
	if t.Deadline == nil || !now.After(*t.Deadline) {
		return shared.NewDomainError("task", "MarkMissed", shared.ErrStateTransition, "deadline has not passed")
	}
	t.Status = StatusMissed
	return nil
}

// IsAtRisk is a display-only state: Pending with a deadline within window.
// It is never persisted.
func (t *Task) IsAtRisk(now time.Time, window time.Duration) bool {
	if t.Status != StatusPending || t.Deadline == nil {
		return false
	}
	remaining := t.Deadline.Sub(now)
	return remaining > 0 && remaining <= window
}

// Repository persists tasks.
type Repository interface {
	Save(ctx context.Context, t *Task) error
	FindByID(ctx context.Context, id string) (*Task, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Task, error)

	// ListOverdue returns pending non-recurring tasks whose deadline is before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Task, error)
}
