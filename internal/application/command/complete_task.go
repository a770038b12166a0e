// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE TASK COMMAND
// Records a task completion: the only action that earns base XP and
// extends the daily streak.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTaskCommand contains the data to complete a task.
type CompleteTaskCommand struct {
	// UserID is the user completing the task.
	UserID string

	// TaskID is the task being completed.
	TaskID string

	// OccurrenceDate selects the occurrence of a recurring task.
	OccurrenceDate shared.Date

	// Proof is the proof supplied with the completion.
	Proof shared.ProofType
}

// Validate validates the command.
func (c CompleteTaskCommand) Validate() error {
	if c.UserID == "" {
		return shared.NewDomainError("complete_task", "Validate", shared.ErrInvalidID, "user_id is required")
	}
	if c.TaskID == "" {
		return shared.NewDomainError("complete_task", "Validate", shared.ErrInvalidID, "task_id is required")
	}
	if c.Proof != "" && !c.Proof.IsValid() {
		return shared.NewDomainError("complete_task", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown proof type %q", c.Proof))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTaskHandler handles the CompleteTaskCommand.
type CompleteTaskHandler struct {
	users     user.Repository
	tasks     task.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewCompleteTaskHandler creates a new CompleteTaskHandler.
func NewCompleteTaskHandler(users user.Repository, tasks task.Repository, projector *progression.Projector) *CompleteTaskHandler {
	return &CompleteTaskHandler{
		users:     users,
		tasks:     tasks,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("complete_task")),
	}
}

// Handle executes the complete task command.
//
// A repeated completion of the same task (or the same occurrence of a
// recurring one) returns the snapshot of the first call with Duplicate
// set: awards and unlocks are recomputed from the logged event, never
// booked again. If the first attempt stopped after the event was logged,
// the repeat finishes its derivation without awarding anything twice.
func (h *CompleteTaskHandler) Handle(ctx context.Context, cmd CompleteTaskCommand) (progression.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return progression.Snapshot{}, err
	}
	if cmd.Proof == "" {
		cmd.Proof = shared.ProofNone
	}
	userID := shared.UserID(cmd.UserID)

	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		_, err := h.users.FindByID(ctx, cmd.UserID)
		return err
	}); err != nil {
		return progression.Snapshot{}, err
	}

	unlock, err := h.projector.Lock(ctx, userID)
	if err != nil {
		return progression.Snapshot{}, err
	}
	defer unlock()

	var t *task.Task
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		var err error
		t, err = h.tasks.FindByID(ctx, cmd.TaskID)
		return err
	}); err != nil {
		return progression.Snapshot{}, err
	}
	if t.OwnerID != userID {
		return progression.Snapshot{}, shared.ErrTaskNotOwned
	}

	state, err := h.projector.Load(ctx, userID)
	if err != nil {
		return progression.Snapshot{}, err
	}

	at := h.projector.EventTime(state)
	ev := eventlog.Event{
		ID:               eventlog.NewID(),
		Kind:             eventlog.KindTaskCompleted,
		UserID:           userID,
		SubjectID:        t.ID.String(),
		OccurrenceDate:   cmd.OccurrenceDate,
		ActivityDate:     shared.DateOf(at, h.projector.Location()),
		Recurring:        t.Recurring,
		Timestamp:        at,
		ProofType:        cmd.Proof,
		Category:         t.Category,
		Priority:         t.Priority,
		TimeSavedMinutes: t.TimeSavedMinutes,
	}
	if !t.Recurring {
		ev.OccurrenceDate = shared.Date{}
	}

	existing, err := h.findExisting(ctx, ev.Key())
	if err != nil {
		return progression.Snapshot{}, err
	}
	if existing == nil {
		if err := t.CanComplete(userID, cmd.Proof, cmd.OccurrenceDate); err != nil {
			return progression.Snapshot{}, err
		}
		if err := t.CheckOccurrence(cmd.OccurrenceDate, h.projector.Today(), h.projector.Location()); err != nil {
			return progression.Snapshot{}, err
		}
	}

	id, appended, err := h.projector.Append(ctx, ev)
	if err != nil {
		return progression.Snapshot{}, err
	}

	state, outcomes, err := h.projector.CatchUp(ctx, state)
	if err != nil {
		return progression.Snapshot{}, err
	}

	if t.Status == task.StatusPending {
		if err := h.markCompleted(ctx, t, at); err != nil {
			return progression.Snapshot{}, err
		}
	}
	if !appended {
		if outcomes, err = h.projector.DuplicateOutcomes(ctx, userID, id, outcomes); err != nil {
			return progression.Snapshot{}, err
		}
	}

	snap := h.projector.Snapshot(state, outcomes)
	snap.Duplicate = !appended
	snap.EventID = id

	fields := []zap.Field{
		logger.UserID(cmd.UserID),
		logger.TaskID(cmd.TaskID),
		logger.EventID(id.String()),
		logger.XPAmount(snap.AwardedXP()),
		zap.Bool("duplicate", snap.Duplicate),
	}
	if snap.Duplicate {
		h.logger.Debug("completion already recorded", fields...)
	} else {
		h.logger.Info("task completed", fields...)
	}
	return snap, nil
}

// findExisting returns the stored event for key or nil.
func (h *CompleteTaskHandler) findExisting(ctx context.Context, key eventlog.Key) (*eventlog.Event, error) {
	var existing *eventlog.Event
	err := h.projector.Retry(ctx, func(ctx context.Context) error {
		ev, err := h.projector.Events().FindByKey(ctx, key)
		if err != nil {
			return err
		}
		existing = ev
		return nil
	})
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

// markCompleted moves a one-off task to Completed. Recurring tasks only
// record the last completion time.
func (h *CompleteTaskHandler) markCompleted(ctx context.Context, t *task.Task, at time.Time) error {
	if err := t.MarkCompleted(at); err != nil {
		return err
	}
	return h.projector.Retry(ctx, func(ctx context.Context) error {
		return h.tasks.Save(ctx, t)
	})
}
