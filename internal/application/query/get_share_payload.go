package query

import (
	"context"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SHARE PAYLOAD QUERY
// Карточка дня для ленты круга. Набор полей зависит от уровня
// приватности: private ⊂ metrics ⊂ full.
// ══════════════════════════════════════════════════════════════════════════════

// GetSharePayloadQuery содержит параметры запроса.
type GetSharePayloadQuery struct {
	UserID  string
	Privacy shared.PrivacyLevel
}

// SharePayload - карточка дня. Поля, не разрешённые уровнем, отсутствуют.
type SharePayload struct {
	UserID  shared.UserID       `json:"user_id"`
	Date    shared.Date         `json:"date"`
	Privacy shared.PrivacyLevel `json:"privacy"`

	// private
	MissionsCompleted int `json:"missions_completed"`
	MissionsTotal     int `json:"missions_total"`

	// metrics
	Streak *int `json:"streak,omitempty"`
	Level  *int `json:"level,omitempty"`

	// full
	TimeSavedWallet *int `json:"time_saved_wallet,omitempty"`
	TotalXP         *int `json:"total_xp,omitempty"`
}

// GetSharePayloadHandler обрабатывает запрос карточки.
type GetSharePayloadHandler struct {
	users     user.Repository
	tasks     task.Repository
	projector *progression.Projector
}

// NewGetSharePayloadHandler создаёт обработчик.
func NewGetSharePayloadHandler(users user.Repository, tasks task.Repository, projector *progression.Projector) *GetSharePayloadHandler {
	return &GetSharePayloadHandler{users: users, tasks: tasks, projector: projector}
}

// Handle собирает карточку на сегодня в настроенной зоне.
//
// Миссии дня: разовые задачи, запланированные на сегодня, и все
// повторяющиеся задачи. Повторяющаяся задача выполнена, если в журнале
// есть её выполнение за сегодня.
func (h *GetSharePayloadHandler) Handle(ctx context.Context, q GetSharePayloadQuery) (*SharePayload, error) {
	if q.UserID == "" {
		return nil, shared.NewDomainError("get_share_payload", "Handle", shared.ErrInvalidID, "user_id is required")
	}
	if q.Privacy == "" {
		q.Privacy = shared.PrivacyPrivate
	}
	if !q.Privacy.IsValid() {
		return nil, shared.NewDomainError("get_share_payload", "Handle", shared.ErrInvalidInput, "unknown privacy level")
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

	userID := shared.UserID(q.UserID)
	today := h.projector.Today()
	loc := h.projector.Location()
	payload := &SharePayload{UserID: userID, Date: today, Privacy: q.Privacy}

	for _, t := range tasks {
		if t.Recurring {
			if shared.DateOf(t.CreatedAt, loc).After(today) {
				continue
			}
			payload.MissionsTotal++
			done, err := h.completedOn(ctx, t, today)
			if err != nil {
				return nil, err
			}
			if done {
				payload.MissionsCompleted++
			}
			continue
		}
		if !shared.DateOf(t.ScheduledAt, loc).Equal(today) {
			continue
		}
		payload.MissionsTotal++
		if t.Status == task.StatusCompleted {
			payload.MissionsCompleted++
		}
	}

	if !q.Privacy.Includes(shared.PrivacyMetrics) {
		return payload, nil
	}

	state, err := h.projector.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	streak := state.Streak.Effective(today)
	lvl := h.projector.Engine().Levels().LevelOf(state.TotalXP).Level
	payload.Streak = &streak
	payload.Level = &lvl

	if q.Privacy.Includes(shared.PrivacyFull) {
		wallet := state.TimeSavedMinutes
		total := state.TotalXP
		payload.TimeSavedWallet = &wallet
		payload.TotalXP = &total
	}
	return payload, nil
}

func (h *GetSharePayloadHandler) completedOn(ctx context.Context, t *task.Task, day shared.Date) (bool, error) {
	key := eventlog.Event{
		Kind:           eventlog.KindTaskCompleted,
		UserID:         t.OwnerID,
		SubjectID:      t.ID.String(),
		Recurring:      true,
		OccurrenceDate: day,
	}.Key()

	var found bool
	err := h.projector.Retry(ctx, func(ctx context.Context) error {
		_, err := h.projector.Events().FindByKey(ctx, key)
		switch {
		case err == nil:
			found = true
			return nil
		case shared.IsNotFound(err):
			found = false
			return nil
		default:
			return err
		}
	})
	return found, err
}
