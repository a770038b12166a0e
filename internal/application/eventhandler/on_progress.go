package eventhandler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS HANDLER
// Превращает события прогрессии в уведомления:
// новый уровень, новая ступень серии, открытое достижение.
// ═══════════════════════════════════════════════════════════════════════════

// OnProgressHandler обрабатывает события прогрессии.
type OnProgressHandler struct {
	notifier    Notifier
	definitions map[string]achievement.Definition
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOnProgressHandler создаёт обработчик. defs используются для
// названий достижений в тексте уведомления.
func NewOnProgressHandler(notifier Notifier, defs []achievement.Definition, log *zap.Logger) *OnProgressHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: log}
	}
	byID := make(map[string]achievement.Definition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &OnProgressHandler{
		notifier:    notifier,
		definitions: byID,
		timeout:     5 * time.Second,
		logger:      log.With(zap.String("handler", "on_progress")),
	}
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *OnProgressHandler) Handle(event shared.Event) error {
	n, ok := h.notificationFor(event)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Warn("notification failed",
			zap.String("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *OnProgressHandler) notificationFor(event shared.Event) (Notification, bool) {
	switch e := event.(type) {
	case shared.LevelUpEvent:
		return Notification{
			UserID:  e.UserID,
			Kind:    NotifyLevelUp,
			Title:   fmt.Sprintf("Level %d reached", e.NewLevel),
			Data:    e.Payload(),
			Created: e.OccurredAt(),
		}, true

	case shared.StreakMilestoneEvent:
		title := fmt.Sprintf("%d-day streak: x%.1f XP", e.Streak, e.Multiplier)
		if e.Reward != "" {
			title += ", reward: " + e.Reward
		}
		return Notification{
			UserID:  e.UserID,
			Kind:    NotifyStreakMilestone,
			Title:   title,
			Data:    e.Payload(),
			Created: e.OccurredAt(),
		}, true

	case shared.AchievementUnlockedEvent:
		name := e.AchievementID
		if d, ok := h.definitions[e.AchievementID]; ok && d.Name != "" {
			name = d.Name
		}
		return Notification{
			UserID:  e.UserID,
			Kind:    NotifyAchievement,
			Title:   "Achievement unlocked: " + name,
			Data:    e.Payload(),
			Created: e.OccurredAt(),
		}, true

	default:
		h.logger.Debug("event ignored", zap.String("event_type", string(event.EventType())))
		return Notification{}, false
	}
}
