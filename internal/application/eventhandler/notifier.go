// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/pkg/circuitbreaker"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION
// Уведомление для внешнего сервиса доставки (push, лента, бот).
// Доставка не входит в движок: обработчики только формируют сообщения.
// ═══════════════════════════════════════════════════════════════════════════

// NotificationKind - тип уведомления.
type NotificationKind string

const (
	NotifyLevelUp         NotificationKind = "level_up"
	NotifyStreakMilestone NotificationKind = "streak_milestone"
	NotifyAchievement     NotificationKind = "achievement"
	NotifyRankUp          NotificationKind = "rank_up"
)

// Notification - сообщение пользователю.
type Notification struct {
	UserID  string                 `json:"user_id"`
	Kind    NotificationKind       `json:"kind"`
	Title   string                 `json:"title"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Created time.Time              `json:"created_at"`
}

// Notifier доставляет уведомления.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier пишет уведомления в лог. Используется, когда внешний
// получатель не настроен.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, msg Notification) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info("notification",
		zap.String("user_id", msg.UserID),
		zap.String("kind", string(msg.Kind)),
		zap.String("title", msg.Title),
	)
	return nil
}

// Subscribe регистрирует обработчики на шине.
func Subscribe(bus shared.EventSubscriber, progress *OnProgressHandler, ranks *OnRankChangedHandler) error {
	if progress != nil {
		for _, t := range []shared.EventType{shared.EventLevelUp, shared.EventStreakMilestone, shared.EventAchievementUnlocked} {
			if err := bus.Subscribe(t, progress.Handle); err != nil {
				return err
			}
		}
	}
	if ranks != nil {
		for _, t := range []shared.EventType{shared.EventTaskCompleted, shared.EventLeaderboardRefresh} {
			if err := bus.Subscribe(t, ranks.Handle); err != nil {
				return err
			}
		}
	}
	return nil
}

// BreakerNotifier пропускает доставку, пока получатель недоступен.
// Уведомления не входят в гарантии движка, поэтому отброшенное
// сообщение только логируется.
type BreakerNotifier struct {
	next    Notifier
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerNotifier оборачивает next. Nil breaker создаётся по умолчанию:
// 5 ошибок подряд, пауза 30 секунд.
func NewBreakerNotifier(next Notifier, breaker *circuitbreaker.CircuitBreaker, log *zap.Logger) *BreakerNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	if breaker == nil {
		breaker = circuitbreaker.New("notifier",
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("notifier circuit changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}),
		)
	}
	return &BreakerNotifier{next: next, breaker: breaker, logger: log}
}

// Notify implements Notifier.
func (n *BreakerNotifier) Notify(ctx context.Context, msg Notification) error {
	err := n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.next.Notify(ctx, msg)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		n.logger.Debug("notification dropped: circuit open",
			zap.String("user_id", msg.UserID),
			zap.String("kind", string(msg.Kind)),
		)
		return shared.WrapError("eventhandler", "Notify", shared.ErrStorageUnavailable, "notifier unavailable", err)
	}
	return err
}
