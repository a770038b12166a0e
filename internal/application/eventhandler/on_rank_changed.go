package eventhandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RANK CHANGED HANDLER
// После выполнения задачи пересчитывает рейтинги областей пользователя
// и сообщает о подъёме в рейтинге. Повторное уведомление отправляется
// только при новом, более высоком месте.
// ═══════════════════════════════════════════════════════════════════════════

// Ranker рассчитывает рейтинг области.
type Ranker interface {
	Rank(ctx context.Context, scopeID string, window leaderboard.Window) (*leaderboard.Board, error)
}

// RankChangedConfig содержит конфигурацию обработчика.
type RankChangedConfig struct {
	// Window - окно рейтинга, по которому отслеживается подъём.
	Window leaderboard.Window

	// Timeout - ограничение на пересчёт всех областей одного события.
	Timeout time.Duration
}

// DefaultRankChangedConfig возвращает конфигурацию по умолчанию.
func DefaultRankChangedConfig() RankChangedConfig {
	return RankChangedConfig{
		Window:  leaderboard.WindowWeekly,
		Timeout: 10 * time.Second,
	}
}

// OnRankChangedHandler обрабатывает событие выполнения задачи.
type OnRankChangedHandler struct {
	scopes   leaderboard.ScopeRepository
	ranker   Ranker
	notifier Notifier
	logger   *zap.Logger
	config   RankChangedConfig

	mu sync.Mutex
	// best - лучшее место, о котором уже сообщили: scope -> user -> rank.
	best map[string]map[string]int
}

// NewOnRankChangedHandler создаёт обработчик.
func NewOnRankChangedHandler(
	scopes leaderboard.ScopeRepository,
	ranker Ranker,
	notifier Notifier,
	log *zap.Logger,
	config RankChangedConfig,
) *OnRankChangedHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: log}
	}
	if config.Window == "" {
		config.Window = leaderboard.WindowWeekly
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &OnRankChangedHandler{
		scopes:   scopes,
		ranker:   ranker,
		notifier: notifier,
		logger:   log.With(zap.String("handler", "on_rank_changed")),
		config:   config,
		best:     make(map[string]map[string]int),
	}
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *OnRankChangedHandler) Handle(event shared.Event) error {
	if event.EventType() == shared.EventLeaderboardRefresh {
		h.Reset()
		return nil
	}
	e, ok := event.(shared.TaskCompletedEvent)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	scopes, err := h.scopes.ListByMember(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("list scopes of %s: %w", e.UserID, err)
	}

	for _, scope := range scopes {
		board, err := h.ranker.Rank(ctx, scope.ID.String(), h.config.Window)
		if err != nil {
			h.logger.Warn("rank failed", zap.String("scope_id", scope.ID.String()), zap.Error(err))
			continue
		}
		entry, ok := board.EntryFor(shared.UserID(e.UserID))
		if !ok || entry.DataUnavailable || entry.Movement != leaderboard.MovementUp {
			continue
		}
		if !h.improved(scope.ID.String(), e.UserID, entry.Rank) {
			continue
		}

		n := Notification{
			UserID: e.UserID,
			Kind:   NotifyRankUp,
			Title:  fmt.Sprintf("Up to #%d in %s", entry.Rank, scope.Name),
			Data: map[string]interface{}{
				"scope_id": scope.ID.String(),
				"rank":     entry.Rank,
				"window":   string(h.config.Window),
			},
			Created: board.ComputedAt,
		}
		if err := h.notifier.Notify(ctx, n); err != nil {
			h.logger.Warn("notification failed", zap.String("user_id", e.UserID), zap.Error(err))
		}
	}
	return nil
}

// improved запоминает место и сообщает, лучше ли оно прошлого.
func (h *OnRankChangedHandler) improved(scopeID, userID string, rank int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	byUser, ok := h.best[scopeID]
	if !ok {
		byUser = make(map[string]int)
		h.best[scopeID] = byUser
	}
	if prev, ok := byUser[userID]; ok && prev <= rank {
		return false
	}
	byUser[userID] = rank
	return true
}

// Reset забывает отправленные места. Вызывается после ротации базовых
// снапшотов рейтинга.
func (h *OnRankChangedHandler) Reset() {
	h.mu.Lock()
	h.best = make(map[string]map[string]int)
	h.mu.Unlock()
}
