package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACHIEVEMENTS QUERY
// Все достижения пользователя: открытые с датой, закрытые с прогрессом.
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievementsQuery содержит параметры запроса.
type GetAchievementsQuery struct {
	UserID string
}

// AchievementDTO - достижение с описанием и прогрессом.
type AchievementDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	XPReward    int        `json:"xp_reward"`
}

// GetAchievementsResult содержит результат запроса.
type GetAchievementsResult struct {
	UserID        shared.UserID    `json:"user_id"`
	Achievements  []AchievementDTO `json:"achievements"`
	UnlockedCount int              `json:"unlocked_count"`

	// Unavailable - достижения, прогресс которых не удалось вычислить.
	Unavailable []string `json:"unavailable,omitempty"`
}

// GetAchievementsHandler обрабатывает запрос достижений.
type GetAchievementsHandler struct {
	users     user.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewGetAchievementsHandler создаёт обработчик.
func NewGetAchievementsHandler(users user.Repository, projector *progression.Projector) *GetAchievementsHandler {
	return &GetAchievementsHandler{
		users:     users,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("get_achievements")),
	}
}

// Handle возвращает список: открытые первыми по дате, затем закрытые.
func (h *GetAchievementsHandler) Handle(ctx context.Context, q GetAchievementsQuery) (*GetAchievementsResult, error) {
	if q.UserID == "" {
		return nil, shared.NewDomainError("get_achievements", "Handle", shared.ErrInvalidID, "user_id is required")
	}
	if err := findUser(ctx, h.projector, h.users, q.UserID); err != nil {
		return nil, err
	}

	state, err := h.projector.Load(ctx, shared.UserID(q.UserID))
	if err != nil {
		return nil, err
	}

	engine := h.projector.Engine()
	evaluator := engine.Achievements()
	if evaluator == nil {
		return &GetAchievementsResult{UserID: state.UserID, Achievements: []AchievementDTO{}}, nil
	}
	items, gaps := evaluator.Progress(state.UserID, state.Derived(engine.Levels()), state.Unlocked)
	achievement.SortByUnlock(items)

	result := &GetAchievementsResult{
		UserID:       state.UserID,
		Achievements: make([]AchievementDTO, 0, len(items)),
	}
	for _, p := range items {
		dto := AchievementDTO{
			ID:         p.AchievementID,
			Unlocked:   p.IsUnlocked(),
			UnlockedAt: p.UnlockedAt,
			Progress:   p.ProgressValue,
			Total:      p.Total,
			XPReward:   p.XPReward,
		}
		if def, ok := evaluator.Definition(p.AchievementID); ok {
			dto.Name = def.Name
			dto.Description = def.Description
		}
		if dto.Unlocked {
			result.UnlockedCount++
		}
		result.Achievements = append(result.Achievements, dto)
	}

	for _, gap := range gaps {
		result.Unavailable = append(result.Unavailable, gap.AchievementID)
		h.logger.Warn("achievement progress unavailable",
			logger.UserID(q.UserID),
			zap.String("achievement_id", gap.AchievementID),
			zap.Error(gap.Err),
		)
	}
	return result, nil
}
