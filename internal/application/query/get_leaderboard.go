package query

import (
	"context"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Рейтинг круга или челленджа за окно. Рассчитывается при чтении из
// журнала XP и серий, без блокировок пользователей.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	ScopeID string

	// Window - all_time, weekly или daily (пустая строка = all_time).
	Window string

	// Limit - количество записей (0 = все).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.ScopeID == "" {
		return shared.NewDomainError("get_leaderboard", "Validate", shared.ErrInvalidID, "scope_id is required")
	}
	if q.Limit < 0 {
		return shared.NewDomainError("get_leaderboard", "Validate", shared.ErrValueOutOfRange, "limit cannot be negative")
	}
	return nil
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	aggregator *progression.Aggregator
}

// NewGetLeaderboardHandler создаёт новый обработчик запроса лидерборда.
func NewGetLeaderboardHandler(aggregator *progression.Aggregator) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{aggregator: aggregator}
}

// Handle выполняет запрос. Частичный рейтинг (Partial) не является ошибкой.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*leaderboard.Board, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	window, err := leaderboard.ParseWindow(q.Window)
	if err != nil {
		return nil, err
	}

	board, err := h.aggregator.Rank(ctx, q.ScopeID, window)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		board.Entries = board.Top(q.Limit)
	}
	return board, nil
}
