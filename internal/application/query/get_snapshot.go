// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SNAPSHOT QUERY
// Текущее состояние прогрессии пользователя без изменения журнала.
// ══════════════════════════════════════════════════════════════════════════════

// GetSnapshotQuery содержит параметры запроса снапшота.
type GetSnapshotQuery struct {
	UserID string
}

// GetSnapshotHandler обрабатывает запрос снапшота.
type GetSnapshotHandler struct {
	users     user.Repository
	projector *progression.Projector
}

// NewGetSnapshotHandler создаёт обработчик.
func NewGetSnapshotHandler(users user.Repository, projector *progression.Projector) *GetSnapshotHandler {
	return &GetSnapshotHandler{users: users, projector: projector}
}

// Handle возвращает снапшот. Проекция читается без блокировки
// пользователя: чтение может отставать от параллельной записи.
func (h *GetSnapshotHandler) Handle(ctx context.Context, q GetSnapshotQuery) (progression.Snapshot, error) {
	if q.UserID == "" {
		return progression.Snapshot{}, shared.NewDomainError("get_snapshot", "Handle", shared.ErrInvalidID, "user_id is required")
	}
	if err := findUser(ctx, h.projector, h.users, q.UserID); err != nil {
		return progression.Snapshot{}, err
	}

	state, err := h.projector.Load(ctx, shared.UserID(q.UserID))
	if err != nil {
		return progression.Snapshot{}, err
	}
	return h.projector.Snapshot(state, nil), nil
}

// findUser проверяет существование пользователя с повторами.
func findUser(ctx context.Context, p *progression.Projector, users user.Repository, userID string) error {
	return p.Retry(ctx, func(ctx context.Context) error {
		_, err := users.FindByID(ctx, userID)
		return err
	})
}
