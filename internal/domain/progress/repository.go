package progress

import (
	"context"

	"github.com/lifeloop/progression/internal/domain/eventlog"
)

// Repository хранит производное состояние пользователей.
type Repository interface {
	// Load возвращает состояние пользователя или пустое, если его нет.
	Load(ctx context.Context, userID string) (State, error)

	// Commit атомарно сохраняет состояние и результаты применения событий:
	// записи XP (дубликаты по ID пропускаются), серию, счётчики,
	// разблокировки и позицию Checkpoint.
	//
	// base - Checkpoint, от которого построено state. Если сохранённый
	// Checkpoint уже другой (другой писатель успел раньше, например после
	// истечения распределённой блокировки), Commit ничего не пишет и
	// возвращает shared.ErrConcurrentModification.
	Commit(ctx context.Context, base eventlog.Cursor, state State, outcomes []Outcome) error
}
