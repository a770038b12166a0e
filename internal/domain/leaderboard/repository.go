package leaderboard

import (
	"context"
)

// ScopeRepository хранит круги и челленджи вместе с участниками.
type ScopeRepository interface {
	// Save создаёт или обновляет область (включая участников).
	Save(ctx context.Context, scope *Scope) error

	// FindByID возвращает область. Ошибка shared.ErrScopeNotFound, если её нет.
	FindByID(ctx context.Context, id string) (*Scope, error)

	// ListByMember возвращает области, в которых состоит пользователь.
	ListByMember(ctx context.Context, userID string) ([]*Scope, error)

	// ListAll возвращает все области.
	ListAll(ctx context.Context) ([]*Scope, error)
}

// SnapshotCache хранит базовые снапшоты для вычисления Movement.
// Это кэш: потеря данных приводит лишь к Movement=new.
type SnapshotCache interface {
	// GetBaseline возвращает снапшот. Ошибка shared.ErrSnapshotNotFound, если его нет.
	GetBaseline(ctx context.Context, scopeID string, window Window) (*Snapshot, error)

	// SetBaseline сохраняет снапшот.
	SetBaseline(ctx context.Context, snapshot *Snapshot) error
}
