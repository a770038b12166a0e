package xp

import (
	"context"
	"time"
)

// Repository хранит записи журнала XP.
type Repository interface {
	// Append сохраняет записи. Записи с существующим ID пропускаются,
	// возвращается число реально добавленных.
	Append(ctx context.Context, entries []Entry) (int, error)

	// ListByUser возвращает все записи пользователя в порядке создания.
	ListByUser(ctx context.Context, userID string) ([]Entry, error)

	// TotalByUser возвращает сумму записей пользователя начиная с since.
	// Нулевой since означает весь журнал.
	TotalByUser(ctx context.Context, userID string, since time.Time) (int, error)

	// Exists проверяет наличие записи с данным ID.
	Exists(ctx context.Context, entryID string) (bool, error)
}
