package achievement

import "context"

// Repository хранит разблокированные достижения.
type Repository interface {
	// Unlock сохраняет разблокировку. Повторная разблокировка того же
	// достижения игнорируется и не меняет UnlockedAt.
	Unlock(ctx context.Context, progress []Progress) error

	// ListUnlocked возвращает разблокированные достижения пользователя.
	ListUnlocked(ctx context.Context, userID string) (Unlocked, error)
}
