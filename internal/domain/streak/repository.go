package streak

import "context"

// Repository хранит серии пользователей.
type Repository interface {
	// Get возвращает серию пользователя или пустую запись, если её нет.
	Get(ctx context.Context, userID string) (Record, error)

	// Save сохраняет серию.
	Save(ctx context.Context, record Record) error
}
