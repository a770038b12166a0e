// Package user содержит модель пользователя.
// Членство в кругах хранится в репозитории областей рейтинга.
package user

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// User - пользователь приложения. ID неизменяем.
type User struct {
	ID          shared.UserID
	DisplayName string
	CreatedAt   time.Time
}

// New создаёт пользователя. Пустой id генерируется.
func New(id shared.UserID, displayName string, createdAt time.Time) (*User, error) {
	if id == "" {
		id = shared.UserID(uuid.NewString())
	}
	if !id.IsValid() {
		return nil, shared.NewDomainError("user", "New", shared.ErrInvalidID, "invalid user ID")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, shared.NewDomainError("user", "New", shared.ErrValidation, "display name is required")
	}
	if len([]rune(displayName)) > 64 {
		return nil, shared.NewDomainError("user", "New", shared.ErrValueOutOfRange, "display name is too long")
	}
	return &User{ID: id, DisplayName: displayName, CreatedAt: createdAt}, nil
}

// Repository хранит пользователей.
type Repository interface {
	// Create сохраняет нового пользователя. ErrAlreadyExists при повторе.
	Create(ctx context.Context, u *User) error

	// FindByID возвращает пользователя или shared.ErrUserNotFound.
	FindByID(ctx context.Context, id string) (*User, error)
}
