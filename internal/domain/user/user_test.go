package user

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/shared"
)

var created = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	u, err := New("alice", "  Alice  ", created)
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("alice"), u.ID)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, created, u.CreatedAt)
}

func TestNew_GeneratesID(t *testing.T) {
	a, err := New("", "Anon", created)
	require.NoError(t, err)
	b, err := New("", "Anon", created)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		id          shared.UserID
		displayName string
		kind        error
	}{
		{"blank id", "   ", "Alice", shared.ErrInvalidID},
		{"missing name", "alice", " ", shared.ErrValidation},
		{"long name", "alice", strings.Repeat("я", 65), shared.ErrValueOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.id, tt.displayName, created)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}
