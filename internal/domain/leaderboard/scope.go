package leaderboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE (circle or challenge)
// ══════════════════════════════════════════════════════════════════════════════

// ScopeKind - тип области рейтинга.
type ScopeKind string

const (
	// ScopeCircle - круг пользователей.
	ScopeCircle ScopeKind = "circle"
	// ScopeChallenge - челлендж.
	ScopeChallenge ScopeKind = "challenge"
)

// IsValid проверяет тип области.
func (k ScopeKind) IsValid() bool {
	return k == ScopeCircle || k == ScopeChallenge
}

// Member - участник области.
type Member struct {
	UserID      shared.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	JoinedAt    time.Time     `json:"joined_at"`
}

// Scope - круг или челлендж с участниками.
type Scope struct {
	ID             shared.ScopeID
	Kind           ScopeKind
	Name           string
	PrivacyDefault shared.PrivacyLevel
	Members        []Member
	CreatedAt      time.Time
}

// NewScope создаёт область с валидацией.
func NewScope(id shared.ScopeID, kind ScopeKind, name string, privacy shared.PrivacyLevel, createdAt time.Time) (*Scope, error) {
	if !id.IsValid() {
		return nil, shared.NewDomainError("leaderboard", "NewScope", shared.ErrInvalidID, "scope ID is required")
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("leaderboard", "NewScope", shared.ErrInvalidInput,
			fmt.Sprintf("unknown scope kind %q", kind))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("leaderboard", "NewScope", shared.ErrValidation, "scope name is required")
	}
	if privacy == "" {
		privacy = shared.PrivacyMetrics
	}
	if !privacy.IsValid() {
		return nil, shared.NewDomainError("leaderboard", "NewScope", shared.ErrInvalidInput, "unknown privacy level")
	}

	return &Scope{
		ID:             id,
		Kind:           kind,
		Name:           name,
		PrivacyDefault: privacy,
		Members:        make([]Member, 0),
		CreatedAt:      createdAt,
	}, nil
}

// HasMember проверяет членство.
func (s *Scope) HasMember(userID shared.UserID) bool {
	_, ok := s.Member(userID)
	return ok
}

// Member возвращает участника по ID.
func (s *Scope) Member(userID shared.UserID) (Member, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// AddMember добавляет участника. Повторное вступление - ошибка ErrAlreadyExists.
func (s *Scope) AddMember(m Member) error {
	if !m.UserID.IsValid() {
		return shared.NewDomainError("leaderboard", "AddMember", shared.ErrInvalidID, "user ID is required")
	}
	if s.HasMember(m.UserID) {
		return shared.NewDomainError("leaderboard", "AddMember", shared.ErrAlreadyExists, "user is already a member")
	}
	s.Members = append(s.Members, m)
	return nil
}
