package leaderboard

import (
	"time"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BASELINE SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - сохранённые ранги области за окно.
// Используется только как кэш для вычисления Movement.
type Snapshot struct {
	ScopeID shared.ScopeID        `json:"scope_id"`
	Window  Window                `json:"window"`
	Ranks   map[shared.UserID]int `json:"ranks"`
	XP      map[shared.UserID]int `json:"xp,omitempty"`
	TakenAt time.Time             `json:"taken_at"`
}

// SnapshotOf строит снапшот из рассчитанного рейтинга.
// Участники без данных в снапшот не попадают.
func SnapshotOf(board *Board) *Snapshot {
	s := &Snapshot{
		ScopeID: board.ScopeID,
		Window:  board.Window,
		Ranks:   make(map[shared.UserID]int, len(board.Entries)),
		XP:      make(map[shared.UserID]int, len(board.Entries)),
		TakenAt: board.ComputedAt,
	}
	for _, e := range board.Entries {
		if e.DataUnavailable {
			continue
		}
		s.Ranks[e.UserID] = e.Rank
		s.XP[e.UserID] = e.XP
	}
	return s
}

// RankOf возвращает ранг участника в снапшоте (0, если его не было).
// Безопасен для nil-снапшота.
func (s *Snapshot) RankOf(userID shared.UserID) int {
	if s == nil || s.Ranks == nil {
		return 0
	}
	return s.Ranks[userID]
}

// Size возвращает количество участников в снапшоте.
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Ranks)
}
