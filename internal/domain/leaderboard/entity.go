// Package leaderboard содержит доменную модель рейтингов круга и челленджа.
// Рейтинг - производное представление: источник истины - журнал событий
// и журнал XP. Он пересчитывается, а не хранится как авторитетное состояние.
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Window - временное окно, за которое суммируется XP.
type Window string

const (
	// WindowAllTime - весь журнал.
	WindowAllTime Window = "all_time"
	// WindowWeekly - последние 7 календарных дней, включая сегодня.
	WindowWeekly Window = "weekly"
	// WindowDaily - только сегодня.
	WindowDaily Window = "daily"
)

// AllWindows возвращает все поддерживаемые окна.
func AllWindows() []Window {
	return []Window{WindowAllTime, WindowWeekly, WindowDaily}
}

// IsValid проверяет, что окно известно.
func (w Window) IsValid() bool {
	switch w {
	case WindowAllTime, WindowWeekly, WindowDaily:
		return true
	default:
		return false
	}
}

// ParseWindow разбирает окно; пустая строка означает all_time.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return WindowAllTime, nil
	}
	w := Window(s)
	if !w.IsValid() {
		return "", shared.ErrInvalidWindow
	}
	return w, nil
}

// Since возвращает начало окна для момента now в часовом поясе loc.
// Для all_time возвращается нулевое время.
func (w Window) Since(now time.Time, loc *time.Location) time.Time {
	switch w {
	case WindowWeekly:
		return timeutil.StartOfLastNDays(now, 7, loc)
	case WindowDaily:
		return timeutil.StartOfDay(now, loc)
	default:
		return time.Time{}
	}
}

// Movement - изменение позиции относительно прошлого снапшота.
type Movement string

const (
	// MovementUp - участник поднялся.
	MovementUp Movement = "up"
	// MovementDown - участник опустился.
	MovementDown Movement = "down"
	// MovementSame - позиция не изменилась.
	MovementSame Movement = "same"
	// MovementNew - участника не было в прошлом снапшоте.
	MovementNew Movement = "new"
)

// MovementOf сравнивает текущий ранг с прошлым (0 = не было).
func MovementOf(previous, current int) Movement {
	switch {
	case previous <= 0:
		return MovementNew
	case current < previous:
		return MovementUp
	case current > previous:
		return MovementDown
	default:
		return MovementSame
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Standing - входные данные участника для ранжирования.
// Err != nil означает, что XP или серию прочитать не удалось.
type Standing struct {
	Member Member
	XP     int
	Streak int
	Err    error
}

// Entry - одна строка рейтинга.
type Entry struct {
	UserID          shared.UserID `json:"user_id"`
	DisplayName     string        `json:"display_name"`
	Rank            int           `json:"rank"`
	XP              int           `json:"xp"`
	Streak          int           `json:"streak"`
	Movement        Movement      `json:"movement"`
	DataUnavailable bool          `json:"data_unavailable,omitempty"`
	JoinedAt        time.Time     `json:"joined_at"`
}

// String возвращает строковое представление для логирования.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{Rank: %d, User: %s, XP: %d, Movement: %s}", e.Rank, e.UserID, e.XP, e.Movement)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Less задаёт полный порядок: XP по убыванию, затем более раннее
// вступление в круг, затем ID пользователя.
func Less(a, b Standing) bool {
	if a.XP != b.XP {
		return a.XP > b.XP
	}
	if !a.Member.JoinedAt.Equal(b.Member.JoinedAt) {
		return a.Member.JoinedAt.Before(b.Member.JoinedAt)
	}
	return a.Member.UserID < b.Member.UserID
}

// Rank упорядочивает участников и присваивает ранги 1..n.
// Участники без данных не ранжируются: они идут в конце с рангом 0
// и флагом DataUnavailable, в порядке ID.
// Movement вычисляется относительно baseline (может быть nil).
func Rank(standings []Standing, baseline *Snapshot) []Entry {
	ranked := make([]Standing, 0, len(standings))
	var missing []Standing
	for _, s := range standings {
		if s.Err != nil {
			missing = append(missing, s)
			continue
		}
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
	sort.SliceStable(missing, func(i, j int) bool { return missing[i].Member.UserID < missing[j].Member.UserID })

	entries := make([]Entry, 0, len(standings))
	for i, s := range ranked {
		rank := i + 1
		entries = append(entries, Entry{
			UserID:      s.Member.UserID,
			DisplayName: s.Member.DisplayName,
			Rank:        rank,
			XP:          s.XP,
			Streak:      s.Streak,
			Movement:    MovementOf(baseline.RankOf(s.Member.UserID), rank),
			JoinedAt:    s.Member.JoinedAt,
		})
	}
	for _, s := range missing {
		entries = append(entries, Entry{
			UserID:          s.Member.UserID,
			DisplayName:     s.Member.DisplayName,
			Movement:        MovementSame,
			DataUnavailable: true,
			JoinedAt:        s.Member.JoinedAt,
		})
	}
	return entries
}

// Board - рассчитанный рейтинг области за окно.
type Board struct {
	ScopeID    shared.ScopeID `json:"scope_id"`
	Window     Window         `json:"window"`
	Entries    []Entry        `json:"entries"`
	ComputedAt time.Time      `json:"computed_at"`

	// Partial - хотя бы один участник помечен DataUnavailable.
	Partial bool `json:"partial"`
}

// EntryFor возвращает строку участника.
func (b *Board) EntryFor(userID shared.UserID) (Entry, bool) {
	for _, e := range b.Entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return Entry{}, false
}

// Top возвращает первые n строк.
func (b *Board) Top(n int) []Entry {
	if n <= 0 || n >= len(b.Entries) {
		return b.Entries
	}
	return b.Entries[:n]
}
