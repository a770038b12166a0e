// Package progress содержит движок прогрессии: чистую свёртку журнала
// событий в производное состояние пользователя (XP, серия, счётчики,
// достижения). Обработка нового события и полное воспроизведение журнала
// используют один и тот же шаг Apply, поэтому replay всегда даёт тот же
// результат, что и последовательная обработка.
package progress

import (
	"time"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/level"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - производное состояние пользователя после применения журнала
// до позиции Checkpoint включительно.
type State struct {
	UserID shared.UserID

	Streak  streak.Record
	TotalXP int

	TasksCompleted   int
	CirclesJoined    int
	ChallengesWon    int
	SharesPosted     int
	TimeSavedMinutes int

	Unlocked achievement.Unlocked

	// Checkpoint - позиция журнала после последнего применённого события.
	Checkpoint eventlog.Cursor

	// LastEventAt - время последнего применённого события.
	LastEventAt time.Time
}

// NewState создаёт пустое состояние.
func NewState(userID shared.UserID) State {
	return State{
		UserID:     userID,
		Streak:     streak.NewRecord(userID),
		Unlocked:   achievement.Unlocked{},
		Checkpoint: eventlog.Start,
	}
}

// Derived возвращает состояние для оценки достижений.
func (s State) Derived(levels level.Table) achievement.DerivedState {
	return achievement.DerivedState{
		CurrentStreak:       s.Streak.Current,
		LongestStreak:       s.Streak.Longest,
		TotalTasksCompleted: s.TasksCompleted,
		CirclesJoined:       s.CirclesJoined,
		ChallengesWon:       s.ChallengesWon,
		SharesPosted:        s.SharesPosted,
		TotalXP:             s.TotalXP,
		Level:               levels.LevelOf(s.TotalXP).Level,
	}
}

// Applied проверяет, применено ли событие с данной позицией.
func (s State) Applied(seq int64) bool {
	applied, err := s.Checkpoint.Sequence()
	if err != nil {
		return false
	}
	return seq <= applied
}

// clone копирует изменяемые поля, чтобы Apply не трогал вход.
func (s State) clone() State {
	if s.Unlocked == nil {
		s.Unlocked = achievement.Unlocked{}
	} else {
		s.Unlocked = s.Unlocked.Clone()
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOME
// ══════════════════════════════════════════════════════════════════════════════

// Outcome - изменения, вызванные одним событием.
type Outcome struct {
	Event eventlog.Event

	// Entries - все записи XP: за само событие и бонусы за достижения.
	Entries []xp.Entry

	// Multiplier - множитель серии, применённый к начислению.
	Multiplier float64

	StreakChange streak.Change
	Milestone    *streak.Milestone

	Unlocked []achievement.Progress
	Gaps     []achievement.Gap

	LevelBefore int
	LevelAfter  int
}

// XPAwarded возвращает сумму начисленных записей.
func (o Outcome) XPAwarded() int {
	return xp.Total(o.Entries)
}

// LeveledUp возвращает true, если событие подняло уровень.
func (o Outcome) LeveledUp() bool {
	return o.LevelAfter > o.LevelBefore
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine применяет правила прогрессии к событиям.
type Engine struct {
	rules        xp.Rules
	tiers        streak.Tiers
	levels       level.Table
	achievements *achievement.Evaluator
}

// NewEngine создаёт движок из таблиц правил.
func NewEngine(rules xp.Rules, tiers streak.Tiers, levels level.Table, evaluator *achievement.Evaluator) *Engine {
	return &Engine{
		rules:        rules,
		tiers:        tiers,
		levels:       levels,
		achievements: evaluator,
	}
}

// Levels возвращает таблицу уровней.
func (e *Engine) Levels() level.Table {
	return e.levels
}

// Tiers возвращает таблицу уровней серии.
func (e *Engine) Tiers() streak.Tiers {
	return e.tiers
}

// Achievements возвращает движок достижений.
func (e *Engine) Achievements() *achievement.Evaluator {
	return e.achievements
}

// Apply применяет одно событие к состоянию.
//
// Порядок: множитель по серии до учёта дня события → начисление XP →
// запись активности в серию → счётчики → достижения (их бонусы могут
// открыть новые достижения по XP/уровню, поэтому оценка повторяется,
// пока появляются новые разблокировки).
func (e *Engine) Apply(s State, ev eventlog.Event) (State, Outcome) {
	s = s.clone()
	out := Outcome{
		Event:       ev,
		LevelBefore: e.levels.LevelOf(s.TotalXP).Level,
	}

	out.Multiplier = e.tiers.MultiplierFor(s.Streak.Effective(ev.ActivityDate))
	out.Entries = e.rules.Award(ev, xp.RuleContext{Multiplier: out.Multiplier})
	s.TotalXP += xp.Total(out.Entries)

	switch ev.Kind {
	case eventlog.KindTaskCompleted:
		s.Streak, out.StreakChange = s.Streak.RecordActivity(ev.ActivityDate)
		out.Milestone = e.tiers.MilestoneFor(out.StreakChange)
		s.TasksCompleted++
		s.TimeSavedMinutes += ev.TimeSavedMinutes
	case eventlog.KindProgressShared:
		s.SharesPosted++
	case eventlog.KindCircleJoined:
		s.CirclesJoined++
	case eventlog.KindChallengeWon:
		s.ChallengesWon++
	}
	if out.StreakChange.Kind == "" {
		out.StreakChange = streak.Change{Kind: streak.ChangeNone, Before: s.Streak.Current, After: s.Streak.Current}
	}

	if e.achievements != nil {
		e.unlock(&s, &out, ev)
	}

	s.Checkpoint = eventlog.CursorAfter(ev.Sequence)
	s.LastEventAt = ev.Timestamp
	out.LevelAfter = e.levels.LevelOf(s.TotalXP).Level
	return s, out
}

func (e *Engine) unlock(s *State, out *Outcome, ev eventlog.Event) {
	limit := len(e.achievements.Definitions()) + 1
	for pass := 0; pass < limit; pass++ {
		res := e.achievements.Evaluate(s.UserID, s.Derived(e.levels), s.Unlocked, ev.Timestamp)
		if pass == 0 {
			out.Gaps = res.Gaps
		}
		if len(res.Newly) == 0 {
			return
		}

		for _, p := range res.Newly {
			s.Unlocked[p.AchievementID] = *p.UnlockedAt
			out.Unlocked = append(out.Unlocked, p)
			if p.XPReward > 0 {
				entry := xp.AchievementEntry(s.UserID, p.AchievementID, ev.ID, p.XPReward, ev.Timestamp)
				out.Entries = append(out.Entries, entry)
				s.TotalXP += entry.Amount
			}
		}
	}
}

// Replay сворачивает события от пустого состояния.
func (e *Engine) Replay(userID shared.UserID, events []eventlog.Event) (State, []Outcome) {
	s := NewState(userID)
	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		var out Outcome
		s, out = e.Apply(s, ev)
		outcomes = append(outcomes, out)
	}
	return s, outcomes
}

// MultiplierOn возвращает множитель, который получит следующее
// начисление в день today.
func (e *Engine) MultiplierOn(s State, today shared.Date) float64 {
	return e.tiers.MultiplierFor(s.Streak.Effective(today))
}
