package progression

import (
	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// StreakView - серия на момент запроса.
type StreakView struct {
	Current    int          `json:"current"`
	Longest    int          `json:"longest"`
	LastActive *shared.Date `json:"last_active,omitempty"`
	AtRisk     bool         `json:"at_risk"`
}

// Award - одна начисленная запись XP.
type Award struct {
	EntryID string    `json:"entry_id"`
	Amount  int       `json:"amount"`
	Reason  xp.Reason `json:"reason"`
}

// Snapshot - состояние прогрессии пользователя, возвращаемое после
// каждой операции.
type Snapshot struct {
	UserID      shared.UserID `json:"user_id"`
	TotalXP     int           `json:"total_xp"`
	Level       int           `json:"level"`
	XPIntoLevel int           `json:"xp_into_level"`
	XPToNext    int           `json:"xp_to_next"`
	Streak      StreakView    `json:"streak"`
	Multiplier  float64       `json:"multiplier"`

	TasksCompleted   int `json:"tasks_completed"`
	TimeSavedMinutes int `json:"time_saved_minutes"`

	NewlyUnlocked   []achievement.Progress `json:"newly_unlocked"`
	StreakMilestone *streak.Milestone      `json:"streak_milestone,omitempty"`
	Awarded         []Award                `json:"awarded"`
	LeveledUp       bool                   `json:"leveled_up"`

	// Duplicate - операция уже была записана ранее.
	Duplicate bool        `json:"duplicate"`
	EventID   eventlog.ID `json:"event_id,omitempty"`
}

// NewSnapshot собирает снапшот из состояния и результатов, применённых
// в этом вызове. today - текущий день в настроенной зоне.
func NewSnapshot(engine *progress.Engine, s progress.State, today shared.Date, outcomes []progress.Outcome) Snapshot {
	lp := engine.Levels().LevelOf(s.TotalXP)
	snap := Snapshot{
		UserID:           s.UserID,
		TotalXP:          s.TotalXP,
		Level:            lp.Level,
		XPIntoLevel:      lp.XPIntoLevel,
		XPToNext:         lp.XPToNext,
		Streak:           streakView(s.Streak, today),
		Multiplier:       engine.MultiplierOn(s, today),
		TasksCompleted:   s.TasksCompleted,
		TimeSavedMinutes: s.TimeSavedMinutes,
		NewlyUnlocked:    make([]achievement.Progress, 0),
		Awarded:          make([]Award, 0),
	}

	for _, out := range outcomes {
		snap.NewlyUnlocked = append(snap.NewlyUnlocked, out.Unlocked...)
		for _, e := range out.Entries {
			snap.Awarded = append(snap.Awarded, Award{EntryID: e.ID, Amount: e.Amount, Reason: e.Reason})
		}
		if out.Milestone != nil {
			snap.StreakMilestone = out.Milestone
		}
		if out.LeveledUp() {
			snap.LeveledUp = true
		}
	}
	return snap
}

// AwardedXP возвращает сумму XP, начисленную в этом вызове.
func (s Snapshot) AwardedXP() int {
	total := 0
	for _, a := range s.Awarded {
		total += a.Amount
	}
	return total
}

func streakView(r streak.Record, today shared.Date) StreakView {
	v := StreakView{
		Current: r.Effective(today),
		Longest: r.Longest,
		AtRisk:  r.IsAtRisk(today),
	}
	if !r.LastActive.IsZero() {
		last := r.LastActive
		v.LastActive = &last
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// DomainEvents переводит результат применения события в события шины.
// totalAfter - сумма XP пользователя после этого результата.
func DomainEvents(out progress.Outcome, totalAfter int) []shared.Event {
	ev := out.Event
	userID := ev.UserID.String()
	at := ev.Timestamp
	var events []shared.Event

	switch ev.Kind {
	case eventlog.KindTaskCompleted:
		events = append(events, shared.NewTaskCompletedEvent(userID, ev.SubjectID, ev.ID.String(), out.XPAwarded(), at))
	case eventlog.KindProgressShared:
		events = append(events, shared.NewScopeEvent(shared.EventProgressShared, userID, "", string(ev.PrivacyLevel), at))
	case eventlog.KindCircleJoined:
		events = append(events, shared.NewScopeEvent(shared.EventCircleJoined, userID, ev.SubjectID, "", at))
	case eventlog.KindChallengeWon:
		events = append(events, shared.NewScopeEvent(shared.EventChallengeWon, userID, ev.SubjectID, "", at))
	}

	if awarded := out.XPAwarded(); awarded != 0 {
		events = append(events, shared.NewXPGainedEvent(userID, awarded, totalAfter, string(ev.Kind), at))
	}
	if out.Milestone != nil {
		events = append(events, shared.NewStreakMilestoneEvent(userID, out.Milestone.Streak, out.Milestone.Multiplier, string(out.Milestone.Reward), at))
	}
	for _, p := range out.Unlocked {
		events = append(events, shared.NewAchievementUnlockedEvent(userID, p.AchievementID, p.XPReward, at))
	}
	if out.LeveledUp() {
		events = append(events, shared.NewLevelUpEvent(userID, out.LevelBefore, out.LevelAfter, at))
	}
	return events
}
