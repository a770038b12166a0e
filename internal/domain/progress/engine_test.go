package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/level"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
)

var day0 = shared.NewDate(2024, 3, 1)

func newEngine(t *testing.T, defs []achievement.Definition) *Engine {
	t.Helper()
	evaluator, err := achievement.NewEvaluator(defs, nil)
	require.NoError(t, err)
	return NewEngine(xp.DefaultRules(), streak.DefaultTiers(), level.DefaultTable(), evaluator)
}

type logBuilder struct {
	seq int64
}

func (b *logBuilder) complete(day int, category shared.Category, hour int) eventlog.Event {
	b.seq++
	date := day0.AddDays(day)
	return eventlog.Event{
		ID:             eventlog.ID(fmt.Sprintf("ev-%d", b.seq)),
		Sequence:       b.seq,
		Kind:           eventlog.KindTaskCompleted,
		UserID:         "u-1",
		SubjectID:      fmt.Sprintf("t-%d", b.seq),
		OccurrenceDate: date,
		ActivityDate:   date,
		Timestamp:      date.Start(time.UTC).Add(time.Duration(hour) * time.Hour),
		ProofType:      shared.ProofNone,
		Category:       category,
	}
}

func (b *logBuilder) event(kind eventlog.Kind, day int, subject string) eventlog.Event {
	b.seq++
	date := day0.AddDays(day)
	return eventlog.Event{
		ID:             eventlog.ID(fmt.Sprintf("ev-%d", b.seq)),
		Sequence:       b.seq,
		Kind:           kind,
		UserID:         "u-1",
		SubjectID:      subject,
		OccurrenceDate: date,
		ActivityDate:   date,
		Timestamp:      date.Start(time.UTC).Add(18 * time.Hour),
		PrivacyLevel:   shared.PrivacyMetrics,
	}
}

func TestApply_NewUserHealthTask(t *testing.T) {
	e := newEngine(t, nil)
	b := &logBuilder{}

	s, out := e.Apply(NewState("u-1"), b.complete(0, shared.CategoryHealth, 9))

	assert.Equal(t, 15, s.TotalXP)
	assert.Equal(t, 15, out.XPAwarded())
	assert.Equal(t, 1, out.LevelBefore)
	assert.Equal(t, 1, out.LevelAfter)
	assert.Equal(t, 1.0, out.Multiplier)
	assert.Equal(t, 1, s.Streak.Current)
	assert.Equal(t, eventlog.CursorAfter(1), s.Checkpoint)
}

func TestApply_TierChangesAfterDayIsRecorded(t *testing.T) {
	e := newEngine(t, nil)
	b := &logBuilder{}
	s := NewState("u-1")
	for d := 0; d < 6; d++ {
		s, _ = e.Apply(s, b.complete(d, shared.CategoryHealth, 9))
	}
	require.Equal(t, 6, s.Streak.Current)

	// First completion of day 7 is still on the 1.2x tier.
	s, first := e.Apply(s, b.complete(6, shared.CategoryHealth, 9))
	assert.Equal(t, 7, s.Streak.Current)
	assert.Equal(t, 1.2, first.Multiplier)
	require.NotNil(t, first.Milestone)
	assert.Equal(t, 7, first.Milestone.Streak)
	assert.Equal(t, 1.5, first.Milestone.Multiplier)

	// The next award that day uses 1.5x.
	s, second := e.Apply(s, b.complete(6, shared.CategoryHealth, 15))
	assert.Equal(t, 1.5, second.Multiplier)
	assert.Equal(t, 23, second.XPAwarded(), "round(15 × 1.5)")
	assert.Equal(t, 1.5, e.MultiplierOn(s, day0.AddDays(6)))
	assert.Equal(t, streak.ChangeNone, second.StreakChange.Kind)
}

func TestApply_GapRestartsStreak(t *testing.T) {
	e := newEngine(t, nil)
	b := &logBuilder{}
	s := NewState("u-1")
	for d := 0; d < 7; d++ {
		s, _ = e.Apply(s, b.complete(d, shared.CategoryWork, 9))
	}

	s, out := e.Apply(s, b.complete(9, shared.CategoryWork, 9))

	assert.Equal(t, 1, s.Streak.Current)
	assert.Equal(t, 7, s.Streak.Longest)
	assert.Equal(t, streak.ChangeRestarted, out.StreakChange.Kind)
	assert.Equal(t, 1.0, out.Multiplier, "broken streak decays to the base tier")
}

func TestApply_StreakAchievementStaysUnlocked(t *testing.T) {
	defs := []achievement.Definition{
		{ID: "streak_7", Metric: achievement.MetricCurrentStreak, Threshold: 7, XPReward: 100},
	}
	e := newEngine(t, defs)
	b := &logBuilder{}
	s := NewState("u-1")

	unlockCount := 0
	bonusEntries := 0
	for d := 0; d < 7; d++ {
		var out Outcome
		s, out = e.Apply(s, b.complete(d, shared.CategoryPersonal, 9))
		unlockCount += len(out.Unlocked)
		for _, en := range out.Entries {
			if en.Reason == xp.AchievementReason("streak_7") {
				bonusEntries++
				assert.Equal(t, 7, d+1, "unlocks the instant the streak reaches 7")
			}
		}
	}
	require.Equal(t, 1, unlockCount)
	require.Equal(t, 1, bonusEntries)
	unlockedAt := s.Unlocked["streak_7"]

	// Streak is broken and later restarts; the achievement stays.
	for _, d := range []int{20, 21, 40} {
		var out Outcome
		s, out = e.Apply(s, b.complete(d, shared.CategoryPersonal, 9))
		assert.Empty(t, out.Unlocked)
	}
	assert.Equal(t, 0, s.Streak.Effective(day0.AddDays(60)))
	assert.Equal(t, unlockedAt, s.Unlocked["streak_7"])
}

func TestApply_BonusCascade(t *testing.T) {
	defs := []achievement.Definition{
		{ID: "first_task", Metric: achievement.MetricTasksCompleted, Threshold: 1, XPReward: 100},
		{ID: "level_2", Metric: achievement.MetricLevel, Threshold: 2, XPReward: 10},
	}
	e := newEngine(t, defs)

	s, out := e.Apply(NewState("u-1"), (&logBuilder{}).complete(0, shared.CategoryHealth, 9))

	// 15 + 100 reaches level 2, which unlocks the level achievement in the same step.
	require.Len(t, out.Unlocked, 2)
	assert.Equal(t, 125, s.TotalXP)
	assert.True(t, out.LeveledUp())
	assert.Len(t, out.Entries, 3)
}

func TestApply_CountersAndShareBonus(t *testing.T) {
	e := newEngine(t, achievement.DefaultDefinitions())
	b := &logBuilder{}
	s := NewState("u-1")

	s, join := e.Apply(s, b.event(eventlog.KindCircleJoined, 0, "c-1"))
	assert.Equal(t, 1, s.CirclesJoined)
	assert.Equal(t, 0, s.Streak.Current, "joins do not count towards the streak")
	require.Len(t, join.Unlocked, 1)
	assert.Equal(t, "circle_first", join.Unlocked[0].AchievementID)

	s, share := e.Apply(s, b.event(eventlog.KindProgressShared, 0, ""))
	assert.Equal(t, 1, s.SharesPosted)
	assert.Equal(t, 20+15, share.XPAwarded(), "metrics share bonus plus share_first reward")

	s, _ = e.Apply(s, b.event(eventlog.KindChallengeWon, 1, "ch-1"))
	assert.Equal(t, 1, s.ChallengesWon)
	assert.True(t, s.Unlocked.Has("challenge_first"))
}

func TestReplay_EqualsIncrementalApplication(t *testing.T) {
	e := newEngine(t, achievement.DefaultDefinitions())
	b := &logBuilder{}

	var events []eventlog.Event
	for _, d := range []int{0, 0, 1, 2, 3, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 30} {
		ev := b.complete(d, shared.AllCategories()[d%6], 8+d%10)
		ev.Priority = d%3 == 0
		if d%4 == 0 {
			ev.ProofType = shared.ProofPhoto
		}
		events = append(events, ev)
	}
	events = append(events, b.event(eventlog.KindCircleJoined, 31, "c-1"))
	events = append(events, b.event(eventlog.KindProgressShared, 31, ""))

	incremental := NewState("u-1")
	var allEntries []xp.Entry
	for _, ev := range events {
		var out Outcome
		incremental, out = e.Apply(incremental, ev)
		allEntries = append(allEntries, out.Entries...)
	}

	replayed, outcomes := e.Replay("u-1", events)
	assert.Equal(t, incremental, replayed)
	assert.Equal(t, xp.Total(allEntries), replayed.TotalXP)

	var replayedEntries []xp.Entry
	for _, out := range outcomes {
		replayedEntries = append(replayedEntries, out.Entries...)
	}
	assert.Equal(t, allEntries, replayedEntries, "entry IDs and amounts are reproduced")
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	e := newEngine(t, achievement.DefaultDefinitions())
	before := NewState("u-1")

	_, _ = e.Apply(before, (&logBuilder{}).complete(0, shared.CategoryHealth, 9))

	assert.Empty(t, before.Unlocked)
	assert.Zero(t, before.TotalXP)
}

func TestState_Applied(t *testing.T) {
	s := NewState("u-1")
	assert.False(t, s.Applied(1))
	s.Checkpoint = eventlog.CursorAfter(5)
	assert.True(t, s.Applied(5))
	assert.False(t, s.Applied(6))
}
