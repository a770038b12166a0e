package xp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/shared"
)

func taskEvent(category shared.Category, proof shared.ProofType, priority bool) eventlog.Event {
	return eventlog.Event{
		ID:        "ev-1",
		Kind:      eventlog.KindTaskCompleted,
		UserID:    "u-1",
		SubjectID: "t-1",
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		ProofType: proof,
		Category:  category,
		Priority:  priority,
	}
}

func TestAward_HealthTaskNoBonuses(t *testing.T) {
	rules := DefaultRules()

	entries := rules.Award(taskEvent(shared.CategoryHealth, shared.ProofNone, false), RuleContext{Multiplier: 1.0})

	require.Len(t, entries, 1)
	assert.Equal(t, 15, entries[0].Amount)
	assert.Equal(t, ReasonTaskCompleted, entries[0].Reason)
	assert.Equal(t, eventlog.ID("ev-1"), entries[0].SourceEventID)
}

func TestAward_MultiplierAndBonuses(t *testing.T) {
	rules := DefaultRules()

	// round(20 × 1.5) + 10 photo + 5 priority
	entries := rules.Award(taskEvent(shared.CategoryWork, shared.ProofPhoto, true), RuleContext{Multiplier: 1.5})
	require.Len(t, entries, 1)
	assert.Equal(t, 45, entries[0].Amount)

	// round(15 × 1.2) = 18
	entries = rules.Award(taskEvent(shared.CategoryHealth, shared.ProofNone, false), RuleContext{Multiplier: 1.2})
	assert.Equal(t, 18, entries[0].Amount)

	// Zero multiplier falls back to 1.0.
	entries = rules.Award(taskEvent(shared.CategoryLearning, shared.ProofNone, false), RuleContext{})
	assert.Equal(t, 25, entries[0].Amount)
}

func TestAward_ShareBonusByPrivacy(t *testing.T) {
	rules := DefaultRules()
	cases := map[shared.PrivacyLevel]int{
		shared.PrivacyPrivate: 10,
		shared.PrivacyMetrics: 20,
		shared.PrivacyFull:    30,
	}

	for level, want := range cases {
		ev := eventlog.Event{ID: "s-1", Kind: eventlog.KindProgressShared, UserID: "u-1", PrivacyLevel: level}
		entries := rules.Award(ev, RuleContext{Multiplier: 2.0})
		require.Len(t, entries, 1, level)
		assert.Equal(t, want, entries[0].Amount, "share bonus is not multiplied")
		assert.Equal(t, ReasonShareBonus, entries[0].Reason)
	}
}

func TestAward_ScopeEventsGiveNoBaseXP(t *testing.T) {
	rules := DefaultRules()
	assert.Empty(t, rules.Award(eventlog.Event{Kind: eventlog.KindCircleJoined}, RuleContext{Multiplier: 1}))
	assert.Empty(t, rules.Award(eventlog.Event{Kind: eventlog.KindChallengeWon}, RuleContext{Multiplier: 1}))
}

func TestEntryID_Deterministic(t *testing.T) {
	rules := DefaultRules()
	ev := taskEvent(shared.CategoryHealth, shared.ProofNone, false)

	a := rules.Award(ev, RuleContext{Multiplier: 1})
	b := rules.Award(ev, RuleContext{Multiplier: 1})
	assert.Equal(t, a[0].ID, b[0].ID)

	ach1 := AchievementEntry("u-1", "streak_7", "ev-1", 50, time.Now())
	ach2 := AchievementEntry("u-1", "streak_7", "ev-9", 50, time.Now())
	assert.Equal(t, ach1.ID, ach2.ID, "one bonus per user and achievement")
	assert.Equal(t, Reason("achievement:streak_7"), ach1.Reason)

	other := AchievementEntry("u-2", "streak_7", "ev-1", 50, time.Now())
	assert.NotEqual(t, ach1.ID, other.ID)
}

func TestTotals(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Amount: 10, CreatedAt: day.AddDate(0, 0, -10)},
		{Amount: 20, CreatedAt: day},
		{Amount: -5, Reason: ReasonCorrection, CreatedAt: day.Add(time.Hour)},
	}

	assert.Equal(t, 25, Total(entries))
	assert.Equal(t, 15, TotalSince(entries, day))
	assert.Equal(t, 25, TotalSince(entries, time.Time{}))
}

func TestRulesValidate(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())

	bad := DefaultRules()
	bad.PhotoBonus = -1
	assert.ErrorIs(t, bad.Validate(), shared.ErrValueOutOfRange)

	bad = DefaultRules()
	bad.CategoryBase[shared.CategoryWork] = -3
	assert.ErrorIs(t, bad.Validate(), shared.ErrValueOutOfRange)
}
