package achievement

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/shared"
)

var at = time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

func streakDefs() []Definition {
	return []Definition{
		{ID: "streak_7", Name: "Week on Fire", Metric: MetricCurrentStreak, Threshold: 7, XPReward: 100},
		{ID: "first_task", Name: "First Win", Metric: MetricTasksCompleted, Threshold: 1, XPReward: 50},
	}
}

func TestEvaluate_UnlocksAtThreshold(t *testing.T) {
	e, err := NewEvaluator(streakDefs(), nil)
	require.NoError(t, err)

	res := e.Evaluate("u-1", DerivedState{CurrentStreak: 6, TotalTasksCompleted: 6}, Unlocked{}, at)
	require.Len(t, res.Newly, 1)
	assert.Equal(t, "first_task", res.Newly[0].AchievementID)

	unlocked := Unlocked{"first_task": at}
	res = e.Evaluate("u-1", DerivedState{CurrentStreak: 7, TotalTasksCompleted: 7}, unlocked, at)
	require.Len(t, res.Newly, 1)
	assert.Equal(t, "streak_7", res.Newly[0].AchievementID)
	assert.Equal(t, 100, res.Newly[0].XPReward)
	assert.Equal(t, at, *res.Newly[0].UnlockedAt)
}

func TestEvaluate_OneWayUnlock(t *testing.T) {
	e, err := NewEvaluator(streakDefs(), nil)
	require.NoError(t, err)

	unlocked := Unlocked{"streak_7": at, "first_task": at}

	// Streak dropped to 0: nothing is re-evaluated or revoked.
	res := e.Evaluate("u-1", DerivedState{CurrentStreak: 0, TotalTasksCompleted: 9}, unlocked, at.Add(72*time.Hour))
	assert.Empty(t, res.Newly)

	progress, gaps := e.Progress("u-1", DerivedState{CurrentStreak: 0}, unlocked)
	assert.Empty(t, gaps)
	for _, p := range progress {
		assert.True(t, p.IsUnlocked(), p.AchievementID)
		assert.Equal(t, p.Total, p.ProgressValue)
	}
}

func TestEvaluate_GapsDoNotAbort(t *testing.T) {
	registry := NewRegistry()
	registry.Register("broken", func(DerivedState) (int, error) { return 0, errors.New("boom") })
	registry.Register("panicky", func(DerivedState) (int, error) { panic("nil map") })

	defs := []Definition{
		{ID: "unknown", Metric: "does_not_exist", Threshold: 1},
		{ID: "broken", Metric: "broken", Threshold: 1},
		{ID: "panicky", Metric: "panicky", Threshold: 1},
		{ID: "first_task", Metric: MetricTasksCompleted, Threshold: 1, XPReward: 50},
	}
	e, err := NewEvaluator(defs, registry)
	require.NoError(t, err)

	res := e.Evaluate("u-1", DerivedState{TotalTasksCompleted: 1}, Unlocked{}, at)

	require.Len(t, res.Newly, 1)
	assert.Equal(t, "first_task", res.Newly[0].AchievementID)
	require.Len(t, res.Gaps, 3)
	for _, g := range res.Gaps {
		assert.ErrorIs(t, g, shared.ErrRuleEvaluationGap)
	}
	assert.ErrorIs(t, res.Gaps[0].Err, shared.ErrRuleEvaluationGap)
	assert.Contains(t, res.Gaps[2].Err.Error(), "panicked")
}

func TestProgress_PartialForLocked(t *testing.T) {
	e, err := NewEvaluator(streakDefs(), nil)
	require.NoError(t, err)

	progress, _ := e.Progress("u-1", DerivedState{CurrentStreak: 4}, Unlocked{})
	require.Len(t, progress, 2)
	assert.Equal(t, 4, progress[0].ProgressValue)
	assert.Equal(t, 7, progress[0].Total)
	assert.False(t, progress[0].IsUnlocked())
	assert.Equal(t, 0, progress[1].ProgressValue)

	progress, _ = e.Progress("u-1", DerivedState{CurrentStreak: 40}, Unlocked{})
	assert.Equal(t, 7, progress[0].ProgressValue, "progress is capped at total")
}

func TestNewEvaluator_Validation(t *testing.T) {
	_, err := NewEvaluator([]Definition{{ID: "a", Metric: MetricLevel, Threshold: 0}}, nil)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = NewEvaluator([]Definition{
		{ID: "a", Metric: MetricLevel, Threshold: 1},
		{ID: "a", Metric: MetricLevel, Threshold: 2},
	}, nil)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	e, err := NewEvaluator(DefaultDefinitions(), nil)
	require.NoError(t, err)
	_, ok := e.Definition("streak_7")
	assert.True(t, ok)
}

func TestSortByUnlock(t *testing.T) {
	later := at.Add(time.Hour)
	items := []Progress{
		{AchievementID: "locked-low", ProgressValue: 1, Total: 10},
		{AchievementID: "unlocked-late", UnlockedAt: &later, ProgressValue: 1, Total: 1},
		{AchievementID: "locked-high", ProgressValue: 8, Total: 10},
		{AchievementID: "unlocked-early", UnlockedAt: &at, ProgressValue: 1, Total: 1},
	}
	SortByUnlock(items)

	ids := make([]string, len(items))
	for i, p := range items {
		ids[i] = p.AchievementID
	}
	assert.Equal(t, []string{"unlocked-early", "unlocked-late", "locked-high", "locked-low"}, ids)
}
