package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/shared"
)

func TestLevelOf_Baseline(t *testing.T) {
	table := DefaultTable()

	p := table.LevelOf(0)
	assert.Equal(t, Progress{Level: 1, XPIntoLevel: 0, XPToNext: 100}, p)

	p = table.LevelOf(15)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 15, p.XPIntoLevel)
	assert.Equal(t, 85, p.XPToNext)

	p = table.LevelOf(100)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 0, p.XPIntoLevel)
}

func TestLevelOf_NegativeFloorsAtOne(t *testing.T) {
	assert.Equal(t, 1, DefaultTable().LevelOf(-500).Level)
}

func TestLevelOf_BeyondTable(t *testing.T) {
	table, err := NewTable([]int{0, 100, 300})
	require.NoError(t, err)

	assert.Equal(t, 3, table.LevelOf(300).Level)
	assert.Equal(t, 3, table.LevelOf(499).Level)

	p := table.LevelOf(550)
	assert.Equal(t, 4, p.Level)
	assert.Equal(t, 50, p.XPIntoLevel)
	assert.Equal(t, 150, p.XPToNext)

	assert.Equal(t, 700, table.ThresholdFor(5))
	assert.Equal(t, 100, table.ThresholdFor(2))
	assert.Equal(t, 0, table.ThresholdFor(0))
}

func TestLevelOf_Monotonic(t *testing.T) {
	table := DefaultTable()
	prev := table.LevelOf(-10).Level
	for xp := -10; xp <= 20000; xp += 7 {
		lvl := table.LevelOf(xp).Level
		assert.GreaterOrEqual(t, lvl, prev, "xp=%d", xp)
		prev = lvl
	}
}

func TestLevelOf_ThresholdRoundTrip(t *testing.T) {
	table := DefaultTable()
	for lvl := 1; lvl <= 20; lvl++ {
		assert.Equal(t, lvl, table.LevelOf(table.ThresholdFor(lvl)).Level)
	}
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable(nil)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewTable([]int{10, 20})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewTable([]int{0, 100, 100})
	assert.ErrorIs(t, err, shared.ErrValidation)

	single, err := NewTable([]int{0})
	require.NoError(t, err)
	assert.Equal(t, 2, single.LevelOf(100).Level)
}
