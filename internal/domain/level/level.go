// Package level maps cumulative XP to a level using a threshold table.
// Levels are derived and never stored.
package level

import (
	"fmt"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// Progress is the level view of a total XP value.
type Progress struct {
	Level       int `json:"level"`
	XPIntoLevel int `json:"xp_into_level"`
	XPToNext    int `json:"xp_to_next"`
}

// Table holds cumulative thresholds: thresholds[n] is the XP needed to
// reach level n+1, so thresholds[0] is always 0.
type Table struct {
	thresholds []int
}

// DefaultThresholds is the level curve used when no rules file overrides it.
var DefaultThresholds = []int{0, 100, 250, 500, 1000, 1750, 2750, 4000, 5500, 7500, 10000}

// DefaultTable returns the table built from DefaultThresholds.
func DefaultTable() Table {
	t, _ := NewTable(DefaultThresholds)
	return t
}

// NewTable validates and copies the thresholds.
func NewTable(thresholds []int) (Table, error) {
	if len(thresholds) == 0 {
		return Table{}, shared.NewDomainError("level", "NewTable", shared.ErrValidation, "threshold table is empty")
	}
	if thresholds[0] != 0 {
		return Table{}, shared.NewDomainError("level", "NewTable", shared.ErrValidation, "first threshold must be 0")
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return Table{}, shared.NewDomainError("level", "NewTable", shared.ErrValidation,
				fmt.Sprintf("threshold %d must be greater than threshold %d", i, i-1))
		}
	}

	copied := make([]int, len(thresholds))
	copy(copied, thresholds)
	return Table{thresholds: copied}, nil
}

// Thresholds returns a copy of the table.
func (t Table) Thresholds() []int {
	out := make([]int, len(t.thresholds))
	copy(out, t.thresholds)
	return out
}

// LevelOf returns the level for totalXP. Negative XP stays at level 1.
// Beyond the last threshold, levels continue with the last step size.
func (t Table) LevelOf(totalXP int) Progress {
	if len(t.thresholds) == 0 {
		t = DefaultTable()
	}
	if totalXP < 0 {
		totalXP = 0
	}

	n := len(t.thresholds)
	idx := 0
	for i := n - 1; i >= 0; i-- {
		if totalXP >= t.thresholds[i] {
			idx = i
			break
		}
	}

	if idx < n-1 {
		return Progress{
			Level:       idx + 1,
			XPIntoLevel: totalXP - t.thresholds[idx],
			XPToNext:    t.thresholds[idx+1] - totalXP,
		}
	}

	// Past the end of the table.
	last := t.thresholds[n-1]
	step := t.lastStep()
	extra := (totalXP - last) / step
	floor := last + extra*step
	return Progress{
		Level:       n + extra,
		XPIntoLevel: totalXP - floor,
		XPToNext:    floor + step - totalXP,
	}
}

// ThresholdFor returns the cumulative XP needed to reach level lvl.
func (t Table) ThresholdFor(lvl int) int {
	if len(t.thresholds) == 0 {
		t = DefaultTable()
	}
	if lvl <= 1 {
		return 0
	}
	n := len(t.thresholds)
	if lvl <= n {
		return t.thresholds[lvl-1]
	}
	return t.thresholds[n-1] + (lvl-n)*t.lastStep()
}

func (t Table) lastStep() int {
	n := len(t.thresholds)
	if n < 2 {
		return 100
	}
	return t.thresholds[n-1] - t.thresholds[n-2]
}
