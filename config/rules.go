package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/level"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
)

// Rules holds the rule tables of the engine. A rules file overrides
// only the keys it sets:
//
//	xp:
//	  category_base: {work: 30}
//	  photo_bonus: 15
//	streak_tiers:
//	  - {min_days: 0, multiplier: 1.0}
//	  - {min_days: 5, multiplier: 1.5}
//	level_thresholds: [0, 200, 500]
//	achievements:
//	  - {id: first_task, name: First Win, metric: tasks_completed, threshold: 1, xp_reward: 50}
//
// Lists replace the defaults entirely; maps are merged key by key.
type Rules struct {
	XP              XPRules                  `yaml:"xp"`
	StreakTiers     []streak.Tier            `yaml:"streak_tiers"`
	LevelThresholds []int                    `yaml:"level_thresholds"`
	Achievements    []achievement.Definition `yaml:"achievements"`
}

// XPRules is the file form of xp.Rules.
type XPRules struct {
	CategoryBase  map[string]int `yaml:"category_base"`
	DefaultBase   int            `yaml:"default_base"`
	PhotoBonus    int            `yaml:"photo_bonus"`
	PriorityBonus int            `yaml:"priority_bonus"`
	ShareBonus    map[string]int `yaml:"share_bonus"`
}

// DefaultRules returns the built-in rule tables.
func DefaultRules() Rules {
	x := xp.DefaultRules()

	base := make(map[string]int, len(x.CategoryBase))
	for c, v := range x.CategoryBase {
		base[string(c)] = v
	}
	share := make(map[string]int, len(x.ShareBonus))
	for p, v := range x.ShareBonus {
		share[string(p)] = v
	}

	tiers := streak.DefaultTiers()
	thresholds := make([]int, len(level.DefaultThresholds))
	copy(thresholds, level.DefaultThresholds)

	return Rules{
		XP: XPRules{
			CategoryBase:  base,
			DefaultBase:   x.DefaultBase,
			PhotoBonus:    x.PhotoBonus,
			PriorityBonus: x.PriorityBonus,
			ShareBonus:    share,
		},
		StreakTiers:     append([]streak.Tier(nil), tiers...),
		LevelThresholds: thresholds,
		Achievements:    achievement.DefaultDefinitions(),
	}
}

// LoadRules reads a YAML rules file on top of the defaults.
// An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Rules{}, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	rules, err := ParseRules(f)
	if err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes YAML rules on top of the defaults and validates them.
func ParseRules(r io.Reader) (Rules, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Rules{}, err
	}

	rules := DefaultRules()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rules); err != nil && !errors.Is(err, io.EOF) {
			return Rules{}, fmt.Errorf("decode rules: %w", err)
		}
	}

	if _, err := rules.Engine(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// xpRules converts the file form into validated xp.Rules.
func (r Rules) xpRules() (xp.Rules, error) {
	out := xp.Rules{
		CategoryBase:  make(map[shared.Category]int, len(r.XP.CategoryBase)),
		DefaultBase:   r.XP.DefaultBase,
		PhotoBonus:    r.XP.PhotoBonus,
		PriorityBonus: r.XP.PriorityBonus,
		ShareBonus:    make(map[shared.PrivacyLevel]int, len(r.XP.ShareBonus)),
	}
	for name, v := range r.XP.CategoryBase {
		c, err := shared.ParseCategory(name)
		if err != nil {
			return xp.Rules{}, err
		}
		out.CategoryBase[c] = v
	}
	for name, v := range r.XP.ShareBonus {
		p, err := shared.ParsePrivacyLevel(name)
		if err != nil {
			return xp.Rules{}, err
		}
		out.ShareBonus[p] = v
	}
	if err := out.Validate(); err != nil {
		return xp.Rules{}, err
	}
	return out, nil
}

// Engine builds the progression engine from the tables.
func (r Rules) Engine() (*progress.Engine, error) {
	xpRules, err := r.xpRules()
	if err != nil {
		return nil, fmt.Errorf("xp rules: %w", err)
	}
	tiers, err := streak.NewTiers(r.StreakTiers)
	if err != nil {
		return nil, fmt.Errorf("streak tiers: %w", err)
	}
	levels, err := level.NewTable(r.LevelThresholds)
	if err != nil {
		return nil, fmt.Errorf("level thresholds: %w", err)
	}
	evaluator, err := achievement.NewEvaluator(r.Achievements, achievement.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("achievements: %w", err)
	}
	return progress.NewEngine(xpRules, tiers, levels, evaluator), nil
}
