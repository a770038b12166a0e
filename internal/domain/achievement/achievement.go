// Package achievement содержит движок достижений.
// Достижение описывается данными (метрика + порог + награда), а метрики
// вычисляются зарегистрированными экстракторами над производным состоянием.
// Разблокировка необратима: однажды выставленный UnlockedAt не сбрасывается.
package achievement

import (
	"fmt"
	"sort"
	"time"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Metric - имя метрики производного состояния.
type Metric string

const (
	MetricCurrentStreak  Metric = "current_streak"
	MetricLongestStreak  Metric = "longest_streak"
	MetricTasksCompleted Metric = "tasks_completed"
	MetricCirclesJoined  Metric = "circles_joined"
	MetricChallengesWon  Metric = "challenges_won"
	MetricSharesPosted   Metric = "shares_posted"
	MetricTotalXP        Metric = "total_xp"
	MetricLevel          Metric = "level"
)

// Definition описывает достижение.
type Definition struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Metric      Metric `yaml:"metric" json:"metric"`
	Threshold   int    `yaml:"threshold" json:"threshold"`
	XPReward    int    `yaml:"xp_reward" json:"xp_reward"`
}

// Validate проверяет определение. Неизвестная метрика здесь не ошибка:
// она превращается в пробел оценки во время Evaluate.
func (d Definition) Validate() error {
	if d.ID == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidID, "achievement ID is required")
	}
	if d.Metric == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValidation,
			fmt.Sprintf("achievement %s: metric is required", d.ID))
	}
	if d.Threshold <= 0 {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("achievement %s: threshold must be positive", d.ID))
	}
	if d.XPReward < 0 {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("achievement %s: xp reward must be non-negative", d.ID))
	}
	return nil
}

// DefaultDefinitions возвращает набор достижений по умолчанию.
func DefaultDefinitions() []Definition {
	return []Definition{
		{"first_task", "First Win", "Complete your first task", MetricTasksCompleted, 1, 50},
		{"tasks_10", "Getting Things Done", "Complete 10 tasks", MetricTasksCompleted, 10, 100},
		{"tasks_50", "Unstoppable", "Complete 50 tasks", MetricTasksCompleted, 50, 250},
		{"streak_3", "Warming Up", "Keep a 3-day streak", MetricCurrentStreak, 3, 25},
		{"streak_7", "Week on Fire", "Keep a 7-day streak", MetricCurrentStreak, 7, 100},
		{"streak_30", "Iron Will", "Keep a 30-day streak", MetricCurrentStreak, 30, 500},
		{"circle_first", "Better Together", "Join your first circle", MetricCirclesJoined, 1, 25},
		{"circles_3", "Connector", "Join 3 circles", MetricCirclesJoined, 3, 75},
		{"challenge_first", "Champion", "Win a challenge", MetricChallengesWon, 1, 100},
		{"share_first", "Open Book", "Share your progress", MetricSharesPosted, 1, 15},
		{"level_5", "Apprentice", "Reach level 5", MetricLevel, 5, 100},
		{"level_10", "Master", "Reach level 10", MetricLevel, 10, 250},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED STATE & PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// DerivedState - состояние пользователя, над которым вычисляются условия.
type DerivedState struct {
	CurrentStreak       int
	LongestStreak       int
	TotalTasksCompleted int
	CirclesJoined       int
	ChallengesWon       int
	SharesPosted        int
	TotalXP             int
	Level               int
}

// Progress - прогресс пользователя по одному достижению.
type Progress struct {
	UserID        shared.UserID `json:"user_id"`
	AchievementID string        `json:"achievement_id"`
	UnlockedAt    *time.Time    `json:"unlocked_at,omitempty"`
	ProgressValue int           `json:"progress_value"`
	Total         int           `json:"total"`
	XPReward      int           `json:"xp_reward"`
}

// IsUnlocked возвращает true, если достижение разблокировано.
func (p Progress) IsUnlocked() bool {
	return p.UnlockedAt != nil
}

// Unlocked - набор разблокированных достижений пользователя (ID → время).
type Unlocked map[string]time.Time

// Has проверяет, разблокировано ли достижение.
func (u Unlocked) Has(id string) bool {
	_, ok := u[id]
	return ok
}

// Clone возвращает копию набора.
func (u Unlocked) Clone() Unlocked {
	out := make(Unlocked, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Gap - ошибка оценки одного достижения. Такие достижения
// пропускаются, остальной поток не прерывается.
type Gap struct {
	AchievementID string
	Metric        Metric
	Err           error
}

// Error реализует error.
func (g Gap) Error() string {
	return fmt.Sprintf("achievement %s (metric %s): %v", g.AchievementID, g.Metric, g.Err)
}

// Unwrap позволяет сопоставлять пробел с shared.ErrRuleEvaluationGap.
func (g Gap) Unwrap() error {
	return shared.ErrRuleEvaluationGap
}

// Result - результат оценки.
type Result struct {
	Newly []Progress
	Gaps  []Gap
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator проверяет условия разблокировки.
type Evaluator struct {
	defs     []Definition
	byID     map[string]Definition
	registry *Registry
}

// NewEvaluator создаёт движок достижений. ID должны быть уникальны.
func NewEvaluator(defs []Definition, registry *Registry) (*Evaluator, error) {
	if registry == nil {
		registry = NewRegistry()
	}

	byID := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[d.ID]; dup {
			return nil, shared.NewDomainError("achievement", "NewEvaluator", shared.ErrAlreadyExists,
				fmt.Sprintf("duplicate achievement %s", d.ID))
		}
		byID[d.ID] = d
	}

	copied := make([]Definition, len(defs))
	copy(copied, defs)
	return &Evaluator{defs: copied, byID: byID, registry: registry}, nil
}

// Definitions возвращает все определения в порядке объявления.
func (e *Evaluator) Definitions() []Definition {
	out := make([]Definition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Definition возвращает определение по ID.
func (e *Evaluator) Definition(id string) (Definition, bool) {
	d, ok := e.byID[id]
	return d, ok
}

// Evaluate возвращает достижения, впервые выполненные в состоянии state.
// Уже разблокированные не проверяются повторно, поэтому регресс метрики
// (например, обнуление серии) ничего не отменяет.
func (e *Evaluator) Evaluate(userID shared.UserID, state DerivedState, unlocked Unlocked, at time.Time) Result {
	var res Result
	for _, d := range e.defs {
		if unlocked.Has(d.ID) {
			continue
		}

		value, err := e.registry.extract(d.Metric, state)
		if err != nil {
			res.Gaps = append(res.Gaps, Gap{AchievementID: d.ID, Metric: d.Metric, Err: err})
			continue
		}
		if value < d.Threshold {
			continue
		}

		unlockedAt := at
		res.Newly = append(res.Newly, Progress{
			UserID:        userID,
			AchievementID: d.ID,
			UnlockedAt:    &unlockedAt,
			ProgressValue: d.Threshold,
			Total:         d.Threshold,
			XPReward:      d.XPReward,
		})
	}
	return res
}

// Progress возвращает прогресс по всем достижениям.
// Для закрытых - текущее значение метрики (не больше порога).
func (e *Evaluator) Progress(userID shared.UserID, state DerivedState, unlocked Unlocked) ([]Progress, []Gap) {
	out := make([]Progress, 0, len(e.defs))
	var gaps []Gap

	for _, d := range e.defs {
		p := Progress{
			UserID:        userID,
			AchievementID: d.ID,
			Total:         d.Threshold,
			XPReward:      d.XPReward,
		}

		if at, ok := unlocked[d.ID]; ok {
			unlockedAt := at
			p.UnlockedAt = &unlockedAt
			p.ProgressValue = d.Threshold
			out = append(out, p)
			continue
		}

		value, err := e.registry.extract(d.Metric, state)
		if err != nil {
			gaps = append(gaps, Gap{AchievementID: d.ID, Metric: d.Metric, Err: err})
		}
		if value > d.Threshold {
			value = d.Threshold
		}
		if value < 0 {
			value = 0
		}
		p.ProgressValue = value
		out = append(out, p)
	}
	return out, gaps
}

// SortByUnlock упорядочивает прогресс: сначала разблокированные
// (по времени), затем закрытые по доле выполнения.
func SortByUnlock(items []Progress) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsUnlocked() != b.IsUnlocked() {
			return a.IsUnlocked()
		}
		if a.IsUnlocked() {
			return a.UnlockedAt.Before(*b.UnlockedAt)
		}
		return a.ProgressValue*b.Total > b.ProgressValue*a.Total
	})
}
