// Package streak содержит доменную модель ежедневной серии активности.
// Серия - количество подряд идущих календарных дней хотя бы с одним
// выполнением. Множитель XP выбирается по таблице уровней серии.
package streak

import (
	"fmt"
	"sort"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - состояние серии пользователя.
// Изменяется только через RecordActivity.
type Record struct {
	UserID shared.UserID

	// Current - текущая серия в днях.
	Current int

	// Longest - лучшая серия за всё время (никогда не уменьшается).
	Longest int

	// LastActive - последний активный календарный день.
	LastActive shared.Date

	// StartedOn - первый день текущей серии.
	StartedOn shared.Date
}

// NewRecord создаёт пустую серию пользователя.
func NewRecord(userID shared.UserID) Record {
	return Record{UserID: userID}
}

// ChangeKind описывает, что произошло с серией.
type ChangeKind string

const (
	// ChangeNone - активность в уже учтённый день (или в прошлом).
	ChangeNone ChangeKind = "none"
	// ChangeStarted - первая активность пользователя.
	ChangeStarted ChangeKind = "started"
	// ChangeExtended - активность на следующий день, серия +1.
	ChangeExtended ChangeKind = "extended"
	// ChangeRestarted - был пропуск, серия начинается заново с 1.
	ChangeRestarted ChangeKind = "restarted"
)

// Change - результат записи активности.
type Change struct {
	Kind   ChangeKind
	Before int
	After  int
}

// Counted возвращает true, если день был засчитан.
func (c Change) Counted() bool {
	return c.Kind != ChangeNone
}

// RecordActivity учитывает активность в календарный день date.
//
//   - date == LastActive: без изменений;
//   - date == LastActive + 1: Current += 1;
//   - date >  LastActive + 1: Current = 1 (серия перезапускается);
//   - Longest = max(Longest, Current).
//
// Активность в день раньше LastActive ничего не меняет.
func (r Record) RecordActivity(date shared.Date) (Record, Change) {
	change := Change{Kind: ChangeNone, Before: r.Current, After: r.Current}
	if date.IsZero() {
		return r, change
	}

	switch {
	case r.LastActive.IsZero():
		r.Current = 1
		r.StartedOn = date
		change.Kind = ChangeStarted
	case !date.After(r.LastActive):
		return r, change
	case date.DaysSince(r.LastActive) == 1:
		r.Current++
		change.Kind = ChangeExtended
	default:
		r.Current = 1
		r.StartedOn = date
		change.Kind = ChangeRestarted
	}

	r.LastActive = date
	if r.Current > r.Longest {
		r.Longest = r.Current
	}
	change.After = r.Current
	return r, change
}

// Effective возвращает серию с учётом пропусков на день today.
// Если после последнего активного дня был пропущен хотя бы один день,
// серия уже прервана и отображается как 0.
func (r Record) Effective(today shared.Date) int {
	if r.LastActive.IsZero() {
		return 0
	}
	if today.DaysSince(r.LastActive) > 1 {
		return 0
	}
	return r.Current
}

// IsAtRisk возвращает true, если серия прервётся, если сегодня не будет активности.
func (r Record) IsAtRisk(today shared.Date) bool {
	return r.Current > 0 && today.DaysSince(r.LastActive) == 1
}

// String возвращает строковое представление для логирования.
func (r Record) String() string {
	return fmt.Sprintf("Streak{User: %s, Current: %d, Longest: %d, Last: %s}",
		r.UserID, r.Current, r.Longest, r.LastActive)
}

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER TIERS
// ══════════════════════════════════════════════════════════════════════════════

// Reward - нематериальная награда уровня серии.
type Reward string

const (
	RewardNone   Reward = ""
	RewardShield Reward = "streak_shield"
	RewardBadge  Reward = "streak_badge"
)

// Tier - одна строка таблицы уровней серии.
type Tier struct {
	MinDays    int     `yaml:"min_days" json:"min_days"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Reward     Reward  `yaml:"reward,omitempty" json:"reward,omitempty"`
}

// Tiers - таблица уровней, отсортированная по MinDays.
type Tiers []Tier

// DefaultTiers возвращает таблицу по умолчанию.
// Старшие уровни дают награды вместо дальнейшего роста множителя.
func DefaultTiers() Tiers {
	return Tiers{
		{MinDays: 0, Multiplier: 1.0},
		{MinDays: 3, Multiplier: 1.2},
		{MinDays: 7, Multiplier: 1.5},
		{MinDays: 14, Multiplier: 2.0},
		{MinDays: 30, Multiplier: 2.0, Reward: RewardShield},
		{MinDays: 60, Multiplier: 2.0, Reward: RewardBadge},
	}
}

// NewTiers сортирует и валидирует таблицу.
func NewTiers(tiers []Tier) (Tiers, error) {
	sorted := make(Tiers, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinDays < sorted[j].MinDays })
	if err := sorted.Validate(); err != nil {
		return nil, err
	}
	return sorted, nil
}

// Validate проверяет таблицу: первый уровень начинается с 0 дней,
// пороги строго растут, множители положительны и не убывают.
func (t Tiers) Validate() error {
	if len(t) == 0 {
		return shared.NewDomainError("streak", "Validate", shared.ErrValidation, "tier table is empty")
	}
	if t[0].MinDays != 0 {
		return shared.NewDomainError("streak", "Validate", shared.ErrValidation, "first tier must start at 0 days")
	}
	for i, tier := range t {
		if tier.Multiplier <= 0 {
			return shared.NewDomainError("streak", "Validate", shared.ErrValueOutOfRange,
				fmt.Sprintf("tier %d: multiplier must be positive", i))
		}
		if i == 0 {
			continue
		}
		if tier.MinDays <= t[i-1].MinDays {
			return shared.NewDomainError("streak", "Validate", shared.ErrValidation,
				fmt.Sprintf("tier %d: min_days must be strictly increasing", i))
		}
		if tier.Multiplier < t[i-1].Multiplier {
			return shared.NewDomainError("streak", "Validate", shared.ErrValidation,
				fmt.Sprintf("tier %d: multiplier must not decrease", i))
		}
	}
	return nil
}

// For возвращает уровень, действующий для серии days.
func (t Tiers) For(days int) Tier {
	current := Tier{MinDays: 0, Multiplier: 1.0}
	for _, tier := range t {
		if days < tier.MinDays {
			break
		}
		current = tier
	}
	return current
}

// MultiplierFor возвращает множитель XP для серии days.
func (t Tiers) MultiplierFor(days int) float64 {
	return t.For(days).Multiplier
}

// Crossed возвращает уровни, пороги которых серия пересекла,
// поднявшись с before до after. Нулевой уровень не считается вехой.
func (t Tiers) Crossed(before, after int) []Tier {
	var crossed []Tier
	for _, tier := range t {
		if tier.MinDays > 0 && before < tier.MinDays && after >= tier.MinDays {
			crossed = append(crossed, tier)
		}
	}
	return crossed
}

// Milestone - пересечение порога уровня серии.
type Milestone struct {
	Streak     int     `json:"streak"`
	Multiplier float64 `json:"multiplier"`
	Reward     Reward  `json:"reward,omitempty"`
}

// MilestoneFor возвращает самую старшую веху, пересечённую изменением.
func (t Tiers) MilestoneFor(change Change) *Milestone {
	crossed := t.Crossed(change.Before, change.After)
	if change.Kind == ChangeRestarted {
		crossed = t.Crossed(0, change.After)
	}
	if len(crossed) == 0 {
		return nil
	}
	top := crossed[len(crossed)-1]
	return &Milestone{Streak: top.MinDays, Multiplier: top.Multiplier, Reward: top.Reward}
}
