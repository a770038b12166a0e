// Package xp содержит доменную модель журнала очков опыта (XP ledger).
// Журнал только дописывается: записи никогда не удаляются и не меняются,
// исправления оформляются отрицательными записями.
package xp

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Reason объясняет, за что начислены очки.
type Reason string

const (
	// ReasonTaskCompleted - выполнение задачи (база × множитель + бонусы).
	ReasonTaskCompleted Reason = "task_completed"
	// ReasonShareBonus - бонус за публикацию прогресса.
	ReasonShareBonus Reason = "share_bonus"
	// ReasonCorrection - ручная корректировка (может быть отрицательной).
	ReasonCorrection Reason = "correction"
	// reasonAchievementPrefix - префикс бонуса за достижение.
	reasonAchievementPrefix = "achievement:"
)

// AchievementReason возвращает причину начисления бонуса за достижение.
func AchievementReason(achievementID string) Reason {
	return Reason(reasonAchievementPrefix + achievementID)
}

// entryNamespace - пространство имён для детерминированных ID записей.
var entryNamespace = uuid.MustParse("6f1c2a4e-8b0d-5e57-9a1f-3c7d2b8e4f10")

// EntryID детерминированно выводится из источника и причины.
// Повторное применение того же события даёт тот же ID, и хранилище
// отбрасывает дубликат по уникальному ключу.
func EntryID(sourceKey string, reason Reason) string {
	return uuid.NewSHA1(entryNamespace, []byte(sourceKey+"|"+string(reason))).String()
}

// Entry - неизменяемая запись журнала XP.
type Entry struct {
	ID            string
	UserID        shared.UserID
	SourceEventID eventlog.ID
	Amount        int
	Reason        Reason
	CreatedAt     time.Time
}

// Total возвращает сумму всех записей.
func Total(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// TotalSince возвращает сумму записей, созданных не раньше since.
// Нулевой since означает весь журнал.
func TotalSince(entries []Entry, since time.Time) int {
	if since.IsZero() {
		return Total(entries)
	}
	total := 0
	for _, e := range entries {
		if !e.CreatedAt.Before(since) {
			total += e.Amount
		}
	}
	return total
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// Rules - таблица начисления XP. Это данные, а не код: их можно
// переопределить конфигурацией без изменения движка.
type Rules struct {
	// CategoryBase - базовые очки по категории задачи.
	CategoryBase map[shared.Category]int

	// DefaultBase используется для категорий, отсутствующих в таблице.
	DefaultBase int

	// PhotoBonus начисляется за выполнение с фото-подтверждением.
	PhotoBonus int

	// PriorityBonus начисляется за приоритетную задачу.
	PriorityBonus int

	// ShareBonus - бонус за публикацию по уровню приватности.
	// Уровни взаимоисключающие: начисляется ровно один.
	ShareBonus map[shared.PrivacyLevel]int
}

// DefaultRules возвращает правила по умолчанию.
func DefaultRules() Rules {
	return Rules{
		CategoryBase: map[shared.Category]int{
			shared.CategoryWork:     20,
			shared.CategoryHealth:   15,
			shared.CategoryPersonal: 10,
			shared.CategoryFitness:  20,
			shared.CategoryLearning: 25,
			shared.CategoryWellness: 15,
		},
		DefaultBase:   10,
		PhotoBonus:    10,
		PriorityBonus: 5,
		ShareBonus: map[shared.PrivacyLevel]int{
			shared.PrivacyPrivate: 10,
			shared.PrivacyMetrics: 20,
			shared.PrivacyFull:    30,
		},
	}
}

// Validate проверяет, что правила не дают отрицательных начислений.
func (r Rules) Validate() error {
	for c, base := range r.CategoryBase {
		if base < 0 {
			return shared.NewDomainError("xp", "Validate", shared.ErrValueOutOfRange,
				fmt.Sprintf("base XP for %s must be non-negative", c))
		}
	}
	for p, bonus := range r.ShareBonus {
		if bonus < 0 {
			return shared.NewDomainError("xp", "Validate", shared.ErrValueOutOfRange,
				fmt.Sprintf("share bonus for %s must be non-negative", p))
		}
	}
	if r.DefaultBase < 0 || r.PhotoBonus < 0 || r.PriorityBonus < 0 {
		return shared.NewDomainError("xp", "Validate", shared.ErrValueOutOfRange, "bonuses must be non-negative")
	}
	return nil
}

// BaseFor возвращает базовые очки категории.
func (r Rules) BaseFor(c shared.Category) int {
	if base, ok := r.CategoryBase[c]; ok {
		return base
	}
	return r.DefaultBase
}

// RuleContext - производное состояние, влияющее на начисление.
type RuleContext struct {
	// Multiplier - множитель серии, действующий на момент события.
	Multiplier float64
}

// CompletionAmount вычисляет очки за выполнение задачи:
// round(база × множитель) + фото-бонус + бонус приоритета.
func (r Rules) CompletionAmount(e eventlog.Event, rc RuleContext) int {
	multiplier := rc.Multiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	amount := int(math.Round(float64(r.BaseFor(e.Category)) * multiplier))
	if e.ProofType == shared.ProofPhoto {
		amount += r.PhotoBonus
	}
	if e.Priority {
		amount += r.PriorityBonus
	}
	return amount
}

// Award вычисляет записи журнала для события.
// Вступление в круг и победа в челлендже не дают базовых очков:
// их ценность приходит через достижения.
func (r Rules) Award(e eventlog.Event, rc RuleContext) []Entry {
	switch e.Kind {
	case eventlog.KindTaskCompleted:
		return []Entry{r.entry(e, ReasonTaskCompleted, r.CompletionAmount(e, rc))}
	case eventlog.KindProgressShared:
		bonus := r.ShareBonus[e.PrivacyLevel]
		if bonus == 0 {
			return nil
		}
		return []Entry{r.entry(e, ReasonShareBonus, bonus)}
	default:
		return nil
	}
}

func (r Rules) entry(e eventlog.Event, reason Reason, amount int) Entry {
	return Entry{
		ID:            EntryID(e.ID.String(), reason),
		UserID:        e.UserID,
		SourceEventID: e.ID,
		Amount:        amount,
		Reason:        reason,
		CreatedAt:     e.Timestamp,
	}
}

// AchievementEntry создаёт запись бонуса за достижение.
// ID ключуется пользователем и достижением, поэтому бонус
// начисляется ровно один раз, какое бы событие его ни вызвало.
func AchievementEntry(userID shared.UserID, achievementID string, source eventlog.ID, amount int, at time.Time) Entry {
	reason := AchievementReason(achievementID)
	return Entry{
		ID:            EntryID(userID.String(), reason),
		UserID:        userID,
		SourceEventID: source,
		Amount:        amount,
		Reason:        reason,
		CreatedAt:     at,
	}
}

// CorrectionEntry создаёт корректирующую запись.
// key должен быть уникален для каждой корректировки.
func CorrectionEntry(userID shared.UserID, key string, amount int, at time.Time) Entry {
	return Entry{
		ID:        EntryID(userID.String()+":"+key, ReasonCorrection),
		UserID:    userID,
		Amount:    amount,
		Reason:    ReasonCorrection,
		CreatedAt: at,
	}
}
