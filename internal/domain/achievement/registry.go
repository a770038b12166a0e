package achievement

import (
	"fmt"
	"sync"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// Extractor вычисляет значение метрики из производного состояния.
type Extractor func(state DerivedState) (int, error)

// Registry сопоставляет метрикам экстракторы.
// Пользовательские метрики регистрируются через Register.
type Registry struct {
	mu         sync.RWMutex
	extractors map[Metric]Extractor
}

// NewRegistry создаёт реестр со встроенными метриками.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[Metric]Extractor)}
	r.extractors[MetricCurrentStreak] = func(s DerivedState) (int, error) { return s.CurrentStreak, nil }
	r.extractors[MetricLongestStreak] = func(s DerivedState) (int, error) { return s.LongestStreak, nil }
	r.extractors[MetricTasksCompleted] = func(s DerivedState) (int, error) { return s.TotalTasksCompleted, nil }
	r.extractors[MetricCirclesJoined] = func(s DerivedState) (int, error) { return s.CirclesJoined, nil }
	r.extractors[MetricChallengesWon] = func(s DerivedState) (int, error) { return s.ChallengesWon, nil }
	r.extractors[MetricSharesPosted] = func(s DerivedState) (int, error) { return s.SharesPosted, nil }
	r.extractors[MetricTotalXP] = func(s DerivedState) (int, error) { return s.TotalXP, nil }
	r.extractors[MetricLevel] = func(s DerivedState) (int, error) { return s.Level, nil }
	return r
}

// Register добавляет или заменяет экстрактор метрики.
func (r *Registry) Register(metric Metric, fn Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[metric] = fn
}

// Has проверяет, известна ли метрика.
func (r *Registry) Has(metric Metric) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[metric]
	return ok
}

// extract вычисляет метрику. Паника экстрактора превращается в ошибку.
func (r *Registry) extract(metric Metric, state DerivedState) (value int, err error) {
	r.mu.RLock()
	fn, ok := r.extractors[metric]
	r.mu.RUnlock()
	if !ok {
		return 0, shared.NewDomainError("achievement", "Evaluate", shared.ErrRuleEvaluationGap,
			fmt.Sprintf("unknown metric %q", metric))
	}

	defer func() {
		if rec := recover(); rec != nil {
			value = 0
			err = shared.NewDomainError("achievement", "Evaluate", shared.ErrRuleEvaluationGap,
				fmt.Sprintf("extractor for %q panicked: %v", metric, rec))
		}
	}()
	return fn(state)
}
