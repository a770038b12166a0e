// Package progression содержит общее ядро операций прогрессии:
// блокировку пользователя, запись в журнал событий и догоняющую
// проекцию журнала в производное состояние.
//
// Все изменяющие операции устроены одинаково: взять блокировку
// пользователя, загрузить состояние, записать событие (идемпотентно),
// применить к состоянию все события после Checkpoint и атомарно
// сохранить результат. Если процесс упал между записью события и
// сохранением, следующий вызов (в том числе дубликат) доприменит
// пропущенные события ровно один раз.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/pkg/logger"
	"github.com/lifeloop/progression/pkg/retry"
	"github.com/lifeloop/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config содержит настройки проектора.
type Config struct {
	// Location - зона, в которой считаются календарные дни.
	Location *time.Location

	// PageSize - размер страницы при чтении журнала.
	PageSize int
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		Location: time.UTC,
		PageSize: shared.DefaultPageSize,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROJECTOR
// ══════════════════════════════════════════════════════════════════════════════

// Projector - единственный путь изменения производного состояния.
type Projector struct {
	events    eventlog.Store
	states    progress.Repository
	engine    *progress.Engine
	locker    UserLocker
	retrier   *retry.Retrier
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *zap.Logger
	config    Config
}

// NewProjector создаёт проектор. nil-зависимости заменяются значениями
// по умолчанию: блокировка в памяти, системные часы, Nop-логгер.
func NewProjector(
	events eventlog.Store,
	states progress.Repository,
	engine *progress.Engine,
	locker UserLocker,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *zap.Logger,
	config Config,
) *Projector {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.PageSize <= 0 {
		config.PageSize = shared.DefaultPageSize
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if clock == nil {
		clock = timeutil.SystemClock{Location: config.Location}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Component("projector"))

	p := &Projector{
		events:    events,
		states:    states,
		engine:    engine,
		locker:    locker,
		publisher: publisher,
		clock:     clock,
		logger:    log,
		config:    config,
	}
	p.retrier = retry.StorageRetrier(shared.IsRetryable, func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("retrying storage call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
	return p
}

// WithRetrier заменяет политику повторов (например, в тестах).
func (p *Projector) WithRetrier(r *retry.Retrier) *Projector {
	p.retrier = r
	return p
}

// Engine возвращает движок правил.
func (p *Projector) Engine() *progress.Engine {
	return p.engine
}

// Events возвращает журнал событий.
func (p *Projector) Events() eventlog.Store {
	return p.events
}

// Location возвращает зону календарных дней.
func (p *Projector) Location() *time.Location {
	return p.config.Location
}

// Now возвращает текущее время.
func (p *Projector) Now() time.Time {
	return p.clock.Now()
}

// Today возвращает текущий календарный день.
func (p *Projector) Today() shared.Date {
	return shared.DateOf(p.clock.Now(), p.config.Location)
}

// Logger возвращает логгер проектора.
func (p *Projector) Logger() *zap.Logger {
	return p.logger
}

// Retry выполняет операцию хранилища с повторами временных ошибок.
func (p *Projector) Retry(ctx context.Context, op func(ctx context.Context) error) error {
	return p.retrier.Do(ctx, op)
}

// ──────────────────────────────────────────────────────────────────────────────
// Mutation pipeline
// ──────────────────────────────────────────────────────────────────────────────

// Lock захватывает блокировку пользователя.
func (p *Projector) Lock(ctx context.Context, userID shared.UserID) (func(), error) {
	return p.locker.Lock(ctx, userID.String())
}

// LockScope захватывает блокировку области рейтинга на время
// изменения списка участников.
func (p *Projector) LockScope(ctx context.Context, scopeID shared.ScopeID) (func(), error) {
	return p.locker.Lock(ctx, "scope:"+scopeID.String())
}

// Load читает сохранённое состояние пользователя.
func (p *Projector) Load(ctx context.Context, userID shared.UserID) (progress.State, error) {
	return retry.DoWithData(ctx, p.retrier, func(ctx context.Context) (progress.State, error) {
		return p.states.Load(ctx, userID.String())
	})
}

// EventTime возвращает время для нового события пользователя:
// не раньше времени последнего применённого события.
func (p *Projector) EventTime(s progress.State) time.Time {
	now := p.clock.Now()
	if s.LastEventAt.After(now) {
		return s.LastEventAt
	}
	return now
}

// Append записывает событие. appended=false означает дубликат.
func (p *Projector) Append(ctx context.Context, ev eventlog.Event) (eventlog.ID, bool, error) {
	type result struct {
		id       eventlog.ID
		appended bool
	}
	res, err := retry.DoWithData(ctx, p.retrier, func(ctx context.Context) (result, error) {
		id, appended, err := p.events.Append(ctx, ev)
		return result{id: id, appended: appended}, err
	})
	if err != nil {
		return "", false, err
	}
	return res.id, res.appended, nil
}

// CatchUp применяет к состоянию все события журнала после Checkpoint,
// сохраняет результат одним Commit и публикует доменные события.
// Если новых событий нет, состояние возвращается без записи.
func (p *Projector) CatchUp(ctx context.Context, s progress.State) (progress.State, []progress.Outcome, error) {
	var (
		outcomes []progress.Outcome
		events   []shared.Event
	)
	userID := s.UserID.String()

	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		next := s
		outcomes = outcomes[:0]
		events = events[:0]
		_, err := eventlog.Walk(ctx, p.events, userID, s.Checkpoint, p.config.PageSize, func(ev eventlog.Event) error {
			if next.Applied(ev.Sequence) {
				return nil
			}
			var out progress.Outcome
			next, out = p.engine.Apply(next, ev)
			outcomes = append(outcomes, out)
			events = append(events, DomainEvents(out, next.TotalXP)...)
			return nil
		})
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			return nil
		}
		if err := p.states.Commit(ctx, s.Checkpoint, next, outcomes); err != nil {
			return err
		}
		s = next
		return nil
	})
	if err != nil {
		return s, nil, fmt.Errorf("catch up %s: %w", userID, err)
	}

	for _, out := range outcomes {
		for _, gap := range out.Gaps {
			p.logger.Warn("achievement skipped",
				logger.UserID(userID),
				logger.EventID(out.Event.ID.String()),
				zap.String("achievement_id", gap.AchievementID),
				zap.Error(gap.Err),
			)
		}
	}
	if len(outcomes) > 0 {
		p.logger.Debug("log applied",
			logger.UserID(userID),
			zap.Int("events", len(outcomes)),
			zap.String("checkpoint", string(s.Checkpoint)),
			zap.Int("total_xp", s.TotalXP),
		)
	}
	p.publish(events)
	return s, outcomes, nil
}

// publish отправляет события после успешного Commit.
// Ошибки подписчиков не откатывают изменение.
func (p *Projector) publish(events []shared.Event) {
	if p.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := p.publisher.Publish(ev); err != nil {
			p.logger.Warn("publish failed",
				zap.String("event_type", string(ev.EventType())),
				zap.String("aggregate_id", ev.AggregateID()),
				zap.Error(err),
			)
		}
	}
}

// Commit сохраняет состояние с повторами, минуя журнал.
// Используется только восстановлением после replay; base - Checkpoint
// сохранённого состояния, которое заменяется.
func (p *Projector) Commit(ctx context.Context, base eventlog.Cursor, s progress.State, outcomes []progress.Outcome) error {
	return p.retrier.Do(ctx, func(ctx context.Context) error {
		return p.states.Commit(ctx, base, s, outcomes)
	})
}

// errEventReached останавливает обход журнала в OutcomeOf.
var errEventReached = errors.New("event reached")

// OutcomeOf пересчитывает результат уже записанного события id свёрткой
// журнала пользователя с начала до этого события включительно.
// found=false, если события нет в журнале.
func (p *Projector) OutcomeOf(ctx context.Context, userID shared.UserID, id eventlog.ID) (progress.Outcome, bool, error) {
	var (
		out   progress.Outcome
		found bool
	)
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		s := progress.NewState(userID)
		found = false
		_, err := eventlog.Walk(ctx, p.events, userID.String(), eventlog.Start, p.config.PageSize, func(ev eventlog.Event) error {
			var o progress.Outcome
			s, o = p.engine.Apply(s, ev)
			if ev.ID == id {
				out, found = o, true
				return errEventReached
			}
			return nil
		})
		if errors.Is(err, errEventReached) {
			return nil
		}
		return err
	})
	if err != nil {
		return progress.Outcome{}, false, fmt.Errorf("outcome of %s: %w", id, err)
	}
	return out, found, nil
}

// DuplicateOutcomes возвращает результаты для снапшота повторного вызова.
// Если событие id применено в этом же вызове (доприменение после сбоя),
// результаты не меняются. Иначе результат события восстанавливается из
// журнала, и повтор возвращает те же начисления и разблокировки, что и
// первый вызов.
func (p *Projector) DuplicateOutcomes(ctx context.Context, userID shared.UserID, id eventlog.ID, outcomes []progress.Outcome) ([]progress.Outcome, error) {
	for _, out := range outcomes {
		if out.Event.ID == id {
			return outcomes, nil
		}
	}
	out, found, err := p.OutcomeOf(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return outcomes, nil
	}
	return []progress.Outcome{out}, nil
}

// PageSize возвращает размер страницы чтения журнала.
func (p *Projector) PageSize() int {
	return p.config.PageSize
}

// Snapshot собирает снапшот для состояния и результатов вызова.
func (p *Projector) Snapshot(s progress.State, outcomes []progress.Outcome) Snapshot {
	return NewSnapshot(p.engine, s, p.Today(), outcomes)
}

// Record - общий сценарий изменяющей операции: событие строится по
// загруженному состоянию, записывается и догоняется проекцией под
// блокировкой пользователя.
func (p *Projector) Record(ctx context.Context, userID shared.UserID, build func(s progress.State, at time.Time) (eventlog.Event, error)) (Snapshot, error) {
	unlock, err := p.Lock(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	defer unlock()

	s, err := p.Load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	ev, err := build(s, p.EventTime(s))
	if err != nil {
		return Snapshot{}, err
	}

	id, appended, err := p.Append(ctx, ev)
	if err != nil {
		return Snapshot{}, err
	}

	s, outcomes, err := p.CatchUp(ctx, s)
	if err != nil {
		return Snapshot{}, err
	}
	resumed := len(outcomes)
	if !appended {
		if outcomes, err = p.DuplicateOutcomes(ctx, userID, id, outcomes); err != nil {
			return Snapshot{}, err
		}
	}

	snap := p.Snapshot(s, outcomes)
	snap.Duplicate = !appended
	snap.EventID = id
	if !appended {
		p.logger.Debug("duplicate event", logger.UserID(userID.String()), logger.EventID(id.String()),
			zap.String("key", ev.Key().String()), zap.Int("resumed", resumed))
	}
	return snap, nil
}
