package progression

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
	"github.com/lifeloop/progression/pkg/logger"
	"github.com/lifeloop/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// AggregatorConfig содержит настройки расчёта рейтинга.
type AggregatorConfig struct {
	// Location - зона для границ окон.
	Location *time.Location

	// Concurrency - сколько участников читается одновременно.
	Concurrency int

	// MemberTimeout ограничивает чтение данных одного участника.
	MemberTimeout time.Duration
}

// DefaultAggregatorConfig возвращает настройки по умолчанию.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Location:      time.UTC,
		Concurrency:   8,
		MemberTimeout: 2 * time.Second,
	}
}

// Aggregator считает рейтинги кругов и челленджей. Читает без
// блокировок пользователей: рейтинг согласован в конечном счёте.
type Aggregator struct {
	scopes    leaderboard.ScopeRepository
	ledger    xp.Repository
	streaks   streak.Repository
	baselines leaderboard.SnapshotCache
	clock     timeutil.Clock
	logger    *zap.Logger
	config    AggregatorConfig
}

// NewAggregator создаёт агрегатор. baselines может быть nil: тогда
// Movement всегда new.
func NewAggregator(
	scopes leaderboard.ScopeRepository,
	ledger xp.Repository,
	streaks streak.Repository,
	baselines leaderboard.SnapshotCache,
	clock timeutil.Clock,
	log *zap.Logger,
	config AggregatorConfig,
) *Aggregator {
	defaults := DefaultAggregatorConfig()
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MemberTimeout <= 0 {
		config.MemberTimeout = defaults.MemberTimeout
	}
	if clock == nil {
		clock = timeutil.SystemClock{Location: config.Location}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		scopes:    scopes,
		ledger:    ledger,
		streaks:   streaks,
		baselines: baselines,
		clock:     clock,
		logger:    log.With(logger.Component("leaderboard")),
		config:    config,
	}
}

// Now возвращает текущее время агрегатора.
func (a *Aggregator) Now() time.Time {
	return a.clock.Now()
}

// Rank рассчитывает рейтинг области за окно.
func (a *Aggregator) Rank(ctx context.Context, scopeID string, window leaderboard.Window) (*leaderboard.Board, error) {
	if !window.IsValid() {
		return nil, shared.ErrInvalidWindow
	}

	scope, err := a.scopes.FindByID(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	standings, err := a.standings(ctx, scope, window, now)
	if err != nil {
		return nil, err
	}

	baseline := a.baseline(ctx, scopeID, window)

	board := &leaderboard.Board{
		ScopeID:    scope.ID,
		Window:     window,
		Entries:    leaderboard.Rank(standings, baseline),
		ComputedAt: now,
	}
	for _, e := range board.Entries {
		if e.DataUnavailable {
			board.Partial = true
			break
		}
	}
	if board.Partial {
		a.logger.Warn("leaderboard computed with gaps",
			logger.ScopeID(scopeID),
			zap.String("window", string(window)),
			zap.Error(shared.ErrPartialScopeData),
		)
	}
	return board, nil
}

// Refresh пересчитывает рейтинг и делает его новым базовым снапшотом.
// Возвращённый рейтинг показывает движение относительно старого.
func (a *Aggregator) Refresh(ctx context.Context, scopeID string, window leaderboard.Window) (*leaderboard.Board, error) {
	board, err := a.Rank(ctx, scopeID, window)
	if err != nil {
		return nil, err
	}
	if a.baselines == nil {
		return board, nil
	}
	if err := a.baselines.SetBaseline(ctx, leaderboard.SnapshotOf(board)); err != nil {
		return nil, err
	}
	return board, nil
}

// RefreshAll обновляет базовые снапшоты всех областей для всех окон.
// Ошибка одной области не останавливает остальные.
func (a *Aggregator) RefreshAll(ctx context.Context) (int, error) {
	scopes, err := a.scopes.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	var errs []error
	for _, scope := range scopes {
		for _, w := range leaderboard.AllWindows() {
			if err := ctx.Err(); err != nil {
				return refreshed, err
			}
			if _, err := a.Refresh(ctx, scope.ID.String(), w); err != nil {
				errs = append(errs, err)
				continue
			}
			refreshed++
		}
	}
	return refreshed, errors.Join(errs...)
}

// standings читает XP и серию каждого участника параллельно.
// Сбой участника попадает в Standing.Err, а не в ошибку группы.
func (a *Aggregator) standings(ctx context.Context, scope *leaderboard.Scope, window leaderboard.Window, now time.Time) ([]leaderboard.Standing, error) {
	since := window.Since(now, a.config.Location)
	today := shared.DateOf(now, a.config.Location)

	standings := make([]leaderboard.Standing, len(scope.Members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)

	for i, m := range scope.Members {
		i, m := i, m
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(gctx, a.config.MemberTimeout)
			defer cancel()

			st := leaderboard.Standing{Member: m}
			total, err := a.ledger.TotalByUser(mctx, m.UserID.String(), since)
			if err != nil {
				st.Err = err
			} else {
				st.XP = total
				rec, err := a.streaks.Get(mctx, m.UserID.String())
				if err != nil {
					st.Err = err
				} else {
					st.Streak = rec.Effective(today)
				}
			}
			if st.Err != nil {
				a.logger.Warn("member data unavailable",
					logger.ScopeID(scope.ID.String()),
					logger.UserID(m.UserID.String()),
					zap.Error(st.Err),
				)
			}
			standings[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return standings, nil
}

// baseline возвращает прошлый снапшот или nil. Недоступный кэш
// не ломает рейтинг: движение станет new.
func (a *Aggregator) baseline(ctx context.Context, scopeID string, window leaderboard.Window) *leaderboard.Snapshot {
	if a.baselines == nil {
		return nil
	}
	snap, err := a.baselines.GetBaseline(ctx, scopeID, window)
	if err != nil {
		if !shared.IsNotFound(err) {
			a.logger.Warn("baseline unavailable", logger.ScopeID(scopeID), zap.Error(err))
		}
		return nil
	}
	return snap
}
