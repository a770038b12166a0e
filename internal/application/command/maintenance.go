package command

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/xp"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP MISSED TASKS
// Pending one-off tasks past their deadline become Missed.
// Missing a task never costs XP.
// ══════════════════════════════════════════════════════════════════════════════

// SweepMissedTasksCommand limits one sweep.
type SweepMissedTasksCommand struct {
	BatchSize int
}

// SweepMissedTasksResult summarises a sweep.
type SweepMissedTasksResult struct {
	Marked  int
	Skipped int
}

// SweepMissedTasksHandler handles the SweepMissedTasksCommand.
type SweepMissedTasksHandler struct {
	tasks     task.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewSweepMissedTasksHandler creates a new SweepMissedTasksHandler.
func NewSweepMissedTasksHandler(tasks task.Repository, projector *progression.Projector) *SweepMissedTasksHandler {
	return &SweepMissedTasksHandler{
		tasks:     tasks,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("sweep_missed_tasks")),
	}
}

// Handle marks overdue tasks as missed. Each task is updated under its
// owner's lock so a concurrent completion wins or loses cleanly.
func (h *SweepMissedTasksHandler) Handle(ctx context.Context, cmd SweepMissedTasksCommand) (SweepMissedTasksResult, error) {
	var res SweepMissedTasksResult
	now := h.projector.Now()

	overdue, err := h.tasks.ListOverdue(ctx, now, cmd.BatchSize)
	if err != nil {
		return res, err
	}

	for _, candidate := range overdue {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		marked, err := h.markMissed(ctx, candidate, now)
		if err != nil {
			h.logger.Warn("task not swept", logger.TaskID(candidate.ID.String()), zap.Error(err))
			res.Skipped++
			continue
		}
		if marked {
			res.Marked++
		} else {
			res.Skipped++
		}
	}

	if res.Marked > 0 {
		h.logger.Info("missed tasks swept", zap.Int("marked", res.Marked), zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

func (h *SweepMissedTasksHandler) markMissed(ctx context.Context, candidate *task.Task, now time.Time) (bool, error) {
	unlock, err := h.projector.Lock(ctx, candidate.OwnerID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Re-read under the lock: the owner may have completed it meanwhile.
	t, err := h.tasks.FindByID(ctx, candidate.ID.String())
	if err != nil {
		return false, err
	}
	if t.Status != task.StatusPending {
		return false, nil
	}

	// A logged completion whose task update was lost still counts as done.
	key := eventlog.Event{Kind: eventlog.KindTaskCompleted, UserID: t.OwnerID, SubjectID: t.ID.String()}.Key()
	if _, err := h.projector.Events().FindByKey(ctx, key); err == nil {
		if err := t.MarkCompleted(now); err != nil {
			return false, err
		}
		return false, h.tasks.Save(ctx, t)
	} else if !shared.IsNotFound(err) {
		return false, err
	}

	if err := t.MarkMissed(now); err != nil {
		return false, err
	}
	if err := h.tasks.Save(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// RefreshLeaderboardCommand rotates movement baselines. An empty
// ScopeID refreshes every scope for every window.
type RefreshLeaderboardCommand struct {
	ScopeID string
	Window  leaderboard.Window
}

// RefreshLeaderboardHandler handles the RefreshLeaderboardCommand.
type RefreshLeaderboardHandler struct {
	aggregator *progression.Aggregator
	publisher  shared.EventPublisher
	logger     *zap.Logger
}

// NewRefreshLeaderboardHandler creates a new RefreshLeaderboardHandler.
func NewRefreshLeaderboardHandler(aggregator *progression.Aggregator, publisher shared.EventPublisher, log *zap.Logger) *RefreshLeaderboardHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RefreshLeaderboardHandler{
		aggregator: aggregator,
		publisher:  publisher,
		logger:     log.With(logger.Operation("refresh_leaderboard")),
	}
}

// Handle refreshes one board and returns it, or all boards and returns nil.
func (h *RefreshLeaderboardHandler) Handle(ctx context.Context, cmd RefreshLeaderboardCommand) (*leaderboard.Board, error) {
	if cmd.ScopeID == "" {
		n, err := h.aggregator.RefreshAll(ctx)
		h.logger.Info("leaderboards refreshed", zap.Int("boards", n), zap.Error(err))
		if n > 0 {
			h.publish(RefreshAllScopes, "", h.aggregator.Now())
		}
		return nil, err
	}

	window := cmd.Window
	if window == "" {
		window = leaderboard.WindowAllTime
	}
	board, err := h.aggregator.Refresh(ctx, cmd.ScopeID, window)
	if err != nil {
		return nil, err
	}

	h.publish(cmd.ScopeID, window, board.ComputedAt)
	return board, nil
}

// RefreshAllScopes is the aggregate ID of a refresh covering every scope.
const RefreshAllScopes = "all"

func (h *RefreshLeaderboardHandler) publish(scopeID string, window leaderboard.Window, at time.Time) {
	if h.publisher == nil {
		return
	}
	ev := shared.ScopeEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventLeaderboardRefresh, scopeID, at),
		ScopeID:   scopeID,
		Detail:    string(window),
	}
	if err := h.publisher.Publish(ev); err != nil {
		h.logger.Warn("publish failed", logger.ScopeID(scopeID), zap.Error(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPLAY USER
// Rebuilds a user's derived state from the event log and compares it
// with the stored projection. Repair writes the rebuilt state back.
// ══════════════════════════════════════════════════════════════════════════════

// ReplayUserCommand selects the user and whether to repair drift.
type ReplayUserCommand struct {
	UserID string
	Repair bool
}

// Drift describes one mismatching field.
type Drift struct {
	Field   string `json:"field"`
	Stored  string `json:"stored"`
	Rebuilt string `json:"rebuilt"`
}

// ReplayReport is the result of a replay.
type ReplayReport struct {
	UserID     shared.UserID `json:"user_id"`
	Events     int           `json:"events"`
	Stored     ReplayTotals  `json:"stored"`
	Rebuilt    ReplayTotals  `json:"rebuilt"`
	LedgerXP   int           `json:"ledger_xp"`
	Drift      []Drift       `json:"drift"`
	Repaired   bool          `json:"repaired"`
	Correction int           `json:"correction,omitempty"`
}

// ReplayTotals are the compared values.
type ReplayTotals struct {
	TotalXP        int    `json:"total_xp"`
	Level          int    `json:"level"`
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	TasksCompleted int    `json:"tasks_completed"`
	Achievements   int    `json:"achievements"`
	Checkpoint     string `json:"checkpoint"`
}

// Consistent reports whether no drift was found.
func (r ReplayReport) Consistent() bool {
	return len(r.Drift) == 0
}

// ReplayUserHandler handles the ReplayUserCommand.
type ReplayUserHandler struct {
	ledger    xp.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewReplayUserHandler creates a new ReplayUserHandler.
func NewReplayUserHandler(ledger xp.Repository, projector *progression.Projector) *ReplayUserHandler {
	return &ReplayUserHandler{
		ledger:    ledger,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("replay_user")),
	}
}

// Handle replays the user's log. The user lock is held for the whole
// replay so the stored state cannot move underneath the comparison.
func (h *ReplayUserHandler) Handle(ctx context.Context, cmd ReplayUserCommand) (ReplayReport, error) {
	if cmd.UserID == "" {
		return ReplayReport{}, shared.NewDomainError("replay_user", "Handle", shared.ErrInvalidID, "user_id is required")
	}
	userID := shared.UserID(cmd.UserID)
	report := ReplayReport{UserID: userID}

	unlock, err := h.projector.Lock(ctx, userID)
	if err != nil {
		return report, err
	}
	defer unlock()

	var events []eventlog.Event
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		events = events[:0]
		_, err := eventlog.Walk(ctx, h.projector.Events(), cmd.UserID, eventlog.Start, h.projector.PageSize(), func(ev eventlog.Event) error {
			events = append(events, ev)
			return nil
		})
		return err
	}); err != nil {
		return report, err
	}
	report.Events = len(events)

	engine := h.projector.Engine()
	rebuilt, outcomes := engine.Replay(userID, events)

	stored, err := h.projector.Load(ctx, userID)
	if err != nil {
		return report, err
	}

	ledgerXP, err := h.ledgerTotal(ctx, cmd.UserID)
	if err != nil {
		return report, err
	}

	report.Stored = h.totals(stored)
	report.Rebuilt = h.totals(rebuilt)
	report.LedgerXP = ledgerXP
	report.Drift = diffTotals(report.Stored, report.Rebuilt)
	if ledgerXP != rebuilt.TotalXP {
		report.Drift = append(report.Drift, Drift{
			Field:   "ledger_xp",
			Stored:  fmt.Sprint(ledgerXP),
			Rebuilt: fmt.Sprint(rebuilt.TotalXP),
		})
	}

	if report.Consistent() {
		h.logger.Debug("replay consistent", logger.UserID(cmd.UserID), zap.Int("events", report.Events))
		return report, nil
	}

	h.logger.Warn("projection drift",
		logger.UserID(cmd.UserID),
		zap.Int("events", report.Events),
		zap.Any("drift", report.Drift),
	)
	if !cmd.Repair {
		return report, nil
	}

	if err := h.repair(ctx, stored.Checkpoint, rebuilt, outcomes, &report); err != nil {
		return report, err
	}
	return report, nil
}

// repair writes the rebuilt state. Ledger entries are idempotent by ID,
// so only the remaining difference is booked as a correction.
func (h *ReplayUserHandler) repair(ctx context.Context, base eventlog.Cursor, rebuilt progress.State, outcomes []progress.Outcome, report *ReplayReport) error {
	userID := rebuilt.UserID.String()
	if err := h.projector.Commit(ctx, base, rebuilt, outcomes); err != nil {
		return err
	}

	ledgerXP, err := h.ledgerTotal(ctx, userID)
	if err != nil {
		return err
	}
	if diff := rebuilt.TotalXP - ledgerXP; diff != 0 {
		key := fmt.Sprintf("replay:%s:%d", rebuilt.Checkpoint, ledgerXP)
		entry := xp.CorrectionEntry(rebuilt.UserID, key, diff, h.projector.Now())
		if err := h.projector.Retry(ctx, func(ctx context.Context) error {
			_, err := h.ledger.Append(ctx, []xp.Entry{entry})
			return err
		}); err != nil {
			return err
		}
		report.Correction = diff
	}

	report.Repaired = true
	h.logger.Info("projection repaired",
		logger.UserID(userID),
		zap.Int("total_xp", rebuilt.TotalXP),
		zap.Int("correction", report.Correction),
	)
	return nil
}

func (h *ReplayUserHandler) ledgerTotal(ctx context.Context, userID string) (int, error) {
	var total int
	err := h.projector.Retry(ctx, func(ctx context.Context) error {
		var err error
		total, err = h.ledger.TotalByUser(ctx, userID, time.Time{})
		return err
	})
	return total, err
}

func (h *ReplayUserHandler) totals(s progress.State) ReplayTotals {
	return ReplayTotals{
		TotalXP:        s.TotalXP,
		Level:          h.projector.Engine().Levels().LevelOf(s.TotalXP).Level,
		CurrentStreak:  s.Streak.Current,
		LongestStreak:  s.Streak.Longest,
		TasksCompleted: s.TasksCompleted,
		Achievements:   len(s.Unlocked),
		Checkpoint:     string(s.Checkpoint),
	}
}

func diffTotals(stored, rebuilt ReplayTotals) []Drift {
	var drift []Drift
	add := func(field string, a, b interface{}) {
		if a != b {
			drift = append(drift, Drift{Field: field, Stored: fmt.Sprint(a), Rebuilt: fmt.Sprint(b)})
		}
	}
	add("total_xp", stored.TotalXP, rebuilt.TotalXP)
	add("level", stored.Level, rebuilt.Level)
	add("current_streak", stored.CurrentStreak, rebuilt.CurrentStreak)
	add("longest_streak", stored.LongestStreak, rebuilt.LongestStreak)
	add("tasks_completed", stored.TasksCompleted, rebuilt.TasksCompleted)
	add("achievements", stored.Achievements, rebuilt.Achievements)
	add("checkpoint", stored.Checkpoint, rebuilt.Checkpoint)
	return drift
}
