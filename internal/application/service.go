// Package application is the single entry point to the progression
// engine. Service wires the command and query handlers over one shared
// projector and aggregator, and subscribes the notification handlers.
package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/command"
	"github.com/lifeloop/progression/internal/application/eventhandler"
	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/application/query"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/internal/domain/xp"
	"github.com/lifeloop/progression/pkg/retry"
	"github.com/lifeloop/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Repositories are the storage collaborators of the engine.
type Repositories struct {
	Events  eventlog.Store
	States  progress.Repository
	Ledger  xp.Repository
	Streaks streak.Repository
	Users   user.Repository
	Tasks   task.Repository
	Scopes  leaderboard.ScopeRepository

	// Baselines may be nil: Movement is then always "new".
	Baselines leaderboard.SnapshotCache
}

func (r Repositories) validate() error {
	if r.Events == nil || r.States == nil || r.Ledger == nil || r.Streaks == nil ||
		r.Users == nil || r.Tasks == nil || r.Scopes == nil {
		return errors.New("application: all repositories except Baselines are required")
	}
	return nil
}

// Options configure the service.
type Options struct {
	// Engine holds the rule tables. Required.
	Engine *progress.Engine

	// Bus receives domain events after each commit. Required.
	Bus shared.EventBus

	// Locker serialises per-user mutations (default: in-process).
	Locker progression.UserLocker

	// LockWait bounds how long a mutation waits for the user lock.
	LockWait time.Duration

	// Notifier delivers user notifications (default: log only).
	Notifier eventhandler.Notifier

	// Retrier overrides the storage retry policy.
	Retrier *retry.Retrier

	Clock    timeutil.Clock
	Logger   *zap.Logger
	Location *time.Location

	// AtRiskWindow flags pending tasks due soon.
	AtRiskWindow time.Duration

	// RefreshOnComplete re-ranks the user's scopes after each completion.
	RefreshOnComplete bool

	LeaderboardConcurrency int
	MemberTimeout          time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the progression facade used by the transports and jobs.
type Service struct {
	projector  *progression.Projector
	aggregator *progression.Aggregator

	createUser   *command.CreateUserHandler
	createTask   *command.CreateTaskHandler
	createScope  *command.CreateScopeHandler
	completeTask *command.CompleteTaskHandler
	share        *command.ShareProgressHandler
	joinScope    *command.JoinScopeHandler
	challengeWin *command.RecordChallengeWinHandler
	refresh      *command.RefreshLeaderboardHandler
	sweep        *command.SweepMissedTasksHandler
	replay       *command.ReplayUserHandler

	snapshot    *query.GetSnapshotHandler
	achievement *query.GetAchievementsHandler
	board       *query.GetLeaderboardHandler
	payload     *query.GetSharePayloadHandler
	tasks       *query.GetTasksHandler

	ranks *eventhandler.OnRankChangedHandler
}

// NewService wires the handlers and subscribes the event handlers on Bus.
func NewService(repos Repositories, opts Options) (*Service, error) {
	if err := repos.validate(); err != nil {
		return nil, err
	}
	if opts.Engine == nil {
		return nil, errors.New("application: engine is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("application: event bus is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock{Location: opts.Location}
	}

	var locker progression.UserLocker = progression.NewKeyedMutex()
	if opts.Locker != nil {
		locker = opts.Locker
	}
	locker = progression.WaitLimit{Locker: locker, Wait: opts.LockWait}

	projector := progression.NewProjector(
		repos.Events, repos.States, opts.Engine, locker, opts.Bus, opts.Clock, opts.Logger,
		progression.Config{Location: opts.Location},
	)
	if opts.Retrier != nil {
		projector.WithRetrier(opts.Retrier)
	}

	aggConfig := progression.DefaultAggregatorConfig()
	aggConfig.Location = opts.Location
	aggConfig.Concurrency = opts.LeaderboardConcurrency
	aggConfig.MemberTimeout = opts.MemberTimeout
	aggregator := progression.NewAggregator(
		repos.Scopes, repos.Ledger, repos.Streaks, repos.Baselines, opts.Clock, opts.Logger, aggConfig,
	)

	s := &Service{
		projector:  projector,
		aggregator: aggregator,

		createUser:   command.NewCreateUserHandler(repos.Users, projector),
		createTask:   command.NewCreateTaskHandler(repos.Users, repos.Tasks, projector),
		createScope:  command.NewCreateScopeHandler(repos.Scopes, projector),
		completeTask: command.NewCompleteTaskHandler(repos.Users, repos.Tasks, projector),
		share:        command.NewShareProgressHandler(repos.Users, projector),
		joinScope:    command.NewJoinScopeHandler(repos.Users, repos.Scopes, projector),
		challengeWin: command.NewRecordChallengeWinHandler(repos.Scopes, projector),
		refresh:      command.NewRefreshLeaderboardHandler(aggregator, opts.Bus, opts.Logger),
		sweep:        command.NewSweepMissedTasksHandler(repos.Tasks, projector),
		replay:       command.NewReplayUserHandler(repos.Ledger, projector),

		snapshot:    query.NewGetSnapshotHandler(repos.Users, projector),
		achievement: query.NewGetAchievementsHandler(repos.Users, projector),
		board:       query.NewGetLeaderboardHandler(aggregator),
		payload:     query.NewGetSharePayloadHandler(repos.Users, repos.Tasks, projector),
		tasks:       query.NewGetTasksHandler(repos.Users, repos.Tasks, projector, opts.AtRiskWindow),
	}

	onProgress := eventhandler.NewOnProgressHandler(opts.Notifier, opts.Engine.Achievements().Definitions(), opts.Logger)
	if opts.RefreshOnComplete {
		s.ranks = eventhandler.NewOnRankChangedHandler(
			repos.Scopes, aggregator, opts.Notifier, opts.Logger, eventhandler.DefaultRankChangedConfig(),
		)
	}
	if err := eventhandler.Subscribe(opts.Bus, onProgress, s.ranks); err != nil {
		return nil, err
	}

	return s, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Users, tasks and scopes
// ──────────────────────────────────────────────────────────────────────────────

// CreateUser registers a user.
func (s *Service) CreateUser(ctx context.Context, cmd command.CreateUserCommand) (*user.User, error) {
	return s.createUser.Handle(ctx, cmd)
}

// CreateTask schedules a task.
func (s *Service) CreateTask(ctx context.Context, cmd command.CreateTaskCommand) (*task.Task, error) {
	return s.createTask.Handle(ctx, cmd)
}

// ListTasks lists a user's tasks with the derived at-risk flag.
func (s *Service) ListTasks(ctx context.Context, q query.GetTasksQuery) ([]query.TaskDTO, error) {
	return s.tasks.Handle(ctx, q)
}

// CreateScope creates a circle or a challenge.
func (s *Service) CreateScope(ctx context.Context, cmd command.CreateScopeCommand) (*leaderboard.Scope, error) {
	return s.createScope.Handle(ctx, cmd)
}

// ──────────────────────────────────────────────────────────────────────────────
// Progression events
// ──────────────────────────────────────────────────────────────────────────────

// CompleteTask records a completion and returns the resulting snapshot.
func (s *Service) CompleteTask(ctx context.Context, cmd command.CompleteTaskCommand) (progression.Snapshot, error) {
	return s.completeTask.Handle(ctx, cmd)
}

// ShareProgress records a share of the daily card.
func (s *Service) ShareProgress(ctx context.Context, cmd command.ShareProgressCommand) (progression.Snapshot, error) {
	return s.share.Handle(ctx, cmd)
}

// JoinScope adds the user to a circle or challenge.
func (s *Service) JoinScope(ctx context.Context, cmd command.JoinScopeCommand) (progression.Snapshot, error) {
	return s.joinScope.Handle(ctx, cmd)
}

// RecordChallengeWin declares a challenge winner.
func (s *Service) RecordChallengeWin(ctx context.Context, cmd command.RecordChallengeWinCommand) (progression.Snapshot, error) {
	return s.challengeWin.Handle(ctx, cmd)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// GetSnapshot returns the user's current progression.
func (s *Service) GetSnapshot(ctx context.Context, userID string) (progression.Snapshot, error) {
	return s.snapshot.Handle(ctx, query.GetSnapshotQuery{UserID: userID})
}

// GetAchievements lists unlocked and locked achievements with progress.
func (s *Service) GetAchievements(ctx context.Context, userID string) (*query.GetAchievementsResult, error) {
	return s.achievement.Handle(ctx, query.GetAchievementsQuery{UserID: userID})
}

// GetLeaderboard ranks a scope.
func (s *Service) GetLeaderboard(ctx context.Context, q query.GetLeaderboardQuery) (*leaderboard.Board, error) {
	return s.board.Handle(ctx, q)
}

// GetSharePayload builds today's card at the given privacy level.
func (s *Service) GetSharePayload(ctx context.Context, q query.GetSharePayloadQuery) (*query.SharePayload, error) {
	return s.payload.Handle(ctx, q)
}

// ──────────────────────────────────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────────────────────────────────

// RefreshLeaderboard rotates one baseline, or all of them for an empty scope.
func (s *Service) RefreshLeaderboard(ctx context.Context, cmd command.RefreshLeaderboardCommand) (*leaderboard.Board, error) {
	return s.refresh.Handle(ctx, cmd)
}

// SweepMissedTasks marks overdue tasks as missed.
func (s *Service) SweepMissedTasks(ctx context.Context, cmd command.SweepMissedTasksCommand) (command.SweepMissedTasksResult, error) {
	return s.sweep.Handle(ctx, cmd)
}

// Replay rebuilds a user from the log and reports drift.
func (s *Service) Replay(ctx context.Context, cmd command.ReplayUserCommand) (command.ReplayReport, error) {
	return s.replay.Handle(ctx, cmd)
}

// LeaderboardRefresher exposes the refresh handler to the scheduler.
func (s *Service) LeaderboardRefresher() *command.RefreshLeaderboardHandler {
	return s.refresh
}

// TaskSweeper exposes the sweep handler to the scheduler.
func (s *Service) TaskSweeper() *command.SweepMissedTasksHandler {
	return s.sweep
}

// Now returns the service clock time.
func (s *Service) Now() time.Time {
	return s.projector.Now()
}
