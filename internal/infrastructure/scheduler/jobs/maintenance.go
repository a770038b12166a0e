// Package jobs contains the scheduled maintenance jobs of the progression engine.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/command"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRefresher rotates leaderboard baselines.
type LeaderboardRefresher interface {
	Handle(ctx context.Context, cmd command.RefreshLeaderboardCommand) (*leaderboard.Board, error)
}

// RefreshLeaderboardsJob stores new movement baselines for every scope
// and window, so Movement compares against the previous run.
type RefreshLeaderboardsJob struct {
	refresher LeaderboardRefresher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRefreshLeaderboardsJob creates the job. A non-positive timeout means 5 minutes.
func NewRefreshLeaderboardsJob(refresher LeaderboardRefresher, timeout time.Duration, log *zap.Logger) *RefreshLeaderboardsJob {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RefreshLeaderboardsJob{refresher: refresher, timeout: timeout, logger: log}
}

// Name returns the job name.
func (j *RefreshLeaderboardsJob) Name() string {
	return "refresh_leaderboards"
}

// Description returns a human-readable description.
func (j *RefreshLeaderboardsJob) Description() string {
	return "Rotates leaderboard movement baselines for all scopes and windows"
}

// Run executes the job.
func (j *RefreshLeaderboardsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	_, err := j.refresher.Handle(ctx, command.RefreshLeaderboardCommand{})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP MISSED TASKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// TaskSweeper marks overdue tasks as missed.
type TaskSweeper interface {
	Handle(ctx context.Context, cmd command.SweepMissedTasksCommand) (command.SweepMissedTasksResult, error)
}

// SweepMissedTasksJob moves pending one-off tasks past their deadline to
// Missed. It drains the backlog batch by batch until a batch comes back
// without progress.
type SweepMissedTasksJob struct {
	sweeper    TaskSweeper
	batchSize  int
	maxBatches int
	logger     *zap.Logger

	totalMarked atomic.Int64
}

// NewSweepMissedTasksJob creates the job.
func NewSweepMissedTasksJob(sweeper TaskSweeper, batchSize int, log *zap.Logger) *SweepMissedTasksJob {
	if batchSize <= 0 {
		batchSize = 200
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SweepMissedTasksJob{
		sweeper:    sweeper,
		batchSize:  batchSize,
		maxBatches: 50,
		logger:     log,
	}
}

// Name returns the job name.
func (j *SweepMissedTasksJob) Name() string {
	return "sweep_missed_tasks"
}

// Description returns a human-readable description.
func (j *SweepMissedTasksJob) Description() string {
	return "Marks pending tasks past their deadline as missed"
}

// Run executes the job.
func (j *SweepMissedTasksJob) Run(ctx context.Context) error {
	var marked, skipped int
	for batch := 0; batch < j.maxBatches; batch++ {
		res, err := j.sweeper.Handle(ctx, command.SweepMissedTasksCommand{BatchSize: j.batchSize})
		if err != nil {
			return err
		}
		marked += res.Marked
		skipped += res.Skipped

		// Skipped tasks stay overdue and would come back in the next batch.
		if res.Marked == 0 || res.Marked+res.Skipped < j.batchSize {
			break
		}
	}

	j.totalMarked.Add(int64(marked))
	if marked > 0 || skipped > 0 {
		j.logger.Info("missed tasks swept", zap.Int("marked", marked), zap.Int("skipped", skipped))
	}
	return nil
}

// TotalMarked returns how many tasks the job has marked since start.
func (j *SweepMissedTasksJob) TotalMarked() int64 {
	return j.totalMarked.Load()
}
