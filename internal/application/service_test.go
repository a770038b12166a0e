package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lifeloop/progression/config"
	"github.com/lifeloop/progression/internal/application/command"
	"github.com/lifeloop/progression/internal/application/eventhandler"
	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/application/query"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/infrastructure/messaging"
	"github.com/lifeloop/progression/internal/infrastructure/persistence/memory"
	"github.com/lifeloop/progression/pkg/retry"
	"github.com/lifeloop/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type notifications struct {
	mu   sync.Mutex
	sent []eventhandler.Notification
}

func (n *notifications) Notify(_ context.Context, msg eventhandler.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *notifications) kinds() []eventhandler.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]eventhandler.NotificationKind, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Kind)
	}
	return out
}

type harness struct {
	svc      *Service
	db       *memory.DB
	repos    Repositories
	clock    *timeutil.ManualClock
	notifier *notifications
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)

	engine, err := config.DefaultRules().Engine()
	require.NoError(t, err)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	t.Cleanup(func() { _ = bus.Close() })

	h := &harness{
		db:       memory.NewDB(),
		clock:    timeutil.NewManualClock(start),
		notifier: &notifications{},
	}
	h.repos = MemoryRepositories(h.db)

	h.svc, err = NewService(h.repos, Options{
		Engine:   engine,
		Bus:      bus,
		Notifier: h.notifier,
		Clock:    h.clock,
		Logger:   log,
		LockWait: time.Second,
		Retrier: retry.New(
			retry.WithMaxAttempts(2),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithRetryIf(shared.IsRetryable),
		),
		RefreshOnComplete: true,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) user(t *testing.T, id string) {
	t.Helper()
	_, err := h.svc.CreateUser(context.Background(), command.CreateUserCommand{UserID: id, DisplayName: id})
	require.NoError(t, err)
}

func (h *harness) task(t *testing.T, cmd command.CreateTaskCommand) string {
	t.Helper()
	if cmd.Title == "" {
		cmd.Title = "task"
	}
	if cmd.Category == "" {
		cmd.Category = shared.CategoryWork
	}
	created, err := h.svc.CreateTask(context.Background(), cmd)
	require.NoError(t, err)
	return created.ID.String()
}

func (h *harness) complete(t *testing.T, userID, taskID string) progression.Snapshot {
	t.Helper()
	snap, err := h.svc.CompleteTask(context.Background(), command.CompleteTaskCommand{UserID: userID, TaskID: taskID})
	require.NoError(t, err)
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

func TestService_FirstCompletion(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	taskID := h.task(t, command.CreateTaskCommand{OwnerID: "alice", TimeSavedMinutes: 15})

	snap := h.complete(t, "alice", taskID)

	// 20 for a work task plus 50 for first_task.
	assert.Equal(t, 70, snap.TotalXP)
	assert.Equal(t, 70, snap.AwardedXP())
	assert.Equal(t, 1, snap.TasksCompleted)
	assert.Equal(t, 15, snap.TimeSavedMinutes)
	assert.Equal(t, 1, snap.Streak.Current)
	assert.Equal(t, 1, snap.Level)
	assert.False(t, snap.Duplicate)
	assert.NotEmpty(t, snap.EventID)
	require.Len(t, snap.NewlyUnlocked, 1)
	assert.Equal(t, "first_task", snap.NewlyUnlocked[0].AchievementID)

	tasks, err := h.svc.ListTasks(context.Background(), query.GetTasksQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.StatusCompleted, tasks[0].Status)

	assert.Contains(t, h.notifier.kinds(), eventhandler.NotifyAchievement)
}

func TestService_DuplicateCompletion(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	taskID := h.task(t, command.CreateTaskCommand{OwnerID: "alice"})

	first := h.complete(t, "alice", taskID)
	second := h.complete(t, "alice", taskID)

	assert.True(t, second.Duplicate)
	require.Len(t, second.NewlyUnlocked, 1)
	assert.Equal(t, 70, second.AwardedXP())

	want := first
	want.Duplicate = true
	assert.Equal(t, want, second)

	snap, err := h.svc.GetSnapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 70, snap.TotalXP)
	assert.Equal(t, 1, snap.TasksCompleted)
}

func TestService_DuplicateAfterLaterActivity(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	firstID := h.task(t, command.CreateTaskCommand{OwnerID: "alice"})
	laterID := h.task(t, command.CreateTaskCommand{OwnerID: "alice", Category: shared.CategoryPersonal})

	first := h.complete(t, "alice", firstID)
	h.complete(t, "alice", laterID)

	retried := h.complete(t, "alice", firstID)
	assert.True(t, retried.Duplicate)
	assert.Equal(t, first.EventID, retried.EventID)
	assert.Equal(t, first.Awarded, retried.Awarded)
	assert.Equal(t, first.NewlyUnlocked, retried.NewlyUnlocked)
	// Totals are current: 70 for the first task plus 10 for the later one.
	assert.Equal(t, 80, retried.TotalXP)
	assert.Equal(t, 2, retried.TasksCompleted)
}

func TestService_ConcurrentCompletionsOfOneTask(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	taskID := h.task(t, command.CreateTaskCommand{OwnerID: "alice"})

	const n = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := h.svc.CompleteTask(context.Background(), command.CompleteTaskCommand{UserID: "alice", TaskID: taskID})
			if !assert.NoError(t, err) {
				return
			}
			if !snap.Duplicate {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	snap, err := h.svc.GetSnapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 70, snap.TotalXP)
	assert.Equal(t, 1, snap.TasksCompleted)
}

func TestService_ConcurrentCompletionsOfManyTasks(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = h.task(t, command.CreateTaskCommand{OwnerID: "alice", Category: shared.CategoryPersonal})
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.svc.CompleteTask(context.Background(), command.CompleteTaskCommand{UserID: "alice", TaskID: id})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	snap, err := h.svc.GetSnapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, n, snap.TasksCompleted)
	// 8 personal tasks at 10 XP plus first_task.
	assert.Equal(t, n*10+50, snap.TotalXP)
	assert.Equal(t, 1, snap.Streak.Current)

	report, err := h.svc.Replay(context.Background(), command.ReplayUserCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Drift)
}

func TestService_ResumesAfterFailedCommit(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	taskID := h.task(t, command.CreateTaskCommand{OwnerID: "alice"})

	h.db.FailNext("Commit", 2, errors.New("disk full"))
	_, err := h.svc.CompleteTask(context.Background(), command.CompleteTaskCommand{UserID: "alice", TaskID: taskID})
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))

	snap, err := h.svc.GetSnapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalXP)

	// The event is logged: the retry is a duplicate that finishes the derivation.
	retried := h.complete(t, "alice", taskID)
	assert.True(t, retried.Duplicate)
	assert.Equal(t, 70, retried.TotalXP)
	assert.Equal(t, 70, retried.AwardedXP())

	again := h.complete(t, "alice", taskID)
	assert.Equal(t, retried, again)

	report, err := h.svc.Replay(context.Background(), command.ReplayUserCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "%+v", report.Drift)
	assert.Equal(t, 70, report.LedgerXP)
}

func TestService_RetriesTransientFailure(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	taskID := h.task(t, command.CreateTaskCommand{OwnerID: "alice"})

	h.db.FailNext("Append", 1, errors.New("connection reset"))
	snap := h.complete(t, "alice", taskID)
	assert.False(t, snap.Duplicate)
	assert.Equal(t, 70, snap.TotalXP)
}

func TestService_StreakMultiplier(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")

	var snaps []progression.Snapshot
	for day := 0; day < 4; day++ {
		h.clock.Set(start.AddDate(0, 0, day))
		id := h.task(t, command.CreateTaskCommand{OwnerID: "alice"})
		snaps = append(snaps, h.complete(t, "alice", id))
	}

	assert.Equal(t, 3, snaps[2].Streak.Current)
	require.NotNil(t, snaps[2].StreakMilestone)
	assert.Equal(t, 3, snaps[2].StreakMilestone.Streak)

	// Day four earns round(20 * 1.2).
	assert.Equal(t, 1.2, snaps[3].Multiplier)
	require.NotEmpty(t, snaps[3].Awarded)
	assert.Equal(t, 24, snaps[3].Awarded[0].Amount)

	// A missed day resets the visible streak without touching XP.
	h.clock.Set(start.AddDate(0, 0, 6))
	snap, err := h.svc.GetSnapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Streak.Current)
	assert.Equal(t, 4, snap.Streak.Longest)
	assert.Equal(t, snaps[3].TotalXP, snap.TotalXP)
}

func TestService_RecurringOccurrences(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	id := h.task(t, command.CreateTaskCommand{OwnerID: "alice", Recurring: true})
	ctx := context.Background()

	_, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: id})
	assert.ErrorIs(t, err, shared.ErrOccurrenceNeeded)

	day1 := shared.DateOf(start, time.UTC)
	first, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: id, OccurrenceDate: day1})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	dup, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: id, OccurrenceDate: day1})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)

	h.clock.Advance(24 * time.Hour)
	second, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: id, OccurrenceDate: day1.AddDays(1)})
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Equal(t, 2, second.TasksCompleted)

	tasks, err := h.svc.ListTasks(ctx, query.GetTasksQuery{UserID: "alice", Status: task.StatusPending})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestService_RecurringOccurrenceRange(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	id := h.task(t, command.CreateTaskCommand{OwnerID: "alice", Recurring: true})
	ctx := context.Background()
	today := shared.DateOf(start, time.UTC)

	for _, day := range []shared.Date{today.AddDays(1), shared.NewDate(2099, 1, 1), today.AddDays(-1)} {
		_, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: id, OccurrenceDate: day})
		assert.ErrorIs(t, err, shared.ErrOccurrenceRange, day.String())
		assert.True(t, shared.IsValidation(err))
	}

	snap, err := h.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalXP)
	assert.Zero(t, snap.TasksCompleted)

	done, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: id, OccurrenceDate: today})
	require.NoError(t, err)
	assert.Equal(t, 1, done.TasksCompleted)
}

func TestService_CompletionErrors(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	h.user(t, "bob")
	ctx := context.Background()

	photo := h.task(t, command.CreateTaskCommand{OwnerID: "alice", Proof: shared.ProofPhoto})
	_, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: photo})
	assert.ErrorIs(t, err, shared.ErrProofRequired)

	snap, err := h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: photo, Proof: shared.ProofPhoto})
	require.NoError(t, err)
	// 20 base, 10 photo bonus, 50 first_task.
	assert.Equal(t, 80, snap.TotalXP)

	_, err = h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "bob", TaskID: photo, Proof: shared.ProofPhoto})
	assert.ErrorIs(t, err, shared.ErrTaskNotOwned)

	_, err = h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "carol", TaskID: photo})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: "missing"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: photo, Proof: "video"})
	assert.True(t, shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS AND TASKS
// ══════════════════════════════════════════════════════════════════════════════

func TestService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "alice")

	_, err := h.svc.CreateUser(ctx, command.CreateUserCommand{UserID: "alice", DisplayName: "Alice"})
	assert.True(t, shared.IsAlreadyExists(err))

	generated, err := h.svc.CreateUser(ctx, command.CreateUserCommand{DisplayName: "Anon"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	_, err = h.svc.CreateTask(ctx, command.CreateTaskCommand{OwnerID: "nobody", Title: "x", Category: shared.CategoryWork})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.svc.CreateTask(ctx, command.CreateTaskCommand{OwnerID: "alice", Title: "x", Category: "gardening"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.svc.CreateTask(ctx, command.CreateTaskCommand{OwnerID: "alice", Title: " ", Category: shared.CategoryWork})
	assert.True(t, shared.IsValidation(err))

	deadline := start.Add(-time.Hour)
	_, err = h.svc.CreateTask(ctx, command.CreateTaskCommand{
		OwnerID: "alice", Title: "x", Category: shared.CategoryWork, ScheduledAt: start, Deadline: &deadline,
	})
	assert.True(t, shared.IsValidation(err))
}

func TestService_SweepMissedTasks(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	ctx := context.Background()

	deadline := start.Add(2 * time.Hour)
	overdue := h.task(t, command.CreateTaskCommand{OwnerID: "alice", ScheduledAt: start, Deadline: &deadline})
	done := h.task(t, command.CreateTaskCommand{OwnerID: "alice", ScheduledAt: start, Deadline: &deadline})
	h.task(t, command.CreateTaskCommand{OwnerID: "alice", Recurring: true})
	h.complete(t, "alice", done)

	before, err := h.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)

	h.clock.Advance(3 * time.Hour)
	res, err := h.svc.SweepMissedTasks(ctx, command.SweepMissedTasksCommand{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)

	missed, err := h.svc.ListTasks(ctx, query.GetTasksQuery{UserID: "alice", Status: task.StatusMissed})
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, shared.TaskID(overdue), missed[0].ID)

	// Missing a task costs nothing and the task can no longer be completed.
	after, err := h.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.TotalXP, after.TotalXP)

	_, err = h.svc.CompleteTask(ctx, command.CompleteTaskCommand{UserID: "alice", TaskID: overdue})
	assert.ErrorIs(t, err, shared.ErrTaskNotPending)

	res, err = h.svc.SweepMissedTasks(ctx, command.SweepMissedTasksCommand{BatchSize: 10})
	require.NoError(t, err)
	assert.Zero(t, res.Marked)
}

// ══════════════════════════════════════════════════════════════════════════════
// SOCIAL
// ══════════════════════════════════════════════════════════════════════════════

func TestService_ShareProgress(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	ctx := context.Background()

	snap, err := h.svc.ShareProgress(ctx, command.ShareProgressCommand{UserID: "alice", Privacy: shared.PrivacyFull})
	require.NoError(t, err)
	// 30 for a full share plus 15 for share_first.
	assert.Equal(t, 45, snap.TotalXP)

	again, err := h.svc.ShareProgress(ctx, command.ShareProgressCommand{UserID: "alice", Privacy: shared.PrivacyPrivate})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 45, again.TotalXP)
	assert.Equal(t, snap.Awarded, again.Awarded)
	assert.Equal(t, snap.NewlyUnlocked, again.NewlyUnlocked)

	h.clock.Advance(24 * time.Hour)
	next, err := h.svc.ShareProgress(ctx, command.ShareProgressCommand{UserID: "alice", Privacy: shared.PrivacyPrivate})
	require.NoError(t, err)
	assert.False(t, next.Duplicate)
	assert.Equal(t, 55, next.TotalXP)
	// Sharing is not a completion.
	assert.Equal(t, 0, next.Streak.Current)

	_, err = h.svc.ShareProgress(ctx, command.ShareProgressCommand{UserID: "alice", Privacy: "public"})
	assert.True(t, shared.IsValidation(err))
}

func TestService_SharePayloadTiers(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	ctx := context.Background()

	done := h.task(t, command.CreateTaskCommand{OwnerID: "alice", TimeSavedMinutes: 30})
	h.task(t, command.CreateTaskCommand{OwnerID: "alice"})
	h.task(t, command.CreateTaskCommand{OwnerID: "alice", ScheduledAt: start.AddDate(0, 0, 1)})
	h.complete(t, "alice", done)

	private, err := h.svc.GetSharePayload(ctx, query.GetSharePayloadQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, shared.PrivacyPrivate, private.Privacy)
	assert.Equal(t, 1, private.MissionsCompleted)
	assert.Equal(t, 2, private.MissionsTotal)
	assert.Nil(t, private.Streak)
	assert.Nil(t, private.TotalXP)

	metrics, err := h.svc.GetSharePayload(ctx, query.GetSharePayloadQuery{UserID: "alice", Privacy: shared.PrivacyMetrics})
	require.NoError(t, err)
	require.NotNil(t, metrics.Streak)
	assert.Equal(t, 1, *metrics.Streak)
	require.NotNil(t, metrics.Level)
	assert.Nil(t, metrics.TimeSavedWallet)

	full, err := h.svc.GetSharePayload(ctx, query.GetSharePayloadQuery{UserID: "alice", Privacy: shared.PrivacyFull})
	require.NoError(t, err)
	require.NotNil(t, full.TimeSavedWallet)
	assert.Equal(t, 30, *full.TimeSavedWallet)
	require.NotNil(t, full.TotalXP)
	assert.Equal(t, 70, *full.TotalXP)
}

func TestService_CirclesAndChallenges(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	h.user(t, "bob")
	ctx := context.Background()

	circle, err := h.svc.CreateScope(ctx, command.CreateScopeCommand{ScopeID: "c1", Kind: leaderboard.ScopeCircle, Name: "Runners"})
	require.NoError(t, err)
	assert.Equal(t, shared.ScopeID("c1"), circle.ID)

	_, err = h.svc.CreateScope(ctx, command.CreateScopeCommand{ScopeID: "c1", Kind: leaderboard.ScopeCircle, Name: "Again"})
	assert.True(t, shared.IsAlreadyExists(err))

	joined, err := h.svc.JoinScope(ctx, command.JoinScopeCommand{UserID: "alice", ScopeID: "c1"})
	require.NoError(t, err)
	assert.False(t, joined.Duplicate)
	// circle_first.
	assert.Equal(t, 25, joined.TotalXP)

	rejoined, err := h.svc.JoinScope(ctx, command.JoinScopeCommand{UserID: "alice", ScopeID: "c1"})
	require.NoError(t, err)
	assert.True(t, rejoined.Duplicate)
	assert.Equal(t, 25, rejoined.TotalXP)
	assert.Equal(t, joined.NewlyUnlocked, rejoined.NewlyUnlocked)
	assert.Equal(t, joined.Awarded, rejoined.Awarded)

	_, err = h.svc.CreateScope(ctx, command.CreateScopeCommand{ScopeID: "ch1", Kind: leaderboard.ScopeChallenge, Name: "March"})
	require.NoError(t, err)

	_, err = h.svc.RecordChallengeWin(ctx, command.RecordChallengeWinCommand{UserID: "bob", ChallengeID: "ch1"})
	assert.True(t, shared.IsValidation(err))

	entered, err := h.svc.JoinScope(ctx, command.JoinScopeCommand{UserID: "bob", ScopeID: "ch1"})
	require.NoError(t, err)
	assert.Zero(t, entered.TotalXP)

	won, err := h.svc.RecordChallengeWin(ctx, command.RecordChallengeWinCommand{UserID: "bob", ChallengeID: "ch1"})
	require.NoError(t, err)
	// challenge_first.
	assert.Equal(t, 100, won.TotalXP)

	_, err = h.svc.RecordChallengeWin(ctx, command.RecordChallengeWinCommand{UserID: "alice", ChallengeID: "c1"})
	assert.True(t, shared.IsStateConflict(err))

	_, err = h.svc.JoinScope(ctx, command.JoinScopeCommand{UserID: "alice", ScopeID: "missing"})
	assert.True(t, shared.IsNotFound(err))
}

func TestService_Leaderboard(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	h.user(t, "bob")
	ctx := context.Background()

	_, err := h.svc.CreateScope(ctx, command.CreateScopeCommand{ScopeID: "c1", Kind: leaderboard.ScopeCircle, Name: "Runners"})
	require.NoError(t, err)
	for _, u := range []string{"alice", "bob"} {
		_, err := h.svc.JoinScope(ctx, command.JoinScopeCommand{UserID: u, ScopeID: "c1"})
		require.NoError(t, err)
	}

	_, err = h.svc.RefreshLeaderboard(ctx, command.RefreshLeaderboardCommand{ScopeID: "c1"})
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	h.complete(t, "bob", h.task(t, command.CreateTaskCommand{OwnerID: "bob"}))

	board, err := h.svc.GetLeaderboard(ctx, query.GetLeaderboardQuery{ScopeID: "c1"})
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, shared.UserID("bob"), board.Entries[0].UserID)
	assert.Equal(t, leaderboard.MovementUp, board.Entries[0].Movement)
	assert.Equal(t, leaderboard.MovementDown, board.Entries[1].Movement)

	top, err := h.svc.GetLeaderboard(ctx, query.GetLeaderboardQuery{ScopeID: "c1", Window: "weekly", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, top.Entries, 1)

	_, err = h.svc.GetLeaderboard(ctx, query.GetLeaderboardQuery{ScopeID: "c1", Window: "monthly"})
	assert.True(t, shared.IsValidation(err))

	all, err := h.svc.RefreshLeaderboard(ctx, command.RefreshLeaderboardCommand{})
	require.NoError(t, err)
	assert.Nil(t, all)
}

// ══════════════════════════════════════════════════════════════════════════════
// READS AND MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

func TestService_Achievements(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	h.complete(t, "alice", h.task(t, command.CreateTaskCommand{OwnerID: "alice"}))

	res, err := h.svc.GetAchievements(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.UnlockedCount)

	byID := make(map[string]query.AchievementDTO, len(res.Achievements))
	for _, a := range res.Achievements {
		byID[a.ID] = a
	}
	require.Contains(t, byID, "first_task")
	assert.True(t, byID["first_task"].Unlocked)
	assert.NotNil(t, byID["first_task"].UnlockedAt)

	require.Contains(t, byID, "tasks_10")
	assert.False(t, byID["tasks_10"].Unlocked)
	assert.Equal(t, 1, byID["tasks_10"].Progress)
	assert.Equal(t, 10, byID["tasks_10"].Total)

	_, err = h.svc.GetAchievements(context.Background(), "nobody")
	assert.True(t, shared.IsNotFound(err))
}

func TestService_ReplayRepairsDrift(t *testing.T) {
	h := newHarness(t)
	h.user(t, "alice")
	h.complete(t, "alice", h.task(t, command.CreateTaskCommand{OwnerID: "alice"}))
	ctx := context.Background()

	state, err := h.repos.States.Load(ctx, "alice")
	require.NoError(t, err)
	state.TotalXP += 5
	state.TasksCompleted = 3
	require.NoError(t, h.repos.States.Commit(ctx, state.Checkpoint, state, nil))

	report, err := h.svc.Replay(ctx, command.ReplayUserCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.False(t, report.Repaired)
	assert.Equal(t, 1, report.Events)

	fields := make([]string, 0, len(report.Drift))
	for _, d := range report.Drift {
		fields = append(fields, d.Field)
	}
	assert.Contains(t, fields, "total_xp")
	assert.Contains(t, fields, "tasks_completed")

	repaired, err := h.svc.Replay(ctx, command.ReplayUserCommand{UserID: "alice", Repair: true})
	require.NoError(t, err)
	assert.True(t, repaired.Repaired)
	assert.Zero(t, repaired.Correction)

	snap, err := h.svc.GetSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 70, snap.TotalXP)
	assert.Equal(t, 1, snap.TasksCompleted)

	clean, err := h.svc.Replay(ctx, command.ReplayUserCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, clean.Consistent())
}

func TestNewService_RequiresDependencies(t *testing.T) {
	engine, err := config.DefaultRules().Engine()
	require.NoError(t, err)
	repos := MemoryRepositories(memory.NewDB())
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer bus.Close()

	_, err = NewService(Repositories{}, Options{Engine: engine, Bus: bus})
	assert.Error(t, err)

	_, err = NewService(repos, Options{Bus: bus})
	assert.Error(t, err)

	_, err = NewService(repos, Options{Engine: engine})
	assert.Error(t, err)

	repos.Baselines = nil
	svc, err := NewService(repos, Options{Engine: engine, Bus: bus})
	require.NoError(t, err)
	assert.False(t, svc.Now().IsZero())
}
