package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/xp"
)

var (
	ctx = context.Background()
	now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func completion(userID, taskID string) eventlog.Event {
	d := shared.DateOf(now, time.UTC)
	return eventlog.Event{
		Kind:         eventlog.KindTaskCompleted,
		UserID:       shared.UserID(userID),
		SubjectID:    taskID,
		ActivityDate: d,
		Timestamp:    now,
		Category:     shared.CategoryHealth,
	}
}

func TestEventStore_AppendIsIdempotentByKey(t *testing.T) {
	store := NewEventStore(NewDB())

	id, appended, err := store.Append(ctx, completion("u-1", "t-1"))
	require.NoError(t, err)
	assert.True(t, appended)

	again, appended, err := store.Append(ctx, completion("u-1", "t-1"))
	require.NoError(t, err)
	assert.False(t, appended)
	assert.Equal(t, id, again)

	found, err := store.FindByKey(ctx, completion("u-1", "t-1").Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Sequence)

	_, err = store.FindByKey(ctx, "task:none")
	assert.True(t, shared.IsNotFound(err))
}

func TestEventStore_ListSincePages(t *testing.T) {
	store := NewEventStore(NewDB())
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		_, _, err := store.Append(ctx, completion("u-1", id))
		require.NoError(t, err)
		_, _, err = store.Append(ctx, completion("u-2", id))
		require.NoError(t, err)
	}

	page, err := store.ListSince(ctx, "u-1", eventlog.Start, 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.False(t, page.Done)
	assert.Equal(t, "t-1", page.Events[0].SubjectID)

	rest, err := store.ListSince(ctx, "u-1", page.Next, 2)
	require.NoError(t, err)
	require.Len(t, rest.Events, 1)
	assert.True(t, rest.Done)
	assert.Equal(t, "t-3", rest.Events[0].SubjectID)

	var seen []string
	_, err = eventlog.Walk(ctx, store, "u-2", eventlog.Start, 1, func(ev eventlog.Event) error {
		seen = append(seen, ev.SubjectID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1", "t-2", "t-3"}, seen)

	_, err = store.ListSince(ctx, "u-1", "bogus", 2)
	assert.ErrorIs(t, err, shared.ErrInvalidCursor)
}

func TestEventStore_FaultInjection(t *testing.T) {
	db := NewDB()
	store := NewEventStore(db)
	db.FailNext("Append", 1, errors.New("disk full"))

	_, _, err := store.Append(ctx, completion("u-1", "t-1"))
	assert.True(t, shared.IsRetryable(err))

	_, appended, err := store.Append(ctx, completion("u-1", "t-1"))
	require.NoError(t, err)
	assert.True(t, appended)
}

func TestLedger_SkipsDuplicateIDs(t *testing.T) {
	ledger := NewLedgerRepository(NewDB())
	entry := xp.Entry{ID: "e-1", UserID: "u-1", Amount: 15, CreatedAt: now}

	n, err := ledger.Append(ctx, []xp.Entry{entry, entry})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old := xp.Entry{ID: "e-0", UserID: "u-1", Amount: 5, CreatedAt: now.AddDate(0, 0, -10)}
	_, err = ledger.Append(ctx, []xp.Entry{old})
	require.NoError(t, err)

	total, err := ledger.TotalByUser(ctx, "u-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 20, total)

	weekly, err := ledger.TotalByUser(ctx, "u-1", now.AddDate(0, 0, -6))
	require.NoError(t, err)
	assert.Equal(t, 15, weekly)

	ok, err := ledger.Exists(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProgress_CommitAndLoad(t *testing.T) {
	db := NewDB()
	repo := NewProgressRepository(db)

	empty, err := repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, eventlog.Start, empty.Checkpoint)
	assert.Zero(t, empty.TotalXP)

	s := progress.NewState("u-1")
	s.TotalXP = 65
	s.TasksCompleted = 1
	s.Streak.Current = 1
	s.Checkpoint = eventlog.CursorAfter(3)
	unlockedAt := now
	out := progress.Outcome{
		Entries:  []xp.Entry{{ID: "e-1", UserID: "u-1", Amount: 15}, {ID: "e-2", UserID: "u-1", Amount: 50}},
		Unlocked: []achievement.Progress{{UserID: "u-1", AchievementID: "first_task", UnlockedAt: &unlockedAt}},
	}
	s.Unlocked["first_task"] = now
	require.NoError(t, repo.Commit(ctx, eventlog.Start, s, []progress.Outcome{out}))

	loaded, err := repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 65, loaded.TotalXP)
	assert.Equal(t, 1, loaded.Streak.Current)
	assert.Equal(t, eventlog.CursorAfter(3), loaded.Checkpoint)
	assert.True(t, loaded.Unlocked.Has("first_task"))

	// Re-committing the same outcome adds nothing and keeps the unlock time.
	later := now.Add(time.Hour)
	out.Unlocked[0].UnlockedAt = &later
	require.NoError(t, repo.Commit(ctx, s.Checkpoint, s, []progress.Outcome{out}))
	total, err := NewLedgerRepository(db).TotalByUser(ctx, "u-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 65, total)
	set, err := NewAchievementRepository(db).ListUnlocked(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, now, set["first_task"])
}

func TestProgress_CommitRejectsStaleBase(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	repo := NewProgressRepository(db)

	s := progress.NewState("u-1")
	s.TotalXP = 20
	s.Checkpoint = eventlog.CursorAfter(1)
	require.NoError(t, repo.Commit(ctx, eventlog.Start, s, nil))

	// A writer that loaded the state before the first commit.
	stale := progress.NewState("u-1")
	stale.TotalXP = 10
	stale.Checkpoint = eventlog.CursorAfter(1)
	err := repo.Commit(ctx, eventlog.Start, stale, []progress.Outcome{{
		Entries: []xp.Entry{{ID: "e-stale", UserID: "u-1", Amount: 10}},
	}})
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
	assert.True(t, shared.IsRetryable(err))

	loaded, err := repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.TotalXP)
	total, err := NewLedgerRepository(db).TotalByUser(ctx, "u-1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTasks_ListOverdue(t *testing.T) {
	repo := NewTaskRepository(NewDB())

	overdue, err := task.NewTask("u-1", "File taxes", shared.CategoryWork, now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	deadline := now.Add(-time.Hour)
	overdue.Deadline = &deadline

	recurring, err := task.NewTask("u-1", "Stretch", shared.CategoryWellness, now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	recurring.Recurring = true
	recurring.Deadline = &deadline

	require.NoError(t, repo.Save(ctx, overdue))
	require.NoError(t, repo.Save(ctx, recurring))

	found, err := repo.ListOverdue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, overdue.ID, found[0].ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestScopes_CopiesMembers(t *testing.T) {
	repo := NewScopeRepository(NewDB())
	scope, err := leaderboard.NewScope("c-1", leaderboard.ScopeCircle, "Runners", "", now)
	require.NoError(t, err)
	require.NoError(t, scope.AddMember(leaderboard.Member{UserID: "u-1", JoinedAt: now}))
	require.NoError(t, repo.Save(ctx, scope))

	loaded, err := repo.FindByID(ctx, "c-1")
	require.NoError(t, err)
	loaded.Members[0].UserID = "mutated"

	again, err := repo.FindByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("u-1"), again.Members[0].UserID)

	mine, err := repo.ListByMember(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestSnapshotCache(t *testing.T) {
	cache := NewSnapshotCache(NewDB())
	_, err := cache.GetBaseline(ctx, "c-1", leaderboard.WindowWeekly)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	snap := &leaderboard.Snapshot{
		ScopeID: "c-1",
		Window:  leaderboard.WindowWeekly,
		Ranks:   map[shared.UserID]int{"u-1": 1},
		TakenAt: now,
	}
	require.NoError(t, cache.SetBaseline(ctx, snap))

	got, err := cache.GetBaseline(ctx, "c-1", leaderboard.WindowWeekly)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RankOf("u-1"))
}
