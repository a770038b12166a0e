package progression

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/xp"
	"github.com/lifeloop/progression/internal/infrastructure/persistence/memory"
	"github.com/lifeloop/progression/pkg/timeutil"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// LOCKS
// ══════════════════════════════════════════════════════════════════════════════

func TestKeyedMutex_SerialisesOneKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int32
		overlap int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "alice")
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutex_KeysAreIndependent(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "alice")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "bob")
	require.NoError(t, err)
	unlockB()
	unlockB()

	assert.Equal(t, 1, m.Len())
}

func TestKeyedMutex_ContextEndsWait(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Lock(ctx, "alice")
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.True(t, shared.IsRetryable(err))

	unlock()
	assert.Equal(t, 0, m.Len())
}

func TestWaitLimit_BoundsWait(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "alice")
	require.NoError(t, err)
	defer unlock()

	limited := WaitLimit{Locker: m, Wait: 20 * time.Millisecond}
	start := time.Now()
	_, err = limited.Lock(context.Background(), "alice")
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.Less(t, time.Since(start), time.Second)

	other, err := limited.Lock(context.Background(), "bob")
	require.NoError(t, err)
	other()
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	db         *memory.DB
	scopes     *memory.ScopeRepository
	ledger     *memory.LedgerRepository
	clock      *timeutil.ManualClock
	aggregator *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	f := &fixture{
		db:     db,
		scopes: memory.NewScopeRepository(db),
		ledger: memory.NewLedgerRepository(db),
		clock:  timeutil.NewManualClock(now),
	}
	f.aggregator = NewAggregator(
		f.scopes, f.ledger, memory.NewStreakRepository(db), memory.NewSnapshotCache(db),
		f.clock, zaptest.NewLogger(t), DefaultAggregatorConfig(),
	)
	return f
}

func (f *fixture) circle(t *testing.T, id string, members ...string) {
	t.Helper()
	scope, err := leaderboard.NewScope(shared.ScopeID(id), leaderboard.ScopeCircle, id, shared.PrivacyMetrics, now)
	require.NoError(t, err)
	for i, m := range members {
		require.NoError(t, scope.AddMember(leaderboard.Member{
			UserID:      shared.UserID(m),
			DisplayName: m,
			JoinedAt:    now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.scopes.Save(context.Background(), scope))
}

func (f *fixture) award(t *testing.T, userID string, amount int, at time.Time) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), []xp.Entry{{
		ID:        userID + "-" + at.Format(time.RFC3339Nano),
		UserID:    shared.UserID(userID),
		Amount:    amount,
		Reason:    xp.ReasonTaskCompleted,
		CreatedAt: at,
	}})
	require.NoError(t, err)
}

func ranks(b *leaderboard.Board) map[shared.UserID]int {
	out := make(map[shared.UserID]int, len(b.Entries))
	for _, e := range b.Entries {
		out[e.UserID] = e.Rank
	}
	return out
}

func TestAggregator_RankOrdersByXPThenJoinTime(t *testing.T) {
	f := newFixture(t)
	f.circle(t, "c1", "alice", "bob", "carol")
	f.award(t, "alice", 30, now.Add(-time.Hour))
	f.award(t, "bob", 50, now.Add(-time.Hour))
	f.award(t, "carol", 30, now.Add(-time.Hour))

	board, err := f.aggregator.Rank(context.Background(), "c1", leaderboard.WindowAllTime)
	require.NoError(t, err)

	assert.Equal(t, map[shared.UserID]int{"bob": 1, "alice": 2, "carol": 3}, ranks(board))
	assert.False(t, board.Partial)
	assert.Equal(t, now, board.ComputedAt)
	for _, e := range board.Entries {
		assert.Equal(t, leaderboard.MovementNew, e.Movement)
	}
}

func TestAggregator_WindowsFilterLedger(t *testing.T) {
	f := newFixture(t)
	f.circle(t, "c1", "alice", "bob")
	f.award(t, "alice", 100, now.AddDate(0, 0, -20))
	f.award(t, "bob", 10, now.Add(-time.Hour))

	allTime, err := f.aggregator.Rank(context.Background(), "c1", leaderboard.WindowAllTime)
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("alice"), allTime.Entries[0].UserID)

	weekly, err := f.aggregator.Rank(context.Background(), "c1", leaderboard.WindowWeekly)
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("bob"), weekly.Entries[0].UserID)
	assert.Equal(t, 10, weekly.Entries[0].XP)
}

func TestAggregator_RefreshSetsBaseline(t *testing.T) {
	f := newFixture(t)
	f.circle(t, "c1", "alice", "bob")
	f.award(t, "alice", 30, now.Add(-time.Hour))
	f.award(t, "bob", 10, now.Add(-time.Hour))
	ctx := context.Background()

	_, err := f.aggregator.Refresh(ctx, "c1", leaderboard.WindowAllTime)
	require.NoError(t, err)

	f.award(t, "bob", 50, now.Add(-time.Minute))
	board, err := f.aggregator.Rank(ctx, "c1", leaderboard.WindowAllTime)
	require.NoError(t, err)

	bob, ok := board.EntryFor("bob")
	require.True(t, ok)
	assert.Equal(t, 1, bob.Rank)
	assert.Equal(t, leaderboard.MovementUp, bob.Movement)

	alice, _ := board.EntryFor("alice")
	assert.Equal(t, leaderboard.MovementDown, alice.Movement)
}

func TestAggregator_MemberFailureMarksEntry(t *testing.T) {
	f := newFixture(t)
	f.circle(t, "c1", "alice", "bob")
	f.award(t, "alice", 30, now.Add(-time.Hour))
	f.award(t, "bob", 10, now.Add(-time.Hour))

	f.db.FailNext("TotalByUser", 1, errors.New("timeout"))
	board, err := f.aggregator.Rank(context.Background(), "c1", leaderboard.WindowAllTime)
	require.NoError(t, err)

	assert.True(t, board.Partial)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.False(t, board.Entries[0].DataUnavailable)
	assert.True(t, board.Entries[1].DataUnavailable)
	assert.Equal(t, 0, board.Entries[1].Rank)
}

func TestAggregator_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.aggregator.Rank(ctx, "c1", leaderboard.Window("monthly"))
	assert.ErrorIs(t, err, shared.ErrInvalidWindow)

	_, err = f.aggregator.Rank(ctx, "missing", leaderboard.WindowDaily)
	assert.True(t, shared.IsNotFound(err))
}

func TestAggregator_RefreshAll(t *testing.T) {
	f := newFixture(t)
	f.circle(t, "c1", "alice")
	f.circle(t, "c2", "bob")

	n, err := f.aggregator.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*len(leaderboard.AllWindows()), n)
}
