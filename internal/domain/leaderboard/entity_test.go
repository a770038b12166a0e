package leaderboard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeloop/progression/internal/domain/shared"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func member(id string, joinedDay int) Member {
	return Member{UserID: shared.UserID(id), DisplayName: id, JoinedAt: base.AddDate(0, 0, joinedDay)}
}

func TestRank_EarlierJoinerWinsTie(t *testing.T) {
	standings := []Standing{
		{Member: member("carol", 10), XP: 4850},
		{Member: member("alice", 1), XP: 6240},
		{Member: member("dave", 5), XP: 4850},
		{Member: member("bob", 2), XP: 5890},
	}

	entries := Rank(standings, nil)

	require.Len(t, entries, 4)
	assert.Equal(t, []shared.UserID{"alice", "bob", "dave", "carol"}, ids(entries))
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
		assert.Equal(t, MovementNew, e.Movement)
	}
}

func TestRank_UserIDBreaksFullTie(t *testing.T) {
	standings := []Standing{
		{Member: member("zed", 3), XP: 100},
		{Member: member("amy", 3), XP: 100},
	}
	assert.Equal(t, []shared.UserID{"amy", "zed"}, ids(Rank(standings, nil)))
}

func TestRank_Deterministic(t *testing.T) {
	standings := []Standing{
		{Member: member("a", 3), XP: 10},
		{Member: member("b", 1), XP: 10},
		{Member: member("c", 2), XP: 30},
		{Member: member("d", 2), XP: 10},
	}
	want := ids(Rank(standings, nil))

	// Same inputs in a different order give the same ordering.
	reversed := []Standing{standings[3], standings[2], standings[1], standings[0]}
	for i := 0; i < 5; i++ {
		assert.Equal(t, want, ids(Rank(reversed, nil)))
	}
}

func TestRank_DataUnavailableListedLast(t *testing.T) {
	standings := []Standing{
		{Member: member("broken", 0), Err: errors.New("timeout")},
		{Member: member("alice", 1), XP: 10},
		{Member: member("bob", 2), XP: 20},
	}

	entries := Rank(standings, nil)

	require.Len(t, entries, 3)
	assert.Equal(t, []shared.UserID{"bob", "alice", "broken"}, ids(entries))
	assert.Equal(t, 0, entries[2].Rank)
	assert.True(t, entries[2].DataUnavailable)
	assert.Equal(t, 2, entries[1].Rank, "ranks stay sequential over available members")
}

func TestRank_MovementAgainstBaseline(t *testing.T) {
	baseline := &Snapshot{Ranks: map[shared.UserID]int{"alice": 1, "bob": 2, "carol": 3}}
	standings := []Standing{
		{Member: member("alice", 1), XP: 10},
		{Member: member("bob", 2), XP: 50},
		{Member: member("carol", 3), XP: 5},
		{Member: member("dave", 4), XP: 1},
	}

	entries := Rank(standings, baseline)

	moves := map[shared.UserID]Movement{}
	for _, e := range entries {
		moves[e.UserID] = e.Movement
	}
	assert.Equal(t, MovementUp, moves["bob"])
	assert.Equal(t, MovementDown, moves["alice"])
	assert.Equal(t, MovementSame, moves["carol"])
	assert.Equal(t, MovementNew, moves["dave"])
}

func TestSnapshotOf_SkipsUnavailable(t *testing.T) {
	board := &Board{
		ScopeID: "c-1",
		Window:  WindowWeekly,
		Entries: []Entry{
			{UserID: "a", Rank: 1, XP: 10},
			{UserID: "b", DataUnavailable: true},
		},
		ComputedAt: base,
	}
	snap := SnapshotOf(board)
	assert.Equal(t, 1, snap.Size())
	assert.Equal(t, 1, snap.RankOf("a"))
	assert.Equal(t, 0, snap.RankOf("b"))

	var nilSnap *Snapshot
	assert.Equal(t, 0, nilSnap.RankOf("a"))
}

func TestWindowSince(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	assert.True(t, WindowAllTime.Since(now, time.UTC).IsZero())
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), WindowDaily.Since(now, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), WindowWeekly.Since(now, time.UTC))

	w, err := ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, WindowAllTime, w)
	_, err = ParseWindow("monthly")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestScope_AddMember(t *testing.T) {
	s, err := NewScope("c-1", ScopeCircle, "Morning Runners", "", base)
	require.NoError(t, err)
	assert.Equal(t, shared.PrivacyMetrics, s.PrivacyDefault)

	require.NoError(t, s.AddMember(member("alice", 0)))
	err = s.AddMember(member("alice", 3))
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.True(t, s.HasMember("alice"))

	_, err = NewScope("c-2", "guild", "x", "", base)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func ids(entries []Entry) []shared.UserID {
	out := make([]shared.UserID, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}
