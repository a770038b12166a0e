package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
)

func TestConfig_Options(t *testing.T) {
	t.Run("host and port", func(t *testing.T) {
		opts, err := DefaultConfig().Options()
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Equal(t, 10, opts.PoolSize)
		assert.Equal(t, 3*time.Second, opts.ReadTimeout)
	})

	t.Run("url wins", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.URL = "redis://:secret@cache.internal:6380/2"
		opts, err := cfg.Options()
		require.NoError(t, err)
		assert.Equal(t, "cache.internal:6380", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 10, opts.PoolSize)
	})

	t.Run("bad url", func(t *testing.T) {
		cfg := Config{URL: "http://nope"}
		_, err := cfg.Options()
		assert.Error(t, err)
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "progression:baseline:c1:weekly", BaselineKey("c1", "weekly"))
	assert.Equal(t, "progression:baseline:c1:weekly:meta", BaselineMetaKey("c1", "weekly"))
	assert.Equal(t, "progression:lock:u1", LockKey("u1"))
	assert.Equal(t, "progression:pubsub:events", PubSubChannel("events"))
}

func TestBaselineEncoding(t *testing.T) {
	takenAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	snap := &leaderboard.Snapshot{
		ScopeID: "circle-1",
		Window:  leaderboard.WindowWeekly,
		Ranks:   map[shared.UserID]int{"alice": 1, "bob": 2},
		XP:      map[shared.UserID]int{"alice": 120, "bob": 90},
		TakenAt: takenAt,
	}

	members := rankMembers(snap)
	require.Len(t, members, 2)

	raw, err := encodeMeta(snap)
	require.NoError(t, err)

	var meta baselineMeta
	require.NoError(t, json.Unmarshal(raw, &meta))

	got := decodeSnapshot("circle-1", leaderboard.WindowWeekly, meta, members)
	assert.Equal(t, snap.Ranks, got.Ranks)
	assert.Equal(t, snap.XP, got.XP)
	assert.True(t, takenAt.Equal(got.TakenAt))
	assert.Equal(t, 1, got.RankOf("alice"))
	assert.Equal(t, 0, got.RankOf("carol"))
}

func TestDecodeSnapshot_SkipsForeignMembers(t *testing.T) {
	got := decodeSnapshot("s", leaderboard.WindowDaily, baselineMeta{}, []redis.Z{
		{Score: 1, Member: "alice"},
		{Score: 2, Member: 42},
	})
	assert.Equal(t, map[shared.UserID]int{"alice": 1}, got.Ranks)
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, unavailable("Get", nil))
	err := unavailable("Get", assert.AnError)
	assert.True(t, shared.IsRetryable(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestUserLock_ReleaseLogsLongHold(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	core, logs := observer.New(zapcore.WarnLevel)
	lock := NewUserLock(NewCacheFromClient(client), 100*time.Millisecond, zap.New(core))

	release := lock.releaser(LockKey("u1"), "token", time.Now().Add(-time.Second))
	release()
	release()

	held := logs.FilterMessage("lock held close to its ttl").All()
	require.Len(t, held, 1)
	assert.GreaterOrEqual(t, held[0].ContextMap()["held"], time.Second)

	// Nothing listens on the port, so the release itself fails once.
	assert.Equal(t, 1, logs.FilterMessage("lock release failed").Len())
}
