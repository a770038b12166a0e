package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotCache stores leaderboard movement baselines.
//
// Architecture:
//   - Sorted Set "progression:baseline:{scope}:{window}" stores userID -> rank
//   - String "progression:baseline:{scope}:{window}:meta" stores taken_at and XP as JSON
//
// Both keys are replaced in one MULTI so a reader never sees a mix of two
// baselines. Losing the keys only turns Movement into "new".
type SnapshotCache struct {
	cache *Cache
	ttl   time.Duration
}

// baselineMeta is the JSON document next to the sorted set.
type baselineMeta struct {
	TakenAt time.Time      `json:"taken_at"`
	XP      map[string]int `json:"xp,omitempty"`
}

// NewSnapshotCache creates a new SnapshotCache. A non-positive ttl means
// TTLBaseline.
func NewSnapshotCache(cache *Cache, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = TTLBaseline
	}
	return &SnapshotCache{cache: cache, ttl: ttl}
}

// SetBaseline replaces the baseline of the snapshot's scope and window.
func (s *SnapshotCache) SetBaseline(ctx context.Context, snapshot *leaderboard.Snapshot) error {
	if snapshot == nil || snapshot.ScopeID == "" {
		return shared.NewDomainError("redis", "SetBaseline", shared.ErrInvalidInput, "snapshot scope is required")
	}

	scopeID, window := snapshot.ScopeID.String(), string(snapshot.Window)
	key := BaselineKey(scopeID, window)
	metaKey := BaselineMetaKey(scopeID, window)

	meta, err := encodeMeta(snapshot)
	if err != nil {
		return err
	}

	pipe := s.cache.Client().TxPipeline()
	pipe.Del(ctx, key)
	if members := rankMembers(snapshot); len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Set(ctx, metaKey, meta, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("SetBaseline", err)
	}
	return nil
}

// GetBaseline returns the stored baseline or shared.ErrSnapshotNotFound.
func (s *SnapshotCache) GetBaseline(ctx context.Context, scopeID string, window leaderboard.Window) (*leaderboard.Snapshot, error) {
	var meta baselineMeta
	if err := s.cache.Get(ctx, BaselineMetaKey(scopeID, string(window)), &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, err
	}

	ranks, err := s.cache.Client().ZRangeWithScores(ctx, BaselineKey(scopeID, string(window)), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("GetBaseline", err)
	}

	return decodeSnapshot(scopeID, window, meta, ranks), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENCODING
// ══════════════════════════════════════════════════════════════════════════════

func rankMembers(snapshot *leaderboard.Snapshot) []redis.Z {
	members := make([]redis.Z, 0, len(snapshot.Ranks))
	for userID, rank := range snapshot.Ranks {
		members = append(members, redis.Z{Score: float64(rank), Member: userID.String()})
	}
	return members
}

func encodeMeta(snapshot *leaderboard.Snapshot) ([]byte, error) {
	meta := baselineMeta{TakenAt: snapshot.TakenAt.UTC()}
	if len(snapshot.XP) > 0 {
		meta.XP = make(map[string]int, len(snapshot.XP))
		for userID, xp := range snapshot.XP {
			meta.XP[userID.String()] = xp
		}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}

func decodeSnapshot(scopeID string, window leaderboard.Window, meta baselineMeta, ranks []redis.Z) *leaderboard.Snapshot {
	snap := &leaderboard.Snapshot{
		ScopeID: shared.ScopeID(scopeID),
		Window:  window,
		Ranks:   make(map[shared.UserID]int, len(ranks)),
		XP:      make(map[shared.UserID]int, len(meta.XP)),
		TakenAt: meta.TakenAt,
	}
	for _, z := range ranks {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		snap.Ranks[shared.UserID(member)] = int(z.Score)
	}
	for userID, xp := range meta.XP {
		snap.XP[shared.UserID(userID)] = xp
	}
	return snap
}
