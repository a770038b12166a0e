package memory

import (
	"context"
	"sort"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ScopeRepository implements leaderboard.ScopeRepository.
type ScopeRepository struct {
	db *DB
}

// NewScopeRepository creates a scope repository over db.
func NewScopeRepository(db *DB) *ScopeRepository {
	return &ScopeRepository{db: db}
}

// Save inserts or replaces the scope with its members.
func (r *ScopeRepository) Save(ctx context.Context, scope *leaderboard.Scope) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if err := r.db.injected("SaveScope"); err != nil {
		return err
	}
	r.db.scopes[scope.ID.String()] = copyScope(*scope)
	return nil
}

// FindByID returns a copy of the scope.
func (r *ScopeRepository) FindByID(ctx context.Context, id string) (*leaderboard.Scope, error) {
	if err := r.db.injectedLocked("FindScope"); err != nil {
		return nil, err
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	s, ok := r.db.scopes[id]
	if !ok {
		return nil, shared.ErrScopeNotFound
	}
	s = copyScope(s)
	return &s, nil
}

// ListByMember returns scopes the user belongs to, ordered by ID.
func (r *ScopeRepository) ListByMember(ctx context.Context, userID string) ([]*leaderboard.Scope, error) {
	return r.list(func(s *leaderboard.Scope) bool {
		return s.HasMember(shared.UserID(userID))
	}), nil
}

// ListAll returns every scope ordered by ID.
func (r *ScopeRepository) ListAll(ctx context.Context) ([]*leaderboard.Scope, error) {
	return r.list(func(*leaderboard.Scope) bool { return true }), nil
}

func (r *ScopeRepository) list(keep func(*leaderboard.Scope) bool) []*leaderboard.Scope {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]*leaderboard.Scope, 0)
	for _, s := range r.db.scopes {
		s := copyScope(s)
		if keep(&s) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyScope(s leaderboard.Scope) leaderboard.Scope {
	members := make([]leaderboard.Member, len(s.Members))
	copy(members, s.Members)
	s.Members = members
	return s
}

// SnapshotCache implements leaderboard.SnapshotCache in memory.
type SnapshotCache struct {
	db *DB
}

// NewSnapshotCache creates a baseline cache over db.
func NewSnapshotCache(db *DB) *SnapshotCache {
	return &SnapshotCache{db: db}
}

func baselineKey(scopeID string, window leaderboard.Window) string {
	return scopeID + ":" + string(window)
}

// GetBaseline returns the cached baseline for (scope, window).
func (c *SnapshotCache) GetBaseline(ctx context.Context, scopeID string, window leaderboard.Window) (*leaderboard.Snapshot, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	s, ok := c.db.baselines[baselineKey(scopeID, window)]
	if !ok {
		return nil, shared.ErrSnapshotNotFound
	}
	return &s, nil
}

// SetBaseline replaces the baseline for the snapshot's (scope, window).
func (c *SnapshotCache) SetBaseline(ctx context.Context, snapshot *leaderboard.Snapshot) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	s := *snapshot
	s.Ranks = make(map[shared.UserID]int, len(snapshot.Ranks))
	for k, v := range snapshot.Ranks {
		s.Ranks[k] = v
	}
	s.XP = make(map[shared.UserID]int, len(snapshot.XP))
	for k, v := range snapshot.XP {
		s.XP[k] = v
	}
	c.db.baselines[baselineKey(snapshot.ScopeID.String(), snapshot.Window)] = s
	return nil
}
