package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements xp.Repository.
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a ledger repository over db.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append adds entries whose IDs are not yet stored.
func (r *LedgerRepository) Append(ctx context.Context, entries []xp.Entry) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if err := r.db.injected("AppendEntries"); err != nil {
		return 0, err
	}
	return r.db.appendEntries(entries), nil
}

func (db *DB) appendEntries(entries []xp.Entry) int {
	added := 0
	for _, e := range entries {
		if _, dup := db.entryID[e.ID]; dup {
			continue
		}
		db.entryID[e.ID] = struct{}{}
		db.entries = append(db.entries, e)
		added++
	}
	return added
}

// ListByUser returns the user's entries in insertion order.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string) ([]xp.Entry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]xp.Entry, 0)
	for _, e := range r.db.entries {
		if e.UserID.String() == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// TotalByUser sums the user's entries created at or after since.
func (r *LedgerRepository) TotalByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := r.db.injectedLocked("TotalByUser"); err != nil {
		return 0, err
	}
	entries, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return xp.TotalSince(entries, since), nil
}

// Exists reports whether an entry with the ID is stored.
func (r *LedgerRepository) Exists(ctx context.Context, entryID string) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.db.entryID[entryID]
	return ok, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository.
type StreakRepository struct {
	db *DB
}

// NewStreakRepository creates a streak repository over db.
func NewStreakRepository(db *DB) *StreakRepository {
	return &StreakRepository{db: db}
}

// Get returns the user's streak or an empty record.
func (r *StreakRepository) Get(ctx context.Context, userID string) (streak.Record, error) {
	if err := r.db.injectedLocked("GetStreak"); err != nil {
		return streak.Record{}, err
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	if rec, ok := r.db.streaks[shared.UserID(userID)]; ok {
		return rec, nil
	}
	return streak.NewRecord(shared.UserID(userID)), nil
}

// Save stores the record.
func (r *StreakRepository) Save(ctx context.Context, record streak.Record) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.streaks[record.UserID] = record
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	db *DB
}

// NewAchievementRepository creates an achievement repository over db.
func NewAchievementRepository(db *DB) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// Unlock records unlocks, keeping the first UnlockedAt.
func (r *AchievementRepository) Unlock(ctx context.Context, items []achievement.Progress) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.unlock(items)
	return nil
}

func (db *DB) unlock(items []achievement.Progress) {
	for _, p := range items {
		if p.UnlockedAt == nil {
			continue
		}
		set, ok := db.unlocked[p.UserID]
		if !ok {
			set = achievement.Unlocked{}
			db.unlocked[p.UserID] = set
		}
		if !set.Has(p.AchievementID) {
			set[p.AchievementID] = *p.UnlockedAt
		}
	}
}

// ListUnlocked returns a copy of the user's unlocked set.
func (r *AchievementRepository) ListUnlocked(ctx context.Context, userID string) (achievement.Unlocked, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.db.unlocked[shared.UserID(userID)].Clone(), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED STATE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository.
type ProgressRepository struct {
	db *DB
}

// NewProgressRepository creates a derived state repository over db.
func NewProgressRepository(db *DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Load assembles the user's derived state from all tables.
func (r *ProgressRepository) Load(ctx context.Context, userID string) (progress.State, error) {
	if err := ctx.Err(); err != nil {
		return progress.State{}, shared.Unavailable("memory", "Load", err)
	}
	if err := r.db.injectedLocked("Load"); err != nil {
		return progress.State{}, err
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	id := shared.UserID(userID)
	s := progress.NewState(id)
	if rec, ok := r.db.streaks[id]; ok {
		s.Streak = rec
	}
	if set, ok := r.db.unlocked[id]; ok {
		s.Unlocked = set.Clone()
	}
	if row, ok := r.db.progress[id]; ok {
		s.TotalXP = row.totalXP
		s.TasksCompleted = row.tasksCompleted
		s.CirclesJoined = row.circlesJoined
		s.ChallengesWon = row.challengesWon
		s.SharesPosted = row.sharesPosted
		s.TimeSavedMinutes = row.timeSavedMinutes
		s.Checkpoint = row.checkpoint
		s.LastEventAt = row.lastEventAt
	}
	return s, nil
}

// Commit writes the state and the outcomes under one lock.
func (r *ProgressRepository) Commit(ctx context.Context, base eventlog.Cursor, state progress.State, outcomes []progress.Outcome) error {
	if err := ctx.Err(); err != nil {
		return shared.Unavailable("memory", "Commit", err)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if err := r.db.injected("Commit"); err != nil {
		return err
	}
	if stored := r.db.progress[state.UserID].checkpoint; stored != base {
		return shared.NewDomainError("memory", "Commit", shared.ErrConcurrentModification,
			fmt.Sprintf("checkpoint moved from %q to %q", base, stored))
	}

	for _, out := range outcomes {
		r.db.appendEntries(out.Entries)
		r.db.unlock(out.Unlocked)
	}
	r.db.streaks[state.UserID] = state.Streak
	r.db.progress[state.UserID] = progressRow{
		totalXP:          state.TotalXP,
		tasksCompleted:   state.TasksCompleted,
		circlesJoined:    state.CirclesJoined,
		challengesWon:    state.ChallengesWon,
		sharesPosted:     state.SharesPosted,
		timeSavedMinutes: state.TimeSavedMinutes,
		checkpoint:       state.Checkpoint,
		lastEventAt:      state.LastEventAt,
	}
	return nil
}
