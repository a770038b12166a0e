// Package memory implements all repositories in process memory.
// It is the default backend for a single instance and for tests.
// Every repository shares one DB, so Commit is atomic across tables.
package memory

import (
	"sync"
	"time"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/internal/domain/xp"
)

// progressRow mirrors the user_progress table of the SQL backend.
type progressRow struct {
	totalXP          int
	tasksCompleted   int
	circlesJoined    int
	challengesWon    int
	sharesPosted     int
	timeSavedMinutes int
	checkpoint       eventlog.Cursor
	lastEventAt      time.Time
}

// DB holds every table behind a single lock.
type DB struct {
	mu sync.RWMutex

	seq     int64
	events  []eventlog.Event
	byKey   map[eventlog.Key]int
	entries []xp.Entry
	entryID map[string]struct{}

	streaks  map[shared.UserID]streak.Record
	unlocked map[shared.UserID]achievement.Unlocked
	progress map[shared.UserID]progressRow

	users  map[shared.UserID]user.User
	tasks  map[string]task.Task
	scopes map[string]leaderboard.Scope

	baselines map[string]leaderboard.Snapshot

	faults map[string]*fault
}

type fault struct {
	err   error
	times int
}

// NewDB creates an empty database.
func NewDB() *DB {
	return &DB{
		byKey:     make(map[eventlog.Key]int),
		entryID:   make(map[string]struct{}),
		streaks:   make(map[shared.UserID]streak.Record),
		unlocked:  make(map[shared.UserID]achievement.Unlocked),
		progress:  make(map[shared.UserID]progressRow),
		users:     make(map[shared.UserID]user.User),
		tasks:     make(map[string]task.Task),
		scopes:    make(map[string]leaderboard.Scope),
		baselines: make(map[string]leaderboard.Snapshot),
		faults:    make(map[string]*fault),
	}
}

// FailNext makes the next times calls of op fail with a storage
// unavailable error wrapping err. Op names match the method names
// of the repositories ("Append", "Commit", "TotalByUser", ...).
func (db *DB) FailNext(op string, times int, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.faults[op] = &fault{err: err, times: times}
}

// Ping always succeeds.
func (db *DB) Ping() error {
	return nil
}

// injected must be called with db.mu held.
func (db *DB) injected(op string) error {
	f, ok := db.faults[op]
	if !ok || f.times <= 0 {
		return nil
	}
	f.times--
	if f.times == 0 {
		delete(db.faults, op)
	}
	return shared.Unavailable("memory", op, f.err)
}

// injectedLocked takes the write lock to consume a fault from a reader.
func (db *DB) injectedLocked(op string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.injected(op)
}
