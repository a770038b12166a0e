package application

import (
	"github.com/lifeloop/progression/internal/infrastructure/persistence/memory"
)

// MemoryRepositories backs every repository with one in-process DB.
func MemoryRepositories(db *memory.DB) Repositories {
	return Repositories{
		Events:    memory.NewEventStore(db),
		States:    memory.NewProgressRepository(db),
		Ledger:    memory.NewLedgerRepository(db),
		Streaks:   memory.NewStreakRepository(db),
		Users:     memory.NewUserRepository(db),
		Tasks:     memory.NewTaskRepository(db),
		Scopes:    memory.NewScopeRepository(db),
		Baselines: memory.NewSnapshotCache(db),
	}
}
