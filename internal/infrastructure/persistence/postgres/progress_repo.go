package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lifeloop/progression/internal/domain/achievement"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/streak"
	"github.com/lifeloop/progression/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements xp.Repository for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append inserts entries, skipping IDs that already exist.
func (r *LedgerRepository) Append(ctx context.Context, entries []xp.Entry) (int, error) {
	added := 0
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		n, err := insertEntries(ctx, tx, entries)
		added = n
		return err
	})
	if err != nil {
		return 0, classify("AppendEntries", err)
	}
	return added, nil
}

func insertEntries(ctx context.Context, q Querier, entries []xp.Entry) (int, error) {
	query := `
		INSERT INTO xp_entries (id, user_id, source_event_id, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	added := 0
	for _, e := range entries {
		tag, err := q.Exec(ctx, query,
			e.ID,
			e.UserID.String(),
			e.SourceEventID.String(),
			e.Amount,
			string(e.Reason),
			e.CreatedAt.UTC(),
		)
		if err != nil {
			return added, err
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// ListByUser returns the user's entries in insertion order.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string) ([]xp.Entry, error) {
	query := `
		SELECT id, user_id, source_event_id, amount, reason, created_at
		FROM xp_entries
		WHERE user_id = $1
		ORDER BY position
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, classify("ListByUser", err)
	}
	defer rows.Close()

	out := make([]xp.Entry, 0)
	for rows.Next() {
		var (
			e           xp.Entry
			uid, source string
			reason      string
		)
		if err := rows.Scan(&e.ID, &uid, &source, &e.Amount, &reason, &e.CreatedAt); err != nil {
			return nil, classify("ListByUser", err)
		}
		e.UserID = shared.UserID(uid)
		e.SourceEventID = eventlog.ID(source)
		e.Reason = xp.Reason(reason)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("ListByUser", err)
	}
	return out, nil
}

// TotalByUser sums the user's entries created at or after since.
func (r *LedgerRepository) TotalByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM xp_entries
		WHERE user_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
	`

	var total int
	if err := r.conn.QueryRow(ctx, query, userID, timeArg(since)).Scan(&total); err != nil {
		return 0, classify("TotalByUser", err)
	}
	return total, nil
}

// Exists reports whether an entry with the ID is stored.
func (r *LedgerRepository) Exists(ctx context.Context, entryID string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM xp_entries WHERE id = $1)`, entryID).Scan(&exists)
	if err != nil {
		return false, classify("Exists", err)
	}
	return exists, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	conn *Connection
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

// Get returns the user's streak or an empty record.
func (r *StreakRepository) Get(ctx context.Context, userID string) (streak.Record, error) {
	rec, err := loadStreak(ctx, r.conn, userID)
	if err != nil {
		return streak.Record{}, classify("GetStreak", err)
	}
	return rec, nil
}

// Save stores the record.
func (r *StreakRepository) Save(ctx context.Context, record streak.Record) error {
	return classify("SaveStreak", saveStreak(ctx, r.conn, record))
}

func loadStreak(ctx context.Context, q Querier, userID string) (streak.Record, error) {
	query := `
		SELECT current_days, longest_days, last_active, started_on
		FROM streaks
		WHERE user_id = $1
	`

	rec := streak.NewRecord(shared.UserID(userID))
	var lastActive, startedOn *time.Time
	err := q.QueryRow(ctx, query, userID).Scan(&rec.Current, &rec.Longest, &lastActive, &startedOn)
	if err != nil {
		if IsNoRows(err) {
			return rec, nil
		}
		return streak.Record{}, err
	}
	rec.LastActive = dateFrom(lastActive)
	rec.StartedOn = dateFrom(startedOn)
	return rec, nil
}

func saveStreak(ctx context.Context, q Querier, rec streak.Record) error {
	query := `
		INSERT INTO streaks (user_id, current_days, longest_days, last_active, started_on, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			current_days = EXCLUDED.current_days,
			longest_days = EXCLUDED.longest_days,
			last_active = EXCLUDED.last_active,
			started_on = EXCLUDED.started_on,
			updated_at = NOW()
	`

	_, err := q.Exec(ctx, query,
		rec.UserID.String(),
		rec.Current,
		rec.Longest,
		dateArg(rec.LastActive),
		dateArg(rec.StartedOn),
	)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// Unlock records unlocks, keeping the first UnlockedAt.
func (r *AchievementRepository) Unlock(ctx context.Context, items []achievement.Progress) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return insertUnlocks(ctx, tx, items)
	})
	return classify("Unlock", err)
}

func insertUnlocks(ctx context.Context, q Querier, items []achievement.Progress) error {
	query := `
		INSERT INTO achievements (user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`

	for _, p := range items {
		if p.UnlockedAt == nil {
			continue
		}
		if _, err := q.Exec(ctx, query, p.UserID.String(), p.AchievementID, p.UnlockedAt.UTC()); err != nil {
			return err
		}
	}
	return nil
}

// ListUnlocked returns the user's unlocked set.
func (r *AchievementRepository) ListUnlocked(ctx context.Context, userID string) (achievement.Unlocked, error) {
	set, err := loadUnlocked(ctx, r.conn, userID)
	if err != nil {
		return nil, classify("ListUnlocked", err)
	}
	return set, nil
}

func loadUnlocked(ctx context.Context, q Querier, userID string) (achievement.Unlocked, error) {
	rows, err := q.Query(ctx, `SELECT achievement_id, unlocked_at FROM achievements WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := achievement.Unlocked{}
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		set[id] = at.UTC()
	}
	return set, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED STATE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// Load assembles the user's derived state in one read-only snapshot.
func (r *ProgressRepository) Load(ctx context.Context, userID string) (progress.State, error) {
	state := progress.NewState(shared.UserID(userID))

	opts := TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := r.conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
		rec, err := loadStreak(ctx, tx, userID)
		if err != nil {
			return err
		}
		state.Streak = rec

		unlocked, err := loadUnlocked(ctx, tx, userID)
		if err != nil {
			return err
		}
		state.Unlocked = unlocked

		return loadCounters(ctx, tx, &state)
	})
	if err != nil {
		return progress.State{}, classify("Load", err)
	}
	return state, nil
}

func loadCounters(ctx context.Context, q Querier, state *progress.State) error {
	query := `
		SELECT total_xp, tasks_completed, circles_joined, challenges_won,
			   shares_posted, time_saved_minutes, checkpoint, last_event_at
		FROM user_progress
		WHERE user_id = $1
	`

	var checkpoint string
	var lastEventAt *time.Time
	err := q.QueryRow(ctx, query, state.UserID.String()).Scan(
		&state.TotalXP,
		&state.TasksCompleted,
		&state.CirclesJoined,
		&state.ChallengesWon,
		&state.SharesPosted,
		&state.TimeSavedMinutes,
		&checkpoint,
		&lastEventAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil
		}
		return err
	}
	state.Checkpoint = eventlog.Cursor(checkpoint)
	state.LastEventAt = timeFrom(lastEventAt)
	return nil
}

// Commit writes the state and the outcomes in one transaction.
func (r *ProgressRepository) Commit(ctx context.Context, base eventlog.Cursor, state progress.State, outcomes []progress.Outcome) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// The counters row is written first: it holds the row lock and
		// fences the rest of the transaction.
		if err := saveCounters(ctx, tx, base, state); err != nil {
			return err
		}
		for _, out := range outcomes {
			if _, err := insertEntries(ctx, tx, out.Entries); err != nil {
				return err
			}
			if err := insertUnlocks(ctx, tx, out.Unlocked); err != nil {
				return err
			}
		}
		return saveStreak(ctx, tx, state.Streak)
	})
	return classify("Commit", err)
}

// saveCounters upserts the counters only while the stored checkpoint is
// still base. A stale writer updates no row and gets a conflict.
func saveCounters(ctx context.Context, q Querier, base eventlog.Cursor, state progress.State) error {
	query := `
		INSERT INTO user_progress (
			user_id, total_xp, tasks_completed, circles_joined, challenges_won,
			shares_posted, time_saved_minutes, checkpoint, last_event_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			tasks_completed = EXCLUDED.tasks_completed,
			circles_joined = EXCLUDED.circles_joined,
			challenges_won = EXCLUDED.challenges_won,
			shares_posted = EXCLUDED.shares_posted,
			time_saved_minutes = EXCLUDED.time_saved_minutes,
			checkpoint = EXCLUDED.checkpoint,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = NOW()
		WHERE user_progress.checkpoint = $10
	`

	tag, err := q.Exec(ctx, query,
		state.UserID.String(),
		state.TotalXP,
		state.TasksCompleted,
		state.CirclesJoined,
		state.ChallengesWon,
		state.SharesPosted,
		state.TimeSavedMinutes,
		string(state.Checkpoint),
		timeArg(state.LastEventAt),
		string(base),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "Commit", shared.ErrConcurrentModification,
			fmt.Sprintf("checkpoint of %s moved past %q", state.UserID, base))
	}
	return nil
}
