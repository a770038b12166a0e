package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EventStore implements eventlog.Store for PostgreSQL.
type EventStore struct {
	conn *Connection
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Connection) *EventStore {
	return &EventStore{conn: conn}
}

const eventColumns = `
	seq, id, kind, user_id, subject_id, occurrence_date, activity_date, recurring,
	occurred_at, proof_type, privacy_level, category, priority, time_saved_minutes
`

// Append inserts the event unless its idempotency key is already stored.
func (s *EventStore) Append(ctx context.Context, event eventlog.Event) (eventlog.ID, bool, error) {
	if err := event.Validate(); err != nil {
		return "", false, err
	}
	if event.ID == "" {
		event.ID = eventlog.NewID()
	}
	key := event.Key()

	query := `
		INSERT INTO events (
			id, idem_key, kind, user_id, subject_id, occurrence_date, activity_date,
			recurring, occurred_at, proof_type, privacy_level, category, priority,
			time_saved_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idem_key) DO NOTHING
		RETURNING id
	`

	var id string
	err := s.conn.QueryRow(ctx, query,
		event.ID.String(),
		key.String(),
		string(event.Kind),
		event.UserID.String(),
		event.SubjectID,
		dateArg(event.OccurrenceDate),
		dateArg(event.ActivityDate),
		event.Recurring,
		event.Timestamp.UTC(),
		string(event.ProofType),
		string(event.PrivacyLevel),
		string(event.Category),
		event.Priority,
		event.TimeSavedMinutes,
	).Scan(&id)
	switch {
	case err == nil:
		return eventlog.ID(id), true, nil
	case IsNoRows(err):
		// Lost the race or a replay: the key is already logged.
		existing, findErr := s.FindByKey(ctx, key)
		if findErr != nil {
			return "", false, findErr
		}
		return existing.ID, false, nil
	default:
		return "", false, classify("Append", err)
	}
}

// FindByKey returns the stored event for key.
func (s *EventStore) FindByKey(ctx context.Context, key eventlog.Key) (*eventlog.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE idem_key = $1`

	ev, err := scanEvent(s.conn.QueryRow(ctx, query, key.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEventNotFound
		}
		return nil, classify("FindByKey", err)
	}
	return &ev, nil
}

// ListSince returns a page of the user's events after cursor.
func (s *EventStore) ListSince(ctx context.Context, userID string, cursor eventlog.Cursor, limit int) (eventlog.Page, error) {
	after, err := cursor.Sequence()
	if err != nil {
		return eventlog.Page{}, err
	}
	limit = shared.Pagination{Limit: limit}.Normalize().Limit

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE user_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`

	// One extra row tells whether more events follow.
	rows, err := s.conn.Query(ctx, query, userID, after, limit+1)
	if err != nil {
		return eventlog.Page{}, classify("ListSince", err)
	}
	defer rows.Close()

	events := make([]eventlog.Event, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return eventlog.Page{}, classify("ListSince", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return eventlog.Page{}, classify("ListSince", err)
	}

	return buildPage(events, cursor, limit), nil
}

// buildPage trims a limit+1 result to one page.
func buildPage(events []eventlog.Event, cursor eventlog.Cursor, limit int) eventlog.Page {
	page := eventlog.Page{Next: cursor, Done: len(events) <= limit}
	if !page.Done {
		events = events[:limit]
	}
	page.Events = events
	if n := len(events); n > 0 {
		page.Next = eventlog.CursorAfter(events[n-1].Sequence)
	}
	return page
}

func scanEvent(row pgx.Row) (eventlog.Event, error) {
	var (
		ev                           eventlog.Event
		id, kind, userID             string
		proof, privacy, category     string
		occurrenceDate, activityDate *time.Time
	)
	err := row.Scan(
		&ev.Sequence,
		&id,
		&kind,
		&userID,
		&ev.SubjectID,
		&occurrenceDate,
		&activityDate,
		&ev.Recurring,
		&ev.Timestamp,
		&proof,
		&privacy,
		&category,
		&ev.Priority,
		&ev.TimeSavedMinutes,
	)
	if err != nil {
		return eventlog.Event{}, err
	}

	ev.ID = eventlog.ID(id)
	ev.Kind = eventlog.Kind(kind)
	ev.UserID = shared.UserID(userID)
	ev.OccurrenceDate = dateFrom(occurrenceDate)
	ev.ActivityDate = dateFrom(activityDate)
	ev.ProofType = shared.ProofType(proof)
	ev.PrivacyLevel = shared.PrivacyLevel(privacy)
	ev.Category = shared.Category(category)
	return ev, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COLUMN HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// dateArg returns the DATE parameter of d, NULL for the zero date.
func dateArg(d shared.Date) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.Start(time.UTC)
}

// dateFrom converts a scanned DATE column.
func dateFrom(t *time.Time) shared.Date {
	if t == nil || t.IsZero() {
		return shared.Date{}
	}
	return shared.DateOf(*t, time.UTC)
}

// timeArg returns a nullable TIMESTAMPTZ parameter.
func timeArg(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// timeFrom converts a scanned nullable TIMESTAMPTZ column.
func timeFrom(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
