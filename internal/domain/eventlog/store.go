package eventlog

import (
	"context"
)

// Store is the persistence contract for the event log.
//
// Appends are idempotent by Key: appending an event whose key already
// exists is a no-op that returns the stored event's ID and appended=false.
// Storage failures surface as shared.ErrStorageUnavailable so callers can
// retry; no derived state may change before an append is acknowledged.
type Store interface {
	// Append durably stores the event, assigning its sequence.
	Append(ctx context.Context, event Event) (id ID, appended bool, err error)

	// FindByKey returns the event stored under an idempotency key.
	// Returns shared.ErrEventNotFound if none exists.
	FindByKey(ctx context.Context, key Key) (*Event, error)

	// ListSince returns up to limit events of the user after cursor,
	// ordered by sequence.
	//
	// Sequence order is the timestamp order of the user's log only because
	// writers append under the per-user lock and stamp each event no
	// earlier than the last applied one (progression.Projector.EventTime).
	// A writer that appends without the lock or with its own timestamps
	// breaks that order; readers never re-sort by timestamp.
	ListSince(ctx context.Context, userID string, cursor Cursor, limit int) (Page, error)
}

// Walk iterates over the user's log from cursor to the end, page by page,
// calling fn for every event. It stops at the first error.
func Walk(ctx context.Context, store Store, userID string, cursor Cursor, pageSize int, fn func(Event) error) (Cursor, error) {
	for {
		page, err := store.ListSince(ctx, userID, cursor, pageSize)
		if err != nil {
			return cursor, err
		}
		for _, ev := range page.Events {
			if err := fn(ev); err != nil {
				return cursor, err
			}
			cursor = CursorAfter(ev.Sequence)
		}
		if page.Done || len(page.Events) == 0 {
			return cursor, nil
		}
		cursor = page.Next
	}
}
