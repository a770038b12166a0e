package memory

import (
	"context"

	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// EventStore implements eventlog.Store.
type EventStore struct {
	db *DB
}

// NewEventStore creates an event store over db.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append stores the event unless its key already exists.
func (s *EventStore) Append(ctx context.Context, event eventlog.Event) (eventlog.ID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, shared.Unavailable("memory", "Append", err)
	}
	if err := event.Validate(); err != nil {
		return "", false, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if err := s.db.injected("Append"); err != nil {
		return "", false, err
	}

	key := event.Key()
	if idx, ok := s.db.byKey[key]; ok {
		return s.db.events[idx].ID, false, nil
	}

	if event.ID == "" {
		event.ID = eventlog.NewID()
	}
	s.db.seq++
	event.Sequence = s.db.seq
	s.db.events = append(s.db.events, event)
	s.db.byKey[key] = len(s.db.events) - 1
	return event.ID, true, nil
}

// FindByKey returns the stored event for key.
func (s *EventStore) FindByKey(ctx context.Context, key eventlog.Key) (*eventlog.Event, error) {
	if err := s.db.injectedLocked("FindByKey"); err != nil {
		return nil, err
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	idx, ok := s.db.byKey[key]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	ev := s.db.events[idx]
	return &ev, nil
}

// ListSince returns a page of the user's events after cursor.
func (s *EventStore) ListSince(ctx context.Context, userID string, cursor eventlog.Cursor, limit int) (eventlog.Page, error) {
	after, err := cursor.Sequence()
	if err != nil {
		return eventlog.Page{}, err
	}
	limit = shared.Pagination{Limit: limit}.Normalize().Limit

	if err := s.db.injectedLocked("ListSince"); err != nil {
		return eventlog.Page{}, err
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	page := eventlog.Page{Next: cursor, Done: true}
	for _, ev := range s.db.events {
		if ev.UserID.String() != userID || ev.Sequence <= after {
			continue
		}
		if len(page.Events) == limit {
			page.Done = false
			break
		}
		page.Events = append(page.Events, ev)
		page.Next = eventlog.CursorAfter(ev.Sequence)
	}
	return page, nil
}
