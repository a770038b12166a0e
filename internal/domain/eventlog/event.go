// Package eventlog defines the append-only log of progression events.
// Every derived value (XP, streaks, achievements, leaderboards) is a
// projection of this log and can be rebuilt from it.
// This is a pure domain layer; storage lives in infrastructure.
package eventlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lifeloop/progression/internal/domain/shared"
)

// ID uniquely identifies a stored event.
type ID string

// NewID generates a random event ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// Kind is the type of a logged event.
type Kind string

const (
	KindTaskCompleted  Kind = "task_completed"
	KindProgressShared Kind = "progress_shared"
	KindCircleJoined   Kind = "circle_joined"
	KindChallengeWon   Kind = "challenge_won"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindTaskCompleted, KindProgressShared, KindCircleJoined, KindChallengeWon:
		return true
	default:
		return false
	}
}

// Key is the idempotency key of an event. Two events with the same key
// describe the same real-world fact; only the first one is stored.
type Key string

// String returns the string representation of the key.
func (k Key) String() string {
	return string(k)
}

// Event is an immutable fact about a user's progress.
type Event struct {
	ID ID

	// Sequence is assigned by the store on append and orders the log.
	Sequence int64

	Kind   Kind
	UserID shared.UserID

	// SubjectID is the task, circle or challenge the event is about.
	// Empty for shares.
	SubjectID string

	// OccurrenceDate disambiguates recurring tasks and daily shares.
	OccurrenceDate shared.Date

	// ActivityDate is the calendar day the activity counts towards for streaks.
	ActivityDate shared.Date

	// Recurring marks completions of a recurring task.
	Recurring bool

	Timestamp time.Time

	ProofType    shared.ProofType
	PrivacyLevel shared.PrivacyLevel
	Category     shared.Category
	Priority     bool

	// TimeSavedMinutes feeds the time-saved wallet.
	TimeSavedMinutes int
}

// Key returns the idempotency key of the event.
func (e Event) Key() Key {
	switch e.Kind {
	case KindTaskCompleted:
		if e.Recurring {
			return Key(fmt.Sprintf("task:%s:%s:%s", e.UserID, e.SubjectID, e.OccurrenceDate))
		}
		return Key(fmt.Sprintf("task:%s:%s", e.UserID, e.SubjectID))
	case KindProgressShared:
		return Key(fmt.Sprintf("share:%s:%s", e.UserID, e.OccurrenceDate))
	case KindCircleJoined:
		return Key(fmt.Sprintf("circle:%s:%s", e.UserID, e.SubjectID))
	case KindChallengeWon:
		return Key(fmt.Sprintf("challenge:%s:%s", e.UserID, e.SubjectID))
	default:
		return Key(fmt.Sprintf("%s:%s:%s", e.Kind, e.UserID, e.ID))
	}
}

// Validate checks the event before it is appended.
func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidInput, fmt.Sprintf("unknown kind %q", e.Kind))
	}
	if !e.UserID.IsValid() {
		return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidID, "user ID is required")
	}
	if e.Timestamp.IsZero() {
		return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidInput, "timestamp is required")
	}
	if e.ActivityDate.IsZero() {
		return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidInput, "activity date is required")
	}

	switch e.Kind {
	case KindTaskCompleted:
		if e.SubjectID == "" {
			return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidID, "task ID is required")
		}
		if e.Recurring && e.OccurrenceDate.IsZero() {
			return shared.ErrOccurrenceNeeded
		}
		if !e.Category.IsValid() {
			return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidInput, "category is required")
		}
	case KindProgressShared:
		if e.OccurrenceDate.IsZero() {
			return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidInput, "share date is required")
		}
		if !e.PrivacyLevel.IsValid() {
			return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidInput, "privacy level is required")
		}
	case KindCircleJoined, KindChallengeWon:
		if e.SubjectID == "" {
			return shared.NewDomainError("eventlog", "Validate", shared.ErrInvalidID, "scope ID is required")
		}
	}
	return nil
}

// String returns a compact representation for logging.
func (e Event) String() string {
	return fmt.Sprintf("Event{ID: %s, Kind: %s, User: %s, Subject: %s, Seq: %d}",
		e.ID, e.Kind, e.UserID, e.SubjectID, e.Sequence)
}

// ══════════════════════════════════════════════════════════════════════════════
// CURSOR & PAGE
// ══════════════════════════════════════════════════════════════════════════════

// Cursor marks a position in a user's log. The empty cursor is the start.
type Cursor string

// Start is the cursor before the first event.
const Start Cursor = ""

const cursorPrefix = "seq_"

// CursorAfter returns the cursor positioned after the given sequence.
func CursorAfter(seq int64) Cursor {
	return Cursor(cursorPrefix + strconv.FormatInt(seq, 10))
}

// Sequence returns the sequence the cursor points after.
func (c Cursor) Sequence() (int64, error) {
	if c == Start {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(string(c), cursorPrefix)
	if !ok {
		return 0, shared.ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, shared.ErrInvalidCursor
	}
	return seq, nil
}

// Page is one finite slice of a user's log.
type Page struct {
	Events []Event

	// Next resumes listing after the last event of this page.
	Next Cursor

	// Done is true when no events exist after this page.
	Done bool
}
