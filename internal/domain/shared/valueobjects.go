package shared

import (
	"fmt"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents a unique user identifier.
type UserID string

// IsValid checks if the user ID is non-empty.
func (u UserID) IsValid() bool {
	return strings.TrimSpace(string(u)) != ""
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "user ID cannot be empty")
	}
	return uid, nil
}

// TaskID represents a unique task identifier.
type TaskID string

// IsValid checks if the task ID is non-empty.
func (t TaskID) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// String returns the string representation.
func (t TaskID) String() string {
	return string(t)
}

// ScopeID identifies a circle or a challenge.
type ScopeID string

// IsValid checks if the scope ID is non-empty.
func (s ScopeID) IsValid() bool {
	return strings.TrimSpace(string(s)) != ""
}

// String returns the string representation.
func (s ScopeID) String() string {
	return string(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// Task Attributes
// ═══════════════════════════════════════════════════════════════════════════

// Category classifies a task. Base XP is looked up by category.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryHealth   Category = "health"
	CategoryPersonal Category = "personal"
	CategoryFitness  Category = "fitness"
	CategoryLearning Category = "learning"
	CategoryWellness Category = "wellness"
)

// AllCategories returns every known category in display order.
func AllCategories() []Category {
	return []Category{
		CategoryWork, CategoryHealth, CategoryPersonal,
		CategoryFitness, CategoryLearning, CategoryWellness,
	}
}

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryWork, CategoryHealth, CategoryPersonal,
		CategoryFitness, CategoryLearning, CategoryWellness:
		return true
	default:
		return false
	}
}

// ParseCategory parses a category case-insensitively.
func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", NewDomainError("shared", "ParseCategory", ErrInvalidInput, fmt.Sprintf("unknown category %q", value))
	}
	return c, nil
}

// ProofType describes what a completion was backed by.
type ProofType string

const (
	ProofNone  ProofType = "none"
	ProofPhoto ProofType = "photo"
)

// IsValid checks if the proof type is known.
func (p ProofType) IsValid() bool {
	return p == ProofNone || p == ProofPhoto
}

// PrivacyLevel gates how much of a snapshot is shared.
// Levels are ordered: private ⊂ metrics ⊂ full.
type PrivacyLevel string

const (
	PrivacyPrivate PrivacyLevel = "private"
	PrivacyMetrics PrivacyLevel = "metrics"
	PrivacyFull    PrivacyLevel = "full"
)

// IsValid checks if the privacy level is known.
func (p PrivacyLevel) IsValid() bool {
	return p.rank() > 0
}

// Includes reports whether p exposes at least the fields of other.
func (p PrivacyLevel) Includes(other PrivacyLevel) bool {
	return p.rank() >= other.rank()
}

func (p PrivacyLevel) rank() int {
	switch p {
	case PrivacyPrivate:
		return 1
	case PrivacyMetrics:
		return 2
	case PrivacyFull:
		return 3
	default:
		return 0
	}
}

// ParsePrivacyLevel parses a privacy level case-insensitively.
func ParsePrivacyLevel(value string) (PrivacyLevel, error) {
	p := PrivacyLevel(strings.ToLower(strings.TrimSpace(value)))
	if !p.IsValid() {
		return "", NewDomainError("shared", "ParsePrivacyLevel", ErrInvalidInput, fmt.Sprintf("unknown privacy level %q", value))
	}
	return p, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Date Value Object (calendar day)
// ═══════════════════════════════════════════════════════════════════════════

// DateLayout is the wire format of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day without a time of day.
// The zero value means "no date".
type Date struct {
	t time.Time
}

// NewDate creates a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as seen in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewDate(local.Year(), local.Month(), local.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, WrapError("shared", "ParseDate", ErrInvalidInput, fmt.Sprintf("invalid date %q", value), err)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// DaysSince returns the number of calendar days from other to d.
func (d Date) DaysSince(other Date) int {
	return int(d.t.Sub(other.t).Hours() / 24)
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// After reports whether d is later than other.
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// Equal reports whether both dates denote the same day.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// Start returns midnight of the day in loc.
func (d Date) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.t.Year(), d.t.Month(), d.t.Day(), 0, 0, 0, 0, loc)
}

// String returns the YYYY-MM-DD representation, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination
// ═══════════════════════════════════════════════════════════════════════════

// Pagination limits the size of list results.
type Pagination struct {
	Limit int
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Normalize clamps the limit into the supported range.
func (p Pagination) Normalize() Pagination {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageSize
	case p.Limit > MaxPageSize:
		p.Limit = MaxPageSize
	}
	return p
}
