// Package timeutil provides clocks and timezone helpers.
// Calendar days for streaks and leaderboard windows are computed in a
// configured location rather than in UTC.
package timeutil

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Clock abstracts the current time so the engine can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// Now returns the current time in the clock's location.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock set to t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// LoadLocation resolves an IANA zone name. "UTC" and "" map to time.UTC.
// A "+05:00" style offset yields a fixed zone.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "UTC", "utc":
		return time.UTC, nil
	}

	if len(name) == 6 && (name[0] == '+' || name[0] == '-') && name[3] == ':' {
		hours, errH := strconv.Atoi(name[1:3])
		minutes, errM := strconv.Atoi(name[4:6])
		if errH != nil || errM != nil {
			return nil, fmt.Errorf("timeutil: invalid offset %q", name)
		}
		offset := hours*3600 + minutes*60
		if name[0] == '-' {
			offset = -offset
		}
		return time.FixedZone(name, offset), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown location %q: %w", name, err)
	}
	return loc, nil
}

// StartOfDay returns midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last instant of t's day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfLastNDays returns midnight of the first day of the n-day window
// ending on t's day (inclusive).
func StartOfLastNDays(t time.Time, n int, loc *time.Location) time.Time {
	if n < 1 {
		n = 1
	}
	return StartOfDay(t, loc).AddDate(0, 0, -(n - 1))
}

// IsSameDay checks if two times fall on the same day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return StartOfDay(t1, loc).Equal(StartOfDay(t2, loc))
}

// DaysBetween counts calendar days from t1 to t2 in loc.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	d1 := StartOfDay(t1, loc)
	d2 := StartOfDay(t2, loc)
	y1, m1, day1 := d1.Date()
	y2, m2, day2 := d2.Date()
	u1 := time.Date(y1, m1, day1, 0, 0, 0, 0, time.UTC)
	u2 := time.Date(y2, m2, day2, 0, 0, 0, 0, time.UTC)
	return int(u2.Sub(u1).Hours() / 24)
}
