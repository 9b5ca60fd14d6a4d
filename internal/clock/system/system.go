// Package system provides the wall clock.
package system

import "time"

// Clock implements crawler.Clock using time.Now in a fixed location. The
// location decides which calendar day "today" is for crawl windows.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reading UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a Clock reading loc. A nil loc means UTC.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Location reports the clock's location.
func (c *Clock) Location() *time.Location {
	if c == nil || c.loc == nil {
		return time.UTC
	}
	return c.loc
}
