// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements ingest.Clock. Times are always UTC so fetch timestamps and
// retention cutoffs compare consistently across stores.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
