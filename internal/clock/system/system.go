// Package system provides the wall clock used to stamp audit summaries.
package system

import "time"

// Clock implements ingest.Clock with UTC wall time truncated to seconds so
// summary timestamps and file names agree.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
