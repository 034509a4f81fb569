// Package system provides the wall-clock implementation of the Clock
// interface consumed by the runner and store.
package system

import "time"

// Clock returns the current UTC time.
type Clock struct{}

// New constructs a system Clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current time in UTC. Stored timestamps are always UTC so
// created_at ordering is stable across host timezone changes.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}
