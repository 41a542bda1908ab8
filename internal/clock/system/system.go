// Package system reads the wall clock for scans, jobs and leases.
package system

import (
	"time"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// storePrecision is the finest resolution timestamptz keeps. Timestamps are
// cut to it so a value read back from Postgres equals the one written.
const storePrecision = time.Microsecond

// Clock is the production monitor.Clock.
type Clock struct {
	now func() time.Time
}

var _ monitor.Clock = Clock{}

// New returns a Clock backed by time.Now.
func New() Clock {
	return Clock{now: time.Now}
}

// Now returns the current UTC time at store precision.
func (c Clock) Now() time.Time {
	read := c.now
	if read == nil {
		read = time.Now
	}
	return read().UTC().Truncate(storePrecision)
}
