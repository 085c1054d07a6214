// Package ids generates message identifiers and ordering timestamps.
package ids

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator hands out (timestamp, id) pairs that are strictly increasing within
// the process. Timestamps are UTC and truncated to microseconds, the precision
// every supported store persists without rounding.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// New returns a Generator reading the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock returns a Generator reading the given clock.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Now returns a timestamp strictly after every timestamp previously returned.
// If the wall clock stalls or steps backward, the last value is advanced by one microsecond.
func (g *Generator) Now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextLocked()
}

// Next returns a fresh timestamp together with a UUIDv7 minted under the same lock,
// so that ids sort in the same order as their timestamps.
func (g *Generator) Next() (time.Time, uuid.UUID) {
	return g.NextAfter(time.Time{})
}

// NextAfter is Next with the timestamp forced strictly after floor. Stores pass the
// newest timestamp already committed, which may come from another process whose
// clock runs ahead of this one.
func (g *Generator) NextAfter(floor time.Time) (time.Time, uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if floor = floor.UTC().Truncate(time.Microsecond); floor.After(g.last) {
		g.last = floor
	}
	ts := g.nextLocked()
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ts, id
}

func (g *Generator) nextLocked() time.Time {
	ts := g.now().UTC().Truncate(time.Microsecond)
	if !ts.After(g.last) {
		ts = g.last.Add(time.Microsecond)
	}
	g.last = ts
	return ts
}
