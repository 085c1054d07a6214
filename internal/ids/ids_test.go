package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsStrictlyIncreasingWhenClockStalls(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	g := NewWithClock(func() time.Time { return fixed })

	a := g.Now()
	b := g.Now()
	assert.Equal(t, fixed.Truncate(time.Microsecond), a)
	assert.Equal(t, a.Add(time.Microsecond), b)
}

func TestNowSurvivesBackwardClockStep(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewWithClock(func() time.Time { return clock })
	first := g.Now()
	clock = clock.Add(-time.Hour)
	assert.True(t, g.Now().After(first))
}

func TestNextIsOrderedUnderConcurrency(t *testing.T) {
	g := New()
	const n = 500
	type pair struct {
		ts time.Time
		id uuid.UUID
	}
	results := make(chan pair, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts, id := g.Next()
			results <- pair{ts, id}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[time.Time]bool{}
	for p := range results {
		require.False(t, seen[p.ts], "duplicate timestamp %s", p.ts)
		seen[p.ts] = true
		assert.Equal(t, time.UTC, p.ts.Location())
	}
	assert.Len(t, seen, n)
}

func TestNextAfterStaysAheadOfFloor(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewWithClock(func() time.Time { return clock })

	floor := clock.Add(2 * time.Second)
	ts, _ := g.NextAfter(floor)
	assert.Equal(t, floor.Add(time.Microsecond), ts)

	// Later calls keep increasing even though the local clock is still behind.
	next, _ := g.Next()
	assert.True(t, next.After(ts))

	// A floor in the past does not hold the clock back.
	clock = clock.Add(time.Hour)
	ts, _ = g.NextAfter(floor)
	assert.Equal(t, clock, ts)
}
