// Package usage tracks generation-service call counts per day, per month
// and in total, plus an error count. Counters roll over by comparing the
// last request time with the time of the update.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// Counter stores usage counters. Implementations must be safe for
// concurrent use; increments from concurrent pipeline runs may not be lost.
type Counter interface {
	// Record counts one call made at `at`. failed also bumps the error count.
	Record(ctx context.Context, at time.Time, failed bool) error
	// Stats returns the counters as seen at now.
	Stats(ctx context.Context, now time.Time) (model.UsageStats, error)
}

// Tracker is the pipeline's view of a Counter. Counter failures are logged
// and never interrupt a run.
type Tracker struct {
	counter Counter
	now     func() time.Time
}

// NewTracker wraps counter. A nil counter selects an in-memory counter.
func NewTracker(counter Counter) *Tracker {
	if counter == nil {
		counter = NewMemoryCounter()
	}
	return &Tracker{counter: counter, now: time.Now}
}

// WithClock overrides the tracker's time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Record counts one call to operation; callErr marks it failed.
func (t *Tracker) Record(ctx context.Context, operation string, callErr error) {
	if t == nil {
		return
	}
	if err := t.counter.Record(ctx, t.now(), callErr != nil); err != nil {
		log.Warn().Err(err).Str("operation", operation).Msg("Failed to record usage")
	}
}

// Stats returns the current counters.
func (t *Tracker) Stats(ctx context.Context) (model.UsageStats, error) {
	return t.counter.Stats(ctx, t.now())
}

// MemoryCounter keeps counters in process memory behind a mutex.
type MemoryCounter struct {
	mu    sync.Mutex
	stats model.UsageStats
}

// NewMemoryCounter returns an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{}
}

// Record implements Counter.
func (c *MemoryCounter) Record(_ context.Context, at time.Time, failed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = rolled(c.stats, at)
	c.stats.RequestsToday++
	c.stats.RequestsThisMonth++
	c.stats.TotalRequests++
	if failed {
		c.stats.ErrorCount++
	}
	if at.After(c.stats.LastRequestAt) {
		c.stats.LastRequestAt = at
	}
	return nil
}

// Stats implements Counter.
func (c *MemoryCounter) Stats(_ context.Context, now time.Time) (model.UsageStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rolled(c.stats, now), nil
}

// rolled zeroes the daily and monthly counters of s when now falls on a
// later day or month than s.LastRequestAt.
func rolled(s model.UsageStats, now time.Time) model.UsageStats {
	if s.LastRequestAt.IsZero() {
		return s
	}
	last := s.LastRequestAt.In(now.Location())
	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm {
		s.RequestsThisMonth = 0
		s.RequestsToday = 0
	} else if ld != nd {
		s.RequestsToday = 0
	}
	return s
}
