package presence

import (
	"context"
	"log"
	"time"
)

// DefaultFlushInterval is how often accumulated online time is written out
// for every live session.
const DefaultFlushInterval = 5 * time.Minute

// ActivityStore persists per-user, per-day accumulated online duration.
// AddDailyActiveTime only ever adds; a day bucket never shrinks.
type ActivityStore interface {
	AddDailyActiveTime(ctx context.Context, userID int64, day time.Time, seconds int64) error
}

// Aggregator turns session lifetimes into day-bucketed duration records. It
// runs on a periodic tick over a registry snapshot and is also invoked
// directly when the supervisor finalizes an offline transition.
type Aggregator struct {
	registry *Registry
	store    ActivityStore
	interval time.Duration

	now func() time.Time
}

func NewAggregator(registry *Registry, store ActivityStore) *Aggregator {
	return &Aggregator{
		registry: registry,
		store:    store,
		interval: DefaultFlushInterval,
		now:      time.Now,
	}
}

// SetInterval overrides the tick interval. Must be called before Run.
func (a *Aggregator) SetInterval(d time.Duration) {
	if d > 0 {
		a.interval = d
	}
}

// Run flushes all live sessions on every tick until the context is cancelled.
// Call it in its own goroutine.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.FlushAll(ctx)
		}
	}
}

// FlushAll writes out accumulated time for every session in the registry.
// One user's persistence failure is logged and never aborts the others.
func (a *Aggregator) FlushAll(ctx context.Context) {
	for _, session := range a.registry.Snapshot() {
		if err := a.FlushUser(ctx, session.UserID); err != nil {
			log.Printf("presence: flush activity for user %d: %v", session.UserID, err)
		}
	}
}

// FlushUser merges the time elapsed since the session's last activity update
// into the day bucket current right now. An interval spanning midnight is not
// split; the whole amount lands on the flush-time day. No session means
// nothing to flush.
func (a *Aggregator) FlushUser(ctx context.Context, userID int64) error {
	now := a.now()
	elapsed, ok := a.registry.Touch(userID, now)
	if !ok {
		return nil
	}
	seconds := int64(elapsed / time.Second)
	if seconds <= 0 {
		return nil
	}
	return a.store.AddDailyActiveTime(ctx, userID, DayOf(now), seconds)
}

// DayOf truncates a timestamp to its calendar day in the timestamp's own
// location.
func DayOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
