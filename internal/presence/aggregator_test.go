package presence

import (
	"context"
	"testing"
	"time"
)

func newTestAggregator(activity *fakeActivityStore, clock *fakeClock) (*Aggregator, *Registry) {
	registry := NewRegistry()
	aggregator := NewAggregator(registry, activity)
	aggregator.now = clock.Now
	return aggregator, registry
}

func TestFlushAccumulatesAcrossTicks(t *testing.T) {
	activity := newFakeActivityStore()
	clock := newFakeClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	aggregator, registry := newTestAggregator(activity, clock)

	registry.Upsert(1, "chan-a", clock.Now())
	day := DayOf(clock.Now())

	// Two five-minute ticks with no day boundary in between.
	for i := 0; i < 2; i++ {
		clock.Advance(5 * time.Minute)
		aggregator.FlushAll(context.Background())
	}

	if got := activity.total(1, day); got != 600 {
		t.Fatalf("accumulated %ds, want 600", got)
	}
	session, _ := registry.Lookup(1)
	if !session.LastActivity.Equal(clock.Now()) {
		t.Fatalf("lastActivity not advanced: %v", session.LastActivity)
	}
}

func TestFlushWithoutSessionIsNoOp(t *testing.T) {
	activity := newFakeActivityStore()
	clock := newFakeClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	aggregator, _ := newTestAggregator(activity, clock)

	if err := aggregator.FlushUser(context.Background(), 7); err != nil {
		t.Fatalf("flushing an absent user must not error: %v", err)
	}
	if got := activity.total(7, DayOf(clock.Now())); got != 0 {
		t.Fatalf("nothing should have been written, got %d", got)
	}
}

func TestFlushErrorsAreIsolatedPerUser(t *testing.T) {
	activity := newFakeActivityStore()
	activity.failUser = 1
	clock := newFakeClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	aggregator, registry := newTestAggregator(activity, clock)

	registry.Upsert(1, "chan-a", clock.Now())
	registry.Upsert(2, "chan-b", clock.Now())

	clock.Advance(time.Minute)
	aggregator.FlushAll(context.Background())

	if got := activity.total(2, DayOf(clock.Now())); got != 60 {
		t.Fatalf("user 2 must still be flushed, got %ds", got)
	}
}

func TestIntervalSpanningMidnightLandsOnFlushDay(t *testing.T) {
	activity := newFakeActivityStore()
	clock := newFakeClock(time.Date(2026, 3, 10, 23, 58, 0, 0, time.UTC))
	aggregator, registry := newTestAggregator(activity, clock)

	registry.Upsert(1, "chan-a", clock.Now())
	clock.Advance(4 * time.Minute) // crosses midnight

	if err := aggregator.FlushUser(context.Background(), 1); err != nil {
		t.Fatalf("FlushUser: %v", err)
	}

	before := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if got := activity.total(1, before); got != 0 {
		t.Fatalf("old day got %ds, interval is not split", got)
	}
	if got := activity.total(1, after); got != 240 {
		t.Fatalf("flush day got %ds, want whole 240", got)
	}
}

func TestDayOf(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	stamp := time.Date(2026, 3, 10, 23, 45, 12, 999, loc)
	day := DayOf(stamp)
	if day.Hour() != 0 || day.Minute() != 0 || day.Second() != 0 || day.Nanosecond() != 0 {
		t.Fatalf("not truncated: %v", day)
	}
	if day.Location() != loc {
		t.Fatalf("location changed: %v", day.Location())
	}
	if day.Day() != 10 || day.Month() != time.March {
		t.Fatalf("wrong day: %v", day)
	}
}
