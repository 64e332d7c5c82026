package presence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var testStart = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func TestConnectUnknownUser(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, _ := newTestSupervisor(users, newFakeActivityStore(), clock)

	ch := newFakeChannel("chan-a")
	bus.Add(ch)

	err := supervisor.Connect(context.Background(), 99, ch)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("registry must stay empty after failed connect, has %d", registry.Len())
	}
	if got := ch.eventsOfType(EventStatusUpdate); len(got) != 0 {
		t.Fatalf("no broadcast expected after failed connect, got %d", len(got))
	}
}

func TestConnectMarksOnlineAndBroadcasts(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, _ := newTestSupervisor(users, newFakeActivityStore(), clock)

	ch := newFakeChannel("chan-a")
	observer := newFakeChannel("chan-observer")
	bus.Add(ch)
	bus.Add(observer)

	if err := supervisor.Connect(context.Background(), 1, ch); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	session, ok := registry.Lookup(1)
	if !ok || session.ChannelID != "chan-a" {
		t.Fatalf("unexpected session: %+v ok=%v", session, ok)
	}
	if !users.isOnline(1) {
		t.Fatalf("user should be persisted online")
	}
	if got := ch.eventsOfType(EventConnectionSuccess); len(got) != 1 {
		t.Fatalf("expected one connectionSuccess on the new channel, got %d", len(got))
	}
	updates := observer.eventsOfType(EventStatusUpdate)
	if len(updates) != 1 || updates[0].Status != StatusOnline || updates[0].UserID != 1 {
		t.Fatalf("unexpected status updates: %+v", updates)
	}
}

func TestReconnectForcesOldChannelOut(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, _ := newTestSupervisor(users, newFakeActivityStore(), clock)

	old := newFakeChannel("chan-old")
	fresh := newFakeChannel("chan-new")
	bus.Add(old)

	ctx := context.Background()
	if err := supervisor.Connect(ctx, 1, old); err != nil {
		t.Fatalf("Connect old: %v", err)
	}
	bus.Add(fresh)
	if err := supervisor.Connect(ctx, 1, fresh); err != nil {
		t.Fatalf("Connect fresh: %v", err)
	}

	if got := old.eventsOfType(EventForceDisconnect); len(got) != 1 {
		t.Fatalf("expected exactly one forceDisconnect on old channel, got %d", len(got))
	}
	for _, ch := range []*fakeChannel{old, fresh} {
		for _, update := range ch.eventsOfType(EventStatusUpdate) {
			if update.Status == StatusOffline {
				t.Fatalf("no offline broadcast expected during reconnect, got %+v", update)
			}
		}
	}
	session, ok := registry.Lookup(1)
	if !ok || session.ChannelID != "chan-new" {
		t.Fatalf("session should belong to the new channel: %+v ok=%v", session, ok)
	}
	if registry.Len() != 1 {
		t.Fatalf("exactly one session expected, got %d", registry.Len())
	}
	if session.ReconnectAttempts != 1 {
		t.Fatalf("reconnect attempts = %d, want 1", session.ReconnectAttempts)
	}
}

func TestTransportLossGraceExpires(t *testing.T) {
	users := newFakeUserStore(1)
	activity := newFakeActivityStore()
	clock := newFakeClock(testStart)
	supervisor, registry, bus, timers := newTestSupervisor(users, activity, clock)

	ch := newFakeChannel("chan-a")
	observer := newFakeChannel("chan-observer")
	bus.Add(ch)
	bus.Add(observer)

	if err := supervisor.Connect(context.Background(), 1, ch); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	clock.Advance(31 * time.Second)
	supervisor.Disconnect(1, "chan-a", ReasonTransportLoss)

	if registry.Len() != 1 {
		t.Fatalf("session must survive during grace window")
	}
	if timers.count() != 1 {
		t.Fatalf("expected one grace timer, got %d", timers.count())
	}

	if !timers.fire(false) {
		t.Fatalf("grace timer should fire")
	}

	if registry.Len() != 0 {
		t.Fatalf("session must be gone after grace expiry")
	}
	if users.isOnline(1) {
		t.Fatalf("user should be persisted offline")
	}
	var offline int
	for _, update := range observer.eventsOfType(EventStatusUpdate) {
		if update.Status == StatusOffline {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("expected exactly one offline broadcast, got %d", offline)
	}
	if got := activity.total(1, DayOf(clock.Now())); got != 31 {
		t.Fatalf("expected 31s flushed at finalize, got %d", got)
	}
}

func TestReconnectWithinGraceIsNoOffline(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, timers := newTestSupervisor(users, newFakeActivityStore(), clock)

	old := newFakeChannel("chan-old")
	bus.Add(old)
	if err := supervisor.Connect(context.Background(), 1, old); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	clock.Advance(5 * time.Second)
	supervisor.Disconnect(1, "chan-old", ReasonTransportLoss)
	bus.Remove("chan-old")

	fresh := newFakeChannel("chan-new")
	bus.Add(fresh)
	if err := supervisor.Connect(context.Background(), 1, fresh); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	// Force the stale timer to run as if its firing raced the cancellation.
	// The channel binding check must make it a no-op.
	timers.fire(true)

	session, ok := registry.Lookup(1)
	if !ok || session.ChannelID != "chan-new" {
		t.Fatalf("session should survive under the new channel: %+v ok=%v", session, ok)
	}
	for _, update := range fresh.eventsOfType(EventStatusUpdate) {
		if update.Status == StatusOffline {
			t.Fatalf("stale timer must not produce an offline broadcast")
		}
	}
}

func TestNormalDisconnectFinalizesImmediately(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, timers := newTestSupervisor(users, newFakeActivityStore(), clock)

	ch := newFakeChannel("chan-a")
	observer := newFakeChannel("chan-observer")
	bus.Add(ch)
	bus.Add(observer)

	if err := supervisor.Connect(context.Background(), 1, ch); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	supervisor.Disconnect(1, "chan-a", ReasonNormal)

	if timers.count() != 0 {
		t.Fatalf("normal close must not arm a grace timer")
	}
	if registry.Len() != 0 {
		t.Fatalf("session must be removed immediately")
	}
	var offline int
	for _, update := range observer.eventsOfType(EventStatusUpdate) {
		if update.Status == StatusOffline {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("expected one immediate offline broadcast, got %d", offline)
	}
}

func TestDisconnectFromSupersededChannelIgnored(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, _ := newTestSupervisor(users, newFakeActivityStore(), clock)

	old := newFakeChannel("chan-old")
	fresh := newFakeChannel("chan-new")
	bus.Add(old)
	bus.Add(fresh)

	ctx := context.Background()
	if err := supervisor.Connect(ctx, 1, old); err != nil {
		t.Fatalf("Connect old: %v", err)
	}
	if err := supervisor.Connect(ctx, 1, fresh); err != nil {
		t.Fatalf("Connect fresh: %v", err)
	}

	// The evicted channel tears down after the replacement connected. Its
	// disconnect must not evict the live session.
	supervisor.Disconnect(1, "chan-old", ReasonNormal)

	session, ok := registry.Lookup(1)
	if !ok || session.ChannelID != "chan-new" {
		t.Fatalf("live session must survive: %+v ok=%v", session, ok)
	}
}

func TestPersistenceFailureStillConvergesOffline(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, _ := newTestSupervisor(users, newFakeActivityStore(), clock)

	ch := newFakeChannel("chan-a")
	bus.Add(ch)
	if err := supervisor.Connect(context.Background(), 1, ch); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	users.mu.Lock()
	users.saveErr = errors.New("store down")
	users.mu.Unlock()

	supervisor.Disconnect(1, "chan-a", ReasonNormal)

	if registry.Len() != 0 {
		t.Fatalf("in-memory state must still converge to disconnected")
	}
	var offline int
	for _, update := range ch.eventsOfType(EventStatusUpdate) {
		if update.Status == StatusOffline {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("offline broadcast must still fire, got %d", offline)
	}
}

func TestAtMostOneSessionPerUser(t *testing.T) {
	users := newFakeUserStore(1)
	clock := newFakeClock(testStart)
	supervisor, registry, bus, timers := newTestSupervisor(users, newFakeActivityStore(), clock)

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		ch := newFakeChannel(fmt.Sprintf("chan-%d", i))
		bus.Add(ch)
		if err := supervisor.Connect(ctx, 1, ch); err != nil {
			t.Fatalf("Connect %d: %v", i, err)
		}
		if registry.Len() != 1 {
			t.Fatalf("after connect %d: %d sessions", i, registry.Len())
		}
		if i%2 == 0 {
			supervisor.Disconnect(1, ch.ID(), ReasonTransportLoss)
			if registry.Len() > 1 {
				t.Fatalf("after disconnect %d: %d sessions", i, registry.Len())
			}
		}
	}
	timers.fire(false)
	if registry.Len() > 1 {
		t.Fatalf("invariant violated at the end: %d sessions", registry.Len())
	}
}

func TestShutdownFlushesEverySession(t *testing.T) {
	users := newFakeUserStore(1, 2)
	activity := newFakeActivityStore()
	clock := newFakeClock(testStart)
	supervisor, registry, bus, _ := newTestSupervisor(users, activity, clock)

	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		ch := newFakeChannel(fmt.Sprintf("chan-%d", id))
		bus.Add(ch)
		if err := supervisor.Connect(ctx, id, ch); err != nil {
			t.Fatalf("Connect %d: %v", id, err)
		}
	}
	clock.Advance(90 * time.Second)
	supervisor.Shutdown()

	if registry.Len() != 0 {
		t.Fatalf("all sessions should be finalized")
	}
	day := DayOf(clock.Now())
	for _, id := range []int64{1, 2} {
		if got := activity.total(id, day); got != 90 {
			t.Fatalf("user %d flushed %ds, want 90", id, got)
		}
	}
}
