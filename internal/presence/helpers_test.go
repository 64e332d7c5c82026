package presence

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeChannel records every event sent to it.
type fakeChannel struct {
	mu     sync.Mutex
	id     string
	events []Event
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *fakeChannel) eventsOfType(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []Event
	for _, event := range c.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// fakeUserStore knows a fixed set of user ids and records presence writes.
type fakeUserStore struct {
	mu       sync.Mutex
	known    map[int64]bool
	presence map[int64]bool
	saveErr  error
}

func newFakeUserStore(ids ...int64) *fakeUserStore {
	known := make(map[int64]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &fakeUserStore{known: known, presence: make(map[int64]bool)}
}

func (s *fakeUserStore) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[userID], nil
}

func (s *fakeUserStore) SetPresence(_ context.Context, userID int64, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.presence[userID] = online
	return nil
}

func (s *fakeUserStore) isOnline(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID]
}

// fakeActivityStore accumulates day buckets in memory, optionally failing for
// selected users.
type fakeActivityStore struct {
	mu       sync.Mutex
	buckets  map[string]int64
	failUser int64
}

func newFakeActivityStore() *fakeActivityStore {
	return &fakeActivityStore{buckets: make(map[string]int64)}
}

func bucketKey(userID int64, day time.Time) string {
	return fmt.Sprintf("%d/%s", userID, day.Format("2006-01-02"))
}

func (s *fakeActivityStore) AddDailyActiveTime(_ context.Context, userID int64, day time.Time, seconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUser != 0 && s.failUser == userID {
		return fmt.Errorf("store down for user %d", userID)
	}
	s.buckets[bucketKey(userID, day)] += seconds
	return nil
}

func (s *fakeActivityStore) total(userID int64, day time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[bucketKey(userID, day)]
}

// fakeMessageStore appends messages in memory with increasing ids.
type fakeMessageStore struct {
	mu      sync.Mutex
	nextID  int64
	stamp   time.Time
	stored  []storedMessage
	saveErr error
}

type storedMessage struct {
	senderID    int64
	recipientID int64
	content     string
}

func newFakeMessageStore(stamp time.Time) *fakeMessageStore {
	return &fakeMessageStore{nextID: 1, stamp: stamp}
}

func (s *fakeMessageStore) AppendMessage(_ context.Context, senderID, recipientID int64, content string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, time.Time{}, s.saveErr
	}
	id := s.nextID
	s.nextID++
	s.stored = append(s.stored, storedMessage{senderID: senderID, recipientID: recipientID, content: content})
	return id, s.stamp, nil
}

func (s *fakeMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

// fakeClock lets tests move time by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// manualTimers captures timers armed by the supervisor so tests can fire or
// inspect them deterministically.
type manualTimers struct {
	mu     sync.Mutex
	armed  []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (m *manualTimers) start(d time.Duration, fn func()) stopFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer := &manualTimer{d: d, fn: fn}
	m.armed = append(m.armed, timer)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		was := !timer.stopped
		timer.stopped = true
		return was
	}
}

// fire runs the most recently armed timer's callback if it has not been
// stopped. forced ignores the stop flag, emulating a firing that raced the
// cancellation.
func (m *manualTimers) fire(forced bool) bool {
	m.mu.Lock()
	if len(m.armed) == 0 {
		m.mu.Unlock()
		return false
	}
	timer := m.armed[len(m.armed)-1]
	run := forced || !timer.stopped
	fn := timer.fn
	m.mu.Unlock()
	if run {
		fn()
	}
	return run
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

// newTestSupervisor wires a supervisor with fakes and manual time control.
func newTestSupervisor(users *fakeUserStore, activity *fakeActivityStore, clock *fakeClock) (*Supervisor, *Registry, *Bus, *manualTimers) {
	registry := NewRegistry()
	bus := NewBus()
	aggregator := NewAggregator(registry, activity)
	aggregator.now = clock.Now
	supervisor := NewSupervisor(registry, bus, users, aggregator)
	supervisor.now = clock.Now
	timers := &manualTimers{}
	supervisor.startTimer = timers.start
	return supervisor, registry, bus, timers
}
