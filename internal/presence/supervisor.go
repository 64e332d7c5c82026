package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultGracePeriod is how long an abruptly dropped user stays in the
// registry waiting for a reconnect before being declared offline.
const DefaultGracePeriod = 30 * time.Second

// ErrUserNotFound is returned by Connect when the user id does not resolve to
// an account. The caller reports it to the originating channel only; no state
// is mutated.
var ErrUserNotFound = errors.New("user not found")

// UserStore is the slice of the durable user record the presence core needs:
// existence checks at connect time and the persisted online/lastActive
// projection.
type UserStore interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	SetPresence(ctx context.Context, userID int64, online bool, lastActive time.Time) error
}

type stopFunc func() bool

// graceTimer remembers which channel was current when the timer was armed so
// a late firing can detect that a reconnect replaced it.
type graceTimer struct {
	channelID string
	stop      stopFunc
}

// Supervisor drives the per-user connect/disconnect/grace-timeout state
// machine. A single mutex serializes all transitions, which is plenty at chat
// event rates and rules out a finalize racing a reconnect.
type Supervisor struct {
	registry   *Registry
	bus        *Bus
	users      UserStore
	aggregator *Aggregator
	grace      time.Duration

	mu     sync.Mutex
	timers map[int64]*graceTimer

	// now and startTimer are swappable so tests can drive time by hand.
	now        func() time.Time
	startTimer func(d time.Duration, fn func()) stopFunc
}

func NewSupervisor(registry *Registry, bus *Bus, users UserStore, aggregator *Aggregator) *Supervisor {
	return &Supervisor{
		registry:   registry,
		bus:        bus,
		users:      users,
		aggregator: aggregator,
		grace:      DefaultGracePeriod,
		timers:     make(map[int64]*graceTimer),
		now:        time.Now,
		startTimer: func(d time.Duration, fn func()) stopFunc {
			return time.AfterFunc(d, fn).Stop
		},
	}
}

// SetGracePeriod overrides the offline grace window. Must be called before
// the supervisor starts handling events.
func (s *Supervisor) SetGracePeriod(d time.Duration) {
	if d > 0 {
		s.grace = d
	}
}

// Connect registers a freshly authenticated channel for the user. If another
// channel holds the session it is told to go away first; a pending grace
// timer for the user is cancelled so no offline broadcast ever fires for a
// reconnect inside the window.
func (s *Supervisor) Connect(ctx context.Context, userID int64, ch Channel) error {
	exists, err := s.users.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("validate user %d: %w", userID, err)
	}
	if !exists {
		return ErrUserNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[userID]; ok {
		timer.stop()
		delete(s.timers, userID)
	}

	now := s.now()
	prev, replaced := s.registry.Upsert(userID, ch.ID(), now)
	if replaced && prev.ChannelID != ch.ID() {
		if old, ok := s.bus.Get(prev.ChannelID); ok {
			old.Send(Event{Type: EventForceDisconnect, Message: "Logged in from another device"})
		}
	}

	// The durable projection is best effort: a failed save must not leave the
	// user stuck half-connected in memory.
	if err := s.users.SetPresence(ctx, userID, true, now); err != nil {
		log.Printf("presence: mark user %d online: %v", userID, err)
	}

	s.bus.Broadcast(Event{
		Type:       EventStatusUpdate,
		UserID:     userID,
		Status:     StatusOnline,
		LastActive: now.Unix(),
	})
	ch.Send(Event{Type: EventConnectionSuccess, Message: "Connection successful"})
	return nil
}

// Disconnect handles a channel going away. Transport loss and timeouts arm a
// grace timer tagged with the dying channel id; everything else (a normal
// close, an explicit logout) finalizes at once. A disconnect from a channel
// that no longer owns the session is ignored, so the teardown of a superseded
// connection cannot evict its replacement.
func (s *Supervisor) Disconnect(userID int64, channelID string, reason DisconnectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.registry.Lookup(userID)
	if !ok || session.ChannelID != channelID {
		return
	}

	switch reason {
	case ReasonTransportLoss, ReasonTimeout:
		if timer, ok := s.timers[userID]; ok {
			timer.stop()
		}
		timer := &graceTimer{channelID: channelID}
		timer.stop = s.startTimer(s.grace, func() {
			s.graceExpired(userID, channelID)
		})
		s.timers[userID] = timer
	default:
		s.finalizeLocked(userID)
	}
}

// graceExpired runs when a grace timer fires. It re-checks the current channel
// binding: if a reconnect replaced the channel the timer was armed for, the
// firing is a safe no-op.
func (s *Supervisor) graceExpired(userID int64, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[userID]; ok && timer.channelID == channelID {
		delete(s.timers, userID)
	}
	session, ok := s.registry.Lookup(userID)
	if !ok || session.ChannelID != channelID {
		return
	}
	s.finalizeLocked(userID)
}

// finalizeLocked completes the offline transition: flush accumulated activity,
// persist the offline projection, drop the session, broadcast offline.
// Persistence errors are logged and do not stop the transition; the in-memory
// state always converges to disconnected once the decision is made.
func (s *Supervisor) finalizeLocked(userID int64) {
	ctx := context.Background()
	now := s.now()

	if err := s.aggregator.FlushUser(ctx, userID); err != nil {
		log.Printf("presence: flush activity for user %d: %v", userID, err)
	}
	if err := s.users.SetPresence(ctx, userID, false, now); err != nil {
		log.Printf("presence: mark user %d offline: %v", userID, err)
	}
	s.registry.Remove(userID)

	s.bus.Broadcast(Event{
		Type:       EventStatusUpdate,
		UserID:     userID,
		Status:     StatusOffline,
		LastActive: now.Unix(),
	})
}

// Shutdown finalizes every live session, flushing activity and broadcasting
// offline for each. Used on server shutdown so no accumulated time is lost.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, timer := range s.timers {
		timer.stop()
	}
	s.timers = make(map[int64]*graceTimer)
	for _, session := range s.registry.Snapshot() {
		s.finalizeLocked(session.UserID)
	}
}
