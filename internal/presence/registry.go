package presence

import (
	"sync"
	"time"
)

// Session binds a user to its currently active channel. Sessions exist only
// while the user is online or inside the grace window after an abrupt drop.
type Session struct {
	UserID            int64
	ChannelID         string
	ConnectedAt       time.Time
	LastActivity      time.Time
	ReconnectAttempts int
}

// Registry is the in-memory table of live sessions, at most one per user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]Session)}
}

// Upsert inserts or replaces the session for a user and returns the previous
// session, if any. Notifying a superseded channel is the caller's job.
func (r *Registry) Upsert(userID int64, channelID string, now time.Time) (prev Session, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced = r.sessions[userID]
	session := Session{
		UserID:       userID,
		ChannelID:    channelID,
		ConnectedAt:  now,
		LastActivity: now,
	}
	if replaced {
		// A replacement within a live or grace-window session is a reconnect;
		// keep the activity clock running from where the old channel left it.
		session.ConnectedAt = prev.ConnectedAt
		session.LastActivity = prev.LastActivity
		session.ReconnectAttempts = prev.ReconnectAttempts + 1
	}
	r.sessions[userID] = session
	return prev, replaced
}

// Lookup returns the live session for a user, if one exists.
func (r *Registry) Lookup(userID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[userID]
	return session, ok
}

// Remove drops the session for a user. Removing an absent user is a no-op.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// Touch advances the session's activity clock to now and returns the elapsed
// interval since the previous update. The clock never moves backward, so the
// returned duration is never negative.
func (r *Registry) Touch(userID int64, now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[userID]
	if !ok {
		return 0, false
	}
	elapsed := now.Sub(session.LastActivity)
	if elapsed < 0 {
		return 0, true
	}
	session.LastActivity = now
	r.sessions[userID] = session
	return elapsed, true
}

// Snapshot copies the current session table so callers can iterate without
// holding the registry lock across slow work.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Len reports how many users currently hold a session.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
