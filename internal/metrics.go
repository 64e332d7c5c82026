package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	signups       atomic.Uint64
	logins        atomic.Uint64
	messagesSent  atomic.Uint64
	relayed       atomic.Uint64
	activeConns   atomic.Int64
	onlineCounter func() int
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// OnlineCounter registers a callback reporting how many users currently hold
// a session.
func (m *Metrics) OnlineCounter(fn func() int) {
	m.onlineCounter = fn
}

func (m *Metrics) IncSignup() {
	m.signups.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messagesSent.Add(1)
}

func (m *Metrics) IncRelayed() {
	m.relayed.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"signups_total":      m.signups.Load(),
		"logins_total":       m.logins.Load(),
		"messages_total":     m.messagesSent.Load(),
		"relayed_total":      m.relayed.Load(),
		"active_connections": m.activeConns.Load(),
	}
	if m.onlineCounter != nil {
		payload["online_users"] = m.onlineCounter()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
