package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"studychat/internal/presence"
	"studychat/internal/storage"
)

const (
	defaultTokenTTL    = 24 * time.Hour
	maxLoginAttempts   = 5
	loginLockout       = 30 * time.Minute
	defaultMaxFileSize = 10 * 1024 * 1024
)

var errUnauthorized = errors.New("unauthorized")

// Server owns the HTTP/WebSocket surface and the presence core components.
type Server struct {
	store      *storage.Store
	registry   *presence.Registry
	bus        *presence.Bus
	supervisor *presence.Supervisor
	aggregator *presence.Aggregator
	relay      *presence.Relay

	metrics       *Metrics
	authLimiter   *RateLimiter
	signupLimiter *RateLimiter
	apiLimiter    *RateLimiter

	tokenTTL    time.Duration
	uploadDir   string
	maxFileSize int64
}

// NewServer wires the presence core around the store and sets up the ambient
// pieces (metrics, limiters).
func NewServer(store *storage.Store, uploadDir string, maxFileSize int64) *Server {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	registry := presence.NewRegistry()
	bus := presence.NewBus()
	aggregator := presence.NewAggregator(registry, store)
	supervisor := presence.NewSupervisor(registry, bus, store, aggregator)
	relay := presence.NewRelay(registry, bus, store, store)
	metrics := NewMetrics()
	relay.OnRelayed(metrics.IncRelayed)
	metrics.OnlineCounter(registry.Len)

	return &Server{
		store:         store,
		registry:      registry,
		bus:           bus,
		supervisor:    supervisor,
		aggregator:    aggregator,
		relay:         relay,
		metrics:       metrics,
		authLimiter:   NewRateLimiter(5, 15*time.Minute),
		signupLimiter: NewRateLimiter(3, 24*time.Hour),
		apiLimiter:    NewRateLimiter(100, 15*time.Minute),
		tokenTTL:      defaultTokenTTL,
		uploadDir:     uploadDir,
		maxFileSize:   maxFileSize,
	}
}

// SetGracePeriod forwards to the supervisor; used by tests and config.
func (s *Server) SetGracePeriod(d time.Duration) {
	s.supervisor.SetGracePeriod(d)
}

// SetFlushInterval forwards to the aggregator; used by tests and config.
func (s *Server) SetFlushInterval(d time.Duration) {
	s.aggregator.SetInterval(d)
}

// RunAggregator drives the periodic activity flush until ctx is cancelled.
// Call it in its own goroutine.
func (s *Server) RunAggregator(ctx context.Context) {
	s.aggregator.Run(ctx)
}

// Shutdown finalizes every live session so accumulated time is flushed before
// the process exits.
func (s *Server) Shutdown() {
	s.supervisor.Shutdown()
}

// MetricsHandler exposes the counters as JSON.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

type authContext struct {
	UserID   int64
	Username string
	Token    string
}

// authenticateRequest resolves the bearer token to a user. Expired tokens are
// deleted on sight.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errUnauthorized
	}
	return s.authenticateToken(r.Context(), token)
}

func (s *Server) authenticateToken(ctx context.Context, token string) (*authContext, error) {
	session, err := s.store.GetAuthSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errUnauthorized
	}
	if time.Now().After(session.ExpiresAt) {
		_ = s.store.DeleteAuthSession(ctx, token)
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{UserID: user.ID, Username: user.Username, Token: token}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// requireAuth wraps the repeated authenticate-or-reject dance. It also
// applies the general API rate limit, so auth-gated handlers get both.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	if !s.apiLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return nil, false
	}
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return nil, false
	}
	return authCtx, true
}
