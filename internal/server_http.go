package internal

import (
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"studychat/internal/storage"
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Grade    int    `json:"grade"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type profileResponse struct {
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Grade      int       `json:"grade"`
	Avatar     string    `json:"avatar,omitempty"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"last_active"`
}

type profileUpdateRequest struct {
	Grade  *int    `json:"grade,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

type passwordChangeRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

type activityEntry struct {
	Day     string `json:"day"`
	Seconds int64  `json:"seconds"`
}

type friendDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Grade    int    `json:"grade"`
	Avatar   string `json:"avatar,omitempty"`
	Online   bool   `json:"online"`
}

type friendsResponse struct {
	Friends []friendDTO `json:"friends"`
}

type friendRequestsResponse struct {
	Incoming []string `json:"incoming"`
	Outgoing []string `json:"outgoing"`
}

// validatePassword enforces the signup password policy: at least six
// characters with an upper, a lower, a digit, and a symbol.
func validatePassword(password string) error {
	if len(password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return errors.New("password needs upper, lower, digit, and special characters")
	}
	return nil
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.signupLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := req.Password
	if !usernameRe.MatchString(username) {
		writeError(w, http.StatusBadRequest, errors.New("username must be 3-20 letters, digits, or underscores"))
		return
	}
	if !emailRe.MatchString(email) {
		writeError(w, http.StatusBadRequest, errors.New("valid email is required"))
		return
	}
	if req.Grade < 1 || req.Grade > 12 {
		writeError(w, http.StatusBadRequest, errors.New("grade must be between 1 and 12"))
		return
	}
	if err := validatePassword(password); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.store.CreateUser(r.Context(), username, email, hash, req.Grade); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username or email already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("email and password are required"))
		return
	}
	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	if user.LockedUntil.Valid && time.Now().Before(user.LockedUntil.Time) {
		writeError(w, http.StatusForbidden, errors.New("account locked, try again later"))
		return
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		attempts, recordErr := s.store.RecordFailedLogin(r.Context(), user.ID, maxLoginAttempts, loginLockout)
		if recordErr == nil && attempts >= maxLoginAttempts {
			writeError(w, http.StatusForbidden, errors.New("account locked, try again later"))
			return
		}
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	if err := s.store.ResetLoginFailures(r.Context(), user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.tokenTTL)
	if err := s.store.CreateAuthSession(r.Context(), user.ID, token, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: user.Username, ExpiresAt: expiresAt})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAuthSession(r.Context(), authCtx.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Current == "" {
		writeError(w, http.StatusBadRequest, errors.New("current password required"))
		return
	}
	if err := validatePassword(req.New); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := s.store.GetUserByID(r.Context(), authCtx.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Current)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("current password incorrect"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.New), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.UpdatePassword(r.Context(), authCtx.UserID, hash); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe serves the caller's profile on GET and applies partial updates
// (grade, avatar) on PUT.
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.store.GetUserByID(r.Context(), authCtx.UserID)
		if err != nil || user == nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		_, online := s.registry.Lookup(user.ID)
		writeJSON(w, http.StatusOK, profileResponse{
			Username:   user.Username,
			Email:      user.Email,
			Grade:      user.Grade,
			Avatar:     user.Avatar,
			Online:     online,
			LastActive: user.LastActive,
		})
	case http.MethodPut:
		var req profileUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := s.store.GetUserByID(r.Context(), authCtx.UserID)
		if err != nil || user == nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		grade := user.Grade
		avatar := user.Avatar
		if req.Grade != nil {
			if *req.Grade < 1 || *req.Grade > 12 {
				writeError(w, http.StatusBadRequest, errors.New("grade must be between 1 and 12"))
				return
			}
			grade = *req.Grade
		}
		if req.Avatar != nil {
			avatar = *req.Avatar
		}
		if err := s.store.UpdateProfile(r.Context(), authCtx.UserID, grade, avatar); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

// HandleActivity returns the caller's per-day active time, newest first.
func (s *Server) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	entries, err := s.store.ListDailyActiveTime(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]activityEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityEntry{Day: e.Day, Seconds: e.DurationSeconds})
	}
	writeJSON(w, http.StatusOK, map[string][]activityEntry{"activity": out})
}

func (s *Server) HandleFriends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	friends, err := s.store.ListFriends(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]friendDTO, 0, len(friends))
	for _, friend := range friends {
		_, online := s.registry.Lookup(friend.ID)
		out = append(out, friendDTO{
			ID:       friend.ID,
			Username: friend.Username,
			Grade:    friend.Grade,
			Avatar:   friend.Avatar,
			Online:   online,
		})
	}
	writeJSON(w, http.StatusOK, friendsResponse{Friends: out})
}

func (s *Server) HandleFriendRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	incoming, err := s.store.ListIncomingFriendRequests(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	outgoing, err := s.store.ListOutgoingFriendRequests(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := friendRequestsResponse{
		Incoming: make([]string, 0, len(incoming)),
		Outgoing: make([]string, 0, len(outgoing)),
	}
	for _, u := range incoming {
		resp.Incoming = append(resp.Incoming, u.Username)
	}
	for _, u := range outgoing {
		resp.Outgoing = append(resp.Outgoing, u.Username)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleFriendRequestAction dispatches POST /friend-requests/{username} to
// create a request and POST /friend-requests/{username}/{accept|decline|cancel}
// to respond to one.
func (s *Server) HandleFriendRequestAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/friend-requests/"), "/")
	parts := strings.Split(path, "/")
	username := strings.TrimSpace(parts[0])
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}
	if strings.EqualFold(username, authCtx.Username) {
		writeError(w, http.StatusBadRequest, errors.New("cannot friend yourself"))
		return
	}
	friend, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if friend == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		if err := s.store.CreateFriendRequest(r.Context(), authCtx.UserID, friend.ID); err != nil {
			if errors.Is(err, storage.ErrFriendRequestExists) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if len(parts) != 2 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	switch parts[1] {
	case "accept":
		if err := s.store.AcceptFriendRequest(r.Context(), friend.ID, authCtx.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	case "decline":
		if err := s.store.DeleteFriendRequest(r.Context(), friend.ID, authCtx.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	case "cancel":
		if err := s.store.DeleteFriendRequest(r.Context(), authCtx.UserID, friend.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
