package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle and exposes helper methods used by the server
// and the presence core.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID                  int64
	Username            string
	Email               string
	PasswordHash        []byte
	Grade               int
	Avatar              string
	IsOnline            bool
	LastActive          time.Time
	FailedLoginAttempts int
	LockedUntil         sql.NullTime
	CreatedAt           time.Time
}

// AuthSession captures persisted logins.
type AuthSession struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ErrUserExists is returned when attempting to insert a duplicate username or
// email.
var ErrUserExists = errors.New("user already exists")

// ErrFriendRequestExists is returned when a friend request is already pending.
var ErrFriendRequestExists = errors.New("friend request already exists")

// NewStore initializes the SQLite database at the provided path. Call Close
// when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "studychat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			grade INTEGER NOT NULL DEFAULT 1,
			avatar TEXT NOT NULL DEFAULT 'default-avatar.png',
			is_online INTEGER NOT NULL DEFAULT 0,
			last_active DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			failed_login_attempts INTEGER NOT NULL DEFAULT 0,
			locked_until DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, friend_id),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(friend_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS friend_requests (
			requester_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (requester_id, receiver_id),
			FOREIGN KEY(requester_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(receiver_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			recipient_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(sender_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(recipient_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(sender_id, recipient_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notes_user_category
			ON notes(user_id, category, updated_at);`,
		`CREATE TABLE IF NOT EXISTS note_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			note_id INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(note_id) REFERENCES notes(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS daily_active_time (
			user_id INTEGER NOT NULL,
			day TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, day),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const userColumns = `id, username, email, password_hash, grade, avatar, is_online, last_active, failed_login_attempts, locked_until, created_at`

const userColumnsPrefixed = `u.id, u.username, u.email, u.password_hash, u.grade, u.avatar, u.is_online, u.last_active, u.failed_login_attempts, u.locked_until, u.created_at`

func scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Grade, &user.Avatar, &user.IsOnline, &user.LastActive,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username, email string, passwordHash []byte, grade int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, email, password_hash, grade) VALUES(?, ?, ?, ?)`,
		username, strings.ToLower(email), passwordHash, grade)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email, the login identifier.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return scanUser(row)
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UserExists reports whether a user id resolves to an account. The presence
// core uses it to validate connects and message recipients.
func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE id = ?`, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPresence updates the persisted online flag and last-active timestamp.
func (s *Store) SetPresence(ctx context.Context, userID int64, online bool, lastActive time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_active = ? WHERE id = ?`,
		online, lastActive.UTC(), userID)
	return err
}

// UpdateProfile replaces the mutable profile fields.
func (s *Store) UpdateProfile(ctx context.Context, userID int64, grade int, avatar string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET grade = ?, avatar = ? WHERE id = ?`, grade, avatar, userID)
	return err
}

// UpdatePassword replaces the stored password hash for a user.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, newHash []byte) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, newHash, userID)
	return err
}

// RecordFailedLogin bumps the failure counter and returns the new count.
// Reaching maxAttempts locks the account until now+lockout.
func (s *Store) RecordFailedLogin(ctx context.Context, userID int64, maxAttempts int, lockout time.Duration) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET failed_login_attempts = failed_login_attempts + 1
		 WHERE id = ? RETURNING failed_login_attempts`, userID).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	if attempts >= maxAttempts {
		until := time.Now().Add(lockout).UTC()
		if _, err := s.db.ExecContext(ctx,
			`UPDATE users SET locked_until = ? WHERE id = ?`, until, userID); err != nil {
			return attempts, err
		}
	}
	return attempts, nil
}

// ResetLoginFailures clears the failure counter and any lock after a
// successful login.
func (s *Store) ResetLoginFailures(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE id = ?`, userID)
	return err
}

// CreateAuthSession stores a new login token for a user.
func (s *Store) CreateAuthSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions(token, user_id, expires_at) VALUES(?, ?, ?)`,
		token, userID, expiresAt.UTC())
	return err
}

// GetAuthSession returns a login session if it exists.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*AuthSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM auth_sessions WHERE token = ?`, token)
	var sess AuthSession
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteAuthSession removes a login token (used for logout).
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token = ?`, token)
	return err
}

// AddFriendship inserts symmetric rows for a friendship pair.
func (s *Store) AddFriendship(ctx context.Context, userID, friendID int64) error {
	if userID == friendID {
		return fmt.Errorf("cannot friend yourself")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO friendships(user_id, friend_id) VALUES(?, ?)`, userID, friendID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO friendships(user_id, friend_id) VALUES(?, ?)`, friendID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListFriends returns all friends for a given user (ordered by username).
func (s *Store) ListFriends(ctx context.Context, userID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumnsPrefixed+`
		FROM friendships f
		JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY u.username ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// AreFriends reports whether two users are already connected.
func (s *Store) AreFriends(ctx context.Context, userID, friendID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM friendships WHERE user_id = ? AND friend_id = ?`, userID, friendID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateFriendRequest stores a pending request if one does not already exist.
func (s *Store) CreateFriendRequest(ctx context.Context, requesterID, receiverID int64) error {
	if requesterID == receiverID {
		return fmt.Errorf("cannot send a friend request to yourself")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	// Prevent duplicates or already-friends cases.
	var existing int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM friendships WHERE user_id=? AND friend_id=?`, requesterID, receiverID).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		err = ErrFriendRequestExists
		return err
	}
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM friend_requests WHERE requester_id=? AND receiver_id=?`, requesterID, receiverID).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		err = ErrFriendRequestExists
		return err
	}
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM friend_requests WHERE requester_id=? AND receiver_id=?`, receiverID, requesterID).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		err = ErrFriendRequestExists
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO friend_requests(requester_id, receiver_id) VALUES(?, ?)`, requesterID, receiverID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteFriendRequest removes any pending request between the two users.
func (s *Store) DeleteFriendRequest(ctx context.Context, requesterID, receiverID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM friend_requests WHERE requester_id=? AND receiver_id=?`, requesterID, receiverID)
	return err
}

// ListIncomingFriendRequests fetches users who requested the given user.
func (s *Store) ListIncomingFriendRequests(ctx context.Context, userID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumnsPrefixed+`
		FROM friend_requests fr
		JOIN users u ON u.id = fr.requester_id
		WHERE fr.receiver_id = ?
		ORDER BY fr.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListOutgoingFriendRequests fetches pending requests sent by a user.
func (s *Store) ListOutgoingFriendRequests(ctx context.Context, userID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumnsPrefixed+`
		FROM friend_requests fr
		JOIN users u ON u.id = fr.receiver_id
		WHERE fr.requester_id = ?
		ORDER BY fr.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// AcceptFriendRequest converts the pending request into a friendship.
func (s *Store) AcceptFriendRequest(ctx context.Context, requesterID, receiverID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `DELETE FROM friend_requests WHERE requester_id=? AND receiver_id=?`, requesterID, receiverID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO friendships(user_id, friend_id) VALUES(?, ?)`, requesterID, receiverID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO friendships(user_id, friend_id) VALUES(?, ?)`, receiverID, requesterID); err != nil {
		return err
	}
	return tx.Commit()
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
			&u.Grade, &u.Avatar, &u.IsOnline, &u.LastActive,
			&u.FailedLoginAttempts, &u.LockedUntil, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
