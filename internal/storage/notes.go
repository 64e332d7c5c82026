package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Note represents a row in the notes table.
type Note struct {
	ID        int64
	UserID    int64
	Title     string
	Content   string
	Category  string
	Links     []NoteLink
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteLink is a video link attached to a note.
type NoteLink struct {
	ID      int64
	Title   string
	URL     string
	AddedAt time.Time
}

// ErrNoteNotFound is returned when a note id does not exist or belongs to
// someone else.
var ErrNoteNotFound = errors.New("note not found")

// CreateNote inserts a note and returns its id.
func (s *Store) CreateNote(ctx context.Context, userID int64, title, content, category string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notes(user_id, title, content, category) VALUES(?, ?, ?, ?)`,
		userID, title, content, category)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetNote fetches one note with its links. Ownership is enforced here so
// handlers cannot leak another user's note by id.
func (s *Store) GetNote(ctx context.Context, userID, noteID int64) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, content, category, created_at, updated_at
		FROM notes WHERE id = ? AND user_id = ?
	`, noteID, userID)
	var note Note
	if err := row.Scan(&note.ID, &note.UserID, &note.Title, &note.Content,
		&note.Category, &note.CreatedAt, &note.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	links, err := s.listNoteLinks(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	note.Links = links
	return &note, nil
}

// ListNotes returns the user's notes, optionally filtered by category,
// most recently updated first. Links are not populated for listings.
func (s *Store) ListNotes(ctx context.Context, userID int64, category string) ([]Note, error) {
	query := `
		SELECT id, user_id, title, content, category, created_at, updated_at
		FROM notes WHERE user_id = ?`
	args := []any{userID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.ID, &note.UserID, &note.Title, &note.Content,
			&note.Category, &note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// UpdateNote replaces title, content and category, bumping updated_at.
func (s *Store) UpdateNote(ctx context.Context, userID, noteID int64, title, content, category string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, category = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, title, content, category, noteID, userID)
	if err != nil {
		return err
	}
	return noteRowsAffected(result)
}

// DeleteNote removes a note; its links cascade.
func (s *Store) DeleteNote(ctx context.Context, userID, noteID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = ? AND user_id = ?`, noteID, userID)
	if err != nil {
		return err
	}
	return noteRowsAffected(result)
}

// AddNoteLink attaches a video link to a note the user owns.
func (s *Store) AddNoteLink(ctx context.Context, userID, noteID int64, title, url string) (int64, error) {
	// Ownership check first; the insert alone would accept foreign notes.
	var owner int64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM notes WHERE id = ?`, noteID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoteNotFound
		}
		return 0, err
	}
	if owner != userID {
		return 0, ErrNoteNotFound
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO note_links(note_id, title, url) VALUES(?, ?, ?)`, noteID, title, url)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) listNoteLinks(ctx context.Context, noteID int64) ([]NoteLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, url, added_at FROM note_links WHERE note_id = ? ORDER BY added_at ASC, id ASC`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []NoteLink
	for rows.Next() {
		var link NoteLink
		if err := rows.Scan(&link.ID, &link.Title, &link.URL, &link.AddedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func noteRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoteNotFound
	}
	return nil
}
