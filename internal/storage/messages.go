package storage

import (
	"context"
	"time"
)

// Message represents a row in the messages table.
type Message struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Content     string
	Read        bool
	CreatedAt   time.Time
}

/// ConversationSummary is one entry of the conversation overview: the peer,
// the most recent message, and how many of their messages are unread.
type ConversationSummary struct {
	Peer        User
	LastMessage Message
	UnreadCount int
}

// AppendMessage stores a chat message and returns the canonical id and
// timestamp the store assigned. This is the single write path the relay uses.
func (s *Store) AppendMessage(ctx context.Context, senderID, recipientID int64, content string) (int64, time.Time, error) {
	createdAt := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(sender_id, recipient_id, content, created_at) VALUES(?, ?, ?, ?)`,
		senderID, recipientID, content, createdAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, time.Time{}, err
	}
	return id, createdAt, nil
}

// ListConversation returns the full message history between two users in
// chronological order.
func (s *Store) ListConversation(ctx context.Context, userID, peerID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, recipient_id, content, read, created_at
		FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at ASC, id ASC
	`, userID, peerID, peerID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkConversationRead flags every message the peer sent to the user as read.
func (s *Store) MarkConversationRead(ctx context.Context, userID, peerID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE sender_id = ? AND recipient_id = ? AND read = 0`,
		peerID, userID)
	return err
}

// ListConversations groups the user's message history by peer, newest
// conversation first, with unread counts.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.recipient_id, m.content, m.read, m.created_at,
			`+userColumnsPrefixed+`,
			(SELECT COUNT(1) FROM messages x
			 WHERE x.sender_id = u.id AND x.recipient_id = ? AND x.read = 0) AS unread
		FROM messages m
		JOIN users u ON u.id = CASE WHEN m.sender_id = ? THEN m.recipient_id ELSE m.sender_id END
		WHERE m.id IN (
			SELECT MAX(id) FROM messages
			WHERE sender_id = ? OR recipient_id = ?
			GROUP BY CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END
		)
		ORDER BY m.created_at DESC, m.id DESC
	`, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(
			&c.LastMessage.ID, &c.LastMessage.SenderID, &c.LastMessage.RecipientID,
			&c.LastMessage.Content, &c.LastMessage.Read, &c.LastMessage.CreatedAt,
			&c.Peer.ID, &c.Peer.Username, &c.Peer.Email, &c.Peer.PasswordHash,
			&c.Peer.Grade, &c.Peer.Avatar, &c.Peer.IsOnline, &c.Peer.LastActive,
			&c.Peer.FailedLoginAttempts, &c.Peer.LockedUntil, &c.Peer.CreatedAt,
			&c.UnreadCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, c)
	}
	return summaries, rows.Err()
}
