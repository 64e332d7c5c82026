package internal

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

type messageDTO struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type conversationSummaryDTO struct {
	Peer        friendDTO  `json:"peer"`
	LastMessage messageDTO `json:"last_message"`
	Unread      int        `json:"unread"`
}

// HandleConversations serves the conversation overview: one entry per peer
// with the most recent message and the unread count.
func (s *Server) HandleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	summaries, err := s.store.ListConversations(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]conversationSummaryDTO, 0, len(summaries))
	for _, summary := range summaries {
		_, online := s.registry.Lookup(summary.Peer.ID)
		sender := authCtx.Username
		recipient := summary.Peer.Username
		if summary.LastMessage.SenderID == summary.Peer.ID {
			sender, recipient = recipient, sender
		}
		out = append(out, conversationSummaryDTO{
			Peer: friendDTO{
				ID:       summary.Peer.ID,
				Username: summary.Peer.Username,
				Grade:    summary.Peer.Grade,
				Avatar:   summary.Peer.Avatar,
				Online:   online,
			},
			LastMessage: messageDTO{
				ID:        summary.LastMessage.ID,
				Sender:    sender,
				Recipient: recipient,
				Content:   summary.LastMessage.Content,
				Read:      summary.LastMessage.Read,
				CreatedAt: summary.LastMessage.CreatedAt,
			},
			Unread: summary.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]conversationSummaryDTO{"conversations": out})
}

// HandleConversation serves GET /conversations/{username}: the full message
// history with that peer, oldest first. Fetching the history marks the peer's
// messages as read.
func (s *Server) HandleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	username := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/conversations/"))
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("peer username required"))
		return
	}
	peer, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if peer == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	messages, err := s.store.ListConversation(r.Context(), authCtx.UserID, peer.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.MarkConversationRead(r.Context(), authCtx.UserID, peer.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]messageDTO, 0, len(messages))
	for _, m := range messages {
		sender := authCtx.Username
		recipient := peer.Username
		if m.SenderID == peer.ID {
			sender, recipient = recipient, sender
		}
		out = append(out, messageDTO{
			ID:        m.ID,
			Sender:    sender,
			Recipient: recipient,
			Content:   m.Content,
			Read:      m.Read,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]messageDTO{"messages": out})
}
