package presence

import (
	"context"
	"log"
	"strings"
	"time"
)

// MessageStore appends a chat message durably and hands back the canonical id
// and timestamp it assigned.
type MessageStore interface {
	AppendMessage(ctx context.Context, senderID, recipientID int64, content string) (id int64, createdAt time.Time, err error)
}

// Relay delivers chat messages and ephemeral typing indicators to connected
// peers, routing through the registry. An offline recipient is never an
// error: messages stay in the store for later retrieval, typing flags are
// simply dropped.
type Relay struct {
	registry *Registry
	bus      *Bus
	users    UserStore
	messages MessageStore

	// onRelayed, when set, is called after a real-time delivery. Used for
	// metrics.
	onRelayed func()
}

func NewRelay(registry *Registry, bus *Bus, users UserStore, messages MessageStore) *Relay {
	return &Relay{registry: registry, bus: bus, users: users, messages: messages}
}

// OnRelayed registers a callback fired once per delivered real-time message.
func (r *Relay) OnRelayed(fn func()) {
	r.onRelayed = fn
}

// SendMessage persists the message first, always acknowledges the sender with
// the assigned id and timestamp, then delivers a real-time copy if the
// recipient holds a live session. Errors go back to the sender's channel
// only.
func (r *Relay) SendMessage(ctx context.Context, sender Channel, senderID, recipientID int64, content string) {
	if senderID == 0 || recipientID == 0 || strings.TrimSpace(content) == "" {
		sender.Send(Event{Type: EventMessageError, Message: "Missing message information"})
		return
	}

	exists, err := r.users.UserExists(ctx, recipientID)
	if err != nil {
		log.Printf("presence: look up recipient %d: %v", recipientID, err)
		sender.Send(Event{Type: EventMessageError, Message: "Failed to send message"})
		return
	}
	if !exists {
		sender.Send(Event{Type: EventMessageError, Message: "Recipient not found"})
		return
	}

	id, createdAt, err := r.messages.AppendMessage(ctx, senderID, recipientID, content)
	if err != nil {
		log.Printf("presence: store message from %d to %d: %v", senderID, recipientID, err)
		sender.Send(Event{Type: EventMessageError, Message: "Failed to send message"})
		return
	}

	sender.Send(Event{
		Type:        EventMessageSent,
		MessageID:   id,
		RecipientID: recipientID,
		Content:     content,
		Timestamp:   createdAt.Unix(),
	})

	if session, ok := r.registry.Lookup(recipientID); ok {
		if ch, ok := r.bus.Get(session.ChannelID); ok {
			ch.Send(Event{
				Type:      EventNewMessage,
				MessageID: id,
				Sender:    senderID,
				Content:   content,
				Timestamp: createdAt.Unix(),
			})
			if r.onRelayed != nil {
				r.onRelayed()
			}
		}
	}
}

// Typing relays an ephemeral typing flag to the recipient if connected.
// Nothing is persisted and the sender gets no acknowledgment either way.
func (r *Relay) Typing(senderID, recipientID int64, isTyping bool) {
	if senderID == 0 || recipientID == 0 {
		return
	}
	session, ok := r.registry.Lookup(recipientID)
	if !ok {
		return
	}
	if ch, ok := r.bus.Get(session.ChannelID); ok {
		ch.Send(Event{Type: EventUserTyping, UserID: senderID, IsTyping: isTyping})
	}
}
