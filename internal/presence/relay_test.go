package presence

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRelay(users *fakeUserStore, messages *fakeMessageStore) (*Relay, *Registry, *Bus) {
	registry := NewRegistry()
	bus := NewBus()
	return NewRelay(registry, bus, users, messages), registry, bus
}

func TestSendMessageToOfflineRecipient(t *testing.T) {
	stamp := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	messages := newFakeMessageStore(stamp)
	relay, _, bus := newTestRelay(newFakeUserStore(1, 2), messages)

	sender := newFakeChannel("chan-sender")
	bus.Add(sender)

	relay.SendMessage(context.Background(), sender, 1, 2, "hello")

	if messages.count() != 1 {
		t.Fatalf("message must be persisted even with recipient offline")
	}
	acks := sender.eventsOfType(EventMessageSent)
	if len(acks) != 1 {
		t.Fatalf("expected one ack, got %d", len(acks))
	}
	if acks[0].MessageID != 1 || acks[0].RecipientID != 2 || acks[0].Timestamp != stamp.Unix() {
		t.Fatalf("unexpected ack: %+v", acks[0])
	}
	if got := sender.eventsOfType(EventNewMessage); len(got) != 0 {
		t.Fatalf("no delivery expected anywhere, sender saw %d", len(got))
	}
}

func TestSendMessageDeliversToLiveSession(t *testing.T) {
	stamp := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	messages := newFakeMessageStore(stamp)
	relay, registry, bus := newTestRelay(newFakeUserStore(1, 2), messages)

	sender := newFakeChannel("chan-sender")
	recipient := newFakeChannel("chan-recipient")
	bus.Add(sender)
	bus.Add(recipient)
	registry.Upsert(2, recipient.ID(), stamp)

	var relayed int
	relay.OnRelayed(func() { relayed++ })

	relay.SendMessage(context.Background(), sender, 1, 2, "hello")

	delivered := recipient.eventsOfType(EventNewMessage)
	if len(delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(delivered))
	}
	got := delivered[0]
	if got.MessageID != 1 || got.Sender != 1 || got.Content != "hello" || got.Timestamp != stamp.Unix() {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if len(sender.eventsOfType(EventMessageSent)) != 1 {
		t.Fatalf("sender must still get the ack")
	}
	if relayed != 1 {
		t.Fatalf("relay callback fired %d times, want 1", relayed)
	}
}

func TestSendMessageValidation(t *testing.T) {
	messages := newFakeMessageStore(time.Now())
	relay, _, bus := newTestRelay(newFakeUserStore(1, 2), messages)

	sender := newFakeChannel("chan-sender")
	bus.Add(sender)

	relay.SendMessage(context.Background(), sender, 1, 2, "   ")
	relay.SendMessage(context.Background(), sender, 1, 0, "hi")

	if messages.count() != 0 {
		t.Fatalf("invalid messages must not be persisted")
	}
	if got := sender.eventsOfType(EventMessageError); len(got) != 2 {
		t.Fatalf("expected two messageError events, got %d", len(got))
	}
}

func TestSendMessageUnknownRecipientAccount(t *testing.T) {
	messages := newFakeMessageStore(time.Now())
	relay, _, bus := newTestRelay(newFakeUserStore(1), messages)

	sender := newFakeChannel("chan-sender")
	bus.Add(sender)

	relay.SendMessage(context.Background(), sender, 1, 42, "hello")

	if messages.count() != 0 {
		t.Fatalf("message to a missing account must not be persisted")
	}
	errorsSeen := sender.eventsOfType(EventMessageError)
	if len(errorsSeen) != 1 {
		t.Fatalf("expected one messageError, got %d", len(errorsSeen))
	}
}

func TestSendMessageStoreFailure(t *testing.T) {
	messages := newFakeMessageStore(time.Now())
	messages.saveErr = errors.New("store down")
	relay, _, bus := newTestRelay(newFakeUserStore(1, 2), messages)

	sender := newFakeChannel("chan-sender")
	bus.Add(sender)

	relay.SendMessage(context.Background(), sender, 1, 2, "hello")

	if len(sender.eventsOfType(EventMessageSent)) != 0 {
		t.Fatalf("no ack without a canonical id")
	}
	if len(sender.eventsOfType(EventMessageError)) != 1 {
		t.Fatalf("sender must learn about the failure")
	}
}

func TestTypingRelayAndDrop(t *testing.T) {
	relay, registry, bus := newTestRelay(newFakeUserStore(1, 2), newFakeMessageStore(time.Now()))

	sender := newFakeChannel("chan-sender")
	recipient := newFakeChannel("chan-recipient")
	bus.Add(sender)

	// Recipient disconnected: silently dropped, nothing surfaces anywhere.
	relay.Typing(1, 2, true)
	if len(sender.events) != 0 {
		t.Fatalf("typing to an offline peer must produce no observable event")
	}

	bus.Add(recipient)
	registry.Upsert(2, recipient.ID(), time.Now())

	relay.Typing(1, 2, true)
	relay.Typing(1, 2, false)

	flags := recipient.eventsOfType(EventUserTyping)
	if len(flags) != 2 {
		t.Fatalf("expected two typing relays, got %d", len(flags))
	}
	if flags[0].UserID != 1 || !flags[0].IsTyping || flags[1].IsTyping {
		t.Fatalf("unexpected typing events: %+v", flags)
	}
}
