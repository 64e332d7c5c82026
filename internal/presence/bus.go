package presence

import "sync"

// Bus tracks every connected channel and fans events out to all of them.
// Status updates deliberately go to everyone, not just friends of the
// affected user, so the fan-out is O(n) per transition.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewBus() *Bus {
	return &Bus{channels: make(map[string]Channel)}
}

func (b *Bus) Add(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[ch.ID()] = ch
}

func (b *Bus) Remove(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, channelID)
}

// Get returns the channel with the given id if it is still connected.
func (b *Bus) Get(channelID string) (Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[channelID]
	return ch, ok
}

// Broadcast sends the event to every connected channel. Channel.Send never
// blocks, so one slow consumer cannot stall the others.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	targets := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()
	for _, ch := range targets {
		ch.Send(event)
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}
