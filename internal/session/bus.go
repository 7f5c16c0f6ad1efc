package session

import (
	"sync"
	"sync/atomic"

	"devsession_mon/internal/store"
)

// Bus fans stored events out to subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event,
// and neither the publisher nor other subscribers are affected.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan store.Event
	next    int
	dropped atomic.Int64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan store.Event)}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan store.Event, func()) {
	ch := make(chan store.Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber with buffer space
func (b *Bus) Publish(ev store.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
