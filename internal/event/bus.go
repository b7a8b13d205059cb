package event

import (
	"sync"

	"github.com/google/uuid"
)

type subscriber struct {
	ch    chan Event
	types map[Type]bool // empty means all types
}

type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	muted       map[Type]int
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string]subscriber),
		muted:       make(map[Type]int),
	}
}

func (b *InMemoryBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.muted[e.Type] > 0 {
		return
	}

	for _, sub := range b.subscribers {
		if len(sub.types) > 0 && !sub.types[e.Type] {
			continue
		}
		// Non-blocking send so a slow subscriber cannot stall the publisher.
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Subscribe registers a listener for the given event types (all types when
// none are given) and returns the channel plus an unsubscribe function.
func (b *InMemoryBus) Subscribe(types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := subscriber{
		ch:    make(chan Event, 100),
		types: make(map[Type]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, exists := b.subscribers[id]; exists {
			close(sub.ch)
			delete(b.subscribers, id)
		}
	}

	return sub.ch, unsubscribe
}

// Mute suppresses delivery of one event type until the returned function is
// called. The account purge uses this to keep the counter-update reaction
// from firing against a user row that is being deleted in the same
// transaction. Mutes nest; delivery resumes once every unmute has run.
// The unmute function may be called more than once; extra calls are no-ops.
func (b *InMemoryBus) Mute(t Type) func() {
	b.mu.Lock()
	b.muted[t]++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.muted[t] > 0 {
				b.muted[t]--
			}
			if b.muted[t] == 0 {
				delete(b.muted, t)
			}
		})
	}
}
