package events

import (
	"sync"

	"stakeescrow/core/types"
)

// Broker fans published events out to live subscribers. Slow subscribers
// lose events rather than blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan types.Event
	buffer int
}

// NewBroker returns a broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[uint64]chan types.Event), buffer: buffer}
}

// Emit implements the Emitter interface.
func (b *Broker) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- *payload.Clone():
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and must be called once the subscriber is done.
func (b *Broker) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan types.Event, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
