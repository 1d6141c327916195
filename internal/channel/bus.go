package channel

import (
	"log/slog"
	"sync"
)

const busBuffer = 64

// Bus is a typed publish/subscribe fan-out for channel events. Subscribe
// returns an explicit handle, so unsubscribing never depends on comparing
// callback identities.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// Subscription is one observer's handle on the bus. C closes after Close.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

func (s *Subscription) Close() { s.once.Do(s.cancel) }

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[int]chan Event), logger: logger}
}

func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan Event, busBuffer)
	b.subs[id] = ch
	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		},
	}
}

// Publish delivers ev to every subscriber. Position samples arrive about
// once a second per driver, so a stalled subscriber drops events rather
// than backing up every other observer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.logger != nil {
				b.logger.Warn("channel subscriber lagging, event dropped", "event", ev.EventName())
			}
		}
	}
}
