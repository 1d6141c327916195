package feed

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 32

// Broker fans booking change events out to subscribers in-process. All
// sources (memory store writes, the Postgres listener) publish into one
// broker so observers of the same row share a single delivery path and
// see per-row events in publish order.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event // keyed by booking id; "" means all rows
	nextID int
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{subs: make(map[string]map[int]chan Event), logger: logger}
}

func (b *Broker) Subscribe(id string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sid := b.nextID
	ch := make(chan Event, subscriberBuffer)
	if b.subs[id] == nil {
		b.subs[id] = make(map[int]chan Event)
	}
	b.subs[id][sid] = ch

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			if set, ok := b.subs[id]; ok {
				if c, ok := set[sid]; ok {
					delete(set, sid)
					close(c)
				}
				if len(set) == 0 {
					delete(b.subs, id)
				}
			}
			b.mu.Unlock()
		},
	}
}

// Publish delivers ev to subscribers of ev.Row.ID and to catch-all
// subscribers. A slow subscriber loses the event rather than stalling
// delivery to the rest.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{ev.Row.ID, ""} {
		for _, ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
				if b.logger != nil {
					b.logger.Warn("feed subscriber lagging, event dropped",
						"booking_id", ev.Row.ID, "event", string(ev.Type))
				}
			}
		}
	}
}
