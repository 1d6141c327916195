package feed

import (
	"sync"

	"github.com/example/ambulance-dispatch/internal/booking"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// Event is one change notification for a booking row, delivered in the
// order the store applied the writes for that row.
type Event struct {
	Type EventType       `json:"type"`
	Row  booking.Booking `json:"row"`
}

// Subscription is a live handle on the feed. C closes after Close returns.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Feed delivers booking row changes to interested observers.
type Feed interface {
	// Subscribe registers interest in one booking id, or in every row when
	// id is empty. Observers of the same id share one underlying channel.
	Subscribe(id string) *Subscription
}

// Publisher is the write side used by stores and listeners.
type Publisher interface {
	Publish(ev Event)
}
