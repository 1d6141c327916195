package dispatch

import (
	"sort"
	"sync"

	"github.com/example/ambulance-dispatch/internal/booking"
)

// Pool is one driver's view of the pending, unassigned bookings currently
// offered to them. Pruning here is an optimization; correctness of the
// at-most-one-winner rule rests on the store's guarded write.
type Pool struct {
	mu       sync.RWMutex
	bookings map[string]booking.Booking
}

func NewPool() *Pool {
	return &Pool{bookings: make(map[string]booking.Booking)}
}

// Offer adds a pending booking. Re-offering the same id overwrites, so
// replayed notifications converge on the same pool state.
func (p *Pool) Offer(b booking.Booking) {
	if b.Status != booking.StatusPending || b.DriverID != nil {
		return
	}
	p.mu.Lock()
	p.bookings[b.ID] = b
	p.mu.Unlock()
}

// Remove prunes a booking; a no-op when absent.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	delete(p.bookings, id)
	p.mu.Unlock()
}

func (p *Pool) Contains(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.bookings[id]
	return ok
}

// List returns the pool newest-first.
func (p *Pool) List() []booking.Booking {
	p.mu.RLock()
	out := make([]booking.Booking, 0, len(p.bookings))
	for _, b := range p.bookings {
		out = append(out, b)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bookings)
}
