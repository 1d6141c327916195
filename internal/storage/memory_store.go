package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/feed"
)

// MemoryStore keeps bookings in a map guarded by one mutex, so a guarded
// transition is a true compare-and-set: the guard check and the write happen
// under the same lock. Change events go to the optional feed publisher while
// that lock is still held, so per-row feed order always matches apply order,
// as with the Postgres trigger. Broker delivery is non-blocking, so holding
// the lock across Publish cannot deadlock.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]*booking.Booking
	pub      feed.Publisher
}

func NewMemoryStore(pub feed.Publisher) *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*booking.Booking), pub: pub}
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *booking.Booking) error {
	m.mu.Lock()
	if b.ID == "" {
		b.ID = newID()
	}
	cp := *b
	m.bookings[b.ID] = &cp
	m.publish(feed.EventInsert, cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*booking.Booking, error) {
	m.mu.RLock()
	out := make([]*booking.Booking, 0)
	for _, b := range m.bookings {
		if b.Status == booking.StatusPending && b.DriverID == nil {
			cp := *b
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GuardedTransition(ctx context.Context, id string, expected booking.Status, upd Update) (int64, error) {
	m.mu.Lock()
	b, ok := m.bookings[id]
	if !ok {
		m.mu.Unlock()
		return 0, ErrNotFound
	}
	if b.Status != expected ||
		(upd.RequireUnassigned && b.DriverID != nil) ||
		(upd.RequireDriver != "" && !b.AssignedTo(upd.RequireDriver)) {
		m.mu.Unlock()
		return 0, nil
	}
	b.Status = upd.NewStatus
	if upd.AssignDriver != nil {
		d := *upd.AssignDriver
		b.DriverID = &d
	}
	b.UpdatedAt = time.Now().UTC()
	cp := *b
	m.publish(feed.EventUpdate, cp)
	m.mu.Unlock()
	return 1, nil
}

func (m *MemoryStore) publish(t feed.EventType, b booking.Booking) {
	if m.pub != nil {
		m.pub.Publish(feed.Event{Type: t, Row: b})
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
