package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/feed"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/storage"
)

var ErrDriverUnavailable = errors.New("driver is not available for dispatch")

// Matcher resolves the race between drivers claiming the same pending
// booking. It holds no lock of its own: the store's guarded write is the
// single serialization point, and everything here is bookkeeping around it.
type Matcher struct {
	Store     storage.BookingStore
	Snapshots geo.SnapshotStore
	Feed      feed.Feed
	Bus       *channel.Bus
	Logger    *slog.Logger

	mu    sync.RWMutex
	pools map[string]*Pool
}

func NewMatcher(store storage.BookingStore, snaps geo.SnapshotStore, f feed.Feed, bus *channel.Bus, logger *slog.Logger) *Matcher {
	return &Matcher{
		Store:     store,
		Snapshots: snaps,
		Feed:      f,
		Bus:       bus,
		Logger:    logger,
		pools:     make(map[string]*Pool),
	}
}

// Register creates (or returns) a driver's candidate pool. A new pool is
// seeded from the store before it becomes visible, so no caller ever sees
// an available driver's pool half-built. An unavailable driver gets an
// empty pool and no offers.
func (m *Matcher) Register(ctx context.Context, driverID string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[driverID]; ok {
		return pool, nil
	}

	pool := NewPool()
	avail, err := m.Snapshots.Available(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if avail {
		pending, err := m.Store.ListPending(ctx)
		if err != nil {
			return nil, err
		}
		for _, b := range pending {
			pool.Offer(*b)
		}
	}
	m.pools[driverID] = pool
	return pool, nil
}

// Unregister drops a driver's pool when their session ends.
func (m *Matcher) Unregister(driverID string) {
	m.mu.Lock()
	delete(m.pools, driverID)
	m.mu.Unlock()
}

// Accept issues the guarded claim for driverID on bookingID. The first
// return reports whether this driver won; losing is an expected outcome
// and comes back (false, nil) with the booking pruned from the pool.
func (m *Matcher) Accept(ctx context.Context, bookingID, driverID string) (bool, error) {
	avail, err := m.Snapshots.Available(ctx, driverID)
	if err != nil {
		return false, err
	}
	if !avail {
		return false, ErrDriverUnavailable
	}

	rows, err := m.Store.GuardedTransition(ctx, bookingID, booking.StatusPending, storage.Update{
		NewStatus:         booking.StatusAccepted,
		AssignDriver:      &driverID,
		RequireUnassigned: true,
	})
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// another driver won; not an error
		observability.AcceptAttempts.WithLabelValues("lost").Inc()
		m.pruneAll(bookingID)
		return false, nil
	}
	observability.AcceptAttempts.WithLabelValues("won").Inc()
	m.pruneAll(bookingID)
	return true, nil
}

// Run applies change-feed and message-channel events to the pools until
// ctx is done: new pending bookings are offered, observed accepts and
// cancellations are pruned eagerly. Both inputs are released on exit.
func (m *Matcher) Run(ctx context.Context) {
	rowSub := m.Feed.Subscribe("")
	defer rowSub.Close()
	busSub := m.Bus.Subscribe()
	defer busSub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rowSub.C:
			if !ok {
				return
			}
			m.applyRow(ctx, ev)
		case ev, ok := <-busSub.C:
			if !ok {
				return
			}
			// bookingAccept over the channel usually lands before the row
			// notification; prune as early as possible
			if acc, isAccept := ev.(channel.BookingAccept); isAccept {
				m.pruneAll(acc.BookingID)
			}
		}
	}
}

func (m *Matcher) applyRow(ctx context.Context, ev feed.Event) {
	b := ev.Row
	if b.Status == booking.StatusPending && b.DriverID == nil {
		m.offerAll(ctx, b)
		return
	}
	m.pruneAll(b.ID)
}

func (m *Matcher) offerAll(ctx context.Context, b booking.Booking) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for driverID, pool := range m.pools {
		avail, err := m.Snapshots.Available(ctx, driverID)
		if err != nil {
			m.Logger.Warn("availability lookup failed", "driver_id", driverID, "error", err)
			continue
		}
		if !avail {
			continue
		}
		pool.Offer(b)
	}
}

func (m *Matcher) pruneAll(bookingID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pool := range m.pools {
		pool.Remove(bookingID)
	}
}
