package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/feed"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
)

// busSource satisfies SampleSource without a network connection.
type busSource struct {
	bus      *channel.Bus
	mu       sync.Mutex
	acquired int
	released int
}

func (s *busSource) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	return nil
}

func (s *busSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

func (s *busSource) Bus() *channel.Bus { return s.bus }

type scriptedRouter struct {
	mu      sync.Mutex
	err     error
	targets []models.Coord
}

func (r *scriptedRouter) ComputeRoute(ctx context.Context, origin, destination models.Coord) (models.Route, error) {
	r.mu.Lock()
	r.targets = append(r.targets, destination)
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return models.Route{}, err
	}
	return models.Route{Path: []models.Coord{origin, destination}, DurationText: "4 mins"}, nil
}

func (r *scriptedRouter) lastTarget(t *testing.T) models.Coord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.targets) == 0 {
		t.Fatal("router never called")
	}
	return r.targets[len(r.targets)-1]
}

type trackerFixture struct {
	store  *storage.MemoryStore
	snaps  *geo.Index
	broker *feed.Broker
	source *busSource
	router *scriptedRouter
	b      *booking.Booking
}

func newTrackerFixture(t *testing.T, status booking.Status, driverID string) *trackerFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := feed.NewBroker(logger)
	store := storage.NewMemoryStore(broker)
	snaps := geo.NewIndex()

	b, err := booking.New("rider-1",
		models.Place{Address: "pickup", Coord: models.Coord{Lat: 10, Lng: 10}},
		models.Place{Address: "dest", Coord: models.Coord{Lat: 20, Lng: 20}})
	if err != nil {
		t.Fatalf("new booking: %v", err)
	}
	if err := store.CreateBooking(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if status != booking.StatusPending {
		rows, err := store.GuardedTransition(ctx, b.ID, booking.StatusPending, storage.Update{
			NewStatus:         booking.StatusAccepted,
			AssignDriver:      &driverID,
			RequireUnassigned: true,
		})
		if err != nil || rows != 1 {
			t.Fatalf("seed accept: rows=%d err=%v", rows, err)
		}
	}
	got, _ := store.GetBooking(ctx, b.ID)

	return &trackerFixture{
		store:  store,
		snaps:  snaps,
		broker: broker,
		source: &busSource{bus: channel.NewBus(logger)},
		router: &scriptedRouter{},
		b:      got,
	}
}

func (f *trackerFixture) start(t *testing.T, ctx context.Context) *Tracker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := NewTracker(ctx, f.b.ID, f.store, f.snaps, f.broker, f.source, f.router, logger)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

func nextUpdate(t *testing.T, tr *Tracker) Update {
	t.Helper()
	select {
	case u, ok := <-tr.Updates():
		if !ok {
			t.Fatal("updates channel closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update arrived")
	}
	return Update{}
}

func expectNoUpdate(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case u := <-tr.Updates():
		t.Fatalf("unexpected update: %+v", u)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSnapshotSeedsInitialView(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")
	f.snaps.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 11, Lng: 11, SampledAt: time.Now()})

	tr := f.start(t, ctx)
	u := nextUpdate(t, tr)
	if u.Position == nil || u.Position.Lat != 11 {
		t.Fatalf("snapshot position missing: %+v", u.Position)
	}
	if u.ETA != "4 mins" {
		t.Fatalf("expected routed eta, got %q", u.ETA)
	}
	// In the pickup phase the router is aimed at the pickup point.
	if f.router.lastTarget(t) != f.b.Pickup.Coord {
		t.Fatalf("wrong target: %+v", f.router.lastTarget(t))
	}
}

func TestNoSnapshotNoPosition(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")

	tr := f.start(t, ctx)
	u := nextUpdate(t, tr)
	if u.Position != nil {
		t.Fatalf("expected no position, got %+v", u.Position)
	}
	if u.ETA != "" {
		t.Fatalf("eta without a position should be empty, got %q", u.ETA)
	}
}

func TestSampleSupersedesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")
	f.snaps.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 11, Lng: 11, SampledAt: time.Now()})

	tr := f.start(t, ctx)
	nextUpdate(t, tr) // initial view from the snapshot

	f.source.bus.Publish(channel.LocationUpdate{DriverID: "d1", Lat: 12, Lng: 12})
	u := nextUpdate(t, tr)
	if u.Position == nil || u.Position.Lat != 12 {
		t.Fatalf("sample not applied: %+v", u.Position)
	}

	// An identical repeat sample changes nothing and emits nothing.
	f.source.bus.Publish(channel.LocationUpdate{DriverID: "d1", Lat: 12, Lng: 12})
	expectNoUpdate(t, tr)
}

func TestWrongDriverSampleDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")

	tr := f.start(t, ctx)
	nextUpdate(t, tr)

	f.source.bus.Publish(channel.LocationUpdate{DriverID: "d2", Lat: 99, Lng: 99})
	expectNoUpdate(t, tr)

	f.source.bus.Publish(channel.LocationUpdate{DriverID: "d1", Lat: 12, Lng: 12})
	u := nextUpdate(t, tr)
	if u.Position == nil || u.Position.Lat != 12 {
		t.Fatalf("own driver's sample lost: %+v", u.Position)
	}
}

func TestSampleAfterTerminalIgnored(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")

	tr := f.start(t, ctx)
	nextUpdate(t, tr)

	rows, err := f.store.GuardedTransition(ctx, f.b.ID, booking.StatusAccepted, storage.Update{
		NewStatus: booking.StatusCancelled,
	})
	if err != nil || rows != 1 {
		t.Fatalf("cancel: rows=%d err=%v", rows, err)
	}
	u := nextUpdate(t, tr)
	if u.Booking.Status != booking.StatusCancelled {
		t.Fatalf("row change not applied: %s", u.Booking.Status)
	}

	f.source.bus.Publish(channel.LocationUpdate{DriverID: "d1", Lat: 12, Lng: 12})
	expectNoUpdate(t, tr)
}

func TestETAFailureSentinel(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")
	f.router.err = errors.New("osrm down")
	f.snaps.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 11, Lng: 11, SampledAt: time.Now()})

	tr := f.start(t, ctx)
	u := nextUpdate(t, tr)
	if u.ETA != ETAUnavailable {
		t.Fatalf("expected %q, got %q", ETAUnavailable, u.ETA)
	}
	if u.Path != nil {
		t.Fatalf("failed route must not leave a stale path: %+v", u.Path)
	}
}

func TestTargetSwitchesAtTripStart(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")
	f.snaps.Upsert(ctx, models.DriverPosition{DriverID: "d1", Lat: 11, Lng: 11, SampledAt: time.Now()})

	tr := f.start(t, ctx)
	nextUpdate(t, tr)
	if f.router.lastTarget(t) != f.b.Pickup.Coord {
		t.Fatalf("pickup phase must target pickup, got %+v", f.router.lastTarget(t))
	}

	for _, next := range []booking.Status{booking.StatusEnRoute, booking.StatusInProgress} {
		cur, _ := f.store.GetBooking(ctx, f.b.ID)
		rows, err := f.store.GuardedTransition(ctx, f.b.ID, cur.Status, storage.Update{
			NewStatus:     next,
			RequireDriver: "d1",
		})
		if err != nil || rows != 1 {
			t.Fatalf("step to %s: rows=%d err=%v", next, rows, err)
		}
		nextUpdate(t, tr)
	}
	if f.router.lastTarget(t) != f.b.Destination.Coord {
		t.Fatalf("trip phase must target destination, got %+v", f.router.lastTarget(t))
	}
}

func TestCloseReleasesSource(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t, booking.StatusAccepted, "d1")

	tr := f.start(t, ctx)
	nextUpdate(t, tr)
	tr.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.source.mu.Lock()
		released := f.source.released
		f.source.mu.Unlock()
		if released == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("source never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The updates channel closes on shutdown.
	for {
		if _, ok := <-tr.Updates(); !ok {
			break
		}
	}
}
