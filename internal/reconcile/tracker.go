package reconcile

import (
	"context"
	"log/slog"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/eta"
	"github.com/example/ambulance-dispatch/internal/feed"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/storage"
)

// ETAUnavailable is shown when the last routing call failed. A stale
// duration must never be visually indistinguishable from a fresh one.
const ETAUnavailable = "N/A"

// Update is the merged view the tracker publishes after every applied
// event: the authoritative booking row, the current best position, and
// the most recently computed ETA.
type Update struct {
	Booking  booking.Booking
	Position *models.Coord
	Path     []models.Coord
	ETA      string
}

// SampleSource is where transient position samples come from: the shared
// ref-counted client connection, or the server hub's local bus.
type SampleSource interface {
	Acquire() error
	Release()
	Bus() *channel.Bus
}

// Tracker is the read-side reconciler for one observed booking. It merges
// the low-frequency change feed with the high-frequency transient sample
// stream; a transient sample always supersedes the snapshot once one has
// arrived in this tracking session, and the snapshot fills in until then.
type Tracker struct {
	bk        booking.Booking
	store     storage.BookingStore
	snapshots geo.SnapshotStore
	router    eta.Client
	logger    *slog.Logger

	source  SampleSource
	rowSub  *feed.Subscription
	busSub  *channel.Subscription
	updates chan Update
	done    chan struct{}

	position  *models.Coord
	hasSample bool
	path      []models.Coord
	etaText   string
	target    models.Coord
	hasTarget bool
}

// NewTracker reads the authoritative snapshot, wires both event sources,
// and starts the merge loop. Callers must Close the tracker when interest
// ends; a leaked subscription applies state twice on the next mount.
func NewTracker(ctx context.Context, bookingID string, store storage.BookingStore, snaps geo.SnapshotStore, f feed.Feed, src SampleSource, router eta.Client, logger *slog.Logger) (*Tracker, error) {
	b, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		bk:        *b,
		store:     store,
		snapshots: snaps,
		router:    router,
		logger:    logger,
		source:    src,
		updates:   make(chan Update, 16),
		done:      make(chan struct{}),
	}

	// snapshot fallback so the map is never empty while the stream ramps up
	t.seedFromSnapshot(ctx)

	t.rowSub = f.Subscribe(bookingID)
	if err := src.Acquire(); err != nil {
		t.rowSub.Close()
		return nil, err
	}
	t.busSub = src.Bus().Subscribe()

	go t.run(ctx)
	return t, nil
}

// Updates delivers one merged view per applied event. The channel closes
// when the tracker shuts down.
func (t *Tracker) Updates() <-chan Update { return t.updates }

// Close tears the tracker down: change-feed subscription first, then the
// message-channel listener and the shared connection, in that order.
func (t *Tracker) Close() {
	select {
	case <-t.done:
		return
	default:
		close(t.done)
	}
}

func (t *Tracker) run(ctx context.Context) {
	defer func() {
		t.rowSub.Close()
		t.busSub.Close()
		t.source.Release()
		close(t.updates)
	}()

	// initial view before any event arrives
	t.recomputeETA(ctx)
	t.emit()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case ev, ok := <-t.rowSub.C:
			if !ok {
				return
			}
			t.applyRow(ctx, ev.Row)
			t.emit()
		case ev, ok := <-t.busSub.C:
			if !ok {
				return
			}
			sample, isSample := ev.(channel.LocationUpdate)
			if !isSample {
				continue
			}
			if t.applySample(ctx, sample) {
				t.emit()
			}
		}
	}
}

// applyRow replaces the local booking with the notified row. Replaying the
// same notification is a no-op by construction.
func (t *Tracker) applyRow(ctx context.Context, row booking.Booking) {
	driverChanged := !sameDriver(t.bk.DriverID, row.DriverID)
	t.bk = row
	if driverChanged && !t.hasSample {
		t.seedFromSnapshot(ctx)
	}
	t.recomputeETA(ctx)
}

// applySample merges one transient position sample. Samples for a driver
// other than the tracked booking's, or arriving after a terminal status,
// are discarded.
func (t *Tracker) applySample(ctx context.Context, s channel.LocationUpdate) bool {
	if t.bk.Status.Terminal() || t.bk.DriverID == nil || *t.bk.DriverID != s.DriverID {
		observability.SamplesDiscarded.Inc()
		return false
	}
	pos := models.Coord{Lat: s.Lat, Lng: s.Lng}
	if t.hasSample && t.position != nil && *t.position == pos {
		return false
	}
	t.position = &pos
	t.hasSample = true
	t.recomputeETA(ctx)
	return true
}

// recomputeETA refreshes the route whenever there is a position and a
// tracking target: the pickup until the trip starts, the destination
// afterwards. A failed call degrades to the explicit unavailable sentinel.
func (t *Tracker) recomputeETA(ctx context.Context) {
	target, ok := t.bk.TrackingTarget()
	if !ok || t.position == nil {
		t.hasTarget = false
		t.etaText = ""
		t.path = nil
		return
	}
	t.target = target
	t.hasTarget = true

	route, err := t.router.ComputeRoute(ctx, *t.position, target)
	if err != nil {
		observability.ETAFailures.Inc()
		t.logger.Warn("route computation failed", "booking_id", t.bk.ID, "error", err)
		t.etaText = ETAUnavailable
		t.path = nil
		return
	}
	t.etaText = route.DurationText
	t.path = route.Path
}

func (t *Tracker) seedFromSnapshot(ctx context.Context) {
	if t.bk.DriverID == nil {
		return
	}
	p, ok, err := t.snapshots.LastKnown(ctx, *t.bk.DriverID)
	if err != nil {
		t.logger.Warn("last-known position lookup failed", "driver_id", *t.bk.DriverID, "error", err)
		return
	}
	if ok {
		c := p.Coord()
		t.position = &c
	}
}

func (t *Tracker) emit() {
	var pos *models.Coord
	if t.position != nil {
		c := *t.position
		pos = &c
	}
	u := Update{Booking: t.bk, Position: pos, Path: t.path, ETA: t.etaText}
	select {
	case t.updates <- u:
	default:
		// observer is behind; it only ever needs the latest view
		select {
		case <-t.updates:
		default:
		}
		select {
		case t.updates <- u:
		default:
		}
	}
}

func sameDriver(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
