package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/channel"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/storage"
)

// Notifier fans protocol events out to connected clients; the server-side
// channel hub satisfies it.
type Notifier interface {
	Broadcast(ev channel.Event, exclude string)
}

var (
	ErrForbidden         = errors.New("caller may not perform this transition")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Result is the outcome of an attempted transition. Applied=false means
// the guarded write affected zero rows: the caller lost a race, and
// Booking carries the re-read authoritative state to present instead.
type Result struct {
	Booking *booking.Booking
	Applied bool
}

// Service drives booking lifecycle changes through the store's guarded
// write and converts zero-rows outcomes into re-read truth, never retries.
type Service struct {
	Store  storage.BookingStore
	Notify Notifier
	Logger *slog.Logger
}

// Create inserts a pending booking for the requester and announces it.
func (s *Service) Create(ctx context.Context, req models.BookingRequest) (*booking.Booking, error) {
	b, err := booking.New(req.RequesterID, req.Pickup, req.Destination)
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	observability.BookingsCreated.Inc()
	s.broadcast(channel.BookingRequest{
		BookingID:   b.ID,
		RequesterID: b.RequesterID,
		Pickup:      b.Pickup,
		Destination: b.Destination,
	})
	return b, nil
}

// Transition applies one forward lifecycle step as the assigned driver.
// Preconditions that no longer hold at write time surface as Applied=false
// with current truth, not as errors.
func (s *Service) Transition(ctx context.Context, sess models.Session, id string, next booking.Status) (Result, error) {
	cur, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if sess.Role != models.RoleDriver || !cur.AssignedTo(sess.UserID) {
		return Result{}, ErrForbidden
	}
	if !next.Valid() || next == booking.StatusCancelled {
		return Result{}, ErrIllegalTransition
	}
	if !cur.Status.CanTransitionTo(next) {
		// includes attempts out of a terminal state: treated as lost-race,
		// the caller re-renders current truth
		return Result{Booking: cur, Applied: false}, nil
	}

	rows, err := s.Store.GuardedTransition(ctx, id, cur.Status, storage.Update{
		NewStatus:     next,
		RequireDriver: sess.UserID,
	})
	if err != nil {
		return Result{}, err
	}
	if rows == 0 {
		return s.reread(ctx, id, false)
	}

	observability.Transitions.WithLabelValues(next.String()).Inc()
	s.broadcast(channel.BookingStatusUpdate{BookingID: id, Status: next})
	return s.reread(ctx, id, true)
}

// Cancel moves a booking to cancelled on behalf of the requester or the
// assigned driver. The driver id is retained for audit.
func (s *Service) Cancel(ctx context.Context, sess models.Session, id string) (Result, error) {
	cur, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := cur.CancellableBy(sess); err != nil {
		return Result{}, ErrForbidden
	}
	if !cur.Status.Cancellable() {
		return Result{Booking: cur, Applied: false}, nil
	}

	upd := storage.Update{NewStatus: booking.StatusCancelled}
	if sess.Role == models.RoleDriver {
		upd.RequireDriver = sess.UserID
	}
	rows, err := s.Store.GuardedTransition(ctx, id, cur.Status, upd)
	if err != nil {
		return Result{}, err
	}
	if rows == 0 {
		return s.reread(ctx, id, false)
	}

	observability.Transitions.WithLabelValues(booking.StatusCancelled.String()).Inc()
	s.broadcast(channel.BookingStatusUpdate{BookingID: id, Status: booking.StatusCancelled})
	return s.reread(ctx, id, true)
}

func (s *Service) reread(ctx context.Context, id string, applied bool) (Result, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return Result{Booking: b, Applied: applied}, nil
}

func (s *Service) broadcast(ev channel.Event) {
	if s.Notify != nil {
		s.Notify.Broadcast(ev, "")
	}
}
