package storage

import (
	"context"
	"errors"

	"github.com/example/ambulance-dispatch/internal/booking"
)

var ErrNotFound = errors.New("booking not found")

// Update describes the fields a guarded transition writes and the row-state
// guards that must still hold at write time. A transition whose guard fails
// affects zero rows; that is the expected lost-race outcome, not an error.
type Update struct {
	NewStatus booking.Status

	// AssignDriver sets driver_id (the accept transition). Terminal
	// transitions never clear it.
	AssignDriver *string

	// RequireUnassigned guards on driver_id IS NULL (accept).
	RequireUnassigned bool

	// RequireDriver guards on driver_id = this value (driver-side
	// transitions). Empty means no driver guard.
	RequireDriver string
}

// BookingStore is the durable side of the protocol. GuardedTransition is
// the compare-and-set primitive every lifecycle change goes through; the
// store's row-level atomicity is the arbiter between racing writers.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *booking.Booking) error
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	ListPending(ctx context.Context) ([]*booking.Booking, error)
	GuardedTransition(ctx context.Context, id string, expected booking.Status, upd Update) (int64, error)
}
