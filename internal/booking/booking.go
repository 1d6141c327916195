package booking

import (
	"errors"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Booking is the ride request row. Terminal bookings keep their driver id
// for audit; it is nil exactly while the booking is pending.
type Booking struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	DriverID    *string       `json:"driver_id,omitempty"`
	Pickup      models.Place  `json:"pickup"`
	Destination models.Place  `json:"destination"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

var (
	ErrRequesterRequired = errors.New("requester id is required")
	ErrNotActor          = errors.New("caller is neither requester nor assigned driver")
)

// New builds a pending booking. The id is assigned by the store on insert.
func New(requesterID string, pickup, destination models.Place) (*Booking, error) {
	if requesterID == "" {
		return nil, ErrRequesterRequired
	}
	now := time.Now().UTC()
	return &Booking{
		RequesterID: requesterID,
		Pickup:      pickup,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// AssignedTo reports whether driverID is the booking's assigned driver.
func (b *Booking) AssignedTo(driverID string) bool {
	return b.DriverID != nil && *b.DriverID == driverID
}

// CancellableBy checks the actor rule for cancel: the requester always may,
// a driver only if assigned. The status rule is checked separately.
func (b *Booking) CancellableBy(s models.Session) error {
	if s.UserID == b.RequesterID {
		return nil
	}
	if s.Role == models.RoleDriver && b.AssignedTo(s.UserID) {
		return nil
	}
	return ErrNotActor
}

// CheckInvariant verifies the driver-id/status coupling that every
// transition must preserve.
func (b *Booking) CheckInvariant() error {
	assigned := b.DriverID != nil && *b.DriverID != ""
	switch {
	case b.Status == StatusPending && assigned:
		return errors.New("pending booking must not carry a driver id")
	case b.Status.Assigned() && !assigned:
		return errors.New("active booking must carry a driver id")
	}
	return nil
}

// TrackingTarget is the point the reconciler routes toward for this status:
// the pickup until the trip starts, the destination afterwards. The second
// return is false once tracking should stop.
func (b *Booking) TrackingTarget() (models.Coord, bool) {
	switch b.Status {
	case StatusAccepted, StatusEnRoute, StatusArrived:
		return b.Pickup.Coord, true
	case StatusInProgress:
		return b.Destination.Coord, true
	default:
		return models.Coord{}, false
	}
}
