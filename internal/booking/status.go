package booking

import (
	"errors"
	"strings"
)

// Status is a booking lifecycle state as stored in the bookings table.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusEnRoute    Status = "en_route"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var ErrInvalidStatus = errors.New("invalid booking status")

// ParseStatus normalizes and validates a status string.
func ParseStatus(in string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(in)))
	if s.Valid() {
		return s, nil
	}
	return "", ErrInvalidStatus
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusEnRoute, StatusArrived,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Terminal reports whether a booking in this state is final and immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Assigned reports whether a booking in this state must carry a driver id.
// After completed/cancelled the driver id is retained for audit, so Assigned
// speaks only to the non-terminal invariant.
func (s Status) Assigned() bool {
	switch s {
	case StatusAccepted, StatusEnRoute, StatusArrived, StatusInProgress:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a direct transition s -> next is legal.
// in_progress is reachable from both en_route and arrived: arrival is a
// trusted client signal and some driver apps skip it.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusCancelled
	case StatusAccepted:
		return next == StatusEnRoute || next == StatusCancelled
	case StatusEnRoute:
		return next == StatusArrived || next == StatusInProgress || next == StatusCancelled
	case StatusArrived:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted
	default:
		return false
	}
}

// Cancellable reports whether the requester or assigned driver may still cancel.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusEnRoute
}
