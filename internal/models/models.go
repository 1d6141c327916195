package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is an address with its resolved coordinate.
type Place struct {
	Address string `json:"address"`
	Coord   Coord  `json:"coord"`
}

// BookingRequest is the payload a requester submits to create a booking.
type BookingRequest struct {
	RequesterID string `json:"requester_id"`
	Pickup      Place  `json:"pickup"`
	Destination Place  `json:"destination"`
}

// DriverPosition is one raw position sample. The driver process is the
// only writer; everyone else is a read-only observer.
type DriverPosition struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	SampledAt time.Time `json:"sampled_at"`
	Online    bool      `json:"online"`
}

func (p DriverPosition) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

// DriverAvailability is the available-for-dispatch flag for one driver.
type DriverAvailability struct {
	DriverID  string `json:"driver_id"`
	Available bool   `json:"available"`
}

// Route is the result of a routing computation.
type Route struct {
	Path         []Coord `json:"path"`
	DurationText string  `json:"duration_text"`
}

// Session identifies the caller of an API action.
type Session struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type Role string

const (
	RoleRequester Role = "requester"
	RoleDriver    Role = "driver"
)
