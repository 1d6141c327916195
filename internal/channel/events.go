package channel

import (
	"encoding/json"
	"fmt"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/models"
)

// Event is the closed set of message-channel payloads. Every event the
// wire can carry has a concrete type here; unknown names fail decoding
// instead of flowing through as untyped maps.
type Event interface {
	EventName() string
}

type LocationUpdate struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type BookingRequest struct {
	BookingID   string       `json:"bookingId"`
	RequesterID string       `json:"requesterId"`
	Pickup      models.Place `json:"pickup"`
	Destination models.Place `json:"destination"`
}

type BookingAccept struct {
	BookingID string `json:"bookingId"`
	DriverID  string `json:"driverId"`
}

type BookingStatusUpdate struct {
	BookingID string         `json:"bookingId"`
	Status    booking.Status `json:"status"`
}

type EmergencyAlert struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (LocationUpdate) EventName() string      { return "locationUpdate" }
func (BookingRequest) EventName() string      { return "bookingRequest" }
func (BookingAccept) EventName() string       { return "bookingAccept" }
func (BookingStatusUpdate) EventName() string { return "bookingStatusUpdate" }
func (EmergencyAlert) EventName() string      { return "emergencyAlert" }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var ErrUnknownEvent = fmt.Errorf("unknown channel event")

func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: ev.EventName(), Data: data})
}

func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var ev Event
	switch env.Event {
	case "locationUpdate":
		ev = &LocationUpdate{}
	case "bookingRequest":
		ev = &BookingRequest{}
	case "bookingAccept":
		ev = &BookingAccept{}
	case "bookingStatusUpdate":
		ev = &BookingStatusUpdate{}
	case "emergencyAlert":
		ev = &EmergencyAlert{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

// deref returns the value form so consumers can type-switch on concrete
// structs rather than pointers.
func deref(ev Event) Event {
	switch v := ev.(type) {
	case *LocationUpdate:
		return *v
	case *BookingRequest:
		return *v
	case *BookingAccept:
		return *v
	case *BookingStatusUpdate:
		return *v
	case *EmergencyAlert:
		return *v
	default:
		return ev
	}
}
