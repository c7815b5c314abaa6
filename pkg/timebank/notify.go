package timebank

import "context"

// EventType enumerates booking lifecycle notifications.
type EventType string

const (
	EventBookingRequest   EventType = "booking-request"
	EventBookingAccepted  EventType = "booking-accepted"
	EventBookingDeclined  EventType = "booking-declined"
	EventBookingCancelled EventType = "booking-cancelled"
	EventBookingCompleted EventType = "booking-completed"
)

// Event is a best-effort notification about a committed transition. It is
// dispatched strictly after the transaction boundary commits; a sink failure
// never rolls anything back.
type Event struct {
	Type            EventType
	BookingID       string
	ActorID         string
	RecipientID     string
	OccurredUnixUTC int64
}

// Notifier is the fire-and-forget notification sink. Implementations must
// not block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}
