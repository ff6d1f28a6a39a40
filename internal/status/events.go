package status

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventProceedToPayment EventType = "ProceedToPayment"
	EventPassengerBoarded EventType = "PassengerBoarded"
	EventRideStarted      EventType = "RideStarted"
	EventRideCompleted    EventType = "RideCompleted"
	EventRideCancelled    EventType = "RideCancelled"
	EventRequestIncoming  EventType = "RequestIncoming"
	EventRequestMatched   EventType = "RequestMatched"
	EventRequestAccepted  EventType = "RequestAccepted"
	EventPaymentPending   EventType = "PaymentPending"
	EventPaymentSucceeded EventType = "PaymentSucceeded"
)

// Event is a UI-relevant transition. RelatedID carries the other side of an
// identity translation (request -> passenger).
type Event struct {
	Type      EventType  `json:"type"`
	Kind      EntityKind `json:"kind"`
	EntityID  int64      `json:"entity_id"`
	RelatedID int64      `json:"related_id,omitempty"`
	From      string     `json:"from,omitempty"`
	To        string     `json:"to"`
	At        time.Time  `json:"at"`
}

// Key identifies the edge, not the occurrence: the same transition seen
// twice has the same key.
func (e Event) Key() string {
	return fmt.Sprintf("%s:%s:%d", e.Type, e.Kind, e.EntityID)
}
