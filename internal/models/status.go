package models

type RideStatus string

const (
	RideActive     RideStatus = "ACTIVE"
	RideInProgress RideStatus = "IN_PROGRESS"
	RideCompleted  RideStatus = "COMPLETED"
	RideCancelled  RideStatus = "CANCELLED"
)

// ParseRideStatus maps backend spellings onto RideStatus. The backend still
// reports freshly created rides as WAITING.
func ParseRideStatus(s string) (RideStatus, bool) {
	switch s {
	case "ACTIVE", "WAITING":
		return RideActive, true
	case "IN_PROGRESS":
		return RideInProgress, true
	case "COMPLETED":
		return RideCompleted, true
	case "CANCELLED":
		return RideCancelled, true
	}
	return "", false
}

func (s RideStatus) Terminal() bool { return s == RideCompleted || s == RideCancelled }

type PassengerStatus string

const (
	PassengerMatched PassengerStatus = "MATCHED"
	PassengerBoarded PassengerStatus = "BOARDED"
	PassengerDropped PassengerStatus = "DROPPED"
)

// Rank orders passenger states along MATCHED -> BOARDED -> DROPPED.
// Unknown values rank 0.
func (s PassengerStatus) Rank() int {
	switch s {
	case PassengerMatched:
		return 1
	case PassengerBoarded:
		return 2
	case PassengerDropped:
		return 3
	}
	return 0
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestMatched   RequestStatus = "MATCHED"
	RequestInRide    RequestStatus = "IN_RIDE"
	RequestCompleted RequestStatus = "COMPLETED"
)

type NotificationType string

const (
	NotifyMatchFound       NotificationType = "MATCH_FOUND"
	NotifyRideStarted      NotificationType = "RIDE_STARTED"
	NotifyPassengerBoarded NotificationType = "PASSENGER_BOARDED"
	NotifyPassengerDropped NotificationType = "PASSENGER_DROPPED"
	NotifyPaymentSuccess   NotificationType = "PAYMENT_SUCCESS"
	NotifyPaymentFailed    NotificationType = "PAYMENT_FAILED"
	NotifyRideCompleted    NotificationType = "RIDE_COMPLETED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)
