package models

import (
	"math"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c is finite and inside the lat/lng ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type Location struct {
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
}

type Role string

const (
	RoleDriver Role = "DRIVER"
	RoleRider  Role = "RIDER"
)

// Identity is the authenticated user record the agent keeps for a session.
type Identity struct {
	UserID int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Role   Role   `json:"role"`
	Token  string `json:"token,omitempty"`
}

type Ride struct {
	ID             int64       `json:"id"`
	DriverID       int64       `json:"driver_id"`
	Pickup         Location    `json:"pickup"`
	Drop           Location    `json:"drop"`
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
	Status         RideStatus  `json:"status"`
	Passengers     []Passenger `json:"passengers"`
}

// Passenger is a rider's seat within a ride.
type Passenger struct {
	ID               int64           `json:"id"`
	RideID           int64           `json:"ride_id"`
	RiderID          int64           `json:"rider_id"`
	RiderName        string          `json:"rider_name,omitempty"`
	BoardingLocation string          `json:"boarding_location"`
	DropLocation     string          `json:"drop_location"`
	Status           PassengerStatus `json:"status"`
	FareAmount       Money           `json:"fare_amount"`
}

type RideRequest struct {
	ID             int64         `json:"id"`
	RideID         int64         `json:"ride_id,omitempty"`
	RiderID        int64         `json:"rider_id"`
	RiderName      string        `json:"rider_name,omitempty"`
	PickupLocation string        `json:"pickup_location"`
	DropLocation   string        `json:"drop_location"`
	Status         RequestStatus `json:"status"`
}

type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

type Payment struct {
	ID          int64         `json:"id"`
	RideID      int64         `json:"ride_id"`
	RiderID     int64         `json:"rider_id"`
	DriverID    int64         `json:"driver_id"`
	Amount      Money         `json:"amount"`
	Status      PaymentStatus `json:"status"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// PaymentOrder is the backend's handle for a charge about to be taken.
type PaymentOrder struct {
	OrderID string `json:"order_id"`
	Amount  Money  `json:"amount"`
}

type User struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Phone  string  `json:"phone"`
	Role   Role    `json:"role"`
	Rating float64 `json:"rating"`
}
