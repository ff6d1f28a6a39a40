// Package status turns backend status strings into what a view shows and
// detects the transitions a view must react to.
package status

import (
	"errors"
	"fmt"

	"github.com/example/carpool-sync/internal/models"
)

type EntityKind string

const (
	KindRide      EntityKind = "ride"
	KindPassenger EntityKind = "passenger"
	KindRequest   EntityKind = "request"
)

type Projection struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon,omitempty"`
}

var projections = map[EntityKind]map[string]Projection{
	KindPassenger: {
		"MATCHED": {Label: "Waiting for pickup", Color: "yellow", Icon: "⏳"},
		"BOARDED": {Label: "On board", Color: "green", Icon: "🚗"},
		"DROPPED": {Label: "Dropped off", Color: "gray", Icon: "📍"},
	},
	KindRide: {
		"ACTIVE":      {Label: "Waiting for passengers", Color: "orange", Icon: "🕒"},
		"IN_PROGRESS": {Label: "In progress", Color: "blue", Icon: "▶️"},
		"COMPLETED":   {Label: "Completed", Color: "gray", Icon: "✓"},
		"CANCELLED":   {Label: "Cancelled", Color: "red", Icon: "✕"},
	},
	KindRequest: {
		"PENDING":   {Label: "Awaiting driver", Color: "orange", Icon: "⏳"},
		"MATCHED":   {Label: "Matched", Color: "yellow", Icon: "🤝"},
		"IN_RIDE":   {Label: "In ride", Color: "blue", Icon: "🚗"},
		"COMPLETED": {Label: "Completed", Color: "gray", Icon: "✓"},
	},
}

// Project maps a raw backend status to its display form. Unknown values are
// shown verbatim in gray rather than hidden.
func Project(kind EntityKind, raw string) Projection {
	if kind == KindRide {
		if s, ok := models.ParseRideStatus(raw); ok {
			raw = string(s)
		}
	}
	if p, ok := projections[kind][raw]; ok {
		return p
	}
	return Projection{Label: raw, Color: "gray"}
}

type Action string

const (
	ActionBoard Action = "board"
	ActionDrop  Action = "drop"
)

var ErrInvalidTransition = errors.New("invalid passenger transition")

// NextPassengerStatus validates a driver action against the passenger
// machine: MATCHED -board-> BOARDED -drop-> DROPPED.
func NextPassengerStatus(current models.PassengerStatus, a Action) (models.PassengerStatus, error) {
	switch {
	case a == ActionBoard && current == models.PassengerMatched:
		return models.PassengerBoarded, nil
	case a == ActionDrop && current == models.PassengerBoarded:
		return models.PassengerDropped, nil
	}
	return current, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, a, current)
}

type NotificationStyle struct {
	Title string `json:"title"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

func NotificationTitle(t models.NotificationType) NotificationStyle {
	switch t {
	case models.NotifyMatchFound:
		return NotificationStyle{"New Ride Match!", "🚗", "green"}
	case models.NotifyRideStarted:
		return NotificationStyle{"Ride Started", "▶️", "blue"}
	case models.NotifyPassengerBoarded:
		return NotificationStyle{"Passenger Boarded", "✓", "purple"}
	case models.NotifyPassengerDropped:
		return NotificationStyle{"Passenger Dropped", "📍", "orange"}
	case models.NotifyPaymentSuccess:
		return NotificationStyle{"Payment Successful", "✓", "emerald"}
	case models.NotifyPaymentFailed:
		return NotificationStyle{"Payment Failed", "✕", "red"}
	case models.NotifyRideCompleted:
		return NotificationStyle{"Ride Completed", "✓", "cyan"}
	default:
		return NotificationStyle{"Notification", "🔔", "blue"}
	}
}
