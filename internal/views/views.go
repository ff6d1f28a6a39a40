// Package views runs the reconciliation loops behind the driver and rider
// dashboards. A view owns its pollers, folds every snapshot into local
// state, and pushes the result and any transition events to the browser.
package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/dedup"
	"github.com/example/carpool-sync/internal/events"
	"github.com/example/carpool-sync/internal/fare"
	"github.com/example/carpool-sync/internal/locations"
	"github.com/example/carpool-sync/internal/matcher"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/observability"
	"github.com/example/carpool-sync/internal/payments"
	"github.com/example/carpool-sync/internal/poller"
	"github.com/example/carpool-sync/internal/status"
	"github.com/example/carpool-sync/internal/storage"
)

var (
	ErrNoActiveRide     = errors.New("no active ride")
	ErrRideActive       = errors.New("a ride is already active")
	ErrUnknownRequest   = errors.New("unknown ride request")
	ErrUnknownPassenger = errors.New("unknown passenger")
	ErrUnknownNotice    = errors.New("unknown notification")
	ErrNothingToPay     = errors.New("no payment due")
	ErrNothingToRate    = errors.New("no completed ride to rate")
	ErrInvalidInput     = errors.New("invalid input")
)

var timeNow = time.Now

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Backend is the slice of the backend client the views call.
type Backend interface {
	payments.Backend

	CreateRide(ctx context.Context, in api.CreateRideInput) (models.Ride, error)
	GetActiveRides(ctx context.Context) ([]models.Ride, error)
	GetRidesByDriver(ctx context.Context, driverID int64) ([]models.Ride, error)
	GetRide(ctx context.Context, rideID int64) (models.Ride, error)
	UpdateRideStatus(ctx context.Context, rideID int64, st models.RideStatus) error
	BoardPassenger(ctx context.Context, passengerID int64) (models.Passenger, error)
	DropPassenger(ctx context.Context, passengerID int64) (models.Passenger, error)
	RequestRide(ctx context.Context, in api.RequestRideInput) (models.RideRequest, error)
	AcceptRequest(ctx context.Context, requestID int64) (models.Passenger, error)
	RejectRequest(ctx context.Context, requestID int64) error
	GetPendingRequests(ctx context.Context, rideID int64) ([]models.RideRequest, error)
	ProcessPayment(ctx context.Context, in api.ProcessInput) (models.Payment, error)
	GetPaymentsForDriver(ctx context.Context, driverID int64) ([]models.Payment, error)
	GetPaymentsForRider(ctx context.Context, riderID int64) ([]models.Payment, error)
	SubmitRating(ctx context.Context, in api.RatingInput) error
	GetUnreadNotifications(ctx context.Context, userID int64) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// Pusher delivers frames to a user's connected browsers.
type Pusher interface {
	Push(userID int64, typ string, payload any) error
}

type Intervals struct {
	Ride                time.Duration
	Requests            time.Duration
	DriverNotifications time.Duration
	RiderNotifications  time.Duration
	Earnings            time.Duration
	Nearby              time.Duration
	RiderRide           time.Duration
	AllowOverlap        bool
}

func DefaultIntervals() Intervals {
	return Intervals{
		Ride:                3 * time.Second,
		Requests:            3 * time.Second,
		DriverNotifications: 10 * time.Second,
		RiderNotifications:  15 * time.Second,
		Earnings:            10 * time.Second,
		Nearby:              10 * time.Second,
		RiderRide:           3 * time.Second,
	}
}

type Deps struct {
	Backend  Backend
	Fare     *fare.Estimator
	Matcher  *matcher.Service
	Payments *payments.Processor
	Push     Pusher
	Events   events.Publisher
	Journal  storage.Journal
	// Seen returns the dedup set for one user and item kind.
	Seen               func(userID int64, kind string) dedup.Set
	Intervals          Intervals
	NotificationWindow int
	Logger             *slog.Logger
}

func (d *Deps) withDefaults() *Deps {
	c := *d
	if c.Fare == nil {
		c.Fare = fare.NewEstimator(fare.DefaultConfig())
	}
	if c.Matcher == nil {
		c.Matcher = matcher.NewService(nil, 0)
	}
	if c.Payments == nil {
		c.Payments = &payments.Processor{Backend: c.Backend, Logger: c.Logger}
	}
	if c.Events == nil {
		c.Events = events.Nop{}
	}
	if c.Journal == nil {
		c.Journal = storage.NewMemoryJournal()
	}
	if c.Seen == nil {
		c.Seen = func(int64, string) dedup.Set { return dedup.NewMemory() }
	}
	if c.Intervals == (Intervals{}) {
		c.Intervals = DefaultIntervals()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &c
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// sink fans a transition out to the journal, the browser and the broker.
type sink struct {
	user models.Identity
	d    *Deps
	log  *slog.Logger
	// skip lists event types this dashboard never shows.
	skip map[status.EventType]bool
}

// emit returns the events that were delivered. An edge already in the
// journal is dropped, which keeps prompts exactly-once across restarts.
func (s *sink) emit(ctx context.Context, evs ...status.Event) []status.Event {
	var out []status.Event
	for _, ev := range evs {
		if s.skip[ev.Type] {
			continue
		}
		key := fmt.Sprintf("%d:%s", s.user.UserID, ev.Key())
		first, err := s.d.Journal.Record(ctx, key)
		if err != nil {
			// the in-memory tracker already guarantees once per process
			s.log.Warn("journal unavailable", "key", key, "error", err)
			first = true
		}
		if !first {
			observability.DuplicatesSuppressed.WithLabelValues("event").Inc()
			continue
		}
		out = append(out, ev)
		s.push("event", ev)
		s.publish(events.Message{ID: uuid.NewString(), UserID: s.user.UserID, Role: string(s.user.Role), Event: ev})
	}
	return out
}

func (s *sink) push(typ string, payload any) {
	if s.d.Push == nil {
		return
	}
	// nobody watching is normal
	_ = s.d.Push.Push(s.user.UserID, typ, payload)
}

func (s *sink) publish(m events.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.d.Events.Publish(ctx, m); err != nil {
			s.log.Warn("event publish failed", "event", m.Event.Key(), "error", err)
		}
	}()
}

func (s *sink) pollerOptions(interval time.Duration) poller.Options {
	return poller.Options{
		Interval:     interval,
		AllowOverlap: s.d.Intervals.AllowOverlap,
		Logger:       s.log,
	}
}

// Cards are the display forms pushed to the browser.

type PassengerCard struct {
	models.Passenger
	Projection     status.Projection `json:"projection"`
	PaymentPending bool              `json:"payment_pending"`
}

type RideCard struct {
	ID             int64             `json:"id"`
	DriverID       int64             `json:"driver_id"`
	Pickup         models.Location   `json:"pickup"`
	Drop           models.Location   `json:"drop"`
	TotalSeats     int               `json:"total_seats"`
	AvailableSeats int               `json:"available_seats"`
	Status         models.RideStatus `json:"status"`
	Projection     status.Projection `json:"projection"`
	Passengers     []PassengerCard   `json:"passengers"`
}

type RequestCard struct {
	models.RideRequest
	Projection status.Projection `json:"projection"`
	Estimate   fare.Estimate     `json:"estimate"`
}

type NotificationCard struct {
	models.Notification
	Style status.NotificationStyle `json:"style"`
}

func rideCard(r models.Ride, pending map[int64]string) *RideCard {
	c := &RideCard{
		ID:             r.ID,
		DriverID:       r.DriverID,
		Pickup:         r.Pickup,
		Drop:           r.Drop,
		TotalSeats:     r.TotalSeats,
		AvailableSeats: r.AvailableSeats,
		Status:         r.Status,
		Projection:     status.Project(status.KindRide, string(r.Status)),
		Passengers:     make([]PassengerCard, 0, len(r.Passengers)),
	}
	for _, p := range r.Passengers {
		_, owed := pending[p.ID]
		c.Passengers = append(c.Passengers, PassengerCard{
			Passenger:      p,
			Projection:     status.Project(status.KindPassenger, string(p.Status)),
			PaymentPending: owed,
		})
	}
	return c
}

func requestCard(r models.RideRequest, est *fare.Estimator) RequestCard {
	return RequestCard{
		RideRequest: r,
		Projection:  status.Project(status.KindRequest, string(r.Status)),
		Estimate:    routeEstimate(est, r.PickupLocation, r.DropLocation),
	}
}

func notificationCards(ns []models.Notification) []NotificationCard {
	out := make([]NotificationCard, 0, len(ns))
	for _, n := range ns {
		out = append(out, NotificationCard{Notification: n, Style: status.NotificationTitle(n.Type)})
	}
	return out
}

// routeEstimate prices a trip between two catalog names; unknown names fall
// back to the configured distance.
func routeEstimate(est *fare.Estimator, from, to string) fare.Estimate {
	return est.Estimate(locations.Coordinate(from), locations.Coordinate(to))
}

// mergePassengers takes the fresh snapshot but never moves a passenger
// backwards: a poll that started before a confirmed action may still carry
// the older status.
func mergePassengers(old, fresh []models.Passenger) []models.Passenger {
	prev := make(map[int64]models.Passenger, len(old))
	for _, p := range old {
		prev[p.ID] = p
	}
	out := make([]models.Passenger, 0, len(fresh))
	for _, p := range fresh {
		if o, ok := prev[p.ID]; ok && o.Status.Rank() > p.Status.Rank() {
			p.Status = o.Status
		}
		out = append(out, p)
	}
	return out
}

func rideRank(s models.RideStatus) int {
	switch s {
	case models.RideActive:
		return 1
	case models.RideInProgress:
		return 2
	case models.RideCompleted, models.RideCancelled:
		return 3
	}
	return 0
}

// notificationFeed is the bounded, deduplicated notification list both
// dashboards show.
type notificationFeed struct {
	window *dedup.Window
	sink   *sink
}

func (f *notificationFeed) start(ctx context.Context, group *poller.Group, name string, interval time.Duration, onChange func()) {
	userID := f.sink.user.UserID
	h := poller.Start(ctx, name, func(ctx context.Context) ([]models.Notification, error) {
		return f.sink.d.Backend.GetUnreadNotifications(ctx, userID)
	}, f.sink.pollerOptions(interval), func(ns []models.Notification) {
		fresh := f.window.Merge(ns)
		if len(fresh) == 0 {
			return
		}
		for _, c := range notificationCards(fresh) {
			f.sink.push("notification", c)
		}
		onChange()
	})
	group.Add(h)
}

// dismiss marks the notification read on the backend, then hides it.
func (f *notificationFeed) dismiss(ctx context.Context, id int64) error {
	if !f.window.Contains(id) {
		return ErrUnknownNotice
	}
	if err := f.sink.d.Backend.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	f.window.Dismiss(id)
	return nil
}

func (f *notificationFeed) cards() []NotificationCard {
	return notificationCards(f.window.Visible())
}
