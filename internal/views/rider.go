package views

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/dedup"
	"github.com/example/carpool-sync/internal/fare"
	"github.com/example/carpool-sync/internal/locations"
	"github.com/example/carpool-sync/internal/matcher"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/payments"
	"github.com/example/carpool-sync/internal/poller"
	"github.com/example/carpool-sync/internal/status"
)

const (
	pollRiderRide          = "rider.ride"
	pollRiderNotifications = "rider.notifications"
	pollRiderNearby        = "rider.nearby"
	pollRiderPayments      = "rider.payments"
)

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "CASH"
	MethodUPI    PaymentMethod = "UPI"
	MethodCard   PaymentMethod = "CARD"
	MethodWallet PaymentMethod = "WALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodUPI, MethodCard, MethodWallet:
		return true
	}
	return false
}

const ratingRiderToDriver = "RIDER_TO_DRIVER"

// PaymentDue is shown for as long as the rider has been dropped and has not
// paid.
type PaymentDue struct {
	RideID      int64          `json:"ride_id"`
	PassengerID int64          `json:"passenger_id"`
	DriverID    int64          `json:"driver_id"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Amount      models.Money   `json:"amount"`
	Display     string         `json:"display"`
	Estimate    fare.Estimate  `json:"estimate"`
	Breakdown   fare.Breakdown `json:"breakdown"`
}

type NearbyCard struct {
	matcher.Nearby
	Estimate fare.Estimate `json:"estimate"`
}

type trip struct {
	RideID   int64
	DriverID int64
}

// riderPoll is what one rider.ride poll found.
type riderPoll struct {
	ride models.Ride
	pass *models.Passenger
	paid bool
}

// RiderView is the rider dashboard: the rider's open request, the ride they
// are on, payment and rating after drop-off, and nearby rides.
type RiderView struct {
	user    models.Identity
	d       *Deps
	sink    *sink
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	group   *poller.Group
	tracker *status.Tracker
	feed    *notificationFeed

	mu        sync.Mutex
	request   *models.RideRequest
	rideID    int64
	ride      *models.Ride
	passenger *models.Passenger
	due       *PaymentDue
	settled   map[int64]bool
	last      *trip
	rated     map[int64]bool
	origin    *models.Location
	nearby    []matcher.Nearby
	history   []models.Payment
}

func NewRiderView(user models.Identity, deps Deps) *RiderView {
	d := deps.withDefaults()
	log := d.Logger.With("view", "rider", "user_id", user.UserID)
	s := &sink{user: user, d: d, log: log}
	return &RiderView{
		user:    user,
		d:       d,
		sink:    s,
		log:     log,
		group:   poller.NewGroup(),
		tracker: status.NewTracker(),
		feed:    &notificationFeed{window: dedup.NewWindow(d.NotificationWindow), sink: s},
		settled: make(map[int64]bool),
		rated:   make(map[int64]bool),
	}
}

func (v *RiderView) Start(ctx context.Context) {
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.group.Add(poller.Start(v.ctx, pollRiderRide, v.locate, v.sink.pollerOptions(v.d.Intervals.RiderRide), v.applyPoll))
	v.feed.start(v.ctx, v.group, pollRiderNotifications, v.d.Intervals.RiderNotifications, v.publishSnapshot)
	v.group.Add(poller.Start(v.ctx, pollRiderNearby, v.fetchNearby, v.sink.pollerOptions(v.d.Intervals.Nearby), v.applyNearby))
	v.group.Add(poller.Start(v.ctx, pollRiderPayments, func(ctx context.Context) ([]models.Payment, error) {
		return v.d.Backend.GetPaymentsForRider(ctx, v.user.UserID)
	}, v.sink.pollerOptions(v.d.Intervals.Earnings), v.applyHistory))
}

func (v *RiderView) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.group.StopAll()
}

func (v *RiderView) publishSnapshot() { v.sink.push("snapshot", v.Snapshot()) }

// mine picks the rider's seat on r, preferring one that is still unpaid.
func (v *RiderView) mine(r models.Ride, skipSettled bool) *models.Passenger {
	var found *models.Passenger
	for i := range r.Passengers {
		p := r.Passengers[i]
		if p.RiderID != v.user.UserID {
			continue
		}
		if skipSettled && v.isSettled(p.ID) {
			continue
		}
		if found == nil || p.ID > found.ID {
			found = &p
		}
	}
	return found
}

func (v *RiderView) isSettled(passengerID int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled[passengerID]
}

// locate finds the rider's passenger record: on the tracked ride when there
// is one, otherwise by scanning the active rides. Closed rides are only
// looked at while tracked, so a cancellation is seen once and then dropped.
func (v *RiderView) locate(ctx context.Context) (riderPoll, error) {
	v.mu.Lock()
	rideID := v.rideID
	v.mu.Unlock()

	var out riderPoll
	if rideID != 0 {
		r, err := v.d.Backend.GetRide(ctx, rideID)
		if err != nil {
			return riderPoll{}, err
		}
		out.ride, out.pass = r, v.mine(r, false)
	}
	if out.pass == nil {
		rides, err := v.d.Backend.GetActiveRides(ctx)
		if err != nil {
			return riderPoll{}, err
		}
		for _, r := range rides {
			if r.Status.Terminal() {
				continue
			}
			if len(r.Passengers) == 0 {
				full, err := v.d.Backend.GetRide(ctx, r.ID)
				if err != nil {
					v.log.Debug("ride detail failed", "ride_id", r.ID, "error", err)
					continue
				}
				r = full
			}
			if p := v.mine(r, true); p != nil {
				out.ride, out.pass = r, p
				break
			}
		}
	}
	if out.pass == nil || out.pass.Status != models.PassengerDropped || v.isSettled(out.pass.ID) {
		return out, nil
	}
	ps, err := v.d.Backend.GetPaymentsForRider(ctx, v.user.UserID)
	if err != nil {
		return riderPoll{}, err
	}
	for _, p := range ps {
		if p.RideID == out.ride.ID && p.Status == models.PaymentCompleted {
			out.paid = true
		}
	}
	return out, nil
}

func (v *RiderView) applyPoll(res riderPoll) {
	if res.pass == nil {
		return
	}
	p := *res.pass

	v.mu.Lock()
	if v.passenger != nil && v.passenger.ID == p.ID && v.passenger.Status.Rank() > p.Status.Rank() {
		p.Status = v.passenger.Status
	}
	var evs []status.Event
	if v.request != nil && v.request.Status == models.RequestPending {
		evs = append(evs, v.tracker.Observe(status.KindRequest, v.request.ID, string(models.RequestMatched))...)
		v.tracker.Translate(v.request.ID, p.ID)
		v.request.Status = models.RequestMatched
		v.request.RideID = res.ride.ID
	}
	evs = append(evs, v.tracker.Observe(status.KindPassenger, p.ID, string(p.Status))...)
	evs = append(evs, v.tracker.Observe(status.KindRide, res.ride.ID, string(res.ride.Status))...)

	ride := res.ride
	v.rideID = ride.ID
	v.ride = &ride
	v.passenger = &p
	if res.paid {
		v.settled[p.ID] = true
	}
	if ride.Status.Terminal() && p.Status != models.PassengerDropped {
		// closed before drop-off: nothing to pay, free to request again
		v.rideID = 0
		v.ride = nil
		v.passenger = nil
		v.request = nil
		v.due = nil
	} else if p.Status == models.PassengerDropped {
		v.last = &trip{RideID: ride.ID, DriverID: ride.DriverID}
		if v.settled[p.ID] {
			v.due = nil
		} else {
			due := v.paymentDue(ride, p)
			v.due = &due
		}
		if v.settled[p.ID] {
			// paid and off the ride; look for the next one
			v.rideID = 0
			v.request = nil
		}
	}
	due := v.due
	v.mu.Unlock()

	for _, ev := range v.sink.emit(v.ctx, filterPaid(evs, res.paid)...) {
		if ev.Type == status.EventProceedToPayment && due != nil {
			v.sink.push("payment_due", due)
		}
	}
	v.publishSnapshot()
}

// filterPaid drops the payment prompt for a fare the backend already shows
// as paid.
func filterPaid(evs []status.Event, paid bool) []status.Event {
	if !paid {
		return evs
	}
	out := evs[:0]
	for _, ev := range evs {
		if ev.Type != status.EventProceedToPayment {
			out = append(out, ev)
		}
	}
	return out
}

func (v *RiderView) paymentDue(r models.Ride, p models.Passenger) PaymentDue {
	est := routeEstimate(v.d.Fare, p.BoardingLocation, p.DropLocation)
	amount := p.FareAmount
	if amount <= 0 {
		amount = est.Fare
	}
	return PaymentDue{
		RideID:      r.ID,
		PassengerID: p.ID,
		DriverID:    r.DriverID,
		From:        p.BoardingLocation,
		To:          p.DropLocation,
		Amount:      amount,
		Display:     amount.RoundRupee().String(),
		Estimate:    est,
		Breakdown:   v.d.Fare.Breakdown(est.DistanceKm),
	}
}

func (v *RiderView) fetchNearby(ctx context.Context) ([]matcher.Nearby, error) {
	v.mu.Lock()
	origin := v.origin
	v.mu.Unlock()
	if origin == nil {
		return nil, nil
	}
	rides, err := v.d.Backend.GetActiveRides(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rides {
		fillCoordinates(&rides[i])
	}
	return v.d.Matcher.NearbyRides(ctx, rides, origin.Coordinate)
}

// fillCoordinates falls back to the catalog when the backend did not store
// coordinates for a ride.
func fillCoordinates(r *models.Ride) {
	if r.Pickup.Coordinate == (models.Coordinate{}) {
		if c := locations.Coordinate(r.Pickup.Name); c != nil {
			r.Pickup.Coordinate = *c
		}
	}
	if r.Drop.Coordinate == (models.Coordinate{}) {
		if c := locations.Coordinate(r.Drop.Name); c != nil {
			r.Drop.Coordinate = *c
		}
	}
}

// applyHistory replaces the payment history. A payment made here but not yet
// listed by the backend is kept.
func (v *RiderView) applyHistory(ps []models.Payment) {
	v.mu.Lock()
	listed := make(map[int64]bool, len(ps))
	for _, p := range ps {
		listed[p.ID] = true
	}
	next := append([]models.Payment(nil), ps...)
	for _, p := range v.history {
		if !listed[p.ID] {
			next = append(next, p)
		}
	}
	changed := !samePayments(v.history, next)
	v.history = next
	v.mu.Unlock()
	if changed {
		v.publishSnapshot()
	}
}

func hasPayment(ps []models.Payment, id int64) bool {
	for _, p := range ps {
		if p.ID == id {
			return true
		}
	}
	return false
}

func samePayments(a, b []models.Payment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status {
			return false
		}
	}
	return true
}

func (v *RiderView) applyNearby(ns []matcher.Nearby) {
	v.mu.Lock()
	v.nearby = ns
	v.mu.Unlock()
	v.publishSnapshot()
}

// RequestRide asks the backend for a seat between two catalog locations.
func (v *RiderView) RequestRide(ctx context.Context, pickup, drop string) (RequestCard, error) {
	from, ok := locations.Lookup(pickup)
	if !ok {
		return RequestCard{}, invalid("unknown pickup location %q", pickup)
	}
	to, ok := locations.Lookup(drop)
	if !ok {
		return RequestCard{}, invalid("unknown drop location %q", drop)
	}
	if from.Name == to.Name {
		return RequestCard{}, invalid("pickup and drop must differ")
	}
	v.mu.Lock()
	busy := (v.request != nil && v.request.Status == models.RequestPending) ||
		(v.passenger != nil && v.passenger.Status != models.PassengerDropped)
	v.mu.Unlock()
	if busy {
		return RequestCard{}, ErrRideActive
	}

	req, err := v.d.Backend.RequestRide(ctx, api.RequestRideInput{RiderID: v.user.UserID, Pickup: from, Drop: to})
	if err != nil {
		return RequestCard{}, err
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	v.mu.Lock()
	v.request = &req
	v.origin = &from
	v.tracker.Observe(status.KindRequest, req.ID, string(req.Status))
	v.mu.Unlock()
	v.log.Info("ride requested", "request_id", req.ID, "from", from.Name, "to", to.Name)
	v.refreshNearby()
	v.publishSnapshot()
	return requestCard(req, v.d.Fare), nil
}

// SetOrigin moves the point nearby rides are ranked from.
func (v *RiderView) SetOrigin(name string) (models.Location, error) {
	loc, ok := locations.Lookup(name)
	if !ok {
		return models.Location{}, invalid("unknown location %q", name)
	}
	v.mu.Lock()
	v.origin = &loc
	v.mu.Unlock()
	v.refreshNearby()
	return loc, nil
}

// refreshNearby restarts the nearby poller so the new origin is used at
// once instead of on the next tick.
func (v *RiderView) refreshNearby() {
	if v.ctx == nil || v.ctx.Err() != nil {
		return
	}
	v.group.Add(poller.Start(v.ctx, pollRiderNearby, v.fetchNearby, v.sink.pollerOptions(v.d.Intervals.Nearby), v.applyNearby))
}

type PayResult struct {
	Outcome payments.Outcome `json:"outcome"`
	Amount  models.Money     `json:"amount"`
	Payment models.Payment   `json:"payment"`
	Message string           `json:"message"`
}

// Pay settles the fare that is due. CARD goes through the gateway; the
// other methods are recorded with the backend directly.
func (v *RiderView) Pay(ctx context.Context, method PaymentMethod) (PayResult, error) {
	if !method.Valid() {
		return PayResult{}, invalid("unknown payment method %q", method)
	}
	v.mu.Lock()
	due := v.due
	var pass models.Passenger
	if v.passenger != nil {
		pass = *v.passenger
	}
	v.mu.Unlock()
	if due == nil {
		return PayResult{}, ErrNothingToPay
	}
	if pass.ID != due.PassengerID {
		pass = models.Passenger{ID: due.PassengerID, RideID: due.RideID, RiderID: v.user.UserID, BoardingLocation: due.From, DropLocation: due.To}
	}

	var out PayResult
	out.Amount = due.Amount
	if method == MethodCard {
		res := v.d.Payments.Settle(ctx, models.Ride{ID: due.RideID, DriverID: due.DriverID}, pass, due.Amount)
		out.Outcome, out.Payment = res.Outcome, res.Payment
		if res.Outcome != payments.OutcomeCompleted {
			out.Message = "Payment pending, please try again"
			v.sink.emit(ctx, status.Event{
				Type: status.EventPaymentPending, Kind: status.KindPassenger, EntityID: pass.ID,
				From: string(models.PassengerDropped), To: string(models.PaymentPending), At: timeNow(),
			})
			return out, nil
		}
	} else {
		p, err := v.d.Backend.ProcessPayment(ctx, api.ProcessInput{
			RideID:   due.RideID,
			RiderID:  v.user.UserID,
			DriverID: due.DriverID,
			Amount:   due.Amount,
			Method:   string(method),
		})
		if err != nil {
			return PayResult{}, err
		}
		out.Outcome, out.Payment = payments.OutcomeCompleted, p
	}
	out.Message = fmt.Sprintf("Paid %s by %s", due.Amount.RoundRupee(), method)

	v.mu.Lock()
	if out.Payment.ID != 0 && !hasPayment(v.history, out.Payment.ID) {
		v.history = append(v.history, out.Payment)
	}
	v.settled[due.PassengerID] = true
	if v.due != nil && v.due.PassengerID == due.PassengerID {
		v.due = nil
	}
	if v.rideID == due.RideID {
		v.rideID = 0
		v.request = nil
	}
	v.mu.Unlock()

	v.log.Info("fare paid", "ride_id", due.RideID, "method", method, "amount", due.Amount.String())
	v.sink.emit(ctx, status.Event{
		Type: status.EventPaymentSucceeded, Kind: status.KindPassenger, EntityID: due.PassengerID,
		From: string(models.PassengerDropped), To: string(models.PaymentCompleted), At: timeNow(),
	})
	v.publishSnapshot()
	return out, nil
}

// Rate scores the driver of the rider's last ride.
func (v *RiderView) Rate(ctx context.Context, stars int, comment string) error {
	if stars < 1 || stars > 5 {
		return invalid("stars must be between 1 and 5")
	}
	v.mu.Lock()
	last := v.last
	already := last != nil && v.rated[last.RideID]
	v.mu.Unlock()
	if last == nil {
		return ErrNothingToRate
	}
	if already {
		return invalid("ride %d already rated", last.RideID)
	}
	err := v.d.Backend.SubmitRating(ctx, api.RatingInput{
		RideID:     last.RideID,
		FromUserID: v.user.UserID,
		ToUserID:   last.DriverID,
		Type:       ratingRiderToDriver,
		Stars:      stars,
		Comment:    comment,
	})
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.rated[last.RideID] = true
	v.mu.Unlock()
	v.publishSnapshot()
	return nil
}

func (v *RiderView) DismissNotification(ctx context.Context, id int64) error {
	if err := v.feed.dismiss(ctx, id); err != nil {
		return err
	}
	v.publishSnapshot()
	return nil
}

type RiderSnapshot struct {
	Role          models.Role        `json:"role"`
	UserID        int64              `json:"user_id"`
	Request       *RequestCard       `json:"request"`
	Ride          *RideCard          `json:"ride"`
	Passenger     *PassengerCard     `json:"passenger"`
	PaymentDue    *PaymentDue        `json:"payment_due"`
	CanRate       bool               `json:"can_rate"`
	Origin        *models.Location   `json:"origin"`
	Nearby        []NearbyCard       `json:"nearby"`
	Payments      []models.Payment   `json:"payments"`
	TotalPaid     models.Money       `json:"total_paid"`
	Notifications []NotificationCard `json:"notifications"`
}

func (v *RiderView) Snapshot() any { return v.RiderSnapshot() }

func (v *RiderView) RiderSnapshot() RiderSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := RiderSnapshot{
		Role:          models.RoleRider,
		UserID:        v.user.UserID,
		PaymentDue:    v.due,
		CanRate:       v.last != nil && !v.rated[v.last.RideID],
		Origin:        v.origin,
		Nearby:        make([]NearbyCard, 0, len(v.nearby)),
		Payments:      append([]models.Payment{}, v.history...),
		TotalPaid:     api.Earnings(v.history),
		Notifications: v.feed.cards(),
	}
	if v.request != nil {
		c := requestCard(*v.request, v.d.Fare)
		s.Request = &c
	}
	if v.ride != nil && v.rideID != 0 {
		ride := *v.ride
		ride.Passengers = nil
		s.Ride = rideCard(ride, nil)
	}
	if v.passenger != nil && v.rideID != 0 {
		s.Passenger = &PassengerCard{
			Passenger:      *v.passenger,
			Projection:     status.Project(status.KindPassenger, string(v.passenger.Status)),
			PaymentPending: v.due != nil,
		}
	}
	for _, n := range v.nearby {
		s.Nearby = append(s.Nearby, NearbyCard{
			Nearby:   n,
			Estimate: v.d.Fare.Estimate(&n.Ride.Pickup.Coordinate, &n.Ride.Drop.Coordinate),
		})
	}
	return s
}
