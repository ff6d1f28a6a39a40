package views

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/dedup"
	"github.com/example/carpool-sync/internal/locations"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/observability"
	"github.com/example/carpool-sync/internal/payments"
	"github.com/example/carpool-sync/internal/poller"
	"github.com/example/carpool-sync/internal/status"
)

const (
	pollDriverRide          = "driver.ride"
	pollDriverRequests      = "driver.requests"
	pollDriverNotifications = "driver.notifications"
	pollDriverEarnings      = "driver.earnings"

	MinSeats = 1
	MaxSeats = 6
)

type pendingPayment struct {
	RideID  int64
	RiderID int64
	OrderID string
}

// DriverView is the driver dashboard: one offered ride at a time, its
// passengers and incoming requests, notifications and earnings.
type DriverView struct {
	user    models.Identity
	d       *Deps
	sink    *sink
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	group   *poller.Group
	tracker *status.Tracker
	feed    *notificationFeed
	seen    dedup.Set

	requestsOff atomic.Bool
	promptMu    sync.Mutex

	mu       sync.Mutex
	ride     *models.Ride
	requests []models.RideRequest
	prompt   *models.RideRequest
	rejected map[int64]bool
	owed     map[int64]pendingPayment
	earnings models.Money
}

func NewDriverView(user models.Identity, deps Deps) *DriverView {
	d := deps.withDefaults()
	log := d.Logger.With("view", "driver", "user_id", user.UserID)
	// the payment prompt belongs to the rider; the driver sees the drop
	// result and PaymentSucceeded/PaymentPending instead
	s := &sink{user: user, d: d, log: log, skip: map[status.EventType]bool{status.EventProceedToPayment: true}}
	return &DriverView{
		user:     user,
		d:        d,
		sink:     s,
		log:      log,
		group:    poller.NewGroup(),
		tracker:  status.NewTracker(),
		feed:     &notificationFeed{window: dedup.NewWindow(d.NotificationWindow), sink: s},
		seen:     d.Seen(user.UserID, "request"),
		rejected: make(map[int64]bool),
		owed:     make(map[int64]pendingPayment),
	}
}

// Start resumes the driver's open ride, if any, and starts the pollers.
func (v *DriverView) Start(ctx context.Context) {
	v.ctx, v.cancel = context.WithCancel(ctx)

	rides, err := v.d.Backend.GetRidesByDriver(v.ctx, v.user.UserID)
	if err != nil {
		v.log.Warn("resume ride failed", "error", err)
	}
	for _, r := range rides {
		if !r.Status.Terminal() {
			v.mu.Lock()
			v.ride = &r
			v.mu.Unlock()
			v.log.Info("resumed ride", "ride_id", r.ID)
			v.startRidePollers(r.ID)
			break
		}
	}

	v.feed.start(v.ctx, v.group, pollDriverNotifications, v.d.Intervals.DriverNotifications, v.publishSnapshot)
	v.group.Add(poller.Start(v.ctx, pollDriverEarnings, func(ctx context.Context) ([]models.Payment, error) {
		return v.d.Backend.GetPaymentsForDriver(ctx, v.user.UserID)
	}, v.sink.pollerOptions(v.d.Intervals.Earnings), v.applyPayments))
}

// Stop unmounts the view. Results still in flight are dropped.
func (v *DriverView) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.group.StopAll()
}

// endSession forgets which requests were prompted, so the next login sees
// still-pending requests again.
func (v *DriverView) endSession(ctx context.Context) {
	if err := v.seen.Reset(ctx); err != nil {
		v.log.Warn("reset seen requests failed", "error", err)
	}
}

func (v *DriverView) startRidePollers(rideID int64) {
	v.group.Add(poller.Start(v.ctx, pollDriverRide, func(ctx context.Context) (models.Ride, error) {
		return v.d.Backend.GetRide(ctx, rideID)
	}, v.sink.pollerOptions(v.d.Intervals.Ride), v.applyRide))

	if v.requestsOff.Load() {
		return
	}
	opts := v.sink.pollerOptions(v.d.Intervals.Requests)
	opts.StopOn = func(err error) bool {
		if api.IsNotFound(err) {
			v.requestsOff.Store(true)
			return true
		}
		return false
	}
	v.group.Add(poller.Start(v.ctx, pollDriverRequests, func(ctx context.Context) ([]models.RideRequest, error) {
		return v.d.Backend.GetPendingRequests(ctx, rideID)
	}, opts, func(rs []models.RideRequest) { v.applyRequests(rideID, rs) }))
}

func (v *DriverView) stopRidePollers() {
	v.group.Stop(pollDriverRide)
	v.group.Stop(pollDriverRequests)
}

func (v *DriverView) applyRide(r models.Ride) {
	v.mu.Lock()
	if v.ride == nil || v.ride.ID != r.ID {
		v.mu.Unlock()
		return
	}
	if rideRank(v.ride.Status) > rideRank(r.Status) {
		r.Status = v.ride.Status
	}
	r.Passengers = mergePassengers(v.ride.Passengers, r.Passengers)
	v.ride = &r

	var evs []status.Event
	for _, p := range r.Passengers {
		evs = append(evs, v.tracker.Observe(status.KindPassenger, p.ID, string(p.Status))...)
	}
	evs = append(evs, v.tracker.Observe(status.KindRide, r.ID, string(r.Status))...)
	done := r.Status.Terminal()
	if done {
		v.clearRideLocked()
	}
	v.mu.Unlock()

	v.sink.emit(v.ctx, evs...)
	if done {
		v.log.Info("ride closed", "ride_id", r.ID, "status", r.Status)
		v.stopRidePollers()
	}
	v.publishSnapshot()
}

func (v *DriverView) clearRideLocked() {
	v.ride = nil
	v.requests = nil
	v.prompt = nil
}

// visibleRequests drops requests already accepted or rejected here; the
// backend keeps listing them until its own state catches up.
func (v *DriverView) visibleRequests(rs []models.RideRequest) []models.RideRequest {
	out := make([]models.RideRequest, 0, len(rs))
	for _, r := range rs {
		if v.rejected[r.ID] {
			continue
		}
		if _, ok := v.tracker.PassengerFor(r.ID); ok {
			continue
		}
		if r.Status != "" && r.Status != models.RequestPending {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (v *DriverView) applyRequests(rideID int64, rs []models.RideRequest) {
	v.mu.Lock()
	if v.ride == nil || v.ride.ID != rideID {
		v.mu.Unlock()
		return
	}
	v.requests = v.visibleRequests(rs)
	if v.prompt != nil && !containsRequest(v.requests, v.prompt.ID) {
		v.prompt = nil
	}
	var evs []status.Event
	for _, r := range v.requests {
		evs = append(evs, v.tracker.Observe(status.KindRequest, r.ID, string(models.RequestPending))...)
	}
	v.mu.Unlock()

	v.sink.emit(v.ctx, evs...)
	v.advancePrompt(v.ctx)
	v.publishSnapshot()
}

func containsRequest(rs []models.RideRequest, id int64) bool {
	for _, r := range rs {
		if r.ID == id {
			return true
		}
	}
	return false
}

// advancePrompt presents the next unclaimed request. Only one prompt is
// shown at a time and a request is claimed before it is shown, so two
// overlapping polls cannot both present it.
func (v *DriverView) advancePrompt(ctx context.Context) {
	v.promptMu.Lock()
	defer v.promptMu.Unlock()

	v.mu.Lock()
	if v.prompt != nil {
		v.mu.Unlock()
		return
	}
	candidates := append([]models.RideRequest(nil), v.requests...)
	v.mu.Unlock()

	for _, r := range candidates {
		if ctx.Err() != nil {
			// unmounted; leave the request for the next session
			return
		}
		ok, err := v.seen.Claim(ctx, r.ID)
		if err != nil {
			v.log.Warn("claim request failed", "request_id", r.ID, "error", err)
			return
		}
		if !ok {
			observability.DuplicatesSuppressed.WithLabelValues("request").Inc()
			continue
		}
		v.mu.Lock()
		if !containsRequest(v.requests, r.ID) {
			v.mu.Unlock()
			continue
		}
		v.prompt = &r
		v.mu.Unlock()
		v.sink.push("prompt", requestCard(r, v.d.Fare))
		return
	}
}

func (v *DriverView) applyPayments(ps []models.Payment) {
	total := api.Earnings(ps)
	v.mu.Lock()
	changed := total != v.earnings
	v.earnings = total
	for pid, o := range v.owed {
		for _, p := range ps {
			if p.Status == models.PaymentCompleted && p.RideID == o.RideID && p.RiderID == o.RiderID {
				delete(v.owed, pid)
				changed = true
				break
			}
		}
	}
	v.mu.Unlock()
	if changed {
		v.publishSnapshot()
	}
}

func (v *DriverView) publishSnapshot() { v.sink.push("snapshot", v.Snapshot()) }

// CreateRide offers a new ride between two catalog locations.
func (v *DriverView) CreateRide(ctx context.Context, pickup, drop string, seats int) (models.Ride, error) {
	from, ok := locations.Lookup(pickup)
	if !ok {
		return models.Ride{}, invalid("unknown pickup location %q", pickup)
	}
	to, ok := locations.Lookup(drop)
	if !ok {
		return models.Ride{}, invalid("unknown drop location %q", drop)
	}
	if from.Name == to.Name {
		return models.Ride{}, invalid("pickup and drop must differ")
	}
	if seats < MinSeats || seats > MaxSeats {
		return models.Ride{}, invalid("seats must be between %d and %d", MinSeats, MaxSeats)
	}
	v.mu.Lock()
	busy := v.ride != nil
	v.mu.Unlock()
	if busy {
		return models.Ride{}, ErrRideActive
	}

	r, err := v.d.Backend.CreateRide(ctx, api.CreateRideInput{DriverID: v.user.UserID, Pickup: from, Drop: to, TotalSeats: seats})
	if err != nil {
		return models.Ride{}, err
	}
	v.mu.Lock()
	v.ride = &r
	v.requests = nil
	v.prompt = nil
	v.tracker.Observe(status.KindRide, r.ID, string(r.Status))
	v.mu.Unlock()
	v.log.Info("ride created", "ride_id", r.ID, "from", from.Name, "to", to.Name, "seats", seats)

	v.startRidePollers(r.ID)
	v.publishSnapshot()
	return r, nil
}

func (v *DriverView) findRequest(id int64) (models.RideRequest, int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ride == nil {
		return models.RideRequest{}, 0, ErrNoActiveRide
	}
	for _, r := range v.requests {
		if r.ID == id {
			return r, v.ride.ID, nil
		}
	}
	return models.RideRequest{}, 0, ErrUnknownRequest
}

// AcceptRequest turns a pending request into a passenger on the ride.
func (v *DriverView) AcceptRequest(ctx context.Context, requestID int64) (models.Passenger, error) {
	req, rideID, err := v.findRequest(requestID)
	if err != nil {
		return models.Passenger{}, err
	}
	p, err := v.d.Backend.AcceptRequest(ctx, requestID)
	if err != nil {
		return models.Passenger{}, err
	}
	if p.RideID == 0 {
		p.RideID = rideID
	}
	if p.Status == "" {
		p.Status = models.PassengerMatched
	}
	if p.RiderID == 0 {
		p.RiderID = req.RiderID
	}
	ev := v.tracker.Translate(requestID, p.ID)
	if err := v.seen.MarkSeen(ctx, requestID); err != nil {
		v.log.Warn("mark request seen failed", "request_id", requestID, "error", err)
	}

	v.mu.Lock()
	if v.ride != nil && v.ride.ID == rideID {
		known := false
		for _, q := range v.ride.Passengers {
			known = known || q.ID == p.ID
		}
		if !known {
			v.ride.Passengers = append(v.ride.Passengers, p)
		}
		if v.ride.AvailableSeats > 0 {
			v.ride.AvailableSeats--
		}
	}
	v.requests = v.visibleRequests(v.requests)
	if v.prompt != nil && v.prompt.ID == requestID {
		v.prompt = nil
	}
	v.mu.Unlock()

	v.log.Info("request accepted", "request_id", requestID, "passenger_id", p.ID)
	v.sink.emit(ctx, ev)
	v.advancePrompt(ctx)
	v.publishSnapshot()
	return p, nil
}

func (v *DriverView) RejectRequest(ctx context.Context, requestID int64) error {
	if _, _, err := v.findRequest(requestID); err != nil {
		return err
	}
	if err := v.d.Backend.RejectRequest(ctx, requestID); err != nil {
		return err
	}
	if err := v.seen.MarkSeen(ctx, requestID); err != nil {
		v.log.Warn("mark request seen failed", "request_id", requestID, "error", err)
	}
	v.mu.Lock()
	v.rejected[requestID] = true
	v.requests = v.visibleRequests(v.requests)
	if v.prompt != nil && v.prompt.ID == requestID {
		v.prompt = nil
	}
	v.mu.Unlock()

	v.advancePrompt(ctx)
	v.publishSnapshot()
	return nil
}

func (v *DriverView) findPassenger(id int64) (models.Ride, models.Passenger, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ride == nil {
		return models.Ride{}, models.Passenger{}, ErrNoActiveRide
	}
	for _, p := range v.ride.Passengers {
		if p.ID == id {
			return *v.ride, p, nil
		}
	}
	return models.Ride{}, models.Passenger{}, ErrUnknownPassenger
}

// applyPassenger records a confirmed passenger status and returns the
// resulting events.
func (v *DriverView) applyPassenger(id int64, st models.PassengerStatus) []status.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ride != nil {
		for i := range v.ride.Passengers {
			p := &v.ride.Passengers[i]
			if p.ID == id && p.Status.Rank() < st.Rank() {
				p.Status = st
			}
		}
	}
	return v.tracker.Observe(status.KindPassenger, id, string(st))
}

func (v *DriverView) Board(ctx context.Context, passengerID int64) (models.Passenger, error) {
	_, p, err := v.findPassenger(passengerID)
	if err != nil {
		return models.Passenger{}, err
	}
	next, err := status.NextPassengerStatus(p.Status, status.ActionBoard)
	if err != nil {
		return models.Passenger{}, err
	}
	got, err := v.d.Backend.BoardPassenger(ctx, passengerID)
	if err != nil {
		return models.Passenger{}, err
	}
	if got.Status.Rank() > next.Rank() {
		next = got.Status
	}
	p.Status = next
	v.sink.emit(ctx, v.applyPassenger(passengerID, next)...)
	v.publishSnapshot()
	return p, nil
}

type DropResult struct {
	Passenger models.Passenger `json:"passenger"`
	Amount    models.Money     `json:"amount"`
	Outcome   payments.Outcome `json:"outcome"`
	OrderID   string           `json:"order_id,omitempty"`
	Message   string           `json:"message"`
}

// Drop lets a passenger off and settles the fare. A failed charge does not
// undo the drop; the passenger is flagged as owing instead.
func (v *DriverView) Drop(ctx context.Context, passengerID int64) (DropResult, error) {
	ride, p, err := v.findPassenger(passengerID)
	if err != nil {
		return DropResult{}, err
	}
	next, err := status.NextPassengerStatus(p.Status, status.ActionDrop)
	if err != nil {
		return DropResult{}, err
	}
	got, err := v.d.Backend.DropPassenger(ctx, passengerID)
	if err != nil {
		return DropResult{}, err
	}
	if got.FareAmount > 0 {
		p.FareAmount = got.FareAmount
	}
	p.Status = next
	v.sink.emit(ctx, v.applyPassenger(passengerID, next)...)

	amount := p.FareAmount
	if amount <= 0 {
		amount = routeEstimate(v.d.Fare, p.BoardingLocation, p.DropLocation).Fare
	}
	res := v.d.Payments.Settle(ctx, ride, p, amount)
	out := DropResult{Passenger: p, Amount: amount, Outcome: res.Outcome, OrderID: res.OrderID}
	ev := status.Event{Kind: status.KindPassenger, EntityID: p.ID, From: string(next)}
	if res.Outcome == payments.OutcomeCompleted {
		out.Message = fmt.Sprintf("Passenger dropped, %s collected", amount.RoundRupee())
		ev.Type, ev.To = status.EventPaymentSucceeded, string(models.PaymentCompleted)
	} else {
		out.Message = "Passenger dropped but payment pending"
		ev.Type, ev.To = status.EventPaymentPending, string(models.PaymentPending)
		v.mu.Lock()
		v.owed[p.ID] = pendingPayment{RideID: ride.ID, RiderID: p.RiderID, OrderID: res.OrderID}
		v.mu.Unlock()
	}
	ev.At = timeNow()
	v.sink.emit(ctx, ev)
	v.publishSnapshot()
	return out, nil
}

// CompleteRide closes the ride and stops its pollers.
func (v *DriverView) CompleteRide(ctx context.Context) (models.Ride, error) {
	v.mu.Lock()
	if v.ride == nil {
		v.mu.Unlock()
		return models.Ride{}, ErrNoActiveRide
	}
	r := *v.ride
	v.mu.Unlock()

	if err := v.d.Backend.UpdateRideStatus(ctx, r.ID, models.RideCompleted); err != nil {
		return models.Ride{}, err
	}
	r.Status = models.RideCompleted
	v.mu.Lock()
	evs := v.tracker.Observe(status.KindRide, r.ID, string(r.Status))
	if v.ride != nil && v.ride.ID == r.ID {
		v.clearRideLocked()
	}
	v.mu.Unlock()

	v.stopRidePollers()
	v.sink.emit(ctx, evs...)
	v.log.Info("ride completed", "ride_id", r.ID)
	v.publishSnapshot()
	return r, nil
}

func (v *DriverView) DismissNotification(ctx context.Context, id int64) error {
	if err := v.feed.dismiss(ctx, id); err != nil {
		return err
	}
	v.publishSnapshot()
	return nil
}

// DriverSnapshot is the full driver dashboard. Accepted maps each request
// accepted here to the passenger it became.
type DriverSnapshot struct {
	Role             models.Role        `json:"role"`
	UserID           int64              `json:"user_id"`
	Ride             *RideCard          `json:"ride"`
	Requests         []RequestCard      `json:"requests"`
	Prompt           *RequestCard       `json:"prompt"`
	RequestsDisabled bool               `json:"requests_disabled"`
	Notifications    []NotificationCard `json:"notifications"`
	Earnings         models.Money       `json:"earnings"`
	EarningsDisplay  string             `json:"earnings_display"`
	Accepted         map[int64]int64    `json:"accepted"`
	Tracking         bool               `json:"tracking"`
}

func (v *DriverView) Snapshot() any { return v.DriverSnapshot() }

func (v *DriverView) DriverSnapshot() DriverSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := DriverSnapshot{
		Role:             models.RoleDriver,
		UserID:           v.user.UserID,
		Requests:         make([]RequestCard, 0, len(v.requests)),
		RequestsDisabled: v.requestsOff.Load(),
		Notifications:    v.feed.cards(),
		Earnings:         v.earnings,
		EarningsDisplay:  v.earnings.RoundRupee().String(),
		Accepted:         v.tracker.Translations(),
		Tracking:         v.group.Running(pollDriverRide),
	}
	if v.ride != nil {
		owed := make(map[int64]string, len(v.owed))
		for id, o := range v.owed {
			owed[id] = o.OrderID
		}
		s.Ride = rideCard(*v.ride, owed)
	}
	for _, r := range v.requests {
		s.Requests = append(s.Requests, requestCard(r, v.d.Fare))
	}
	if v.prompt != nil {
		c := requestCard(*v.prompt, v.d.Fare)
		s.Prompt = &c
	}
	return s
}
