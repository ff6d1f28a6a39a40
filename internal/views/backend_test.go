package views

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/logging"
	"github.com/example/carpool-sync/internal/status"
)

// fakeBackend is an in-memory carpool backend speaking the real wire format.
type fakeBackend struct {
	mu     sync.Mutex
	nextID int64

	rides         map[int64]*fakeRide
	requests      map[int64][]fakeRequest
	notifications map[int64][]fakeNotification
	payments      []fakePayment
	ratings       []map[string]any
	processed     []map[string]any

	requestsMissing bool
	calls           map[string]int
}

type fakeRide struct {
	ID             int64            `json:"id"`
	DriverID       int64            `json:"driverId"`
	PickupLocation string           `json:"pickupLocation"`
	DropLocation   string           `json:"dropLocation"`
	TotalSeats     int              `json:"totalSeats"`
	AvailableSeats int              `json:"availableSeats"`
	Status         string           `json:"status"`
	Passengers     []*fakePassenger `json:"-"`
}

type fakePassenger struct {
	ID               int64   `json:"id"`
	RideID           int64   `json:"rideId"`
	RiderID          int64   `json:"riderId"`
	RiderName        string  `json:"riderName"`
	BoardingLocation string  `json:"boardingLocation"`
	DropLocation     string  `json:"dropLocation"`
	Status           string  `json:"status"`
	FareAmount       float64 `json:"fareAmount"`
}

type fakeRequest struct {
	ID             int64  `json:"id"`
	RiderID        int64  `json:"riderId"`
	RiderName      string `json:"riderName"`
	PickupLocation string `json:"pickupLocation"`
	DropLocation   string `json:"dropLocation"`
	Status         string `json:"status"`
}

type fakeNotification struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

type fakePayment struct {
	ID              int64   `json:"id"`
	RideID          int64   `json:"rideId"`
	RiderID         int64   `json:"riderId"`
	DriverID        int64   `json:"driverId"`
	Amount          float64 `json:"amount"`
	Status          string  `json:"status"`
	Method          string  `json:"method"`
	RazorpayOrderID string  `json:"razorpayOrderId"`
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID:        100,
		rides:         make(map[int64]*fakeRide),
		requests:      make(map[int64][]fakeRequest),
		notifications: make(map[int64][]fakeNotification),
		calls:         make(map[string]int),
	}
}

func (f *fakeBackend) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeBackend) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *fakeBackend) addRide(r *fakeRide) {
	f.mu.Lock()
	f.rides[r.ID] = r
	f.mu.Unlock()
}

func (f *fakeBackend) addRequest(rideID int64, r fakeRequest) {
	f.mu.Lock()
	f.requests[rideID] = append(f.requests[rideID], r)
	f.mu.Unlock()
}

func (f *fakeBackend) setPassengerStatus(id int64, st string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rides {
		for _, p := range r.Passengers {
			if p.ID == id {
				p.Status = st
			}
		}
	}
}

func (f *fakeBackend) notify(userID int64, n fakeNotification) {
	f.mu.Lock()
	n.UserID = userID
	f.notifications[userID] = append(f.notifications[userID], n)
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request", "message": msg})
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (f *fakeBackend) findPassenger(id int64) *fakePassenger {
	for _, r := range f.rides {
		for _, p := range r.Passengers {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}

func (f *fakeBackend) router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			name := req.Method + " " + req.URL.Path
			if route := mux.CurrentRoute(req); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					name = req.Method + " " + tpl
				}
			}
			f.mu.Lock()
			f.calls[name]++
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/api/rides/create", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			DriverID       int64  `json:"driverId"`
			PickupLocation string `json:"pickupLocation"`
			DropLocation   string `json:"dropLocation"`
			TotalSeats     int    `json:"totalSeats"`
		}
		_ = json.NewDecoder(req.Body).Decode(&in)
		f.mu.Lock()
		ride := &fakeRide{ID: f.id(), DriverID: in.DriverID, PickupLocation: in.PickupLocation, DropLocation: in.DropLocation,
			TotalSeats: in.TotalSeats, AvailableSeats: in.TotalSeats, Status: "WAITING"}
		f.rides[ride.ID] = ride
		out := *ride
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/rides/active", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var out []*fakeRide
		for _, ride := range f.rides {
			if ride.Status == "WAITING" || ride.Status == "ACTIVE" {
				out = append(out, ride)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": len(out), "rides": out})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/rides/driver/{id:[0-9]+}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []*fakeRide{}
		for _, ride := range f.rides {
			if ride.DriverID == pathID(req) {
				out = append(out, ride)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": len(out), "rides": out})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/rides/{id:[0-9]+}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		ride, ok := f.rides[pathID(req)]
		if !ok {
			badRequest(w, "Ride not found")
			return
		}
		ps := make([]fakePassenger, 0, len(ride.Passengers))
		for _, p := range ride.Passengers {
			ps = append(ps, *p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ride": ride, "passengers": ps, "currentPassengersCount": len(ps)})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/rides/{id:[0-9]+}/status", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		ride, ok := f.rides[pathID(req)]
		if !ok {
			badRequest(w, "Ride not found")
			return
		}
		ride.Status = req.URL.Query().Get("status")
		writeJSON(w, http.StatusOK, map[string]any{"message": "Ride status updated", "ride": ride})
	}).Methods(http.MethodPut)

	r.HandleFunc("/api/rides/{id:[0-9]+}/requests", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.requestsMissing {
			http.NotFound(w, req)
			return
		}
		var out []fakeRequest
		for _, rq := range f.requests[pathID(req)] {
			if rq.Status == "PENDING" {
				out = append(out, rq)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rideId": pathID(req), "requests": out, "count": len(out)})
	}).Methods(http.MethodGet)

	passengerAction := func(to, from, msg string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			p := f.findPassenger(pathID(req))
			if p == nil {
				badRequest(w, "Passenger not found")
				return
			}
			if p.Status != from {
				badRequest(w, "Passenger is "+p.Status)
				return
			}
			p.Status = to
			writeJSON(w, http.StatusOK, map[string]any{"message": msg, "passenger": p})
		}
	}
	r.HandleFunc("/api/rides/passenger/{id:[0-9]+}/board", passengerAction("BOARDED", "MATCHED", "Passenger boarded")).Methods(http.MethodPut)
	r.HandleFunc("/api/rides/passenger/{id:[0-9]+}/drop", passengerAction("DROPPED", "BOARDED", "Passenger dropped")).Methods(http.MethodPut)

	r.HandleFunc("/api/rides/request", func(w http.ResponseWriter, req *http.Request) {
		var in fakeRequest
		_ = json.NewDecoder(req.Body).Decode(&in)
		f.mu.Lock()
		in.ID = f.id()
		in.Status = "PENDING"
		f.requests[0] = append(f.requests[0], in)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, in)
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/rides/request/{id:[0-9]+}/accept", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for rideID, rs := range f.requests {
			for i, rq := range rs {
				if rq.ID != pathID(req) || rq.Status != "PENDING" {
					continue
				}
				ride := f.rides[rideID]
				if ride == nil {
					badRequest(w, "Ride not found")
					return
				}
				rs[i].Status = "MATCHED"
				p := &fakePassenger{ID: f.id(), RideID: rideID, RiderID: rq.RiderID, RiderName: rq.RiderName,
					BoardingLocation: rq.PickupLocation, DropLocation: rq.DropLocation, Status: "MATCHED"}
				ride.Passengers = append(ride.Passengers, p)
				ride.AvailableSeats--
				writeJSON(w, http.StatusOK, map[string]any{"message": "Request accepted", "passenger": p})
				return
			}
		}
		badRequest(w, "Request not found")
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/rides/request/{id:[0-9]+}/reject", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, rs := range f.requests {
			for i := range rs {
				if rs[i].ID == pathID(req) {
					rs[i].Status = "REJECTED"
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Request rejected"})
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/payments/create-order", func(w http.ResponseWriter, req *http.Request) {
		var in fakePayment
		_ = json.NewDecoder(req.Body).Decode(&in)
		f.mu.Lock()
		in.ID = f.id()
		in.Status = "PENDING"
		in.RazorpayOrderID = "order_" + strconv.FormatInt(in.ID, 10)
		f.payments = append(f.payments, in)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, in)
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/payments/verify", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			OrderID string `json:"razorpayOrderId"`
		}
		_ = json.NewDecoder(req.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.payments {
			if f.payments[i].RazorpayOrderID == in.OrderID {
				f.payments[i].Status = "COMPLETED"
				writeJSON(w, http.StatusOK, f.payments[i])
				return
			}
		}
		badRequest(w, "Order not found")
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/payments/process", func(w http.ResponseWriter, req *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(req.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.processed = append(f.processed, in)
		p := fakePayment{
			ID:       f.id(),
			RideID:   int64(in["rideId"].(float64)),
			RiderID:  int64(in["riderId"].(float64)),
			DriverID: int64(in["driverId"].(float64)),
			Amount:   in["amount"].(float64),
			Method:   in["method"].(string),
			Status:   "COMPLETED",
		}
		f.payments = append(f.payments, p)
		writeJSON(w, http.StatusOK, p)
	}).Methods(http.MethodPost)

	payments := func(match func(fakePayment, int64) bool) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			out := []fakePayment{}
			for _, p := range f.payments {
				if match(p, pathID(req)) {
					out = append(out, p)
				}
			}
			writeJSON(w, http.StatusOK, out)
		}
	}
	r.HandleFunc("/api/payments/driver/{id:[0-9]+}", payments(func(p fakePayment, id int64) bool { return p.DriverID == id })).Methods(http.MethodGet)
	r.HandleFunc("/api/payments/rider/{id:[0-9]+}", payments(func(p fakePayment, id int64) bool { return p.RiderID == id })).Methods(http.MethodGet)

	r.HandleFunc("/api/payments/rating", func(w http.ResponseWriter, req *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(req.Body).Decode(&in)
		f.mu.Lock()
		f.ratings = append(f.ratings, in)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"message": "Rating submitted"})
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/notifications/user/{id:[0-9]+}/unread", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []fakeNotification{}
		for _, n := range f.notifications[pathID(req)] {
			if !n.IsRead {
				out = append(out, n)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/notifications/{id:[0-9]+}/read", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, ns := range f.notifications {
			for i := range ns {
				if ns[i].ID == pathID(req) {
					ns[i].IsRead = true
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "marked read"})
	}).Methods(http.MethodPut)

	return r
}

// recorder collects pushed frames.
type recorder struct {
	mu     sync.Mutex
	frames []frame
}

type frame struct {
	user    int64
	typ     string
	payload any
}

func (r *recorder) Push(userID int64, typ string, payload any) error {
	r.mu.Lock()
	r.frames = append(r.frames, frame{userID, typ, payload})
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.typ == typ {
			n++
		}
	}
	return n
}

func (r *recorder) events(t status.EventType) []status.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []status.Event
	for _, f := range r.frames {
		if ev, ok := f.payload.(status.Event); ok && f.typ == "event" && ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

const tick = 10 * time.Millisecond

func fastIntervals() Intervals {
	return Intervals{
		Ride:                tick,
		Requests:            tick,
		DriverNotifications: tick,
		RiderNotifications:  tick,
		Earnings:            tick,
		Nearby:              tick,
		RiderRide:           tick,
	}
}

type harness struct {
	backend *fakeBackend
	client  *api.Client
	push    *recorder
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fb := newFakeBackend()
	srv := httptest.NewServer(fb.router())
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL, time.Second, nil)
	rec := &recorder{}
	return &harness{
		backend: fb,
		client:  client,
		push:    rec,
		deps: Deps{
			Backend:   client,
			Push:      rec,
			Intervals: fastIntervals(),
			Logger:    logging.Discard(),
		},
	}
}
