// Package httpapi is the local API the browser dashboards talk to: session,
// dashboard snapshots, user actions and the websocket push channel.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/auth"
	"github.com/example/carpool-sync/internal/dispatch"
	"github.com/example/carpool-sync/internal/fare"
	"github.com/example/carpool-sync/internal/locations"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/payments"
	"github.com/example/carpool-sync/internal/status"
	"github.com/example/carpool-sync/internal/views"
)

type Server struct {
	Session *auth.Session
	Views   *views.Manager
	Fare    *fare.Estimator
	WSReg   *dispatch.WSRegistry

	logger   *slog.Logger
	mux      *mux.Router
	upgrader websocket.Upgrader
}

type Options struct {
	// AllowedOrigins limits websocket upgrades; empty means same-origin
	// only.
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewServer(session *auth.Session, vm *views.Manager, est *fare.Estimator, ws *dispatch.WSRegistry, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if est == nil {
		est = fare.NewEstimator(fare.DefaultConfig())
	}
	s := &Server{Session: session, Views: vm, Fare: est, WSReg: ws, logger: logger, mux: mux.NewRouter()}
	s.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	v1 := s.mux.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/locations", s.handleLocations).Methods("GET")
	v1.HandleFunc("/fare", s.handleFare).Methods("GET")
	v1.HandleFunc("/session", s.handleLogin).Methods("POST")
	v1.HandleFunc("/session", s.handleLogout).Methods("DELETE")
	v1.HandleFunc("/session", s.handleWhoAmI).Methods("GET")
	v1.HandleFunc("/profile", s.handleProfile).Methods("GET")
	v1.HandleFunc("/view", s.handleView).Methods("GET")
	v1.HandleFunc("/view/notifications/{id:[0-9]+}/dismiss", s.handleDismiss).Methods("POST")

	v1.HandleFunc("/driver/rides", s.handleCreateRide).Methods("POST")
	v1.HandleFunc("/driver/requests/{id:[0-9]+}/accept", s.handleAccept).Methods("POST")
	v1.HandleFunc("/driver/requests/{id:[0-9]+}/reject", s.handleReject).Methods("POST")
	v1.HandleFunc("/driver/passengers/{id:[0-9]+}/board", s.handleBoard).Methods("POST")
	v1.HandleFunc("/driver/passengers/{id:[0-9]+}/drop", s.handleDrop).Methods("POST")
	v1.HandleFunc("/driver/ride/complete", s.handleComplete).Methods("POST")

	v1.HandleFunc("/rider/requests", s.handleRequestRide).Methods("POST")
	v1.HandleFunc("/rider/pay", s.handlePay).Methods("POST")
	v1.HandleFunc("/rider/rate", s.handleRate).Methods("POST")
	v1.HandleFunc("/rider/origin", s.handleOrigin).Methods("PUT")

	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an action error onto the banner status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, views.ErrInvalidInput), errors.Is(err, status.ErrInvalidTransition),
		errors.Is(err, auth.ErrInvalidIdentity), api.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, views.ErrNoView):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, views.ErrUnknownRequest), errors.Is(err, views.ErrUnknownPassenger),
		errors.Is(err, views.ErrUnknownNotice), api.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, views.ErrRideActive), errors.Is(err, views.ErrNoActiveRide),
		errors.Is(err, views.ErrNothingToPay), errors.Is(err, views.ErrNothingToRate):
		return http.StatusConflict
	case api.IsKind(err, api.KindTransport), api.IsKind(err, api.KindServer), api.IsKind(err, api.KindDecode),
		payments.IsGatewayError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		msg = api.UserMessage(err, "The carpool service is unavailable, please try again")
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("action failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", views.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, locations.All())
}

type fareResponse struct {
	Pickup    models.Location `json:"pickup"`
	Drop      models.Location `json:"drop"`
	Estimate  fare.Estimate   `json:"estimate"`
	Breakdown fare.Breakdown  `json:"breakdown"`
	Display   string          `json:"display"`
}

func (s *Server) handleFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := locations.Lookup(q.Get("pickup"))
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: unknown pickup location %q", views.ErrInvalidInput, q.Get("pickup")))
		return
	}
	to, ok := locations.Lookup(q.Get("drop"))
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: unknown drop location %q", views.ErrInvalidInput, q.Get("drop")))
		return
	}
	est := s.Fare.Estimate(&from.Coordinate, &to.Coordinate)
	writeJSON(w, http.StatusOK, fareResponse{
		Pickup:    from,
		Drop:      to,
		Estimate:  est,
		Breakdown: s.Fare.Breakdown(est.DistanceKm),
		Display:   est.Fare.RoundRupee().String(),
	})
}

func publicIdentity(id models.Identity) models.Identity {
	id.Token = ""
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var id models.Identity
	if err := decode(r, &id); err != nil {
		s.fail(w, r, err)
		return
	}
	id.Role = models.Role(strings.ToUpper(string(id.Role)))
	if err := s.Session.Login(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("signed in", "user_id", id.UserID, "role", id.Role)
	writeJSON(w, http.StatusOK, publicIdentity(id))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Logout(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, err := s.Session.Require("")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicIdentity(id))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Session.Require(""); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.Views.Profile(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) currentView(w http.ResponseWriter, r *http.Request) (views.View, bool) {
	if _, err := s.Session.Require(""); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	v, _, err := s.Views.Current()
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return v, true
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentView(w, r)
	if !ok {
		return
	}
	if err := v.DismissNotification(r.Context(), pathID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) driver(w http.ResponseWriter, r *http.Request) (*views.DriverView, bool) {
	if _, err := s.Session.Require(models.RoleDriver); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	d, err := s.Views.Driver()
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return d, true
}

func (s *Server) rider(w http.ResponseWriter, r *http.Request) (*views.RiderView, bool) {
	if _, err := s.Session.Require(models.RoleRider); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	v, err := s.Views.Rider()
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return v, true
}

type routeBody struct {
	Pickup string `json:"pickup"`
	Drop   string `json:"drop"`
	Seats  int    `json:"seats"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driver(w, r)
	if !ok {
		return
	}
	var in routeBody
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	ride, err := d.CreateRide(r.Context(), in.Pickup, in.Drop, in.Seats)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driver(w, r)
	if !ok {
		return
	}
	p, err := d.AcceptRequest(r.Context(), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driver(w, r)
	if !ok {
		return
	}
	if err := d.RejectRequest(r.Context(), pathID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driver(w, r)
	if !ok {
		return
	}
	p, err := d.Board(r.Context(), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driver(w, r)
	if !ok {
		return
	}
	res, err := d.Drop(r.Context(), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driver(w, r)
	if !ok {
		return
	}
	ride, err := d.CompleteRide(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	v, ok := s.rider(w, r)
	if !ok {
		return
	}
	var in routeBody
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	card, err := v.RequestRide(r.Context(), in.Pickup, in.Drop)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	v, ok := s.rider(w, r)
	if !ok {
		return
	}
	var in struct {
		Method string `json:"method"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := v.Pay(r.Context(), views.PaymentMethod(strings.ToUpper(in.Method)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Outcome != payments.OutcomeCompleted {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	v, ok := s.rider(w, r)
	if !ok {
		return
	}
	var in struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := v.Rate(r.Context(), in.Stars, in.Comment); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrigin(w http.ResponseWriter, r *http.Request) {
	v, ok := s.rider(w, r)
	if !ok {
		return
	}
	var in struct {
		Location string `json:"location"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	loc, err := v.SetOrigin(in.Location)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// originChecker allows same-origin upgrades plus the configured origins.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentView(w, r)
	if !ok {
		return
	}
	id, _ := s.Session.Current()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if err := conn.WriteJSON(dispatch.Envelope{Type: "snapshot", Payload: v.Snapshot()}); err != nil {
		_ = conn.Close()
		return
	}
	s.WSReg.Add(id.UserID, conn)
}
