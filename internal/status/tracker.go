package status

import (
	"sync"
	"time"

	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/observability"
)

type entityKey struct {
	kind EntityKind
	id   int64
}

// Tracker remembers the last status seen per entity and reports edges.
// Polls that repeat a known status produce nothing; polls that report an
// earlier status than one already seen are treated as stale and ignored.
type Tracker struct {
	mu   sync.Mutex
	last map[entityKey]string

	reqToPassenger map[int64]int64

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		last:           make(map[entityKey]string),
		reqToPassenger: make(map[int64]int64),
		now:            time.Now,
	}
}

func rank(kind EntityKind, raw string) int {
	switch kind {
	case KindPassenger:
		return models.PassengerStatus(raw).Rank()
	case KindRide:
		s, ok := models.ParseRideStatus(raw)
		if !ok {
			return 0
		}
		switch s {
		case models.RideActive:
			return 1
		case models.RideInProgress:
			return 2
		default:
			return 3
		}
	case KindRequest:
		switch models.RequestStatus(raw) {
		case models.RequestPending:
			return 1
		case models.RequestMatched:
			return 2
		case models.RequestInRide:
			return 3
		case models.RequestCompleted:
			return 4
		}
	}
	return 0
}

func normalize(kind EntityKind, raw string) string {
	if kind == KindRide {
		if s, ok := models.ParseRideStatus(raw); ok {
			return string(s)
		}
	}
	return raw
}

// Observe feeds one polled status and returns the events for the edge it
// represents, if any.
func (t *Tracker) Observe(kind EntityKind, id int64, raw string) []Event {
	raw = normalize(kind, raw)
	next := rank(kind, raw)
	if next == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	k := entityKey{kind, id}
	prev, seen := t.last[k]
	if seen {
		if prev == raw {
			return nil
		}
		if pr := rank(kind, prev); next < pr || (pr == 3 && kind == KindRide) {
			// stale snapshot, or a terminal ride reported differently
			return nil
		}
	}
	t.last[k] = raw

	ev := Event{Kind: kind, EntityID: id, From: prev, To: raw, At: t.now()}
	var out []Event
	emit := func(typ EventType) {
		ev.Type = typ
		out = append(out, ev)
		observability.Transitions.WithLabelValues(string(typ)).Inc()
	}
	switch kind {
	case KindPassenger:
		switch models.PassengerStatus(raw) {
		case models.PassengerBoarded:
			emit(EventPassengerBoarded)
		case models.PassengerDropped:
			emit(EventProceedToPayment)
		}
	case KindRide:
		switch models.RideStatus(raw) {
		case models.RideInProgress:
			emit(EventRideStarted)
		case models.RideCompleted:
			emit(EventRideCompleted)
		case models.RideCancelled:
			emit(EventRideCancelled)
		}
	case KindRequest:
		switch models.RequestStatus(raw) {
		case models.RequestPending:
			emit(EventRequestIncoming)
		case models.RequestMatched:
			emit(EventRequestMatched)
		}
	}
	return out
}

// Translate records that an accepted request became a passenger. The
// passenger starts tracked as MATCHED so the next poll showing MATCHED is
// steady state rather than a fresh sighting.
func (t *Tracker) Translate(requestID, passengerID int64) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reqToPassenger[requestID] = passengerID
	pk := entityKey{KindPassenger, passengerID}
	if _, ok := t.last[pk]; !ok {
		t.last[pk] = string(models.PassengerMatched)
	}
	rk := entityKey{KindRequest, requestID}
	prev := t.last[rk]
	if rank(KindRequest, prev) < rank(KindRequest, string(models.RequestMatched)) {
		t.last[rk] = string(models.RequestMatched)
	}
	observability.Transitions.WithLabelValues(string(EventRequestAccepted)).Inc()
	return Event{
		Type:      EventRequestAccepted,
		Kind:      KindRequest,
		EntityID:  requestID,
		RelatedID: passengerID,
		From:      prev,
		To:        string(models.RequestMatched),
		At:        t.now(),
	}
}

func (t *Tracker) PassengerFor(requestID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.reqToPassenger[requestID]
	return id, ok
}

// Translations returns a copy of the request -> passenger table.
func (t *Tracker) Translations() map[int64]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int64]int64, len(t.reqToPassenger))
	for k, v := range t.reqToPassenger {
		out[k] = v
	}
	return out
}
