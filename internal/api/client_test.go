package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carpool-sync/internal/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second, staticToken("tok-1"))
}

func TestGetRideDecodesEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rides/42", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		io.WriteString(w, `{
			"ride": {"id": 42, "driverId": 7, "pickupLocation": "Baner", "dropLocation": "Aundh",
			         "pickupLatitude": 18.5593, "pickupLongitude": 73.7793,
			         "totalSeats": 4, "availableSeats": 2, "status": "WAITING"},
			"passengers": [{"id": 501, "rideId": 42, "riderId": 9, "riderName": "Asha",
			                "boardingLocation": "Baner", "dropLocation": "Aundh",
			                "status": "BOARDED", "fareAmount": 162.5}],
			"currentPassengersCount": 1
		}`)
	})

	ride, err := c.GetRide(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.RideActive, ride.Status)
	assert.EqualValues(t, 7, ride.DriverID)
	assert.InDelta(t, 18.5593, ride.Pickup.Coordinate.Lat, 1e-9)
	assert.Equal(t, models.Coordinate{}, ride.Drop.Coordinate)
	require.Len(t, ride.Passengers, 1)
	p := ride.Passengers[0]
	assert.EqualValues(t, 501, p.ID)
	assert.Equal(t, models.PassengerBoarded, p.Status)
	assert.Equal(t, models.Money(16250), p.FareAmount)
}

func TestUnknownRideStatusIsDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"total": 1, "rides": [{"id": 1, "status": "TELEPORTING"}]}`)
	})
	_, err := c.GetActiveRides(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDecode))
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ride": "nope"}`)
	})
	_, err := c.GetRide(context.Background(), 1)
	assert.True(t, IsKind(err, KindDecode))
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
		msg    string
	}{
		{"not found", http.StatusNotFound, ``, KindNotFound, ""},
		{"validation", http.StatusBadRequest, `{"error":"Failed to accept request","message":"No seats available"}`, KindValidation, "No seats available"},
		{"bare string", http.StatusBadRequest, `Notification not found`, KindValidation, "Notification not found"},
		{"server", http.StatusInternalServerError, `{"error":"boom"}`, KindServer, "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			err := c.RejectRequest(context.Background(), 3)
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.kind, apiErr.Kind)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.msg, apiErr.Message)
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, nil)
	_, err := c.GetActiveRides(context.Background())
	assert.True(t, IsKind(err, KindTransport))
	assert.False(t, IsNotFound(err))
}

func TestUserMessage(t *testing.T) {
	v := &Error{Op: "x", Kind: KindValidation, Message: "Ride is full"}
	assert.Equal(t, "Ride is full", UserMessage(v, "Failed"))
	s := &Error{Op: "x", Kind: KindServer, Message: "NullPointerException"}
	assert.Equal(t, "Failed", UserMessage(s, "Failed"))
	assert.Equal(t, "Failed", UserMessage(errors.New("other"), "Failed"))
}

func TestAcceptRequestReturnsPassenger(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/rides/request/11/accept", r.URL.Path)
		io.WriteString(w, `{"success": true, "message": "Request accepted",
			"passenger": {"id": 501, "rideId": 42, "riderId": 9, "status": "MATCHED", "fareAmount": 110}}`)
	})
	p, err := c.AcceptRequest(context.Background(), 11)
	require.NoError(t, err)
	assert.EqualValues(t, 501, p.ID)
	assert.Equal(t, models.PassengerMatched, p.Status)
	assert.Equal(t, models.Rupees(110), p.FareAmount)
}

func TestAcceptRequestWithoutPassengerIsDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true, "message": "Request accepted"}`)
	})
	_, err := c.AcceptRequest(context.Background(), 11)
	assert.True(t, IsKind(err, KindDecode))
}

func TestUpdateRideStatusQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/rides/5/status", r.URL.Path)
		assert.Equal(t, "COMPLETED", r.URL.Query().Get("status"))
		io.WriteString(w, `{"message": "ok"}`)
	})
	require.NoError(t, c.UpdateRideStatus(context.Background(), 5, models.RideCompleted))
}

func TestCreateRideSendsCoordinates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Kothrud", body["dropLocation"])
		assert.InDelta(t, 73.8077, body["dropLongitude"], 1e-9)
		assert.EqualValues(t, 3, body["totalSeats"])
		io.WriteString(w, `{"id": 8, "driverId": 7, "pickupLocation": "Baner", "dropLocation": "Kothrud", "totalSeats": 3, "availableSeats": 3, "status": "ACTIVE"}`)
	})
	ride, err := c.CreateRide(context.Background(), CreateRideInput{
		DriverID:   7,
		Pickup:     models.Location{Name: "Baner", Coordinate: models.Coordinate{Lat: 18.5593, Lng: 73.7793}},
		Drop:       models.Location{Name: "Kothrud", Coordinate: models.Coordinate{Lat: 18.5074, Lng: 73.8077}},
		TotalSeats: 3,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 8, ride.ID)
	assert.Equal(t, 3, ride.AvailableSeats)
}

func TestPendingRequestsFillRideID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"rideId": 42, "count": 1, "requests": [{"id": 11, "riderId": 9, "riderName": "Asha", "status": "PENDING"}]}`)
	})
	reqs, err := c.GetPendingRequests(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 42, reqs[0].RideID)
	assert.Equal(t, models.RequestPending, reqs[0].Status)
}

func TestPaymentsAndEarnings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/driver/7", r.URL.Path)
		io.WriteString(w, `[
			{"id": 1, "amount": 162.0, "status": "COMPLETED", "completedAt": "2026-03-01T10:15:30.123"},
			{"id": 2, "amount": 110.5, "status": "COMPLETED", "completedAt": null},
			{"id": 3, "amount": 99.0, "status": "PENDING"}
		]`)
	})
	ps, err := c.GetPaymentsForDriver(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	require.NotNil(t, ps[0].CompletedAt)
	assert.Equal(t, 2026, ps[0].CompletedAt.Year())
	assert.Nil(t, ps[1].CompletedAt)
	assert.Equal(t, models.Rupees(272.5), Earnings(ps))
}

func TestCreatePaymentOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 162.0, body["amount"], 1e-9)
		io.WriteString(w, `{"id": 77, "amount": 162.0, "status": "PENDING", "razorpayOrderId": "order_77"}`)
	})
	order, err := c.CreatePaymentOrder(context.Background(), OrderInput{RideID: 1, RiderID: 2, DriverID: 3, Amount: models.Rupees(162)})
	require.NoError(t, err)
	assert.Equal(t, "order_77", order.OrderID)
	assert.Equal(t, models.Rupees(162), order.Amount)
}

func TestSubmitRatingValidatesStars(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, nil)
	err := c.SubmitRating(context.Background(), RatingInput{Stars: 6})
	assert.True(t, IsValidation(err))
}

func TestUnreadNotifications(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/user/9/unread", r.URL.Path)
		io.WriteString(w, `[{"id": 3, "userId": 9, "message": "Driver accepted", "type": "MATCH_FOUND", "isRead": false, "createdAt": "2026-03-01T10:15:30"}]`)
	})
	ns, err := c.GetUnreadNotifications(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotifyMatchFound, ns[0].Type)
	assert.Equal(t, 15, ns[0].CreatedAt.Minute())
}

func TestGetUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id": 9, "name": "Asha", "email": "a@x.in", "role": "RIDER", "rating": 4.5}`)
	})
	u, err := c.GetUser(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, models.RoleRider, u.Role)
	assert.InDelta(t, 4.5, u.Rating, 1e-9)
}
