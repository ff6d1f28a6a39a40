package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/example/carpool-sync/internal/models"
)

type rideDTO struct {
	ID             int64    `json:"id"`
	DriverID       int64    `json:"driverId"`
	PickupLocation string   `json:"pickupLocation"`
	DropLocation   string   `json:"dropLocation"`
	PickupLat      *float64 `json:"pickupLatitude"`
	PickupLng      *float64 `json:"pickupLongitude"`
	DropLat        *float64 `json:"dropLatitude"`
	DropLng        *float64 `json:"dropLongitude"`
	TotalSeats     int      `json:"totalSeats"`
	AvailableSeats int      `json:"availableSeats"`
	Status         string   `json:"status"`

	// only some endpoints embed these
	Passengers []passengerDTO `json:"passengers"`
}

func coord(lat, lng *float64) models.Coordinate {
	if lat == nil || lng == nil {
		return models.Coordinate{}
	}
	return models.Coordinate{Lat: *lat, Lng: *lng}
}

func (d rideDTO) model() (models.Ride, error) {
	st, ok := models.ParseRideStatus(d.Status)
	if !ok {
		return models.Ride{}, fmt.Errorf("ride %d: unknown status %q", d.ID, d.Status)
	}
	return models.Ride{
		ID:             d.ID,
		DriverID:       d.DriverID,
		Pickup:         models.Location{Name: d.PickupLocation, Coordinate: coord(d.PickupLat, d.PickupLng)},
		Drop:           models.Location{Name: d.DropLocation, Coordinate: coord(d.DropLat, d.DropLng)},
		TotalSeats:     d.TotalSeats,
		AvailableSeats: d.AvailableSeats,
		Status:         st,
		Passengers:     passengers(d.Passengers),
	}, nil
}

type passengerDTO struct {
	ID               int64        `json:"id"`
	RideID           int64        `json:"rideId"`
	RiderID          int64        `json:"riderId"`
	RiderName        string       `json:"riderName"`
	BoardingLocation string       `json:"boardingLocation"`
	DropLocation     string       `json:"dropLocation"`
	Status           string       `json:"status"`
	FareAmount       models.Money `json:"fareAmount"`
}

func (d passengerDTO) model() models.Passenger {
	return models.Passenger{
		ID:               d.ID,
		RideID:           d.RideID,
		RiderID:          d.RiderID,
		RiderName:        d.RiderName,
		BoardingLocation: d.BoardingLocation,
		DropLocation:     d.DropLocation,
		Status:           models.PassengerStatus(d.Status),
		FareAmount:       d.FareAmount,
	}
}

type requestDTO struct {
	ID             int64  `json:"id"`
	RiderID        int64  `json:"riderId"`
	RiderName      string `json:"riderName"`
	PickupLocation string `json:"pickupLocation"`
	DropLocation   string `json:"dropLocation"`
	Status         string `json:"status"`
	MatchedRideID  *int64 `json:"matchedRideId"`
}

func (d requestDTO) model() models.RideRequest {
	r := models.RideRequest{
		ID:             d.ID,
		RiderID:        d.RiderID,
		RiderName:      d.RiderName,
		PickupLocation: d.PickupLocation,
		DropLocation:   d.DropLocation,
		Status:         models.RequestStatus(d.Status),
	}
	if d.MatchedRideID != nil {
		r.RideID = *d.MatchedRideID
	}
	return r
}

func passengers(in []passengerDTO) []models.Passenger {
	out := make([]models.Passenger, 0, len(in))
	for _, p := range in {
		out = append(out, p.model())
	}
	return out
}

func rides(op string, in []rideDTO) ([]models.Ride, error) {
	out := make([]models.Ride, 0, len(in))
	for _, d := range in {
		r, err := d.model()
		if err != nil {
			return nil, &Error{Op: op, Kind: KindDecode, Err: err}
		}
		out = append(out, r)
	}
	return out, nil
}

// CreateRideInput is what a driver offers. Coordinates come from the
// location catalog.
type CreateRideInput struct {
	DriverID   int64
	Pickup     models.Location
	Drop       models.Location
	TotalSeats int
}

type createRideBody struct {
	DriverID        int64   `json:"driverId"`
	PickupLocation  string  `json:"pickupLocation"`
	DropLocation    string  `json:"dropLocation"`
	PickupLatitude  float64 `json:"pickupLatitude"`
	PickupLongitude float64 `json:"pickupLongitude"`
	DropLatitude    float64 `json:"dropLatitude"`
	DropLongitude   float64 `json:"dropLongitude"`
	TotalSeats      int     `json:"totalSeats"`
}

func (c *Client) CreateRide(ctx context.Context, in CreateRideInput) (models.Ride, error) {
	const op = "create ride"
	var out rideDTO
	body := createRideBody{
		DriverID:        in.DriverID,
		PickupLocation:  in.Pickup.Name,
		DropLocation:    in.Drop.Name,
		PickupLatitude:  in.Pickup.Coordinate.Lat,
		PickupLongitude: in.Pickup.Coordinate.Lng,
		DropLatitude:    in.Drop.Coordinate.Lat,
		DropLongitude:   in.Drop.Coordinate.Lng,
		TotalSeats:      in.TotalSeats,
	}
	if err := c.do(ctx, op, http.MethodPost, "/api/rides/create", body, &out); err != nil {
		return models.Ride{}, err
	}
	r, err := out.model()
	if err != nil {
		return models.Ride{}, &Error{Op: op, Kind: KindDecode, Err: err}
	}
	return r, nil
}

type rideListBody struct {
	Total int       `json:"total"`
	Rides []rideDTO `json:"rides"`
}

func (c *Client) GetActiveRides(ctx context.Context) ([]models.Ride, error) {
	const op = "get active rides"
	var out rideListBody
	if err := c.do(ctx, op, http.MethodGet, "/api/rides/active", nil, &out); err != nil {
		return nil, err
	}
	return rides(op, out.Rides)
}

func (c *Client) GetRidesByDriver(ctx context.Context, driverID int64) ([]models.Ride, error) {
	const op = "get driver rides"
	var out rideListBody
	if err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/api/rides/driver/%d", driverID), nil, &out); err != nil {
		return nil, err
	}
	return rides(op, out.Rides)
}

// GetRide returns the ride with its passengers attached.
func (c *Client) GetRide(ctx context.Context, rideID int64) (models.Ride, error) {
	const op = "get ride"
	var out struct {
		Ride       *rideDTO       `json:"ride"`
		Passengers []passengerDTO `json:"passengers"`
		Current    int            `json:"currentPassengersCount"`
	}
	if err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/api/rides/%d", rideID), nil, &out); err != nil {
		return models.Ride{}, err
	}
	if out.Ride == nil {
		return models.Ride{}, &Error{Op: op, Kind: KindDecode, Err: fmt.Errorf("missing ride")}
	}
	r, err := out.Ride.model()
	if err != nil {
		return models.Ride{}, &Error{Op: op, Kind: KindDecode, Err: err}
	}
	r.Passengers = passengers(out.Passengers)
	return r, nil
}

func (c *Client) UpdateRideStatus(ctx context.Context, rideID int64, status models.RideStatus) error {
	path := fmt.Sprintf("/api/rides/%d/status?status=%s", rideID, url.QueryEscape(string(status)))
	return c.do(ctx, "update ride status", http.MethodPut, path, nil, nil)
}

type passengerEnvelope struct {
	Message   string        `json:"message"`
	Passenger *passengerDTO `json:"passenger"`
}

func (c *Client) passengerAction(ctx context.Context, op, path string, method string) (models.Passenger, error) {
	var out passengerEnvelope
	if err := c.do(ctx, op, method, path, nil, &out); err != nil {
		return models.Passenger{}, err
	}
	if out.Passenger == nil {
		return models.Passenger{}, &Error{Op: op, Kind: KindDecode, Err: fmt.Errorf("missing passenger")}
	}
	return out.Passenger.model(), nil
}

// BoardPassenger returns the passenger as the backend recorded it.
func (c *Client) BoardPassenger(ctx context.Context, passengerID int64) (models.Passenger, error) {
	return c.passengerAction(ctx, "board passenger", fmt.Sprintf("/api/rides/passenger/%d/board", passengerID), http.MethodPut)
}

func (c *Client) DropPassenger(ctx context.Context, passengerID int64) (models.Passenger, error) {
	return c.passengerAction(ctx, "drop passenger", fmt.Sprintf("/api/rides/passenger/%d/drop", passengerID), http.MethodPut)
}

type RequestRideInput struct {
	RiderID int64
	Pickup  models.Location
	Drop    models.Location
}

func (c *Client) RequestRide(ctx context.Context, in RequestRideInput) (models.RideRequest, error) {
	const op = "request ride"
	body := struct {
		RiderID         int64   `json:"riderId"`
		PickupLocation  string  `json:"pickupLocation"`
		DropLocation    string  `json:"dropLocation"`
		PickupLatitude  float64 `json:"pickupLatitude"`
		PickupLongitude float64 `json:"pickupLongitude"`
		DropLatitude    float64 `json:"dropLatitude"`
		DropLongitude   float64 `json:"dropLongitude"`
	}{
		in.RiderID, in.Pickup.Name, in.Drop.Name,
		in.Pickup.Coordinate.Lat, in.Pickup.Coordinate.Lng,
		in.Drop.Coordinate.Lat, in.Drop.Coordinate.Lng,
	}
	var out requestDTO
	if err := c.do(ctx, op, http.MethodPost, "/api/rides/request", body, &out); err != nil {
		return models.RideRequest{}, err
	}
	if out.ID == 0 {
		return models.RideRequest{}, &Error{Op: op, Kind: KindDecode, Err: fmt.Errorf("missing request id")}
	}
	return out.model(), nil
}

// AcceptRequest accepts a pending request and returns the passenger record
// the backend created for it. The passenger id differs from the request id.
func (c *Client) AcceptRequest(ctx context.Context, requestID int64) (models.Passenger, error) {
	return c.passengerAction(ctx, "accept request", fmt.Sprintf("/api/rides/request/%d/accept", requestID), http.MethodPost)
}

func (c *Client) RejectRequest(ctx context.Context, requestID int64) error {
	return c.do(ctx, "reject request", http.MethodPost, fmt.Sprintf("/api/rides/request/%d/reject", requestID), nil, nil)
}

// GetPendingRequests lists the requests waiting on a ride. A 404 means the
// backend does not serve this endpoint.
func (c *Client) GetPendingRequests(ctx context.Context, rideID int64) ([]models.RideRequest, error) {
	var out struct {
		RideID   int64        `json:"rideId"`
		Requests []requestDTO `json:"requests"`
	}
	if err := c.do(ctx, "get pending requests", http.MethodGet, fmt.Sprintf("/api/rides/%d/requests", rideID), nil, &out); err != nil {
		return nil, err
	}
	res := make([]models.RideRequest, 0, len(out.Requests))
	for _, r := range out.Requests {
		m := r.model()
		if m.RideID == 0 {
			m.RideID = rideID
		}
		res = append(res, m)
	}
	return res, nil
}
