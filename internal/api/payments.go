package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/example/carpool-sync/internal/models"
)

// backendTime decodes the backend's zone-less timestamps, read as UTC.
type backendTime struct{ time.Time }

var backendLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *backendTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' {
		return fmt.Errorf("timestamp: expected string, got %s", s)
	}
	s = s[1 : len(s)-1]
	for _, layout := range backendLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: cannot parse %q", s)
}

type paymentDTO struct {
	ID              int64        `json:"id"`
	RideID          int64        `json:"rideId"`
	RiderID         int64        `json:"riderId"`
	DriverID        int64        `json:"driverId"`
	Amount          models.Money `json:"amount"`
	Status          string       `json:"status"`
	Method          string       `json:"method"`
	RazorpayOrderID string       `json:"razorpayOrderId"`
	CompletedAt     *backendTime `json:"completedAt"`
}

func (d paymentDTO) model() models.Payment {
	p := models.Payment{
		ID:       d.ID,
		RideID:   d.RideID,
		RiderID:  d.RiderID,
		DriverID: d.DriverID,
		Amount:   d.Amount,
		Status:   models.PaymentStatus(d.Status),
	}
	if d.CompletedAt != nil && !d.CompletedAt.IsZero() {
		at := d.CompletedAt.Time
		p.CompletedAt = &at
	}
	return p
}

func payments(in []paymentDTO) []models.Payment {
	out := make([]models.Payment, 0, len(in))
	for _, p := range in {
		out = append(out, p.model())
	}
	return out
}

type OrderInput struct {
	RideID      int64
	RiderID     int64
	DriverID    int64
	Amount      models.Money
	Description string
}

// CreatePaymentOrder registers a pending charge and returns its order id.
func (c *Client) CreatePaymentOrder(ctx context.Context, in OrderInput) (models.PaymentOrder, error) {
	const op = "create payment order"
	body := struct {
		RideID      int64        `json:"rideId"`
		RiderID     int64        `json:"riderId"`
		DriverID    int64        `json:"driverId"`
		Amount      models.Money `json:"amount"`
		Description string       `json:"description,omitempty"`
	}{in.RideID, in.RiderID, in.DriverID, in.Amount, in.Description}
	var out paymentDTO
	if err := c.do(ctx, op, http.MethodPost, "/api/payments/create-order", body, &out); err != nil {
		return models.PaymentOrder{}, err
	}
	if out.RazorpayOrderID == "" {
		return models.PaymentOrder{}, &Error{Op: op, Kind: KindDecode, Err: fmt.Errorf("missing order id")}
	}
	return models.PaymentOrder{OrderID: out.RazorpayOrderID, Amount: out.Amount}, nil
}

// VerifyInput carries the gateway's proof that an order was paid.
type VerifyInput struct {
	OrderID   string
	PaymentID string
	Signature string
}

func (c *Client) VerifyPayment(ctx context.Context, in VerifyInput) (models.Payment, error) {
	body := struct {
		OrderID   string `json:"razorpayOrderId"`
		PaymentID string `json:"razorpayPaymentId"`
		Signature string `json:"razorpaySignature"`
	}{in.OrderID, in.PaymentID, in.Signature}
	var out paymentDTO
	if err := c.do(ctx, "verify payment", http.MethodPost, "/api/payments/verify", body, &out); err != nil {
		return models.Payment{}, err
	}
	return out.model(), nil
}

type ProcessInput struct {
	RideID   int64
	RiderID  int64
	DriverID int64
	Amount   models.Money
	Method   string
}

// ProcessPayment records a payment made outside the gateway, e.g. cash.
func (c *Client) ProcessPayment(ctx context.Context, in ProcessInput) (models.Payment, error) {
	body := struct {
		RideID   int64        `json:"rideId"`
		RiderID  int64        `json:"riderId"`
		DriverID int64        `json:"driverId"`
		Amount   models.Money `json:"amount"`
		Method   string       `json:"method"`
	}{in.RideID, in.RiderID, in.DriverID, in.Amount, in.Method}
	var out paymentDTO
	if err := c.do(ctx, "process payment", http.MethodPost, "/api/payments/process", body, &out); err != nil {
		return models.Payment{}, err
	}
	return out.model(), nil
}

func (c *Client) GetPaymentsForDriver(ctx context.Context, driverID int64) ([]models.Payment, error) {
	var out []paymentDTO
	if err := c.do(ctx, "get driver payments", http.MethodGet, fmt.Sprintf("/api/payments/driver/%d", driverID), nil, &out); err != nil {
		return nil, err
	}
	return payments(out), nil
}

func (c *Client) GetPaymentsForRider(ctx context.Context, riderID int64) ([]models.Payment, error) {
	var out []paymentDTO
	if err := c.do(ctx, "get rider payments", http.MethodGet, fmt.Sprintf("/api/payments/rider/%d", riderID), nil, &out); err != nil {
		return nil, err
	}
	return payments(out), nil
}

type RatingInput struct {
	RideID     int64
	FromUserID int64
	ToUserID   int64
	Type       string
	Stars      int
	Comment    string
}

func (c *Client) SubmitRating(ctx context.Context, in RatingInput) error {
	if in.Stars < 1 || in.Stars > 5 {
		return &Error{Op: "submit rating", Kind: KindValidation, Message: "stars must be between 1 and 5"}
	}
	body := struct {
		RideID     int64  `json:"rideId"`
		FromUserID int64  `json:"fromUserId"`
		ToUserID   int64  `json:"toUserId"`
		Type       string `json:"type"`
		Stars      int    `json:"stars"`
		Comment    string `json:"comment,omitempty"`
	}{in.RideID, in.FromUserID, in.ToUserID, in.Type, in.Stars, in.Comment}
	return c.do(ctx, "submit rating", http.MethodPost, "/api/payments/rating", body, nil)
}

// Earnings sums the completed payments.
func Earnings(ps []models.Payment) models.Money {
	var total models.Money
	for _, p := range ps {
		if p.Status == models.PaymentCompleted {
			total += p.Amount
		}
	}
	return total
}
