// Package payments settles drop-off fares through an external card gateway
// and reports the result back to the backend.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/observability"
)

// Charge is one fare to collect.
type Charge struct {
	OrderID        string
	RideID         int64
	RiderID        int64
	Amount         models.Money
	Description    string
	IdempotencyKey string
}

type Receipt struct {
	PaymentID string
	Signature string
	Amount    models.Money
}

// Gateway is the narrow surface of the card provider.
type Gateway interface {
	Hold(ctx context.Context, c Charge) (string, error)
	Capture(ctx context.Context, intentID string) (Receipt, error)
	Cancel(ctx context.Context, intentID string) error
}

// GatewayError is a provider failure, kept apart from backend errors.
type GatewayError struct {
	Step string
	Err  error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("payment gateway %s: %v", e.Step, e.Err) }

func (e *GatewayError) Unwrap() error { return e.Err }

func IsGatewayError(err error) bool {
	var g *GatewayError
	return errors.As(err, &g)
}

var ErrNoGateway = errors.New("payments: no gateway configured")

// Backend is the part of the backend client settlement needs.
type Backend interface {
	CreatePaymentOrder(ctx context.Context, in api.OrderInput) (models.PaymentOrder, error)
	VerifyPayment(ctx context.Context, in api.VerifyInput) (models.Payment, error)
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePending   Outcome = "pending"
)

type Result struct {
	Outcome Outcome
	OrderID string
	Payment models.Payment
	Err     error
}

type Processor struct {
	Backend Backend
	Gateway Gateway
	Logger  *slog.Logger
}

// Settle runs order -> hold -> capture -> verify for a dropped passenger.
// Every failure is reported as a pending result rather than an error: the
// drop itself already happened and must not be undone.
func (p *Processor) Settle(ctx context.Context, ride models.Ride, pass models.Passenger, amount models.Money) Result {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("ride_id", ride.ID, "passenger_id", pass.ID)
	pending := func(orderID string, err error) Result {
		observability.PaymentsTotal.WithLabelValues(string(OutcomePending)).Inc()
		log.Warn("payment left pending", "error", err)
		return Result{Outcome: OutcomePending, OrderID: orderID, Err: err}
	}

	order, err := p.Backend.CreatePaymentOrder(ctx, api.OrderInput{
		RideID:      ride.ID,
		RiderID:     pass.RiderID,
		DriverID:    ride.DriverID,
		Amount:      amount,
		Description: fmt.Sprintf("Ride %s to %s", pass.BoardingLocation, pass.DropLocation),
	})
	if err != nil {
		return pending("", err)
	}
	if p.Gateway == nil {
		return pending(order.OrderID, ErrNoGateway)
	}

	intent, err := p.Gateway.Hold(ctx, Charge{
		OrderID:        order.OrderID,
		RideID:         ride.ID,
		RiderID:        pass.RiderID,
		Amount:         amount,
		Description:    fmt.Sprintf("Carpool ride %d", ride.ID),
		IdempotencyKey: order.OrderID,
	})
	if err != nil {
		return pending(order.OrderID, err)
	}
	receipt, err := p.Gateway.Capture(ctx, intent)
	if err != nil {
		if cerr := p.Gateway.Cancel(ctx, intent); cerr != nil {
			log.Error("release hold failed", "intent", intent, "error", cerr)
		}
		return pending(order.OrderID, err)
	}
	payment, err := p.Backend.VerifyPayment(ctx, api.VerifyInput{
		OrderID:   order.OrderID,
		PaymentID: receipt.PaymentID,
		Signature: receipt.Signature,
	})
	if err != nil {
		// money is captured; the backend record is what is behind
		return pending(order.OrderID, err)
	}
	observability.PaymentsTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
	log.Info("payment completed", "order_id", order.OrderID, "amount", amount.String())
	return Result{Outcome: OutcomeCompleted, OrderID: order.OrderID, Payment: payment}
}
