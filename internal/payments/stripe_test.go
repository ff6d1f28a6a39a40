package payments

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carpool-sync/internal/models"
)

func stripeStub(t *testing.T, h http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return newStripeGateway("sk_test_x", "", &stripe.Backends{API: b, Connect: b, Uploads: b})
}

func TestStripeHoldAndCapture(t *testing.T) {
	g := stripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/v1/payment_intents":
			assert.Equal(t, "11000", r.PostForm.Get("amount"))
			assert.Equal(t, "inr", r.PostForm.Get("currency"))
			assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
			assert.Equal(t, "order_1", r.PostForm.Get("metadata[order_id]"))
			assert.Equal(t, "order_1", r.Header.Get("Idempotency-Key"))
			io.WriteString(w, `{"id": "pi_1", "object": "payment_intent", "status": "requires_capture"}`)
		case "/v1/payment_intents/pi_1/capture":
			io.WriteString(w, `{"id": "pi_1", "object": "payment_intent", "amount_received": 11000, "latest_charge": "ch_9"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	id, err := g.Hold(context.Background(), Charge{OrderID: "order_1", RideID: 42, RiderID: 9, Amount: models.Rupees(110), IdempotencyKey: "order_1"})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", id)

	rec, err := g.Capture(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Receipt{PaymentID: "pi_1", Signature: "ch_9", Amount: models.Rupees(110)}, rec)
}

func TestStripeDeclineIsGatewayError(t *testing.T) {
	g := stripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."}}`)
	})
	_, err := g.Hold(context.Background(), Charge{OrderID: "order_1", Amount: models.Rupees(50)})
	require.Error(t, err)
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "hold", gerr.Step)
}
