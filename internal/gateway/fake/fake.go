package fake

import (
	"context"

	"github.com/google/uuid"
	gatewaydomain "github.com/smallbiznis/kirana/internal/gateway/domain"
	"github.com/smallbiznis/kirana/internal/gateway/razorpay"
)

// Adapter is an in-process stand-in for the real provider, used in
// development and tests. It mints order references locally and verifies
// signatures with the same HMAC scheme the real provider uses, so
// callers can sign test confirmations with the shared secret.
type Adapter struct {
	secret string
}

func NewAdapter(secret string) *Adapter {
	if secret == "" {
		secret = "kirana-dev-secret"
	}
	return &Adapter{secret: secret}
}

func (a *Adapter) Provider() string { return "fake" }

func (a *Adapter) CreateOrder(ctx context.Context, req gatewaydomain.CreateOrderRequest) (*gatewaydomain.GatewayOrder, error) {
	return &gatewaydomain.GatewayOrder{
		ID:       "order_" + uuid.NewString(),
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (a *Adapter) VerifySignature(gatewayOrderID, paymentID, signature string) error {
	return razorpay.VerifySignature(a.secret, gatewayOrderID, paymentID, signature)
}

// Sign produces the signature the adapter expects for a confirmation;
// test helpers use it to act as the provider.
func (a *Adapter) Sign(gatewayOrderID, paymentID string) string {
	return razorpay.Sign(a.secret, gatewayOrderID, paymentID)
}
