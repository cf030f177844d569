package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidConfig    = errors.New("invalid_gateway_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrGatewayFailure   = errors.New("gateway_failure")
)

// CreateOrderRequest asks the payment provider to open an order for the
// given amount in minor units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the provider-side handle the checkout client pays
// against.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
}

// Gateway is the payment provider contract. CreateOrder happens before
// the order-creation transaction and VerifySignature before the
// confirmation transaction; neither is ever called with a transaction
// open.
type Gateway interface {
	Provider() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	// VerifySignature checks the provider's HMAC over
	// "<gatewayOrderID>|<paymentID>". Constant-time comparison.
	VerifySignature(gatewayOrderID, paymentID, signature string) error
}
