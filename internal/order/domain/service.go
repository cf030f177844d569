package domain

import (
	"context"
	"errors"
)

var (
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrNoItems             = errors.New("no_items")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidPayment      = errors.New("invalid_payment_method")
	ErrInvalidAddress      = errors.New("invalid_address")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrSignatureInvalid    = errors.New("signature_invalid")
	ErrNotCODOrder         = errors.New("not_cod_order")
	ErrOrderNotConfirmable = errors.New("order_not_confirmable")
)

// CreateOrderRequest is the checkout payload. Item prices are never
// taken from the caller; only product ids and quantities are.
type CreateOrderRequest struct {
	UserID        string        `json:"user_id"`
	Items         []CreateItem  `json:"items"`
	Address       Address       `json:"shipping_address"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	CouponCode    string        `json:"coupon_code,omitempty"`
}

type CreateItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// ConfirmPaymentRequest carries the gateway's confirmation callback.
type ConfirmPaymentRequest struct {
	OrderID          string `json:"order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// ConfirmResult reports what the confirmation did. AlreadyProcessed is
// an idempotent success, not an error.
type ConfirmResult struct {
	Order            *Order
	AlreadyProcessed bool
}

type Service interface {
	// CreateOrder prices the cart server-side, applies the coupon, and
	// persists the order in Created state. Stock is not touched here;
	// availability is checked only at confirmation.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)

	// ConfirmPayment verifies the gateway signature, then atomically
	// re-checks the order, decrements stock for every line, and flips the
	// order to Paid. A failed signature leaves the order unpaid with
	// payment status failed.
	ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmResult, error)

	// ConfirmCOD atomically decrements stock and moves a cash-on-delivery
	// order from Created to Pending; settlement happens at handover.
	ConfirmCOD(ctx context.Context, orderID string, actor string) (*ConfirmResult, error)

	// UpdateStatus applies an administrative transition, appending a
	// timeline entry. The Delivered transition posts the warehouse SALE
	// ledger pair; a Cancelled transition after the order was paid or
	// delivered posts the refund pair.
	UpdateStatus(ctx context.Context, orderID string, newStatus Status, actor string) (*Order, error)

	Get(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
}
