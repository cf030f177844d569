package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrCouponNotFound  = errors.New("coupon_not_found")
	ErrCouponExists    = errors.New("coupon_exists")
	ErrInvalidCoupon   = errors.New("invalid_coupon")
	ErrCouponExhausted = errors.New("coupon_exhausted")
)

// IneligibleReason explains why a valid-looking code priced to zero.
type IneligibleReason string

const (
	IneligibleInactive      IneligibleReason = "inactive"
	IneligibleExpired       IneligibleReason = "expired"
	IneligibleMinOrderValue IneligibleReason = "min_order_value"
	IneligibleExhausted     IneligibleReason = "exhausted"
)

// Quote is the outcome of pricing a coupon against a subtotal. A
// non-empty Ineligible means the code is silently ignored at checkout;
// a bad code never blocks the order.
type Quote struct {
	Discount   int64
	Eligible   bool
	Ineligible IneligibleReason
}

type CreateCouponRequest struct {
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discount_type"`
	Value         int64        `json:"value"`
	MinOrderValue int64        `json:"min_order_value"`
	MaxDiscount   *int64       `json:"max_discount,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	UsageLimit    *int64       `json:"usage_limit,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateCouponRequest) (*Coupon, error)
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Deactivate(ctx context.Context, code string) error

	// Price applies the validity checks in order (active, expiry, minimum
	// order value, usage limit) and returns the clamped discount. Pure:
	// no side effects, no usage counting.
	Price(coupon *Coupon, subtotal int64) Quote

	// RedeemTx increments the usage counter inside the caller's
	// transaction with a guard on the limit, so concurrent checkouts
	// cannot race past it. Returns ErrCouponExhausted when the guard
	// loses.
	RedeemTx(ctx context.Context, tx *gorm.DB, code string) error
}
