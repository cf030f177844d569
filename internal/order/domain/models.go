package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusPacked    Status = "packed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether the status is a known variant.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusPaid, StatusPacked,
		StatusShipped, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// transitions is the closed set of allowed forward moves. Cancelled is
// reachable from any non-terminal state and is handled separately. Paid
// is listed here for the payment-confirmation paths; administrative
// status updates refuse it outright.
var transitions = map[Status][]Status{
	StatusCreated: {StatusPending, StatusPaid},
	StatusPending: {StatusPaid, StatusPacked},
	StatusPaid:    {StatusPacked},
	StatusPacked:  {StatusShipped},
	StatusShipped: {StatusDelivered},
}

// CanTransition reports whether from → to is an allowed move.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod selects how the order settles.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "cod"
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodUPI  PaymentMethod = "upi"
)

// Valid reports whether the method is a known variant.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI:
		return true
	default:
		return false
	}
}

// Prepaid reports whether the method requires a gateway order up front.
func (m PaymentMethod) Prepaid() bool {
	return m == PaymentMethodCard || m == PaymentMethodUPI
}

// PaymentStatus tracks the money side independently of fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Address is the shipping destination, stored denormalized on the order.
type Address struct {
	Name    string `json:"name"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone,omitempty"`
}

// Order is created once; status and payment fields mutate through the
// lifecycle, the timeline only grows, and the line items are immutable
// price snapshots taken at creation.
type Order struct {
	ID                snowflake.ID                 `json:"id" gorm:"primaryKey"`
	Number            string                       `json:"number" gorm:"type:text;not null;uniqueIndex:ux_orders_number"`
	UserID            string                       `json:"user_id" gorm:"type:text;not null;index"`
	WarehouseID       snowflake.ID                 `json:"warehouse_id" gorm:"not null;index"`
	Status            Status                       `json:"status" gorm:"type:text;not null;index"`
	Subtotal          int64                        `json:"subtotal" gorm:"not null"`
	Tax               int64                        `json:"tax" gorm:"not null"`
	DeliveryFee       int64                        `json:"delivery_fee" gorm:"not null"`
	Discount          int64                        `json:"discount" gorm:"not null"`
	Total             int64                        `json:"total" gorm:"not null"`
	Currency          string                       `json:"currency" gorm:"type:text;not null"`
	CouponCode        *string                      `json:"coupon_code,omitempty" gorm:"type:text"`
	PaymentMethod     PaymentMethod                `json:"payment_method" gorm:"type:text;not null"`
	PaymentStatus     PaymentStatus                `json:"payment_status" gorm:"type:text;not null"`
	GatewayOrderID    *string                      `json:"gateway_order_id,omitempty" gorm:"type:text;index"`
	GatewayPaymentID  *string                      `json:"gateway_payment_id,omitempty" gorm:"type:text"`
	SignatureVerified bool                         `json:"signature_verified" gorm:"not null;default:false"`
	ShippingAddress   datatypes.JSONType[Address]  `json:"shipping_address"`
	Items             []OrderItem                  `json:"items,omitempty" gorm:"foreignKey:OrderID"`
	Timeline          []TimelineEntry              `json:"timeline,omitempty" gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time                    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time                    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderItem snapshots the product name and price at booking time.
type OrderItem struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID `json:"order_id" gorm:"not null;index"`
	ProductID      snowflake.ID `json:"product_id" gorm:"not null;index"`
	Name           string       `json:"name" gorm:"type:text;not null"`
	PriceAtBooking int64        `json:"price_at_booking" gorm:"not null"`
	Quantity       int64        `json:"quantity" gorm:"not null"`
	LineTotal      int64        `json:"line_total" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderItem) TableName() string { return "order_items" }

// TimelineEntry is one append-only lifecycle record.
type TimelineEntry struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID      `json:"order_id" gorm:"not null;index"`
	State     Status            `json:"state" gorm:"type:text;not null"`
	Actor     string            `json:"actor" gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TimelineEntry) TableName() string { return "order_timeline" }
