package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DiscountType selects how a coupon's value is interpreted.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFlat       DiscountType = "flat"
)

// Valid reports whether the type is a known variant.
func (d DiscountType) Valid() bool {
	switch d {
	case DiscountTypePercentage, DiscountTypeFlat:
		return true
	default:
		return false
	}
}

// Coupon is a discount code. UsedCount only moves through Redeem inside
// the order-creation transaction, so it can never race past UsageLimit.
type Coupon struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Code          string       `json:"code" gorm:"type:text;not null;uniqueIndex:ux_coupons_code"`
	DiscountType  DiscountType `json:"discount_type" gorm:"type:text;not null"`
	Value         int64        `json:"value" gorm:"not null"`
	MinOrderValue int64        `json:"min_order_value" gorm:"not null;default:0"`
	MaxDiscount   *int64       `json:"max_discount,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	UsageLimit    *int64       `json:"usage_limit,omitempty"`
	UsedCount     int64        `json:"used_count" gorm:"not null;default:0"`
	IsActive      bool         `json:"is_active" gorm:"not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }
