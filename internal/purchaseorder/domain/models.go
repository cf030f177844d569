package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// POStatus is the purchase-order state. Receiving is the only transition
// this engine owns.
type POStatus string

const (
	POStatusPlaced   POStatus = "placed"
	POStatusReceived POStatus = "received"
)

// PurchaseOrder is a supplier shipment headed for one warehouse.
type PurchaseOrder struct {
	ID           snowflake.ID        `json:"id" gorm:"primaryKey"`
	Number       string              `json:"number" gorm:"type:text;not null;uniqueIndex:ux_purchase_orders_number"`
	WarehouseID  snowflake.ID        `json:"warehouse_id" gorm:"not null;index"`
	SupplierName string              `json:"supplier_name" gorm:"type:text;not null"`
	Status       POStatus            `json:"status" gorm:"type:text;not null;index"`
	Items        []PurchaseOrderItem `json:"items,omitempty" gorm:"foreignKey:PurchaseOrderID"`
	ReceivedAt   *time.Time          `json:"received_at,omitempty"`
	ReceivedBy   *string             `json:"received_by,omitempty" gorm:"type:text"`
	CreatedAt    time.Time           `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time           `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PurchaseOrder) TableName() string { return "purchase_orders" }

type PurchaseOrderItem struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	PurchaseOrderID snowflake.ID `json:"purchase_order_id" gorm:"not null;index"`
	ProductID       snowflake.ID `json:"product_id" gorm:"not null;index"`
	Quantity        int64        `json:"quantity" gorm:"not null"`
	UnitCost        int64        `json:"unit_cost" gorm:"not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PurchaseOrderItem) TableName() string { return "purchase_order_items" }
