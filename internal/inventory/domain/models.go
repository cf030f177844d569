package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MovementReason classifies a stock movement. Closed set; persisted as text.
type MovementReason string

const (
	ReasonRestock     MovementReason = "restock"
	ReasonCorrection  MovementReason = "correction"
	ReasonDamage      MovementReason = "damage"
	ReasonShrinkage   MovementReason = "shrinkage"
	ReasonTransferIn  MovementReason = "transfer_in"
	ReasonTransferOut MovementReason = "transfer_out"
	ReasonOrder       MovementReason = "order"
	ReasonOther       MovementReason = "other"
)

// Valid reports whether the reason is a known variant.
func (r MovementReason) Valid() bool {
	switch r {
	case ReasonRestock, ReasonCorrection, ReasonDamage, ReasonShrinkage,
		ReasonTransferIn, ReasonTransferOut, ReasonOrder, ReasonOther:
		return true
	default:
		return false
	}
}

// StockRecord is the current stock counter for one warehouse/product pair.
// Absence of a row means zero stock. Stock never goes negative; every
// mutation appends a StockMovement in the same transaction.
type StockRecord struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	WarehouseID snowflake.ID `json:"warehouse_id" gorm:"not null;uniqueIndex:ux_stock_records_warehouse_product,priority:1"`
	ProductID   snowflake.ID `json:"product_id" gorm:"not null;uniqueIndex:ux_stock_records_warehouse_product,priority:2"`
	Stock       int64        `json:"stock" gorm:"not null;default:0"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (StockRecord) TableName() string { return "stock_records" }

// StockMovement is the append-only audit trail of stock changes. Rows are
// never updated or deleted; summing Change for a warehouse/product pair
// reproduces the current stock (modulo movements predating the record).
type StockMovement struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	WarehouseID    snowflake.ID      `json:"warehouse_id" gorm:"not null;index:ix_stock_movements_warehouse_product,priority:1"`
	ProductID      snowflake.ID      `json:"product_id" gorm:"not null;index:ix_stock_movements_warehouse_product,priority:2"`
	Change         int64             `json:"change" gorm:"not null"`
	Reason         MovementReason    `json:"reason" gorm:"type:text;not null;index"`
	Actor          string            `json:"actor" gorm:"type:text;not null"`
	Reference      *string           `json:"reference,omitempty" gorm:"type:text;index"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex:ux_stock_movements_idempotency"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;index;default:CURRENT_TIMESTAMP"`
}

func (StockMovement) TableName() string { return "stock_movements" }
