package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrSameWarehouse     = errors.New("same_warehouse")
	ErrNegativeStock     = errors.New("negative_stock")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidReason     = errors.New("invalid_reason")
	ErrNoItems           = errors.New("no_items")
	ErrAlreadyApplied    = errors.New("already_applied")
)

// InsufficientStockError names the first product that could not be covered.
// It matches ErrInsufficientStock with errors.Is so callers can branch on
// the class and still surface the offending product.
type InsufficientStockError struct {
	ProductID snowflake.ID
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient_stock: product %s requested %d available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ItemQuantity is one line of a multi-item stock operation.
type ItemQuantity struct {
	ProductID snowflake.ID `json:"product_id"`
	Quantity  int64        `json:"quantity"`
}

type TransferRequest struct {
	SourceWarehouseID snowflake.ID   `json:"source_warehouse_id"`
	DestWarehouseID   snowflake.ID   `json:"dest_warehouse_id"`
	Items             []ItemQuantity `json:"items"`
	Actor             string         `json:"actor"`
	// IdempotencyKey deduplicates blind retries after ambiguous failures.
	IdempotencyKey string `json:"idempotency_key"`
}

type AdjustRequest struct {
	WarehouseID    snowflake.ID   `json:"warehouse_id"`
	ProductID      snowflake.ID   `json:"product_id"`
	Quantity       int64          `json:"quantity"`
	Reason         MovementReason `json:"reason"`
	Actor          string         `json:"actor"`
	Reference      string         `json:"reference"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type Service interface {
	// DecrementForOrder atomically checks and decrements stock for every
	// item. All-or-nothing: if any item cannot be covered the whole
	// operation fails with InsufficientStockError and no stock moves.
	DecrementForOrder(ctx context.Context, warehouseID snowflake.ID, orderRef string, items []ItemQuantity, actor string) error
	// DecrementForOrderTx is DecrementForOrder composed into a caller-owned
	// transaction, so order confirmation can flip the order and move stock
	// in one atomic unit.
	DecrementForOrderTx(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, orderRef string, items []ItemQuantity, actor string) error

	// Increment adds stock, creating the record when absent.
	Increment(ctx context.Context, req AdjustRequest) error
	IncrementTx(ctx context.Context, tx *gorm.DB, req AdjustRequest) error

	// SetAbsolute replaces the stock level. Rejects negative targets.
	SetAbsolute(ctx context.Context, req AdjustRequest) error

	// Transfer moves stock between two warehouses as one atomic unit.
	// There is no in-transit state: it happens entirely or not at all.
	Transfer(ctx context.Context, req TransferRequest) error

	GetStock(ctx context.Context, warehouseID, productID snowflake.ID) (int64, error)
	ListStock(ctx context.Context, warehouseID snowflake.ID) ([]StockRecord, error)
	ListMovements(ctx context.Context, warehouseID, productID snowflake.ID, limit int) ([]StockMovement, error)
	// ReplayStock sums the movement log for the pair; used to verify the
	// cached counter against the append-only log.
	ReplayStock(ctx context.Context, warehouseID, productID snowflake.ID) (int64, error)
}
