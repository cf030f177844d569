package domain

import (
	"context"
	"errors"
)

var (
	ErrPONotFound      = errors.New("purchase_order_not_found")
	ErrInvalidPO       = errors.New("invalid_purchase_order")
	ErrAlreadyReceived = errors.New("purchase_order_already_received")
)

type CreatePORequest struct {
	WarehouseID  string         `json:"warehouse_id"`
	SupplierName string         `json:"supplier_name"`
	Items        []CreatePOItem `json:"items"`
}

type CreatePOItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitCost  int64  `json:"unit_cost"`
}

// ReceiveResult reports the receipt. AlreadyReceived is an idempotent
// success when the same receipt is replayed.
type ReceiveResult struct {
	PurchaseOrder   *PurchaseOrder
	AlreadyReceived bool
}

type Service interface {
	Create(ctx context.Context, req CreatePORequest) (*PurchaseOrder, error)
	Get(ctx context.Context, id string) (*PurchaseOrder, error)
	List(ctx context.Context, warehouseID string, limit int) ([]PurchaseOrder, error)

	// Receive atomically marks the purchase order received and increments
	// stock for every line with reason restock, tagging the movements
	// with the purchase-order number for traceability.
	Receive(ctx context.Context, id string, actor string) (*ReceiveResult, error)
}
