package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidWarehouse   = errors.New("invalid_warehouse")
	ErrInvalidReference   = errors.New("invalid_reference")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrWarehouseNotFound  = errors.New("warehouse_not_found")
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrBalanceDivergence  = errors.New("balance_divergence")
)

// InsufficientFundsError carries the shortfall for a rejected payout.
// Matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	WarehouseID snowflake.ID
	Requested   int64
	Available   int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient_funds: warehouse %s requested %d available %d", e.WarehouseID, e.Requested, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

type Service interface {
	// RecordSale posts the double entry for a delivered order: a credit
	// for the gross amount and a debit for the platform commission,
	// computed at the rate in effect when the posting happens. Idempotent
	// per order reference.
	RecordSale(ctx context.Context, warehouseID snowflake.ID, orderRef string, grossAmount int64) error
	RecordSaleTx(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, orderRef string, grossAmount int64) error

	// RecordRefund reverses a recorded sale: a debit for the gross amount
	// and a credit reversing the commission. Idempotent per order
	// reference.
	RecordRefund(ctx context.Context, warehouseID snowflake.ID, orderRef string, grossAmount int64) error
	RecordRefundTx(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, orderRef string, grossAmount int64) error

	// RecordPayout debits a settlement. Fails with InsufficientFundsError
	// when the amount exceeds the current balance.
	RecordPayout(ctx context.Context, warehouseID snowflake.ID, payoutRef string, amount int64) error

	// Balance returns the cached running balance for the warehouse.
	Balance(ctx context.Context, warehouseID snowflake.ID) (int64, error)
	// ReplayBalance recomputes the balance from the entry log. A mismatch
	// against Balance indicates corruption.
	ReplayBalance(ctx context.Context, warehouseID snowflake.ID) (int64, error)

	ListEntries(ctx context.Context, warehouseID snowflake.ID, limit int) ([]LedgerEntry, error)
}
