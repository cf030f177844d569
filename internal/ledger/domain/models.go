package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryDirection represents debit or credit postings.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "debit"
	EntryDirectionCredit EntryDirection = "credit"
)

// EntryCategory classifies what a ledger posting settles.
type EntryCategory string

const (
	CategorySale               EntryCategory = "sale"                // gross order value credited on delivery
	CategoryCommission         EntryCategory = "commission"          // platform cut debited alongside the sale
	CategoryRefund             EntryCategory = "refund"              // gross value returned on cancellation
	CategoryCommissionReversal EntryCategory = "commission_reversal" // commission credited back with the refund
	CategoryPayout             EntryCategory = "payout"              // settlement paid out to the warehouse
)

// LedgerEntry is one immutable posting against a warehouse account.
// Entries are append-only; BalanceBefore and BalanceAfter snapshot the
// running balance at write time so history can be audited without replay.
type LedgerEntry struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	WarehouseID   snowflake.ID      `json:"warehouse_id" gorm:"not null;index;uniqueIndex:ux_ledger_entries_warehouse_category_ref,priority:1"`
	Direction     EntryDirection    `json:"direction" gorm:"type:text;not null"`
	Category      EntryCategory     `json:"category" gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_warehouse_category_ref,priority:2"`
	Reference     string            `json:"reference" gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_warehouse_category_ref,priority:3"`
	Amount        int64             `json:"amount" gorm:"not null"`
	Currency      string            `json:"currency" gorm:"type:text;not null"`
	BalanceBefore int64             `json:"balance_before" gorm:"not null"`
	BalanceAfter  int64             `json:"balance_after" gorm:"not null"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null;index;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Signed returns the entry's effect on the running balance.
func (e LedgerEntry) Signed() int64 {
	if e.Direction == EntryDirectionDebit {
		return -e.Amount
	}
	return e.Amount
}
