package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Product carries the authoritative server-side price. Order lines always
// snapshot this price at creation time; client-supplied prices are never
// trusted.
type Product struct {
	ID          snowflake.ID              `json:"id" gorm:"primaryKey"`
	Slug        string                    `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	Name        string                    `json:"name" gorm:"type:text;not null"`
	Description *string                   `json:"description,omitempty" gorm:"type:text"`
	CategoryID  *snowflake.ID             `json:"category_id,omitempty" gorm:"index"`
	Price       int64                     `json:"price" gorm:"not null"`
	Active      bool                      `json:"active" gorm:"not null"`
	Metadata    datatypes.JSONMap         `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time                 `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time                 `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Product) TableName() string { return "products" }

// Warehouse is a fulfilment location. LedgerBalance is a cached running
// total owned by the ledger service; it must always equal the replayed sum
// of the warehouse's ledger entries.
type Warehouse struct {
	ID            snowflake.ID                `json:"id" gorm:"primaryKey"`
	Code          string                      `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name          string                      `json:"name" gorm:"type:text;not null"`
	Pincodes      datatypes.JSONSlice[string] `json:"pincodes" gorm:"type:jsonb"`
	Active        bool                        `json:"active" gorm:"not null"`
	LedgerBalance int64                       `json:"ledger_balance" gorm:"not null;default:0"`
	CreatedAt     time.Time                   `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time                   `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Warehouse) TableName() string { return "warehouses" }

// ServesPincode reports whether the warehouse delivers to the pincode.
func (w Warehouse) ServesPincode(pincode string) bool {
	for _, candidate := range w.Pincodes {
		if candidate == pincode {
			return true
		}
	}
	return false
}
