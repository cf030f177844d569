package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CreateProduct(ctx context.Context, db *gorm.DB, product *Product) error
	FindProductByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	FindProductsByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Product, error)
	FindProducts(ctx context.Context, db *gorm.DB, filter ListProductsRequest) ([]Product, error)

	CreateWarehouse(ctx context.Context, db *gorm.DB, warehouse *Warehouse) error
	FindWarehouseByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Warehouse, error)
	FindWarehouses(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Warehouse, error)
}
