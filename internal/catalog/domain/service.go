package domain

import (
	"context"
	"errors"
)

type Service interface {
	CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, req ListProductsRequest) ([]Product, error)

	CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*Warehouse, error)
	GetWarehouse(ctx context.Context, id string) (*Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	// ResolveWarehouse picks the active warehouse serving the pincode.
	ResolveWarehouse(ctx context.Context, pincode string) (*Warehouse, error)
}

type CreateProductRequest struct {
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Price       int64          `json:"price"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

type ListProductsRequest struct {
	Name   string
	Active *bool
}

type CreateWarehouseRequest struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Pincodes []string `json:"pincodes"`
	Active   *bool    `json:"active"`
}

var (
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidPrice          = errors.New("invalid_price")
	ErrInvalidCode           = errors.New("invalid_code")
	ErrInvalidPincode        = errors.New("invalid_pincode")
	ErrProductNotFound       = errors.New("product_not_found")
	ErrWarehouseNotFound     = errors.New("warehouse_not_found")
	ErrPincodeNotServiceable = errors.New("pincode_not_serviceable")
)
