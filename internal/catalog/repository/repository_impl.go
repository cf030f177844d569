package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kirana/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateProduct(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Create(product).Error
}

func (r *repo) FindProductByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *repo) FindProductsByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Product, error) {
	var products []domain.Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repo) FindProducts(ctx context.Context, db *gorm.DB, filter domain.ListProductsRequest) ([]domain.Product, error) {
	stmt := db.WithContext(ctx).Model(&domain.Product{})
	if name := strings.TrimSpace(filter.Name); name != "" {
		stmt = stmt.Where("name LIKE ?", "%"+name+"%")
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	var products []domain.Product
	if err := stmt.Order("created_at desc").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repo) CreateWarehouse(ctx context.Context, db *gorm.DB, warehouse *domain.Warehouse) error {
	return db.WithContext(ctx).Create(warehouse).Error
}

func (r *repo) FindWarehouseByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Warehouse, error) {
	var warehouse domain.Warehouse
	err := db.WithContext(ctx).First(&warehouse, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWarehouseNotFound
		}
		return nil, err
	}
	return &warehouse, nil
}

func (r *repo) FindWarehouses(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Warehouse, error) {
	stmt := db.WithContext(ctx).Model(&domain.Warehouse{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}

	var warehouses []domain.Warehouse
	if err := stmt.Order("code asc").Find(&warehouses).Error; err != nil {
		return nil, err
	}
	return warehouses, nil
}
