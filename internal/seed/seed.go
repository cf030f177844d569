package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const demoCouponCode = "SAVE20"

type demoWarehouse struct {
	code     string
	name     string
	pincodes []string
}

type demoProduct struct {
	slug  string
	name  string
	price int64
	stock int64
}

var demoWarehouses = []demoWarehouse{
	{code: "BLR-01", name: "Bengaluru Whitefield", pincodes: []string{"560001", "560066", "560037"}},
	{code: "MUM-01", name: "Mumbai Andheri", pincodes: []string{"400053", "400058", "400093"}},
}

var demoProducts = []demoProduct{
	{slug: "basmati-rice-5kg", name: "Basmati Rice 5kg", price: 45000, stock: 120},
	{slug: "toor-dal-1kg", name: "Toor Dal 1kg", price: 16500, stock: 200},
	{slug: "sunflower-oil-1l", name: "Sunflower Oil 1L", price: 14900, stock: 150},
	{slug: "atta-10kg", name: "Whole Wheat Atta 10kg", price: 42000, stock: 80},
}

// EnsureDemoData seeds demo warehouses, products, opening stock and a sample
// coupon for local development. Every step is idempotent so it is safe to run
// on each startup.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		warehouses := make([]catalogdomain.Warehouse, 0, len(demoWarehouses))
		for _, dw := range demoWarehouses {
			wh, err := ensureWarehouseTx(ctx, tx, node, dw)
			if err != nil {
				return err
			}
			warehouses = append(warehouses, wh)
		}

		for _, dp := range demoProducts {
			product, err := ensureProductTx(ctx, tx, node, dp)
			if err != nil {
				return err
			}
			for _, wh := range warehouses {
				if err := ensureStockTx(ctx, tx, node, wh.ID, product.ID, dp.stock); err != nil {
					return err
				}
			}
		}

		return ensureDemoCouponTx(ctx, tx, node)
	})
}

func ensureWarehouseTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, dw demoWarehouse) (catalogdomain.Warehouse, error) {
	var wh catalogdomain.Warehouse
	err := tx.WithContext(ctx).Where("code = ?", dw.code).First(&wh).Error
	if err == nil {
		return wh, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return wh, err
	}
	now := time.Now().UTC()
	wh = catalogdomain.Warehouse{
		ID:        node.Generate(),
		Code:      dw.code,
		Name:      dw.name,
		Pincodes:  datatypes.NewJSONSlice(dw.pincodes),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&wh).Error; err != nil {
		return wh, err
	}
	return wh, nil
}

func ensureProductTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, dp demoProduct) (catalogdomain.Product, error) {
	var product catalogdomain.Product
	err := tx.WithContext(ctx).Where("slug = ?", dp.slug).First(&product).Error
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return product, err
	}
	now := time.Now().UTC()
	product = catalogdomain.Product{
		ID:        node.Generate(),
		Slug:      dp.slug,
		Name:      dp.name,
		Price:     dp.price,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		return product, err
	}
	return product, nil
}

func ensureStockTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, warehouseID, productID snowflake.ID, stock int64) error {
	var record inventorydomain.StockRecord
	err := tx.WithContext(ctx).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&record).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	record = inventorydomain.StockRecord{
		ID:          node.Generate(),
		WarehouseID: warehouseID,
		ProductID:   productID,
		Stock:       stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return tx.WithContext(ctx).Create(&record).Error
}

func ensureDemoCouponTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var coupon coupondomain.Coupon
	err := tx.WithContext(ctx).Where("code = ?", demoCouponCode).First(&coupon).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	maxDiscount := int64(10000)
	coupon = coupondomain.Coupon{
		ID:            node.Generate(),
		Code:          demoCouponCode,
		DiscountType:  coupondomain.DiscountTypePercentage,
		Value:         20,
		MinOrderValue: 50000,
		MaxDiscount:   &maxDiscount,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return tx.WithContext(ctx).Create(&coupon).Error
}
