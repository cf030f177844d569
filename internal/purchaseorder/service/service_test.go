package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/kirana/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/kirana/internal/catalog/service"
	"github.com/smallbiznis/kirana/internal/clock"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	inventoryservice "github.com/smallbiznis/kirana/internal/inventory/service"
	"github.com/smallbiznis/kirana/internal/purchaseorder/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc       *Service
	inventory inventorydomain.Service
	warehouse *catalogdomain.Warehouse
	product   *catalogdomain.Product
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	assert.NoError(t, db.AutoMigrate(
		&catalogdomain.Product{},
		&catalogdomain.Warehouse{},
		&inventorydomain.StockRecord{},
		&inventorydomain.StockMovement{},
		&domain.PurchaseOrder{},
		&domain.PurchaseOrderItem{},
	))

	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	catalogSvc := catalogservice.NewService(catalogservice.Params{
		DB: db, Log: log, GenID: node, Repo: catalogrepository.Provide(),
	})
	inventorySvc := inventoryservice.NewService(inventoryservice.Params{
		DB: db, Log: log, GenID: node,
	})

	ctx := context.Background()
	warehouse, err := catalogSvc.CreateWarehouse(ctx, catalogdomain.CreateWarehouseRequest{
		Code:     "BLR-01",
		Name:     "Bengaluru Central",
		Pincodes: []string{"560001"},
	})
	assert.NoError(t, err)

	product, err := catalogSvc.CreateProduct(ctx, catalogdomain.CreateProductRequest{
		Name:  "Toor Dal 1kg",
		Price: 16000,
	})
	assert.NoError(t, err)

	return &fixture{
		svc: &Service{
			db:           db,
			log:          log,
			genID:        node,
			clock:        clock.NewSystemClock(),
			catalogSvc:   catalogSvc,
			inventorySvc: inventorySvc,
		},
		inventory: inventorySvc,
		warehouse: warehouse,
		product:   product,
	}
}

func TestReceiveRestocksAtomically(t *testing.T) {
	f := newFixture(t, "po_receive")
	ctx := context.Background()

	po, err := f.svc.Create(ctx, domain.CreatePORequest{
		WarehouseID:  f.warehouse.ID.String(),
		SupplierName: "Agro Traders",
		Items: []domain.CreatePOItem{
			{ProductID: f.product.ID.String(), Quantity: 40, UnitCost: 12000},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.POStatusPlaced, po.Status)

	result, err := f.svc.Receive(ctx, po.ID.String(), "warehouse-staff")
	assert.NoError(t, err)
	assert.False(t, result.AlreadyReceived)
	assert.Equal(t, domain.POStatusReceived, result.PurchaseOrder.Status)
	assert.NotNil(t, result.PurchaseOrder.ReceivedAt)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(40), stock)

	// The movement log carries the purchase-order reference.
	movements, err := f.inventory.ListMovements(ctx, f.warehouse.ID, f.product.ID, 1)
	assert.NoError(t, err)
	assert.Len(t, movements, 1)
	assert.Equal(t, inventorydomain.ReasonRestock, movements[0].Reason)
	assert.NotNil(t, movements[0].Reference)
	assert.Equal(t, po.Number, *movements[0].Reference)
}

func TestReceiveReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, "po_replay")
	ctx := context.Background()

	po, err := f.svc.Create(ctx, domain.CreatePORequest{
		WarehouseID:  f.warehouse.ID.String(),
		SupplierName: "Agro Traders",
		Items: []domain.CreatePOItem{
			{ProductID: f.product.ID.String(), Quantity: 40, UnitCost: 12000},
		},
	})
	assert.NoError(t, err)

	_, err = f.svc.Receive(ctx, po.ID.String(), "warehouse-staff")
	assert.NoError(t, err)

	result, err := f.svc.Receive(ctx, po.ID.String(), "warehouse-staff")
	assert.NoError(t, err)
	assert.True(t, result.AlreadyReceived)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(40), stock)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, "po_validation")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreatePORequest{
		WarehouseID:  f.warehouse.ID.String(),
		SupplierName: "",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPO)

	_, err = f.svc.Create(ctx, domain.CreatePORequest{
		WarehouseID:  f.warehouse.ID.String(),
		SupplierName: "Agro Traders",
		Items: []domain.CreatePOItem{
			{ProductID: f.product.ID.String(), Quantity: 0},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPO)

	_, err = f.svc.Receive(ctx, "424242", "staff")
	assert.ErrorIs(t, err, domain.ErrPONotFound)
}
