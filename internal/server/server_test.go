package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
	auditrepository "github.com/smallbiznis/kirana/internal/audit/repository"
	auditservice "github.com/smallbiznis/kirana/internal/audit/service"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/kirana/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/kirana/internal/catalog/service"
	"github.com/smallbiznis/kirana/internal/clock"
	"github.com/smallbiznis/kirana/internal/config"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	couponservice "github.com/smallbiznis/kirana/internal/coupon/service"
	gatewayfake "github.com/smallbiznis/kirana/internal/gateway/fake"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	inventoryservice "github.com/smallbiznis/kirana/internal/inventory/service"
	ledgerdomain "github.com/smallbiznis/kirana/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/kirana/internal/ledger/service"
	orderdomain "github.com/smallbiznis/kirana/internal/order/domain"
	orderservice "github.com/smallbiznis/kirana/internal/order/service"
	podomain "github.com/smallbiznis/kirana/internal/purchaseorder/domain"
	purchaseorderservice "github.com/smallbiznis/kirana/internal/purchaseorder/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type serverFixture struct {
	srv       *Server
	engine    *gin.Engine
	inventory inventorydomain.Service
	warehouse *catalogdomain.Warehouse
	product   *catalogdomain.Product
}

func newServerFixture(t *testing.T, name string) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	assert.NoError(t, db.AutoMigrate(
		&auditdomain.AuditLog{},
		&catalogdomain.Product{},
		&catalogdomain.Warehouse{},
		&coupondomain.Coupon{},
		&inventorydomain.StockRecord{},
		&inventorydomain.StockMovement{},
		&ledgerdomain.LedgerEntry{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&orderdomain.TimelineEntry{},
		&podomain.PurchaseOrder{},
		&podomain.PurchaseOrderItem{},
	))

	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	sysClock := clock.NewSystemClock()
	commerceCfg := config.NewStaticCommerceHolder(config.DefaultCommerceConfig())

	catalogSvc := catalogservice.NewService(catalogservice.Params{
		DB: db, Log: log, GenID: node, Repo: catalogrepository.Provide(),
	})
	couponSvc := couponservice.NewService(couponservice.Params{
		DB: db, Log: log, GenID: node, Clock: sysClock,
	})
	inventorySvc := inventoryservice.NewService(inventoryservice.Params{
		DB: db, Log: log, GenID: node,
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, CommerceCfg: commerceCfg,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(),
	})
	orderSvc := orderservice.NewService(orderservice.Params{
		DB: db, Log: log, GenID: node, Clock: sysClock,
		CommerceCfg: commerceCfg, CatalogSvc: catalogSvc, CouponSvc: couponSvc,
		InventorySvc: inventorySvc, LedgerSvc: ledgerSvc,
		Gateway: gatewayfake.NewAdapter("test-secret"),
	})
	poSvc := purchaseorderservice.NewService(purchaseorderservice.Params{
		DB: db, Log: log, GenID: node, Clock: sysClock,
		CatalogSvc: catalogSvc, InventorySvc: inventorySvc,
	})

	engine := gin.New()
	engine.Use(RequestContext())
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:              engine,
		Cfg:              config.Config{},
		DB:               db,
		GenID:            node,
		CatalogSvc:       catalogSvc,
		InventorySvc:     inventorySvc,
		LedgerSvc:        ledgerSvc,
		CouponSvc:        couponSvc,
		OrderSvc:         orderSvc,
		PurchaseOrderSvc: poSvc,
		AuditSvc:         auditSvc,
	})

	ctx := context.Background()
	warehouse, err := catalogSvc.CreateWarehouse(ctx, catalogdomain.CreateWarehouseRequest{
		Code:     "BLR-01",
		Name:     "Bengaluru Central",
		Pincodes: []string{"560001"},
	})
	assert.NoError(t, err)

	product, err := catalogSvc.CreateProduct(ctx, catalogdomain.CreateProductRequest{
		Name:  "Basmati Rice 5kg",
		Price: 45000,
	})
	assert.NoError(t, err)

	return &serverFixture{
		srv:       srv,
		engine:    engine,
		inventory: inventorySvc,
		warehouse: warehouse,
		product:   product,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) checkoutBody(quantity int64) map[string]any {
	return map[string]any{
		"user_id": "user-1",
		"items": []map[string]any{
			{"product_id": f.product.ID.String(), "quantity": quantity},
		},
		"shipping_address": map[string]any{
			"name":    "Asha",
			"line1":   "12 MG Road",
			"city":    "Bengaluru",
			"state":   "KA",
			"pincode": "560001",
		},
		"payment_method": "cod",
	}
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	data, _ := envelope["data"].(map[string]any)
	return data
}

func TestCheckoutPricesServerSide(t *testing.T) {
	f := newServerFixture(t, "server_checkout_pricing")

	rec := f.do(t, http.MethodPost, "/api/checkout", f.checkoutBody(2))
	assert.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, float64(90000), data["subtotal"])
	assert.Equal(t, float64(98500), data["total"])
	assert.Equal(t, string(orderdomain.StatusCreated), data["status"])
}

func TestCheckoutValidation(t *testing.T) {
	f := newServerFixture(t, "server_checkout_validation")

	body := f.checkoutBody(1)
	body["user_id"] = ""
	rec := f.do(t, http.MethodPost, "/api/checkout", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Error errorPayload `json:"error"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "validation_error", envelope.Error.Type)
}

func TestConfirmCODInsufficientStock(t *testing.T) {
	f := newServerFixture(t, "server_cod_insufficient")

	rec := f.do(t, http.MethodPost, "/api/checkout", f.checkoutBody(3))
	assert.Equal(t, http.StatusOK, rec.Code)
	orderID := decodeData(t, rec)["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/orders/"+orderID+"/confirm-cod", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var envelope struct {
		Error errorPayload `json:"error"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "insufficient_stock", envelope.Error.Type)
	assert.Equal(t, f.product.ID.String(), envelope.Error.Details["product_id"])
	assert.Equal(t, float64(3), envelope.Error.Details["requested"])
	assert.Equal(t, float64(0), envelope.Error.Details["available"])
}

func TestGetOrderNotFound(t *testing.T) {
	f := newServerFixture(t, "server_order_not_found")

	rec := f.do(t, http.MethodGet, "/api/orders/123456789", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminStockAdjustAndReplay(t *testing.T) {
	f := newServerFixture(t, "server_stock_adjust")

	rec := f.do(t, http.MethodPost, "/admin/stock/adjust", map[string]any{
		"warehouse_id":    f.warehouse.ID.String(),
		"product_id":      f.product.ID.String(),
		"quantity":        25,
		"reason":          "restock",
		"idempotency_key": "adj-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	path := fmt.Sprintf("/admin/warehouses/%s/stock/%s", f.warehouse.ID, f.product.ID)
	rec = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(25), decodeData(t, rec)["stock"])

	rec = f.do(t, http.MethodGet, path+"/replay", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(25), data["replayed"])
	assert.Equal(t, true, data["in_sync"])
}

func TestPayoutGuard(t *testing.T) {
	f := newServerFixture(t, "server_payout_guard")

	rec := f.do(t, http.MethodPost, "/admin/warehouses/"+f.warehouse.ID.String()+"/payouts", map[string]any{
		"reference": "payout-1",
		"amount":    10000,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var envelope struct {
		Error errorPayload `json:"error"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "insufficient_funds", envelope.Error.Type)
}
