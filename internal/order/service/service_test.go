package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
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
	"github.com/smallbiznis/kirana/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc       *Service
	db        *gorm.DB
	gateway   *gatewayfake.Adapter
	inventory inventorydomain.Service
	ledger    ledgerdomain.Service
	coupons   coupondomain.Service
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
		&auditdomain.AuditLog{},
		&catalogdomain.Product{},
		&catalogdomain.Warehouse{},
		&coupondomain.Coupon{},
		&inventorydomain.StockRecord{},
		&inventorydomain.StockMovement{},
		&ledgerdomain.LedgerEntry{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.TimelineEntry{},
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
	gateway := gatewayfake.NewAdapter("test-secret")

	svc := &Service{
		db:           db,
		log:          log,
		genID:        node,
		clock:        sysClock,
		commerceCfg:  commerceCfg,
		catalogSvc:   catalogSvc,
		couponSvc:    couponSvc,
		inventorySvc: inventorySvc,
		ledgerSvc:    ledgerSvc,
		gateway:      gateway,
	}

	ctx := context.Background()
	warehouse, err := catalogSvc.CreateWarehouse(ctx, catalogdomain.CreateWarehouseRequest{
		Code:     "BLR-01",
		Name:     "Bengaluru Central",
		Pincodes: []string{"560001", "560002"},
	})
	assert.NoError(t, err)

	product, err := catalogSvc.CreateProduct(ctx, catalogdomain.CreateProductRequest{
		Name:  "Basmati Rice 5kg",
		Price: 45000,
	})
	assert.NoError(t, err)

	return &fixture{
		svc:       svc,
		db:        db,
		gateway:   gateway,
		inventory: inventorySvc,
		ledger:    ledgerSvc,
		coupons:   couponSvc,
		warehouse: warehouse,
		product:   product,
	}
}

func (f *fixture) seedStock(t *testing.T, qty int64) {
	t.Helper()
	assert.NoError(t, f.inventory.Increment(context.Background(), inventorydomain.AdjustRequest{
		WarehouseID: f.warehouse.ID,
		ProductID:   f.product.ID,
		Quantity:    qty,
		Reason:      inventorydomain.ReasonRestock,
		Actor:       "seed",
	}))
}

func (f *fixture) createOrder(t *testing.T, method domain.PaymentMethod, qty int64, couponCode string) *domain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		UserID: "user-1",
		Items: []domain.CreateItem{
			{ProductID: f.product.ID.String(), Quantity: qty},
		},
		Address: domain.Address{
			Name:    "Asha",
			Line1:   "12 MG Road",
			City:    "Bengaluru",
			State:   "KA",
			Pincode: "560001",
		},
		PaymentMethod: method,
		CouponCode:    couponCode,
	})
	assert.NoError(t, err)
	return order
}

func TestCreateOrderPricesServerSide(t *testing.T) {
	f := newFixture(t, "order_create")

	order := f.createOrder(t, domain.PaymentMethodUPI, 2, "")

	// Subtotal 90000, tax 5% = 4500, delivery 4000, no discount.
	assert.Equal(t, domain.StatusCreated, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(90000), order.Subtotal)
	assert.Equal(t, int64(4500), order.Tax)
	assert.Equal(t, int64(4000), order.DeliveryFee)
	assert.Equal(t, int64(0), order.Discount)
	assert.Equal(t, int64(98500), order.Total)
	assert.Equal(t, "INR", order.Currency)
	assert.NotNil(t, order.GatewayOrderID)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, int64(45000), order.Items[0].PriceAtBooking)

	// Creation never touches stock.
	stock, err := f.inventory.GetStock(context.Background(), f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), stock)
}

func TestCreateOrderAppliesCoupon(t *testing.T) {
	f := newFixture(t, "order_coupon")
	ctx := context.Background()

	maxDiscount := int64(10000)
	_, err := f.coupons.Create(ctx, coupondomain.CreateCouponRequest{
		Code:         "SAVE20",
		DiscountType: coupondomain.DiscountTypePercentage,
		Value:        20,
		MaxDiscount:  &maxDiscount,
	})
	assert.NoError(t, err)

	order := f.createOrder(t, domain.PaymentMethodCOD, 2, "SAVE20")

	// 20% of 90000 is 18000, capped at 10000.
	assert.Equal(t, int64(10000), order.Discount)
	assert.Equal(t, int64(88500), order.Total)
	assert.NotNil(t, order.CouponCode)

	coupon, err := f.coupons.GetByCode(ctx, "SAVE20")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), coupon.UsedCount)

	// An unknown code is silently ignored, never blocks checkout.
	order = f.createOrder(t, domain.PaymentMethodCOD, 1, "BOGUS")
	assert.Equal(t, int64(0), order.Discount)
	assert.Nil(t, order.CouponCode)
}

func TestCouponLimitHoldsUnderConcurrentCheckouts(t *testing.T) {
	f := newFixture(t, "order_coupon_race")
	ctx := context.Background()

	limit := int64(1)
	_, err := f.coupons.Create(ctx, coupondomain.CreateCouponRequest{
		Code:         "ONCE",
		DiscountType: coupondomain.DiscountTypeFlat,
		Value:        5000,
		UsageLimit:   &limit,
	})
	assert.NoError(t, err)

	const attempts = 4
	var wg sync.WaitGroup
	orders := make([]*domain.Order, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{
				UserID: "user-1",
				Items: []domain.CreateItem{
					{ProductID: f.product.ID.String(), Quantity: 1},
				},
				Address: domain.Address{
					Line1:   "12 MG Road",
					Pincode: "560001",
				},
				PaymentMethod: domain.PaymentMethodCOD,
				CouponCode:    "ONCE",
			})
			assert.NoError(t, err)
			orders[i] = order
		}(i)
	}
	wg.Wait()

	discounted := 0
	for _, order := range orders {
		if order.Discount > 0 {
			discounted++
		}
	}
	assert.Equal(t, 1, discounted)

	coupon, err := f.coupons.GetByCode(ctx, "ONCE")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), coupon.UsedCount)
}

func TestConfirmPaymentHappyPath(t *testing.T) {
	f := newFixture(t, "order_confirm")
	f.seedStock(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCard, 3, "")

	paymentID := "pay_abc123"
	result, err := f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
		OrderID:          order.ID.String(),
		GatewayPaymentID: paymentID,
		Signature:        f.gateway.Sign(*order.GatewayOrderID, paymentID),
	})
	assert.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, domain.StatusPaid, result.Order.Status)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stock)

	// Replaying the confirmation is an idempotent success.
	result, err = f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
		OrderID:          order.ID.String(),
		GatewayPaymentID: paymentID,
		Signature:        f.gateway.Sign(*order.GatewayOrderID, paymentID),
	})
	assert.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)

	stock, err = f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stock)
}

func TestConfirmPaymentBadSignature(t *testing.T) {
	f := newFixture(t, "order_badsig")
	f.seedStock(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCard, 1, "")

	_, err := f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
		OrderID:          order.ID.String(),
		GatewayPaymentID: "pay_abc123",
		Signature:        "deadbeef",
	})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	// Order left unpaid with an advisory failure mark; stock untouched.
	reloaded, err := f.svc.Get(ctx, order.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, reloaded.Status)
	assert.Equal(t, domain.PaymentStatusFailed, reloaded.PaymentStatus)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), stock)

	// A second bad attempt refreshes the failure mark instead of being
	// swallowed by the earlier one.
	_, err = f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
		OrderID:          order.ID.String(),
		GatewayPaymentID: "pay_abc123",
		Signature:        "feedface",
	})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	retried, err := f.svc.Get(ctx, order.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, retried.PaymentStatus)
	assert.True(t, retried.UpdatedAt.After(reloaded.UpdatedAt))
}

func TestConfirmPaymentInsufficientStock(t *testing.T) {
	f := newFixture(t, "order_shortstock")
	f.seedStock(t, 2)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodUPI, 3, "")

	paymentID := "pay_abc123"
	_, err := f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
		OrderID:          order.ID.String(),
		GatewayPaymentID: paymentID,
		Signature:        f.gateway.Sign(*order.GatewayOrderID, paymentID),
	})
	assert.ErrorIs(t, err, inventorydomain.ErrInsufficientStock)

	var insufficient *inventorydomain.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)
	assert.Equal(t, f.product.ID, insufficient.ProductID)

	// The whole transaction rolled back: order unpaid, stock unchanged.
	reloaded, err := f.svc.Get(ctx, order.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, reloaded.Status)
	assert.Equal(t, domain.PaymentStatusPending, reloaded.PaymentStatus)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stock)
}

func TestTwoOrdersRaceForLastUnits(t *testing.T) {
	f := newFixture(t, "order_race")
	f.seedStock(t, 5)
	ctx := context.Background()

	first := f.createOrder(t, domain.PaymentMethodUPI, 3, "")
	second := f.createOrder(t, domain.PaymentMethodUPI, 3, "")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, order := range []*domain.Order{first, second} {
		wg.Add(1)
		go func(i int, order *domain.Order) {
			defer wg.Done()
			paymentID := "pay_race"
			_, results[i] = f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
				OrderID:          order.ID.String(),
				GatewayPaymentID: paymentID,
				Signature:        f.gateway.Sign(*order.GatewayOrderID, paymentID),
			})
		}(i, order)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, inventorydomain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stock)
}

func TestCODLifecycleSettlesOnDelivery(t *testing.T) {
	f := newFixture(t, "order_cod")
	f.seedStock(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCOD, 2, "")
	assert.Nil(t, order.GatewayOrderID)

	result, err := f.svc.ConfirmCOD(ctx, order.ID.String(), "ops")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPending, result.Order.Status)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stock)

	// No money moves until handover.
	balance, err := f.ledger.Balance(ctx, f.warehouse.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	for _, next := range []domain.Status{domain.StatusPacked, domain.StatusShipped, domain.StatusDelivered} {
		_, err = f.svc.UpdateStatus(ctx, order.ID.String(), next, "ops")
		assert.NoError(t, err)
	}

	// Delivery posts the sale pair: +94500 gross, -9450 commission.
	delivered, err := f.svc.Get(ctx, order.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	assert.Equal(t, domain.PaymentStatusSuccess, delivered.PaymentStatus)

	balance, err = f.ledger.Balance(ctx, f.warehouse.ID)
	assert.NoError(t, err)
	assert.Equal(t, delivered.Total-delivered.Total/10, balance)

	replayed, err := f.ledger.ReplayBalance(ctx, f.warehouse.ID)
	assert.NoError(t, err)
	assert.Equal(t, balance, replayed)

	// Terminal: no further transitions.
	_, err = f.svc.UpdateStatus(ctx, order.ID.String(), domain.StatusCancelled, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelAfterPaymentRefunds(t *testing.T) {
	f := newFixture(t, "order_cancel")
	f.seedStock(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCard, 1, "")
	paymentID := "pay_abc123"
	_, err := f.svc.ConfirmPayment(ctx, domain.ConfirmPaymentRequest{
		OrderID:          order.ID.String(),
		GatewayPaymentID: paymentID,
		Signature:        f.gateway.Sign(*order.GatewayOrderID, paymentID),
	})
	assert.NoError(t, err)

	updated, err := f.svc.UpdateStatus(ctx, order.ID.String(), domain.StatusCancelled, "support")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, updated.Status)
	assert.Equal(t, domain.PaymentStatusRefunded, updated.PaymentStatus)

	// Refund pair posted: -total gross, +commission reversal.
	entries, err := f.ledger.ListEntries(ctx, f.warehouse.ID, 0)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestUpdateStatusValidation(t *testing.T) {
	f := newFixture(t, "order_transitions")
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCOD, 1, "")

	_, err := f.svc.UpdateStatus(ctx, order.ID.String(), domain.Status("teleported"), "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.svc.UpdateStatus(ctx, order.ID.String(), domain.StatusDelivered, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, "999999", domain.StatusCancelled, "ops")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestUpdateStatusCannotMarkPaid(t *testing.T) {
	f := newFixture(t, "order_admin_paid")
	f.seedStock(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCard, 2, "")

	// Paid is reserved for the confirmation paths that verify the
	// signature and decrement stock in the same transaction.
	_, err := f.svc.UpdateStatus(ctx, order.ID.String(), domain.StatusPaid, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	reloaded, err := f.svc.Get(ctx, order.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, reloaded.Status)
	assert.Equal(t, domain.PaymentStatusPending, reloaded.PaymentStatus)

	stock, err := f.inventory.GetStock(ctx, f.warehouse.ID, f.product.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), stock)
}

func TestTimelineOnlyGrows(t *testing.T) {
	f := newFixture(t, "order_timeline")
	f.seedStock(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodCOD, 1, "")
	_, err := f.svc.ConfirmCOD(ctx, order.ID.String(), "ops")
	assert.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, order.ID.String(), domain.StatusPacked, "ops")
	assert.NoError(t, err)

	reloaded, err := f.svc.Get(ctx, order.ID.String())
	assert.NoError(t, err)
	assert.Len(t, reloaded.Timeline, 3)
	assert.Equal(t, domain.StatusCreated, reloaded.Timeline[0].State)
	assert.Equal(t, domain.StatusPending, reloaded.Timeline[1].State)
	assert.Equal(t, domain.StatusPacked, reloaded.Timeline[2].State)

	// A COD order in pending can go straight to packed; time must wait
	// for delivery before the sale posts.
	balance, err := f.ledger.Balance(ctx, f.warehouse.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}
