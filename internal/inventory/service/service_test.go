package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/kirana/internal/inventory/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, name string) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	// Serialize connections so concurrent transactions queue instead of
	// failing with busy errors from the in-memory store.
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	assert.NoError(t, db.AutoMigrate(&domain.StockRecord{}, &domain.StockMovement{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	return &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		genID: node,
	}, db
}

func seedStock(t *testing.T, svc *Service, warehouseID, productID snowflake.ID, qty int64) {
	t.Helper()
	assert.NoError(t, svc.Increment(context.Background(), domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    qty,
		Reason:      domain.ReasonRestock,
		Actor:       "seed",
	}))
}

func TestDecrementForOrderConcurrent(t *testing.T) {
	svc, _ := newTestService(t, "inv_concurrent")
	ctx := context.Background()

	node, _ := snowflake.NewNode(2)
	warehouseID := node.Generate()
	productID := node.Generate()
	seedStock(t, svc, warehouseID, productID, 5)

	// Two orders race for 3 units each with 5 in stock. Exactly one must
	// win; the loser sees insufficient stock and nothing moves for it.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.DecrementForOrder(ctx, warehouseID, "order-"+string(rune('a'+i)),
				[]domain.ItemQuantity{{ProductID: productID, Quantity: 3}}, "checkout")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded)

	stock, err := svc.GetStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stock)

	replayed, err := svc.ReplayStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, stock, replayed)
}

func TestDecrementForOrderAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t, "inv_allornothing")
	ctx := context.Background()

	node, _ := snowflake.NewNode(3)
	warehouseID := node.Generate()
	coveredID := node.Generate()
	shortID := node.Generate()
	seedStock(t, svc, warehouseID, coveredID, 10)
	seedStock(t, svc, warehouseID, shortID, 1)

	err := svc.DecrementForOrder(ctx, warehouseID, "order-1", []domain.ItemQuantity{
		{ProductID: coveredID, Quantity: 2},
		{ProductID: shortID, Quantity: 2},
	}, "checkout")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	var insufficient *domain.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)
	assert.Equal(t, shortID, insufficient.ProductID)
	assert.Equal(t, int64(2), insufficient.Requested)
	assert.Equal(t, int64(1), insufficient.Available)

	// The covered line must not have moved either.
	stock, err := svc.GetStock(ctx, warehouseID, coveredID)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), stock)
}

func TestDecrementForOrderMergesDuplicateLines(t *testing.T) {
	svc, _ := newTestService(t, "inv_duplicate_lines")
	ctx := context.Background()

	node, _ := snowflake.NewNode(13)
	warehouseID := node.Generate()
	productID := node.Generate()
	seedStock(t, svc, warehouseID, productID, 5)

	// Two lines for the same product must be checked as their sum, not
	// line by line against the same pre-update row.
	err := svc.DecrementForOrder(ctx, warehouseID, "order-dup", []domain.ItemQuantity{
		{ProductID: productID, Quantity: 3},
		{ProductID: productID, Quantity: 3},
	}, "checkout")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	var insufficient *domain.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(6), insufficient.Requested)
	assert.Equal(t, int64(5), insufficient.Available)

	stock, err := svc.GetStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), stock)

	// When the merged quantity fits, both lines settle as one decrement.
	assert.NoError(t, svc.DecrementForOrder(ctx, warehouseID, "order-dup-2", []domain.ItemQuantity{
		{ProductID: productID, Quantity: 2},
		{ProductID: productID, Quantity: 2},
	}, "checkout"))

	stock, err = svc.GetStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stock)

	replayed, err := svc.ReplayStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, stock, replayed)
}

func TestTransferMergesDuplicateLines(t *testing.T) {
	svc, _ := newTestService(t, "inv_transfer_dup")
	ctx := context.Background()

	node, _ := snowflake.NewNode(14)
	sourceID := node.Generate()
	destID := node.Generate()
	productID := node.Generate()
	seedStock(t, svc, sourceID, productID, 5)

	err := svc.Transfer(ctx, domain.TransferRequest{
		SourceWarehouseID: sourceID,
		DestWarehouseID:   destID,
		Items: []domain.ItemQuantity{
			{ProductID: productID, Quantity: 3},
			{ProductID: productID, Quantity: 3},
		},
		Actor: "ops",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	sourceStock, err := svc.GetStock(ctx, sourceID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), sourceStock)
	destStock, err := svc.GetStock(ctx, destID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), destStock)
}

func TestDecrementForOrderValidation(t *testing.T) {
	svc, _ := newTestService(t, "inv_validation")
	ctx := context.Background()

	node, _ := snowflake.NewNode(4)
	warehouseID := node.Generate()
	productID := node.Generate()

	err := svc.DecrementForOrder(ctx, warehouseID, "order-1", nil, "checkout")
	assert.ErrorIs(t, err, domain.ErrNoItems)

	err = svc.DecrementForOrder(ctx, warehouseID, "order-1",
		[]domain.ItemQuantity{{ProductID: productID, Quantity: 0}}, "checkout")
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	// Missing stock record counts as zero, not an internal error.
	err = svc.DecrementForOrder(ctx, warehouseID, "order-1",
		[]domain.ItemQuantity{{ProductID: productID, Quantity: 1}}, "checkout")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestTransferConservation(t *testing.T) {
	svc, _ := newTestService(t, "inv_transfer")
	ctx := context.Background()

	node, _ := snowflake.NewNode(5)
	sourceID := node.Generate()
	destID := node.Generate()
	productID := node.Generate()
	seedStock(t, svc, sourceID, productID, 10)

	err := svc.Transfer(ctx, domain.TransferRequest{
		SourceWarehouseID: sourceID,
		DestWarehouseID:   destID,
		Items:             []domain.ItemQuantity{{ProductID: productID, Quantity: 4}},
		Actor:             "ops",
	})
	assert.NoError(t, err)

	sourceStock, err := svc.GetStock(ctx, sourceID, productID)
	assert.NoError(t, err)
	destStock, err := svc.GetStock(ctx, destID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(6), sourceStock)
	assert.Equal(t, int64(4), destStock)
	assert.Equal(t, int64(10), sourceStock+destStock)

	movements, err := svc.ListMovements(ctx, sourceID, productID, 1)
	assert.NoError(t, err)
	assert.Len(t, movements, 1)
	assert.Equal(t, domain.ReasonTransferOut, movements[0].Reason)
	assert.Equal(t, int64(-4), movements[0].Change)
}

func TestTransferInsufficientRollsBack(t *testing.T) {
	svc, _ := newTestService(t, "inv_transfer_rollback")
	ctx := context.Background()

	node, _ := snowflake.NewNode(6)
	sourceID := node.Generate()
	destID := node.Generate()
	coveredID := node.Generate()
	shortID := node.Generate()
	seedStock(t, svc, sourceID, coveredID, 10)
	seedStock(t, svc, sourceID, shortID, 1)

	err := svc.Transfer(ctx, domain.TransferRequest{
		SourceWarehouseID: sourceID,
		DestWarehouseID:   destID,
		Items: []domain.ItemQuantity{
			{ProductID: coveredID, Quantity: 5},
			{ProductID: shortID, Quantity: 5},
		},
		Actor: "ops",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	sourceStock, err := svc.GetStock(ctx, sourceID, coveredID)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), sourceStock)
	destStock, err := svc.GetStock(ctx, destID, coveredID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), destStock)
}

func TestTransferSameWarehouseRejected(t *testing.T) {
	svc, _ := newTestService(t, "inv_transfer_same")
	ctx := context.Background()

	node, _ := snowflake.NewNode(7)
	warehouseID := node.Generate()
	productID := node.Generate()

	err := svc.Transfer(ctx, domain.TransferRequest{
		SourceWarehouseID: warehouseID,
		DestWarehouseID:   warehouseID,
		Items:             []domain.ItemQuantity{{ProductID: productID, Quantity: 1}},
		Actor:             "ops",
	})
	assert.ErrorIs(t, err, domain.ErrSameWarehouse)
}

func TestTransferIdempotencyReplay(t *testing.T) {
	svc, _ := newTestService(t, "inv_transfer_idem")
	ctx := context.Background()

	node, _ := snowflake.NewNode(8)
	sourceID := node.Generate()
	destID := node.Generate()
	productID := node.Generate()
	seedStock(t, svc, sourceID, productID, 10)

	req := domain.TransferRequest{
		SourceWarehouseID: sourceID,
		DestWarehouseID:   destID,
		Items:             []domain.ItemQuantity{{ProductID: productID, Quantity: 4}},
		Actor:             "ops",
		IdempotencyKey:    "transfer-77",
	}
	assert.NoError(t, svc.Transfer(ctx, req))
	// Blind retry after an ambiguous failure must not move stock twice.
	assert.NoError(t, svc.Transfer(ctx, req))

	sourceStock, err := svc.GetStock(ctx, sourceID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(6), sourceStock)
	destStock, err := svc.GetStock(ctx, destID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), destStock)
}

func TestIncrementIdempotencyReplay(t *testing.T) {
	svc, _ := newTestService(t, "inv_increment_idem")
	ctx := context.Background()

	node, _ := snowflake.NewNode(9)
	warehouseID := node.Generate()
	productID := node.Generate()

	req := domain.AdjustRequest{
		WarehouseID:    warehouseID,
		ProductID:      productID,
		Quantity:       7,
		Reason:         domain.ReasonRestock,
		Actor:          "ops",
		Reference:      "po-1001",
		IdempotencyKey: "receive-po-1001",
	}
	assert.NoError(t, svc.Increment(ctx, req))
	assert.NoError(t, svc.Increment(ctx, req))

	stock, err := svc.GetStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), stock)

	movements, err := svc.ListMovements(ctx, warehouseID, productID, 0)
	assert.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestIncrementValidation(t *testing.T) {
	svc, _ := newTestService(t, "inv_increment_validation")
	ctx := context.Background()

	node, _ := snowflake.NewNode(10)
	warehouseID := node.Generate()
	productID := node.Generate()

	err := svc.Increment(ctx, domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    0,
		Reason:      domain.ReasonRestock,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	err = svc.Increment(ctx, domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    1,
		Reason:      domain.MovementReason("made_up"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestSetAbsolute(t *testing.T) {
	svc, _ := newTestService(t, "inv_set_absolute")
	ctx := context.Background()

	node, _ := snowflake.NewNode(11)
	warehouseID := node.Generate()
	productID := node.Generate()
	seedStock(t, svc, warehouseID, productID, 10)

	err := svc.SetAbsolute(ctx, domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    4,
		Reason:      domain.ReasonCorrection,
		Actor:       "ops",
	})
	assert.NoError(t, err)

	stock, err := svc.GetStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), stock)

	// The movement records the signed delta, not the target.
	movements, err := svc.ListMovements(ctx, warehouseID, productID, 1)
	assert.NoError(t, err)
	assert.Len(t, movements, 1)
	assert.Equal(t, int64(-6), movements[0].Change)
	assert.Equal(t, domain.ReasonCorrection, movements[0].Reason)

	err = svc.SetAbsolute(ctx, domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    -1,
		Reason:      domain.ReasonCorrection,
	})
	assert.ErrorIs(t, err, domain.ErrNegativeStock)
}

func TestReplayMatchesStockAfterMixedHistory(t *testing.T) {
	svc, _ := newTestService(t, "inv_replay")
	ctx := context.Background()

	node, _ := snowflake.NewNode(12)
	warehouseID := node.Generate()
	productID := node.Generate()

	seedStock(t, svc, warehouseID, productID, 20)
	assert.NoError(t, svc.DecrementForOrder(ctx, warehouseID, "order-1",
		[]domain.ItemQuantity{{ProductID: productID, Quantity: 3}}, "checkout"))
	assert.NoError(t, svc.Increment(ctx, domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    5,
		Reason:      domain.ReasonRestock,
		Actor:       "ops",
	}))
	assert.NoError(t, svc.SetAbsolute(ctx, domain.AdjustRequest{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Quantity:    18,
		Reason:      domain.ReasonShrinkage,
		Actor:       "ops",
	}))

	stock, err := svc.GetStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, int64(18), stock)

	replayed, err := svc.ReplayStock(ctx, warehouseID, productID)
	assert.NoError(t, err)
	assert.Equal(t, stock, replayed)
}
