package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	obsmetrics "github.com/smallbiznis/kirana/internal/observability/metrics"
	"github.com/smallbiznis/kirana/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// busyRetries bounds automatic retries after the store aborts a
// transaction under concurrent load.
const busyRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) inventorydomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("inventory.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) DecrementForOrder(ctx context.Context, warehouseID snowflake.ID, orderRef string, items []inventorydomain.ItemQuantity, actor string) error {
	return s.withRetry(ctx, func(tx *gorm.DB) error {
		return s.DecrementForOrderTx(ctx, tx, warehouseID, orderRef, items, actor)
	})
}

func (s *Service) DecrementForOrderTx(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, orderRef string, items []inventorydomain.ItemQuantity, actor string) error {
	if len(items) == 0 {
		return inventorydomain.ErrNoItems
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return inventorydomain.ErrInvalidQuantity
		}
	}

	// Duplicate product lines are merged before the check so the full
	// requested amount is compared against the row once.
	items = aggregatedItems(items)

	// The availability check runs against rows locked inside this
	// transaction, never against a pre-read snapshot, so two orders racing
	// for the last units serialize on the row locks.
	records := make([]*inventorydomain.StockRecord, 0, len(items))
	for _, item := range items {
		record, err := s.lockStock(ctx, tx, warehouseID, item.ProductID)
		if err != nil {
			return err
		}
		available := int64(0)
		if record != nil {
			available = record.Stock
		}
		if item.Quantity > available {
			return &inventorydomain.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			}
		}
		records = append(records, record)
	}

	now := time.Now().UTC()
	for i, item := range items {
		record := records[i]
		if err := tx.WithContext(ctx).Model(&inventorydomain.StockRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"stock":      gorm.Expr("stock - ?", item.Quantity),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := s.appendMovement(ctx, tx, inventorydomain.StockMovement{
			WarehouseID: warehouseID,
			ProductID:   item.ProductID,
			Change:      -item.Quantity,
			Reason:      inventorydomain.ReasonOrder,
			Actor:       actor,
			Reference:   strPtr(orderRef),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) Increment(ctx context.Context, req inventorydomain.AdjustRequest) error {
	return s.withRetry(ctx, func(tx *gorm.DB) error {
		return s.IncrementTx(ctx, tx, req)
	})
}

func (s *Service) IncrementTx(ctx context.Context, tx *gorm.DB, req inventorydomain.AdjustRequest) error {
	if req.Quantity <= 0 {
		return inventorydomain.ErrInvalidQuantity
	}
	if !req.Reason.Valid() {
		return inventorydomain.ErrInvalidReason
	}

	applied, err := s.alreadyApplied(ctx, tx, req.IdempotencyKey)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("stock increment replayed, skipping",
			zap.String("idempotency_key", req.IdempotencyKey))
		return nil
	}

	now := time.Now().UTC()
	record, err := s.lockStock(ctx, tx, req.WarehouseID, req.ProductID)
	if err != nil {
		return err
	}

	if record == nil {
		record = &inventorydomain.StockRecord{
			ID:          s.genID.Generate(),
			WarehouseID: req.WarehouseID,
			ProductID:   req.ProductID,
			Stock:       req.Quantity,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.WithContext(ctx).Create(record).Error; err != nil {
			return err
		}
	} else {
		if err := tx.WithContext(ctx).Model(&inventorydomain.StockRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"stock":      gorm.Expr("stock + ?", req.Quantity),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
	}

	return s.appendMovement(ctx, tx, inventorydomain.StockMovement{
		WarehouseID:    req.WarehouseID,
		ProductID:      req.ProductID,
		Change:         req.Quantity,
		Reason:         req.Reason,
		Actor:          req.Actor,
		Reference:      strPtr(req.Reference),
		IdempotencyKey: strPtr(req.IdempotencyKey),
		CreatedAt:      now,
	})
}

func (s *Service) SetAbsolute(ctx context.Context, req inventorydomain.AdjustRequest) error {
	if req.Quantity < 0 {
		return inventorydomain.ErrNegativeStock
	}
	if !req.Reason.Valid() {
		return inventorydomain.ErrInvalidReason
	}

	return s.withRetry(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		record, err := s.lockStock(ctx, tx, req.WarehouseID, req.ProductID)
		if err != nil {
			return err
		}

		current := int64(0)
		if record != nil {
			current = record.Stock
		}
		change := req.Quantity - current
		if change == 0 {
			return nil
		}

		if record == nil {
			record = &inventorydomain.StockRecord{
				ID:          s.genID.Generate(),
				WarehouseID: req.WarehouseID,
				ProductID:   req.ProductID,
				Stock:       req.Quantity,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.WithContext(ctx).Create(record).Error; err != nil {
				return err
			}
		} else {
			if err := tx.WithContext(ctx).Model(&inventorydomain.StockRecord{}).
				Where("id = ?", record.ID).
				Updates(map[string]any{"stock": req.Quantity, "updated_at": now}).Error; err != nil {
				return err
			}
		}

		return s.appendMovement(ctx, tx, inventorydomain.StockMovement{
			WarehouseID: req.WarehouseID,
			ProductID:   req.ProductID,
			Change:      change,
			Reason:      req.Reason,
			Actor:       req.Actor,
			Reference:   strPtr(req.Reference),
			CreatedAt:   now,
		})
	})
}

func (s *Service) Transfer(ctx context.Context, req inventorydomain.TransferRequest) error {
	if req.SourceWarehouseID == req.DestWarehouseID {
		return inventorydomain.ErrSameWarehouse
	}
	if len(req.Items) == 0 {
		return inventorydomain.ErrNoItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return inventorydomain.ErrInvalidQuantity
		}
	}

	return s.withRetry(ctx, func(tx *gorm.DB) error {
		applied, err := s.alreadyApplied(ctx, tx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info("transfer replayed, skipping",
				zap.String("idempotency_key", req.IdempotencyKey))
			return nil
		}

		now := time.Now().UTC()
		items := aggregatedItems(req.Items)

		// Lock source rows first, then destination, always in product
		// order, so concurrent transfers cannot deadlock.
		sources := make([]*inventorydomain.StockRecord, 0, len(items))
		for _, item := range items {
			record, err := s.lockStock(ctx, tx, req.SourceWarehouseID, item.ProductID)
			if err != nil {
				return err
			}
			available := int64(0)
			if record != nil {
				available = record.Stock
			}
			if item.Quantity > available {
				return &inventorydomain.InsufficientStockError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: available,
				}
			}
			sources = append(sources, record)
		}

		for i, item := range items {
			source := sources[i]
			if err := tx.WithContext(ctx).Model(&inventorydomain.StockRecord{}).
				Where("id = ?", source.ID).
				Updates(map[string]any{
					"stock":      gorm.Expr("stock - ?", item.Quantity),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}

			dest, err := s.lockStock(ctx, tx, req.DestWarehouseID, item.ProductID)
			if err != nil {
				return err
			}
			if dest == nil {
				dest = &inventorydomain.StockRecord{
					ID:          s.genID.Generate(),
					WarehouseID: req.DestWarehouseID,
					ProductID:   item.ProductID,
					Stock:       item.Quantity,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := tx.WithContext(ctx).Create(dest).Error; err != nil {
					return err
				}
			} else {
				if err := tx.WithContext(ctx).Model(&inventorydomain.StockRecord{}).
					Where("id = ?", dest.ID).
					Updates(map[string]any{
						"stock":      gorm.Expr("stock + ?", item.Quantity),
						"updated_at": now,
					}).Error; err != nil {
					return err
				}
			}

			outKey := req.IdempotencyKey
			if outKey != "" {
				outKey = outKey + ":out:" + item.ProductID.String()
			}
			if err := s.appendMovement(ctx, tx, inventorydomain.StockMovement{
				WarehouseID:    req.SourceWarehouseID,
				ProductID:      item.ProductID,
				Change:         -item.Quantity,
				Reason:         inventorydomain.ReasonTransferOut,
				Actor:          req.Actor,
				Reference:      strPtr(req.DestWarehouseID.String()),
				IdempotencyKey: strPtr(outKey),
				CreatedAt:      now,
			}); err != nil {
				return err
			}

			inKey := req.IdempotencyKey
			if inKey != "" {
				inKey = inKey + ":in:" + item.ProductID.String()
			}
			if err := s.appendMovement(ctx, tx, inventorydomain.StockMovement{
				WarehouseID:    req.DestWarehouseID,
				ProductID:      item.ProductID,
				Change:         item.Quantity,
				Reason:         inventorydomain.ReasonTransferIn,
				Actor:          req.Actor,
				Reference:      strPtr(req.SourceWarehouseID.String()),
				IdempotencyKey: strPtr(inKey),
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Service) GetStock(ctx context.Context, warehouseID, productID snowflake.ID) (int64, error) {
	var record inventorydomain.StockRecord
	err := s.db.WithContext(ctx).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return record.Stock, nil
}

func (s *Service) ListStock(ctx context.Context, warehouseID snowflake.ID) ([]inventorydomain.StockRecord, error) {
	var records []inventorydomain.StockRecord
	if err := s.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Order("product_id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) ListMovements(ctx context.Context, warehouseID, productID snowflake.ID, limit int) ([]inventorydomain.StockMovement, error) {
	stmt := s.db.WithContext(ctx).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var movements []inventorydomain.StockMovement
	if err := stmt.Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Service) ReplayStock(ctx context.Context, warehouseID, productID snowflake.ID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&inventorydomain.StockMovement{}).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		Select("COALESCE(SUM(change), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// withRetry runs fn in a transaction, retrying a bounded number of times
// when the store aborts the attempt under contention.
func (s *Service) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !db.IsBusyErr(err) {
			return err
		}
		s.log.Debug("transaction aborted under contention, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return err
}

// lockStock reads the stock row for update. Returns nil when no record
// exists yet.
func (s *Service) lockStock(ctx context.Context, tx *gorm.DB, warehouseID, productID snowflake.ID) (*inventorydomain.StockRecord, error) {
	var record inventorydomain.StockRecord
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) appendMovement(ctx context.Context, tx *gorm.DB, movement inventorydomain.StockMovement) error {
	movement.ID = s.genID.Generate()
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	if strings.TrimSpace(movement.Actor) == "" {
		movement.Actor = "system"
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordStockMovement(ctx, string(movement.Reason))
	}
	return nil
}

func (s *Service) alreadyApplied(ctx context.Context, tx *gorm.DB, idempotencyKey string) (bool, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return false, nil
	}
	var count int64
	err := tx.WithContext(ctx).Model(&inventorydomain.StockMovement{}).
		Where("idempotency_key = ? OR idempotency_key LIKE ?", idempotencyKey, idempotencyKey+":%").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// aggregatedItems merges repeated product lines into one quantity per
// product and returns them in product order, keeping the lock order
// deterministic.
func aggregatedItems(items []inventorydomain.ItemQuantity) []inventorydomain.ItemQuantity {
	merged := make(map[snowflake.ID]int64, len(items))
	for _, item := range items {
		merged[item.ProductID] += item.Quantity
	}
	out := make([]inventorydomain.ItemQuantity, 0, len(merged))
	for productID, quantity := range merged {
		out = append(out, inventorydomain.ItemQuantity{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
