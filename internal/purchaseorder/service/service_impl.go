package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	"github.com/smallbiznis/kirana/internal/clock"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	podomain "github.com/smallbiznis/kirana/internal/purchaseorder/domain"
	"github.com/smallbiznis/kirana/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const busyRetries = 3

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	CatalogSvc   catalogdomain.Service
	InventorySvc inventorydomain.Service
	AuditSvc     auditdomain.Service `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	catalogSvc   catalogdomain.Service
	inventorySvc inventorydomain.Service
	auditSvc     auditdomain.Service
}

func NewService(p Params) podomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("purchaseorder.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		catalogSvc:   p.CatalogSvc,
		inventorySvc: p.InventorySvc,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req podomain.CreatePORequest) (*podomain.PurchaseOrder, error) {
	if strings.TrimSpace(req.SupplierName) == "" || len(req.Items) == 0 {
		return nil, podomain.ErrInvalidPO
	}

	warehouse, err := s.catalogSvc.GetWarehouse(ctx, req.WarehouseID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	po := podomain.PurchaseOrder{
		ID:           s.genID.Generate(),
		Number:       "PO-" + ulid.Make().String(),
		WarehouseID:  warehouse.ID,
		SupplierName: strings.TrimSpace(req.SupplierName),
		Status:       podomain.POStatusPlaced,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	items := make([]podomain.PurchaseOrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity <= 0 || line.UnitCost < 0 {
			return nil, podomain.ErrInvalidPO
		}
		product, err := s.catalogSvc.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, podomain.PurchaseOrderItem{
			ID:              s.genID.Generate(),
			PurchaseOrderID: po.ID,
			ProductID:       product.ID,
			Quantity:        line.Quantity,
			UnitCost:        line.UnitCost,
			CreatedAt:       now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Omit("Items").Create(&po).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Create(&items).Error
	})
	if err != nil {
		return nil, err
	}

	po.Items = items
	s.audit(ctx, "purchase_order.created", po.Number, map[string]any{
		"purchase_order_id": po.ID.String(),
		"warehouse_id":      po.WarehouseID.String(),
		"supplier":          po.SupplierName,
	})
	return &po, nil
}

func (s *Service) Get(ctx context.Context, id string) (*podomain.PurchaseOrder, error) {
	poID, err := parsePOID(id)
	if err != nil {
		return nil, err
	}

	var po podomain.PurchaseOrder
	err = s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", poID).
		First(&po).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, podomain.ErrPONotFound
		}
		return nil, err
	}
	return &po, nil
}

func (s *Service) List(ctx context.Context, warehouseID string, limit int) ([]podomain.PurchaseOrder, error) {
	stmt := s.db.WithContext(ctx).Preload("Items").Order("created_at desc, id desc")
	if strings.TrimSpace(warehouseID) != "" {
		id, err := snowflake.ParseString(warehouseID)
		if err != nil {
			return nil, catalogdomain.ErrWarehouseNotFound
		}
		stmt = stmt.Where("warehouse_id = ?", id)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var pos []podomain.PurchaseOrder
	if err := stmt.Find(&pos).Error; err != nil {
		return nil, err
	}
	return pos, nil
}

func (s *Service) Receive(ctx context.Context, id string, actor string) (*podomain.ReceiveResult, error) {
	poID, err := parsePOID(id)
	if err != nil {
		return nil, err
	}

	var result podomain.ReceiveResult
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		var po podomain.PurchaseOrder
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", poID).
			First(&po).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return podomain.ErrPONotFound
			}
			return err
		}
		if po.Status == podomain.POStatusReceived {
			result = podomain.ReceiveResult{PurchaseOrder: &po, AlreadyReceived: true}
			return nil
		}

		var items []podomain.PurchaseOrderItem
		if err := tx.WithContext(ctx).Where("purchase_order_id = ?", po.ID).Find(&items).Error; err != nil {
			return err
		}

		// Every line restocks inside this same transaction; the movement
		// idempotency key makes a blind replay of the receipt a no-op.
		for _, item := range items {
			if err := s.inventorySvc.IncrementTx(ctx, tx, inventorydomain.AdjustRequest{
				WarehouseID:    po.WarehouseID,
				ProductID:      item.ProductID,
				Quantity:       item.Quantity,
				Reason:         inventorydomain.ReasonRestock,
				Actor:          actor,
				Reference:      po.Number,
				IdempotencyKey: "po:" + po.Number + ":" + item.ProductID.String(),
			}); err != nil {
				return err
			}
		}

		now := s.clock.Now().UTC()
		if err := tx.WithContext(ctx).Model(&podomain.PurchaseOrder{}).
			Where("id = ?", po.ID).
			Updates(map[string]any{
				"status":      podomain.POStatusReceived,
				"received_at": now,
				"received_by": actor,
				"updated_at":  now,
			}).Error; err != nil {
			return err
		}

		po.Status = podomain.POStatusReceived
		po.ReceivedAt = &now
		po.ReceivedBy = &actor
		po.Items = items
		result = podomain.ReceiveResult{PurchaseOrder: &po}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyReceived {
		s.audit(ctx, "purchase_order.received", result.PurchaseOrder.Number, map[string]any{
			"purchase_order_id": result.PurchaseOrder.ID.String(),
			"warehouse_id":      result.PurchaseOrder.WarehouseID.String(),
			"actor":             actor,
		})
	}
	return &result, nil
}

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

func (s *Service) audit(ctx context.Context, action, reference string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "purchase_order", &reference, metadata); err != nil {
		s.log.Warn("failed to write purchase order audit log", zap.Error(err))
	}
}

func parsePOID(id string) (snowflake.ID, error) {
	poID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return 0, podomain.ErrPONotFound
	}
	return poID, nil
}
