package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	"github.com/smallbiznis/kirana/internal/clock"
	"github.com/smallbiznis/kirana/internal/config"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	gatewaydomain "github.com/smallbiznis/kirana/internal/gateway/domain"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/kirana/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/kirana/internal/order/domain"
	obsmetrics "github.com/smallbiznis/kirana/internal/observability/metrics"
	"github.com/smallbiznis/kirana/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
	CommerceCfg  *config.CommerceConfigHolder
	CatalogSvc   catalogdomain.Service
	CouponSvc    coupondomain.Service
	InventorySvc inventorydomain.Service
	LedgerSvc    ledgerdomain.Service
	Gateway      gatewaydomain.Gateway
	AuditSvc     auditdomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	commerceCfg  *config.CommerceConfigHolder
	catalogSvc   catalogdomain.Service
	couponSvc    coupondomain.Service
	inventorySvc inventorydomain.Service
	ledgerSvc    ledgerdomain.Service
	gateway      gatewaydomain.Gateway
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("order.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		commerceCfg:  p.CommerceCfg,
		catalogSvc:   p.CatalogSvc,
		couponSvc:    p.CouponSvc,
		inventorySvc: p.InventorySvc,
		ledgerSvc:    p.LedgerSvc,
		gateway:      p.Gateway,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.Order, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, orderdomain.ErrInvalidUser
	}
	if len(req.Items) == 0 {
		return nil, orderdomain.ErrNoItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, orderdomain.ErrInvalidQuantity
		}
	}
	if !req.PaymentMethod.Valid() {
		return nil, orderdomain.ErrInvalidPayment
	}
	if strings.TrimSpace(req.Address.Pincode) == "" || strings.TrimSpace(req.Address.Line1) == "" {
		return nil, orderdomain.ErrInvalidAddress
	}

	order, err := s.createOrderAttempt(ctx, req, true)
	if errors.Is(err, coupondomain.ErrCouponExhausted) {
		// The code priced as usable but another checkout took the last
		// use before our transaction landed. Re-run at full price; a bad
		// code never blocks checkout.
		s.log.Info("coupon exhausted during checkout, repricing without it",
			zap.String("coupon_code", req.CouponCode))
		order, err = s.createOrderAttempt(ctx, req, false)
	}
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordOrderCreated(ctx, string(order.PaymentMethod))
	}
	s.audit(ctx, "order.created", order.Number, map[string]any{
		"order_id":     order.ID.String(),
		"user_id":      order.UserID,
		"warehouse_id": order.WarehouseID.String(),
		"total":        order.Total,
	})
	return order, nil
}

func (s *Service) createOrderAttempt(ctx context.Context, req orderdomain.CreateOrderRequest, useCoupon bool) (*orderdomain.Order, error) {
	warehouse, err := s.catalogSvc.ResolveWarehouse(ctx, req.Address.Pincode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	cfg := s.commerceCfg.Current()

	// Prices come from the catalog, never from the caller.
	var subtotal int64
	items := make([]orderdomain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, err := s.catalogSvc.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.Active {
			return nil, catalogdomain.ErrProductNotFound
		}
		lineTotal := product.Price * line.Quantity
		subtotal += lineTotal
		items = append(items, orderdomain.OrderItem{
			ProductID:      product.ID,
			Name:           product.Name,
			PriceAtBooking: product.Price,
			Quantity:       line.Quantity,
			LineTotal:      lineTotal,
			CreatedAt:      now,
		})
	}

	tax := decimal.NewFromInt(subtotal).Mul(cfg.TaxRate).Round(0).IntPart()
	deliveryFee := cfg.DeliveryFee

	var coupon *coupondomain.Coupon
	var discount int64
	code := strings.TrimSpace(req.CouponCode)
	if useCoupon && code != "" {
		found, err := s.couponSvc.GetByCode(ctx, code)
		switch {
		case err == nil:
			quote := s.couponSvc.Price(found, subtotal)
			if quote.Eligible {
				coupon = found
				discount = quote.Discount
			} else {
				s.log.Info("coupon ignored at checkout",
					zap.String("coupon_code", found.Code),
					zap.String("reason", string(quote.Ineligible)))
			}
		case errors.Is(err, coupondomain.ErrCouponNotFound):
			s.log.Info("unknown coupon code ignored at checkout", zap.String("coupon_code", code))
		default:
			return nil, err
		}
	}

	total := subtotal + tax + deliveryFee - discount
	if total < 0 {
		total = 0
	}

	order := orderdomain.Order{
		ID:              s.genID.Generate(),
		Number:          "ORD-" + ulid.Make().String(),
		UserID:          strings.TrimSpace(req.UserID),
		WarehouseID:     warehouse.ID,
		Status:          orderdomain.StatusCreated,
		Subtotal:        subtotal,
		Tax:             tax,
		DeliveryFee:     deliveryFee,
		Discount:        discount,
		Total:           total,
		Currency:        cfg.Currency,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   orderdomain.PaymentStatusPending,
		ShippingAddress: datatypes.NewJSONType(req.Address),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if coupon != nil {
		order.CouponCode = &coupon.Code
	}

	// The gateway call happens strictly before the transaction; nothing
	// below blocks on external I/O.
	if req.PaymentMethod.Prepaid() {
		gatewayOrder, err := s.gateway.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
			Amount:   total,
			Currency: cfg.Currency,
			Receipt:  order.Number,
			Notes:    map[string]string{"user_id": order.UserID},
		})
		if err != nil {
			return nil, err
		}
		order.GatewayOrderID = &gatewayOrder.ID
	}

	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		if coupon != nil {
			if err := s.couponSvc.RedeemTx(ctx, tx, coupon.Code); err != nil {
				return err
			}
		}
		if err := tx.WithContext(ctx).Omit("Items", "Timeline").Create(&order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = s.genID.Generate()
			items[i].OrderID = order.ID
		}
		if err := tx.WithContext(ctx).Create(&items).Error; err != nil {
			return err
		}
		return s.appendTimeline(ctx, tx, order.ID, orderdomain.StatusCreated, "user:"+order.UserID, nil)
	})
	if err != nil {
		return nil, err
	}

	order.Items = items
	return &order, nil
}

func (s *Service) ConfirmPayment(ctx context.Context, req orderdomain.ConfirmPaymentRequest) (*orderdomain.ConfirmResult, error) {
	order, err := s.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == orderdomain.StatusPaid || order.PaymentStatus == orderdomain.PaymentStatusSuccess {
		return &orderdomain.ConfirmResult{Order: order, AlreadyProcessed: true}, nil
	}
	if !order.PaymentMethod.Prepaid() || order.GatewayOrderID == nil {
		return nil, orderdomain.ErrOrderNotConfirmable
	}

	// Signature verification happens before the atomic block. A mismatch
	// records an advisory payment failure; no stock or money moves.
	if err := s.gateway.VerifySignature(*order.GatewayOrderID, req.GatewayPaymentID, req.Signature); err != nil {
		s.log.Warn("payment signature mismatch",
			zap.String("order_id", order.ID.String()),
			zap.String("gateway_payment_id", req.GatewayPaymentID))
		s.markPaymentFailed(ctx, order.ID)
		s.audit(ctx, "order.signature_invalid", order.Number, map[string]any{
			"order_id": order.ID.String(),
		})
		return nil, orderdomain.ErrSignatureInvalid
	}

	var result orderdomain.ConfirmResult
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		locked, err := s.lockOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		// Idempotency re-check under the lock; time has passed since the
		// first read.
		if locked.Status == orderdomain.StatusPaid || locked.PaymentStatus == orderdomain.PaymentStatusSuccess {
			result = orderdomain.ConfirmResult{Order: locked, AlreadyProcessed: true}
			return nil
		}
		if locked.Status.Terminal() {
			return orderdomain.ErrOrderNotConfirmable
		}

		if err := s.decrementStockTx(ctx, tx, locked); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		updates := map[string]any{
			"status":             orderdomain.StatusPaid,
			"payment_status":     orderdomain.PaymentStatusSuccess,
			"gateway_payment_id": req.GatewayPaymentID,
			"signature_verified": true,
			"updated_at":         now,
		}
		if err := tx.WithContext(ctx).Model(&orderdomain.Order{}).
			Where("id = ?", locked.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := s.appendTimeline(ctx, tx, locked.ID, orderdomain.StatusPaid, "gateway", map[string]any{
			"gateway_payment_id": req.GatewayPaymentID,
		}); err != nil {
			return err
		}

		locked.Status = orderdomain.StatusPaid
		locked.PaymentStatus = orderdomain.PaymentStatusSuccess
		locked.GatewayPaymentID = &req.GatewayPaymentID
		locked.SignatureVerified = true
		result = orderdomain.ConfirmResult{Order: locked}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyProcessed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordOrderConfirmed(ctx, string(order.PaymentMethod))
		}
		s.audit(ctx, "order.paid", order.Number, map[string]any{
			"order_id":           order.ID.String(),
			"gateway_payment_id": req.GatewayPaymentID,
		})
	}
	return &result, nil
}

func (s *Service) ConfirmCOD(ctx context.Context, orderID string, actor string) (*orderdomain.ConfirmResult, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != orderdomain.PaymentMethodCOD {
		return nil, orderdomain.ErrNotCODOrder
	}
	if order.Status != orderdomain.StatusCreated {
		if order.Status == orderdomain.StatusPending {
			return &orderdomain.ConfirmResult{Order: order, AlreadyProcessed: true}, nil
		}
		return nil, orderdomain.ErrOrderNotConfirmable
	}

	var result orderdomain.ConfirmResult
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		locked, err := s.lockOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status == orderdomain.StatusPending {
			result = orderdomain.ConfirmResult{Order: locked, AlreadyProcessed: true}
			return nil
		}
		if locked.Status != orderdomain.StatusCreated {
			return orderdomain.ErrOrderNotConfirmable
		}

		if err := s.decrementStockTx(ctx, tx, locked); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if err := tx.WithContext(ctx).Model(&orderdomain.Order{}).
			Where("id = ?", locked.ID).
			Updates(map[string]any{"status": orderdomain.StatusPending, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := s.appendTimeline(ctx, tx, locked.ID, orderdomain.StatusPending, actor, nil); err != nil {
			return err
		}

		locked.Status = orderdomain.StatusPending
		result = orderdomain.ConfirmResult{Order: locked}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyProcessed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordOrderConfirmed(ctx, string(orderdomain.PaymentMethodCOD))
		}
		s.audit(ctx, "order.cod_confirmed", order.Number, map[string]any{
			"order_id": order.ID.String(),
		})
	}
	return &result, nil
}

func (s *Service) UpdateStatus(ctx context.Context, orderID string, newStatus orderdomain.Status, actor string) (*orderdomain.Order, error) {
	if !newStatus.Valid() {
		return nil, orderdomain.ErrInvalidStatus
	}
	// Paid is only reachable through payment confirmation, which couples
	// the status flip to signature verification and the stock decrement.
	if newStatus == orderdomain.StatusPaid {
		return nil, orderdomain.ErrInvalidTransition
	}
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	var updated *orderdomain.Order
	err = s.withRetry(ctx, func(tx *gorm.DB) error {
		locked, err := s.lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !orderdomain.CanTransition(locked.Status, newStatus) {
			return orderdomain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		updates := map[string]any{"status": newStatus, "updated_at": now}
		metadata := map[string]any{"from": string(locked.Status)}

		switch newStatus {
		case orderdomain.StatusDelivered:
			// Commission is realized on delivery, not on payment; COD
			// orders settle financially at handover.
			if err := s.ledgerSvc.RecordSaleTx(ctx, tx, locked.WarehouseID, locked.Number, locked.Total); err != nil {
				return err
			}
			updates["payment_status"] = orderdomain.PaymentStatusSuccess
		case orderdomain.StatusCancelled:
			if locked.PaymentStatus == orderdomain.PaymentStatusSuccess {
				if err := s.ledgerSvc.RecordRefundTx(ctx, tx, locked.WarehouseID, locked.Number, locked.Total); err != nil {
					return err
				}
				updates["payment_status"] = orderdomain.PaymentStatusRefunded
			}
		}

		if err := tx.WithContext(ctx).Model(&orderdomain.Order{}).
			Where("id = ?", locked.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := s.appendTimeline(ctx, tx, locked.ID, newStatus, actor, metadata); err != nil {
			return err
		}

		locked.Status = newStatus
		if v, ok := updates["payment_status"].(orderdomain.PaymentStatus); ok {
			locked.PaymentStatus = v
		}
		updated = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "order.status_changed", updated.Number, map[string]any{
		"order_id": updated.ID.String(),
		"status":   string(newStatus),
		"actor":    actor,
	})
	return updated, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*orderdomain.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	var order orderdomain.Order
	err = s.db.WithContext(ctx).
		Preload("Items").
		Preload("Timeline", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at asc, id asc")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]orderdomain.Order, error) {
	stmt := s.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var orders []orderdomain.Order
	if err := stmt.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Service) decrementStockTx(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	items := order.Items
	if len(items) == 0 {
		if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
		order.Items = items
	}

	quantities := make([]inventorydomain.ItemQuantity, 0, len(items))
	for _, item := range items {
		quantities = append(quantities, inventorydomain.ItemQuantity{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return s.inventorySvc.DecrementForOrderTx(ctx, tx, order.WarehouseID, order.Number, quantities, "order:"+order.Number)
}

func (s *Service) lockOrder(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, orderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Service) appendTimeline(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, state orderdomain.Status, actor string, metadata map[string]any) error {
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}
	return tx.WithContext(ctx).Create(&orderdomain.TimelineEntry{
		ID:        s.genID.Generate(),
		OrderID:   orderID,
		State:     state,
		Actor:     actor,
		Metadata:  metadata,
		CreatedAt: s.clock.Now().UTC(),
	}).Error
}

// markPaymentFailed is advisory; it runs outside the atomic block since
// no stock or money moved. A retried confirmation after an earlier
// failure refreshes the mark, so updated_at tracks the last attempt.
func (s *Service) markPaymentFailed(ctx context.Context, orderID snowflake.ID) {
	err := s.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("id = ? AND payment_status IN ?", orderID,
			[]orderdomain.PaymentStatus{orderdomain.PaymentStatusPending, orderdomain.PaymentStatusFailed}).
		Updates(map[string]any{
			"payment_status": orderdomain.PaymentStatusFailed,
			"updated_at":     s.clock.Now().UTC(),
		}).Error
	if err != nil {
		s.log.Warn("failed to record payment failure", zap.Error(err))
	}
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
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "order", &reference, metadata); err != nil {
		s.log.Warn("failed to write order audit log", zap.Error(err))
	}
}

func parseOrderID(orderID string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil {
		return 0, orderdomain.ErrOrderNotFound
	}
	return id, nil
}
