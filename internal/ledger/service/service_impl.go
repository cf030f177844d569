package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	"github.com/smallbiznis/kirana/internal/config"
	ledgerdomain "github.com/smallbiznis/kirana/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/kirana/internal/observability/metrics"
	"github.com/smallbiznis/kirana/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const busyRetries = 3

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	CommerceCfg *config.CommerceConfigHolder
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	commerceCfg *config.CommerceConfigHolder
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		commerceCfg: p.CommerceCfg,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) RecordSale(ctx context.Context, warehouseID snowflake.ID, orderRef string, grossAmount int64) error {
	return s.withRetry(ctx, func(tx *gorm.DB) error {
		return s.RecordSaleTx(ctx, tx, warehouseID, orderRef, grossAmount)
	})
}

func (s *Service) RecordSaleTx(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, orderRef string, grossAmount int64) error {
	if err := validatePosting(warehouseID, orderRef, grossAmount); err != nil {
		return err
	}

	warehouse, err := s.lockWarehouse(ctx, tx, warehouseID)
	if err != nil {
		return err
	}

	applied, err := entryExists(ctx, tx, warehouseID, ledgerdomain.CategorySale, orderRef)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("sale already posted, skipping",
			zap.String("warehouse_id", warehouseID.String()),
			zap.String("order_ref", orderRef))
		return nil
	}

	// The commission rate is read here, inside the transaction, so a
	// concurrent config reload never splits one posting across two rates.
	cfg := s.commerceCfg.Current()
	commission := commissionFor(grossAmount, cfg.CommissionRate)

	postings := []posting{
		{Direction: ledgerdomain.EntryDirectionCredit, Category: ledgerdomain.CategorySale, Amount: grossAmount},
		{Direction: ledgerdomain.EntryDirectionDebit, Category: ledgerdomain.CategoryCommission, Amount: commission},
	}
	if err := s.post(ctx, tx, warehouse, orderRef, cfg.Currency, postings, map[string]any{
		"commission_rate": cfg.CommissionRate.String(),
	}); err != nil {
		return err
	}

	s.audit(ctx, "ledger.sale_recorded", orderRef, map[string]any{
		"warehouse_id": warehouseID.String(),
		"gross_amount": grossAmount,
		"commission":   commission,
	})
	return nil
}

func (s *Service) RecordRefund(ctx context.Context, warehouseID snowflake.ID, orderRef string, grossAmount int64) error {
	return s.withRetry(ctx, func(tx *gorm.DB) error {
		return s.RecordRefundTx(ctx, tx, warehouseID, orderRef, grossAmount)
	})
}

func (s *Service) RecordRefundTx(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, orderRef string, grossAmount int64) error {
	if err := validatePosting(warehouseID, orderRef, grossAmount); err != nil {
		return err
	}

	warehouse, err := s.lockWarehouse(ctx, tx, warehouseID)
	if err != nil {
		return err
	}

	applied, err := entryExists(ctx, tx, warehouseID, ledgerdomain.CategoryRefund, orderRef)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("refund already posted, skipping",
			zap.String("warehouse_id", warehouseID.String()),
			zap.String("order_ref", orderRef))
		return nil
	}

	// The reversal is computed at the rate in effect now, not the rate at
	// sale time. If the rate changed in between, the pair does not net to
	// zero bit-exactly; the accounting team owns that tradeoff.
	cfg := s.commerceCfg.Current()
	commission := commissionFor(grossAmount, cfg.CommissionRate)

	postings := []posting{
		{Direction: ledgerdomain.EntryDirectionDebit, Category: ledgerdomain.CategoryRefund, Amount: grossAmount},
		{Direction: ledgerdomain.EntryDirectionCredit, Category: ledgerdomain.CategoryCommissionReversal, Amount: commission},
	}
	if err := s.post(ctx, tx, warehouse, orderRef, cfg.Currency, postings, nil); err != nil {
		return err
	}

	s.audit(ctx, "ledger.refund_recorded", orderRef, map[string]any{
		"warehouse_id": warehouseID.String(),
		"gross_amount": grossAmount,
		"commission":   commission,
	})
	return nil
}

func (s *Service) RecordPayout(ctx context.Context, warehouseID snowflake.ID, payoutRef string, amount int64) error {
	if err := validatePosting(warehouseID, payoutRef, amount); err != nil {
		return err
	}

	return s.withRetry(ctx, func(tx *gorm.DB) error {
		warehouse, err := s.lockWarehouse(ctx, tx, warehouseID)
		if err != nil {
			return err
		}

		applied, err := entryExists(ctx, tx, warehouseID, ledgerdomain.CategoryPayout, payoutRef)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info("payout already posted, skipping",
				zap.String("warehouse_id", warehouseID.String()),
				zap.String("payout_ref", payoutRef))
			return nil
		}

		if amount > warehouse.LedgerBalance {
			return &ledgerdomain.InsufficientFundsError{
				WarehouseID: warehouseID,
				Requested:   amount,
				Available:   warehouse.LedgerBalance,
			}
		}

		cfg := s.commerceCfg.Current()
		postings := []posting{
			{Direction: ledgerdomain.EntryDirectionDebit, Category: ledgerdomain.CategoryPayout, Amount: amount},
		}
		if err := s.post(ctx, tx, warehouse, payoutRef, cfg.Currency, postings, nil); err != nil {
			return err
		}

		s.audit(ctx, "ledger.payout_recorded", payoutRef, map[string]any{
			"warehouse_id": warehouseID.String(),
			"amount":       amount,
		})
		return nil
	})
}

func (s *Service) Balance(ctx context.Context, warehouseID snowflake.ID) (int64, error) {
	var warehouse catalogdomain.Warehouse
	err := s.db.WithContext(ctx).Where("id = ?", warehouseID).First(&warehouse).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, ledgerdomain.ErrWarehouseNotFound
		}
		return 0, err
	}
	return warehouse.LedgerBalance, nil
}

func (s *Service) ReplayBalance(ctx context.Context, warehouseID snowflake.ID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&ledgerdomain.LedgerEntry{}).
		Where("warehouse_id = ?", warehouseID).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0)", ledgerdomain.EntryDirectionCredit).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) ListEntries(ctx context.Context, warehouseID snowflake.ID, limit int) ([]ledgerdomain.LedgerEntry, error) {
	stmt := s.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var entries []ledgerdomain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// posting is one leg of a double entry before it is materialized.
type posting struct {
	Direction ledgerdomain.EntryDirection
	Category  ledgerdomain.EntryCategory
	Amount    int64
}

// post appends the legs in order, threading the running balance through
// each one, then writes the final balance back to the warehouse row the
// caller already holds locked.
func (s *Service) post(ctx context.Context, tx *gorm.DB, warehouse *catalogdomain.Warehouse, reference, currency string, postings []posting, metadata map[string]any) error {
	now := time.Now().UTC()
	balance := warehouse.LedgerBalance

	for _, p := range postings {
		entry := ledgerdomain.LedgerEntry{
			ID:            s.genID.Generate(),
			WarehouseID:   warehouse.ID,
			Direction:     p.Direction,
			Category:      p.Category,
			Reference:     reference,
			Amount:        p.Amount,
			Currency:      currency,
			BalanceBefore: balance,
			Metadata:      metadata,
			CreatedAt:     now,
		}
		balance += entry.Signed()
		entry.BalanceAfter = balance

		if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
			return err
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RecordLedgerEntry(ctx, string(p.Category))
		}
	}

	return tx.WithContext(ctx).Model(&catalogdomain.Warehouse{}).
		Where("id = ?", warehouse.ID).
		Updates(map[string]any{"ledger_balance": balance, "updated_at": now}).Error
}

func (s *Service) lockWarehouse(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID) (*catalogdomain.Warehouse, error) {
	var warehouse catalogdomain.Warehouse
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", warehouseID).
		First(&warehouse).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ledgerdomain.ErrWarehouseNotFound
		}
		return nil, err
	}
	return &warehouse, nil
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
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "ledger_entry", &reference, metadata); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.Error(err))
	}
}

func entryExists(ctx context.Context, tx *gorm.DB, warehouseID snowflake.ID, category ledgerdomain.EntryCategory, reference string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&ledgerdomain.LedgerEntry{}).
		Where("warehouse_id = ? AND category = ? AND reference = ?", warehouseID, category, reference).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func commissionFor(grossAmount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(grossAmount).Mul(rate).Round(0).IntPart()
}

func validatePosting(warehouseID snowflake.ID, reference string, amount int64) error {
	if warehouseID == 0 {
		return ledgerdomain.ErrInvalidWarehouse
	}
	if strings.TrimSpace(reference) == "" {
		return ledgerdomain.ErrInvalidReference
	}
	if amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	return nil
}
