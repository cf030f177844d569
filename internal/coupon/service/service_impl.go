package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kirana/internal/clock"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	"github.com/smallbiznis/kirana/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) coupondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("coupon.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req coupondomain.CreateCouponRequest) (*coupondomain.Coupon, error) {
	code := normalizeCode(req.Code)
	if code == "" || !req.DiscountType.Valid() || req.Value <= 0 {
		return nil, coupondomain.ErrInvalidCoupon
	}
	if req.DiscountType == coupondomain.DiscountTypePercentage && req.Value > 100 {
		return nil, coupondomain.ErrInvalidCoupon
	}
	if req.MinOrderValue < 0 {
		return nil, coupondomain.ErrInvalidCoupon
	}
	if req.MaxDiscount != nil && *req.MaxDiscount <= 0 {
		return nil, coupondomain.ErrInvalidCoupon
	}
	if req.UsageLimit != nil && *req.UsageLimit <= 0 {
		return nil, coupondomain.ErrInvalidCoupon
	}

	now := s.clock.Now().UTC()
	coupon := coupondomain.Coupon{
		ID:            s.genID.Generate(),
		Code:          code,
		DiscountType:  req.DiscountType,
		Value:         req.Value,
		MinOrderValue: req.MinOrderValue,
		MaxDiscount:   req.MaxDiscount,
		ExpiresAt:     req.ExpiresAt,
		UsageLimit:    req.UsageLimit,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&coupon).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, coupondomain.ErrCouponExists
		}
		return nil, err
	}
	return &coupon, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*coupondomain.Coupon, error) {
	var coupon coupondomain.Coupon
	err := s.db.WithContext(ctx).Where("code = ?", normalizeCode(code)).First(&coupon).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, coupondomain.ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

func (s *Service) List(ctx context.Context) ([]coupondomain.Coupon, error) {
	var coupons []coupondomain.Coupon
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&coupons).Error; err != nil {
		return nil, err
	}
	return coupons, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	result := s.db.WithContext(ctx).Model(&coupondomain.Coupon{}).
		Where("code = ?", normalizeCode(code)).
		Updates(map[string]any{"is_active": false, "updated_at": s.clock.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return coupondomain.ErrCouponNotFound
	}
	return nil
}

func (s *Service) Price(coupon *coupondomain.Coupon, subtotal int64) coupondomain.Quote {
	if coupon == nil || subtotal <= 0 {
		return coupondomain.Quote{Ineligible: coupondomain.IneligibleInactive}
	}
	if !coupon.IsActive {
		return coupondomain.Quote{Ineligible: coupondomain.IneligibleInactive}
	}
	if coupon.ExpiresAt != nil && !coupon.ExpiresAt.After(s.clock.Now()) {
		return coupondomain.Quote{Ineligible: coupondomain.IneligibleExpired}
	}
	if subtotal < coupon.MinOrderValue {
		return coupondomain.Quote{Ineligible: coupondomain.IneligibleMinOrderValue}
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return coupondomain.Quote{Ineligible: coupondomain.IneligibleExhausted}
	}

	var discount int64
	switch coupon.DiscountType {
	case coupondomain.DiscountTypePercentage:
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(coupon.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).IntPart()
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	case coupondomain.DiscountTypeFlat:
		discount = coupon.Value
	}

	// Never discount past the subtotal itself.
	if discount > subtotal {
		discount = subtotal
	}
	return coupondomain.Quote{Discount: discount, Eligible: true}
}

func (s *Service) RedeemTx(ctx context.Context, tx *gorm.DB, code string) error {
	// Guarded increment: the WHERE clause re-checks the limit at write
	// time, so two checkouts that both priced the last use cannot both
	// get past it.
	result := tx.WithContext(ctx).Model(&coupondomain.Coupon{}).
		Where("code = ? AND is_active = ? AND (usage_limit IS NULL OR used_count < usage_limit)",
			normalizeCode(code), true).
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": s.clock.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return coupondomain.ErrCouponExhausted
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
