package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/kirana/internal/clock"
	"github.com/smallbiznis/kirana/internal/coupon/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, name string) (*Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	assert.NoError(t, db.AutoMigrate(&domain.Coupon{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		genID: node,
		clock: fake,
	}, fake
}

func int64Ptr(v int64) *int64 { return &v }

func TestPricePercentageCappedAtMaxDiscount(t *testing.T) {
	svc, _ := newTestService(t, "coupon_cap")

	coupon := &domain.Coupon{
		Code:         "SAVE20",
		DiscountType: domain.DiscountTypePercentage,
		Value:        20,
		MaxDiscount:  int64Ptr(100),
		IsActive:     true,
	}

	// 20% of 1000 is 200, clamped to the 100 cap.
	quote := svc.Price(coupon, 1000)
	assert.True(t, quote.Eligible)
	assert.Equal(t, int64(100), quote.Discount)

	// Below the cap the percentage applies untouched.
	quote = svc.Price(coupon, 400)
	assert.True(t, quote.Eligible)
	assert.Equal(t, int64(80), quote.Discount)
}

func TestPriceFlatClampedToSubtotal(t *testing.T) {
	svc, _ := newTestService(t, "coupon_flat")

	coupon := &domain.Coupon{
		Code:         "FLAT500",
		DiscountType: domain.DiscountTypeFlat,
		Value:        500,
		IsActive:     true,
	}

	quote := svc.Price(coupon, 300)
	assert.True(t, quote.Eligible)
	assert.Equal(t, int64(300), quote.Discount)
}

func TestPriceValidityShortCircuits(t *testing.T) {
	svc, fake := newTestService(t, "coupon_validity")
	expiry := fake.Now().Add(time.Hour)

	coupon := &domain.Coupon{
		Code:          "SAVE20",
		DiscountType:  domain.DiscountTypePercentage,
		Value:         20,
		MinOrderValue: 500,
		ExpiresAt:     &expiry,
		UsageLimit:    int64Ptr(10),
		IsActive:      true,
	}

	quote := svc.Price(coupon, 1000)
	assert.True(t, quote.Eligible)

	inactive := *coupon
	inactive.IsActive = false
	assert.Equal(t, domain.IneligibleInactive, svc.Price(&inactive, 1000).Ineligible)

	fake.Advance(2 * time.Hour)
	assert.Equal(t, domain.IneligibleExpired, svc.Price(coupon, 1000).Ineligible)
	fake.Advance(-2 * time.Hour)

	assert.Equal(t, domain.IneligibleMinOrderValue, svc.Price(coupon, 400).Ineligible)

	used := *coupon
	used.UsedCount = 10
	assert.Equal(t, domain.IneligibleExhausted, svc.Price(&used, 1000).Ineligible)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, "coupon_create")
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCouponRequest{
		Code:         "",
		DiscountType: domain.DiscountTypeFlat,
		Value:        100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCoupon)

	_, err = svc.Create(ctx, domain.CreateCouponRequest{
		Code:         "OVER100",
		DiscountType: domain.DiscountTypePercentage,
		Value:        120,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCoupon)

	created, err := svc.Create(ctx, domain.CreateCouponRequest{
		Code:         "save20",
		DiscountType: domain.DiscountTypePercentage,
		Value:        20,
	})
	assert.NoError(t, err)
	assert.Equal(t, "SAVE20", created.Code)

	_, err = svc.Create(ctx, domain.CreateCouponRequest{
		Code:         "SAVE20",
		DiscountType: domain.DiscountTypeFlat,
		Value:        100,
	})
	assert.ErrorIs(t, err, domain.ErrCouponExists)

	fetched, err := svc.GetByCode(ctx, " save20 ")
	assert.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestRedeemGuardUnderConcurrentUse(t *testing.T) {
	svc, _ := newTestService(t, "coupon_race")
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCouponRequest{
		Code:         "ONCE",
		DiscountType: domain.DiscountTypeFlat,
		Value:        100,
		UsageLimit:   int64Ptr(1),
	})
	assert.NoError(t, err)

	// Many checkouts race for a single-use code. Exactly one redeem may
	// land; the counter must stop at the limit.
	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return svc.RedeemTx(ctx, tx, "ONCE")
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrCouponExhausted)
		}
	}
	assert.Equal(t, 1, succeeded)

	coupon, err := svc.GetByCode(ctx, "ONCE")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), coupon.UsedCount)
}

func TestDeactivate(t *testing.T) {
	svc, _ := newTestService(t, "coupon_deactivate")
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCouponRequest{
		Code:         "BYE",
		DiscountType: domain.DiscountTypeFlat,
		Value:        100,
	})
	assert.NoError(t, err)

	assert.NoError(t, svc.Deactivate(ctx, "BYE"))
	assert.ErrorIs(t, svc.Deactivate(ctx, "NOPE"), domain.ErrCouponNotFound)

	coupon, err := svc.GetByCode(ctx, "BYE")
	assert.NoError(t, err)
	assert.Equal(t, domain.IneligibleInactive, svc.Price(coupon, 1000).Ineligible)
}
