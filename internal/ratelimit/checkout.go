package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kirana/internal/config"
)

const keyCheckoutUser = "checkout:user:%s"

// CheckoutLimiter throttles order creation per user. A nil limiter (rate
// limiting disabled or redis unconfigured) allows everything.
type CheckoutLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCheckoutLimiter(cfg config.Config, client *redis.Client) *CheckoutLimiter {
	if !cfg.RateLimitEnabled || client == nil {
		return nil
	}
	if cfg.CheckoutRate <= 0 || cfg.CheckoutBurst <= 0 {
		return nil
	}
	return &CheckoutLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.CheckoutRate,
		burst:   cfg.CheckoutBurst,
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *CheckoutLimiter) Allow(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyCheckoutUser, strings.TrimSpace(userID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
