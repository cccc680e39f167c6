package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"

	"github.com/inferbill/inferbill/internal/config"
)

const (
	keyEstimateUser = "billing:estimate:user:%s"
	keyDeductUser   = "billing:deduct:user:%s"
)

// BillingLimiter throttles the per-user estimate and deduct endpoints. A nil
// limiter (rate limiting disabled) allows everything.
type BillingLimiter struct {
	enabled bool

	bucket *TokenBucket

	estimateRate  float64
	estimateBurst int
	deductRate    float64
	deductBurst   int
}

func NewBillingLimiter(cfg config.Config) (*BillingLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.EstimateUserRate <= 0 || limitCfg.EstimateUserBurst <= 0 {
		return nil, errors.New("estimate rate limit must be positive")
	}
	if limitCfg.DeductUserRate <= 0 || limitCfg.DeductUserBurst <= 0 {
		return nil, errors.New("deduct rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &BillingLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		estimateRate:  limitCfg.EstimateUserRate,
		estimateBurst: limitCfg.EstimateUserBurst,
		deductRate:    limitCfg.DeductUserRate,
		deductBurst:   limitCfg.DeductUserBurst,
	}, nil
}

func (l *BillingLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *BillingLimiter) AllowEstimate(ctx context.Context, userID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEstimateUser, userID.String()), l.estimateRate, l.estimateBurst)
}

func (l *BillingLimiter) AllowDeduct(ctx context.Context, userID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyDeductUser, userID.String()), l.deductRate, l.deductBurst)
}
