package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CalculateInput carries everything the pure proration math needs.
// CurrentTierPriceUSD must be the subscriber's effective monthly price, not
// the tier's list price, when a prior discount is still active.
type CalculateInput struct {
	CurrentTierPriceUSD decimal.Decimal
	NewTierPriceUSD     decimal.Decimal
	PeriodStart         time.Time
	PeriodEnd           time.Time
	Now                 time.Time
	Coupon              *CouponTerms
}

type PreviewRequest struct {
	SubscriptionID  snowflake.ID
	NewTierPriceUSD decimal.Decimal
}

// Service computes tier-change proration. Calculate is pure; Preview resolves
// the subscriber's effective price and active coupon first.
type Service interface {
	Calculate(input CalculateInput) (Result, error)
	Preview(ctx context.Context, req PreviewRequest) (Result, error)
}

// SubscriptionStore is the read contract onto subscription state owned by an
// external collaborator.
type SubscriptionStore interface {
	// GetCurrentTierPrice returns the effective monthly USD price the
	// subscriber currently pays.
	GetCurrentTierPrice(ctx context.Context, subscriptionID snowflake.ID) (decimal.Decimal, error)
	// GetActiveCoupon returns the coupon redeemed on the subscription, or
	// nil when none is active.
	GetActiveCoupon(ctx context.Context, subscriptionID snowflake.ID) (*CouponTerms, error)
}

var ErrSubscriptionStoreUnavailable = errors.New("subscription_store_unavailable")
