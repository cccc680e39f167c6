// Package domain defines the tier-change proration contract.
package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// CouponKind discriminates how a coupon modifies a tier-change charge.
type CouponKind string

const (
	// CouponPercentage discounts the prorated new-tier cost by a percent.
	CouponPercentage CouponKind = "percentage"
	// CouponFixedAmount subtracts a flat USD amount, capped at the
	// prorated new-tier cost.
	CouponFixedAmount CouponKind = "fixed_amount"
	// CouponDurationBonus extends the billing period instead of
	// discounting; it never changes the charge computed here.
	CouponDurationBonus CouponKind = "duration_bonus"
)

// CouponTerms are the redeemed terms of an active coupon.
type CouponTerms struct {
	Kind         CouponKind      `json:"kind"`
	PercentOff   decimal.Decimal `json:"percent_off"`
	AmountOffUSD decimal.Decimal `json:"amount_off_usd"`
	BonusDays    int             `json:"bonus_days"`
}

// Result is the one-time charge breakdown for a mid-cycle tier change. All
// monetary fields are rounded to 2 decimal places once, after the full
// computation.
type Result struct {
	UnusedCreditValueUSD   decimal.Decimal `json:"unused_credit_value_usd"`
	NewTierProratedCostUSD decimal.Decimal `json:"new_tier_prorated_cost_usd"`
	CouponDiscountUSD      decimal.Decimal `json:"coupon_discount_usd"`
	// NetChargeUSD is never negative: overshooting credit or discount is
	// forfeited, not refunded.
	NetChargeUSD  decimal.Decimal `json:"net_charge_usd"`
	DaysRemaining int             `json:"days_remaining"`
	DaysInCycle   int             `json:"days_in_cycle"`
}

var (
	ErrInvalidPeriod = errors.New("invalid_billing_period")
	ErrInvalidPrice  = errors.New("invalid_tier_price")
	ErrInvalidCoupon = errors.New("invalid_coupon_terms")
)
