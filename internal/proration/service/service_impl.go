package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inferbill/inferbill/internal/clock"
	prorationdomain "github.com/inferbill/inferbill/internal/proration/domain"
)

const hoursPerDay = 24

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Subs  prorationdomain.SubscriptionStore `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	subs  prorationdomain.SubscriptionStore
}

func NewService(p Params) prorationdomain.Service {
	return &Service{
		log:   p.Log.Named("proration.service"),
		clock: p.Clock,
		subs:  p.Subs,
	}
}

// Calculate computes the one-time charge for a mid-cycle tier change.
// Intermediate values stay at full precision; only the returned monetary
// fields are rounded, to 2 decimal places, so rounding error never compounds.
func (s *Service) Calculate(input prorationdomain.CalculateInput) (prorationdomain.Result, error) {
	if !input.PeriodEnd.After(input.PeriodStart) {
		return prorationdomain.Result{}, prorationdomain.ErrInvalidPeriod
	}
	if input.CurrentTierPriceUSD.IsNegative() || input.NewTierPriceUSD.IsNegative() {
		return prorationdomain.Result{}, prorationdomain.ErrInvalidPrice
	}
	if err := validateCoupon(input.Coupon); err != nil {
		return prorationdomain.Result{}, err
	}

	daysInCycle := ceilDays(input.PeriodEnd.Sub(input.PeriodStart))
	daysRemaining := ceilDays(input.PeriodEnd.Sub(input.Now))
	if daysRemaining > daysInCycle {
		daysRemaining = daysInCycle
	}

	ratio := decimal.NewFromInt(int64(daysRemaining)).
		Div(decimal.NewFromInt(int64(daysInCycle)))

	unusedCredit := ratio.Mul(input.CurrentTierPriceUSD)
	newProrated := ratio.Mul(input.NewTierPriceUSD)
	discount := couponDiscount(input.Coupon, newProrated)

	netCharge := newProrated.Sub(unusedCredit).Sub(discount)
	if netCharge.IsNegative() {
		// Overshoot is forfeited: this path never issues a cash refund.
		netCharge = decimal.Zero
	}

	return prorationdomain.Result{
		UnusedCreditValueUSD:   unusedCredit.Round(2),
		NewTierProratedCostUSD: newProrated.Round(2),
		CouponDiscountUSD:      discount.Round(2),
		NetChargeUSD:           netCharge.Round(2),
		DaysRemaining:          daysRemaining,
		DaysInCycle:            daysInCycle,
	}, nil
}

func (s *Service) Preview(ctx context.Context, req prorationdomain.PreviewRequest) (prorationdomain.Result, error) {
	if s.subs == nil {
		return prorationdomain.Result{}, prorationdomain.ErrSubscriptionStoreUnavailable
	}

	currentPrice, err := s.subs.GetCurrentTierPrice(ctx, req.SubscriptionID)
	if err != nil {
		return prorationdomain.Result{}, err
	}
	coupon, err := s.subs.GetActiveCoupon(ctx, req.SubscriptionID)
	if err != nil {
		return prorationdomain.Result{}, err
	}

	// The preview anchors the cycle at the subscription's current period;
	// the store exposes only the price and coupon, so the caller-visible
	// period comes from the ledger's current account elsewhere. Here the
	// calendar month of now is the fallback cycle.
	now := s.clock.Now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	result, err := s.Calculate(prorationdomain.CalculateInput{
		CurrentTierPriceUSD: currentPrice,
		NewTierPriceUSD:     req.NewTierPriceUSD,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Now:                 now,
		Coupon:              coupon,
	})
	if err != nil {
		return prorationdomain.Result{}, err
	}

	s.log.Debug("proration preview",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("net_charge_usd", result.NetChargeUSD.String()),
		zap.Int("days_remaining", result.DaysRemaining),
	)
	return result, nil
}

func validateCoupon(coupon *prorationdomain.CouponTerms) error {
	if coupon == nil {
		return nil
	}
	switch coupon.Kind {
	case prorationdomain.CouponPercentage:
		if coupon.PercentOff.IsNegative() || coupon.PercentOff.GreaterThan(decimal.NewFromInt(100)) {
			return prorationdomain.ErrInvalidCoupon
		}
	case prorationdomain.CouponFixedAmount:
		if coupon.AmountOffUSD.IsNegative() {
			return prorationdomain.ErrInvalidCoupon
		}
	case prorationdomain.CouponDurationBonus:
		if coupon.BonusDays < 0 {
			return prorationdomain.ErrInvalidCoupon
		}
	default:
		return prorationdomain.ErrInvalidCoupon
	}
	return nil
}

func couponDiscount(coupon *prorationdomain.CouponTerms, newProrated decimal.Decimal) decimal.Decimal {
	if coupon == nil {
		return decimal.Zero
	}
	switch coupon.Kind {
	case prorationdomain.CouponPercentage:
		return newProrated.Mul(coupon.PercentOff).Div(decimal.NewFromInt(100))
	case prorationdomain.CouponFixedAmount:
		if coupon.AmountOffUSD.GreaterThan(newProrated) {
			return newProrated
		}
		return coupon.AmountOffUSD
	default:
		// Duration bonuses extend the period; the charge is untouched.
		return decimal.Zero
	}
}

// ceilDays counts partial days as whole days, matching how billing periods
// are quoted to subscribers.
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	day := hoursPerDay * time.Hour
	return int((d + day - 1) / day)
}
