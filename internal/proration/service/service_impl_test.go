package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inferbill/inferbill/internal/clock"
	prorationdomain "github.com/inferbill/inferbill/internal/proration/domain"
)

type subscriptionStoreMock struct {
	mock.Mock
}

func (m *subscriptionStoreMock) GetCurrentTierPrice(ctx context.Context, subscriptionID snowflake.ID) (decimal.Decimal, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *subscriptionStoreMock) GetActiveCoupon(ctx context.Context, subscriptionID snowflake.ID) (*prorationdomain.CouponTerms, error) {
	args := m.Called(ctx, subscriptionID)
	coupon := args.Get(0)
	if coupon == nil {
		return nil, args.Error(1)
	}
	return coupon.(*prorationdomain.CouponTerms), args.Error(1)
}

func newCalculator(t *testing.T, subs prorationdomain.SubscriptionStore, now time.Time) prorationdomain.Service {
	t.Helper()
	return NewService(Params{
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(now),
		Subs:  subs,
	})
}

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate(t *testing.T) {
	// January cycle: Jan 1 - Feb 1, 31 days.
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input prorationdomain.CalculateInput
		want  prorationdomain.Result
	}{
		{
			// Pro $19 -> Pro Max $49 with 11 of 31 days remaining and a
			// 20% coupon on the new tier.
			name: "upgrade with percentage coupon",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("19"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
				Coupon: &prorationdomain.CouponTerms{
					Kind:       prorationdomain.CouponPercentage,
					PercentOff: usd("20"),
				},
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("6.74"),
				NewTierProratedCostUSD: usd("17.39"),
				CouponDiscountUSD:      usd("3.48"),
				NetChargeUSD:           usd("7.17"),
				DaysRemaining:          11,
				DaysInCycle:            31,
			},
		},
		{
			name: "upgrade without coupon",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("19"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("6.74"),
				NewTierProratedCostUSD: usd("17.39"),
				CouponDiscountUSD:      usd("0"),
				NetChargeUSD:           usd("10.65"),
				DaysRemaining:          11,
				DaysInCycle:            31,
			},
		},
		{
			// Downgrade: unused credit exceeds the new prorated cost; the
			// difference is forfeited, never refunded.
			name: "downgrade floors at zero",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("49"),
				NewTierPriceUSD:     usd("19"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("17.39"),
				NewTierProratedCostUSD: usd("6.74"),
				CouponDiscountUSD:      usd("0"),
				NetChargeUSD:           usd("0"),
				DaysRemaining:          11,
				DaysInCycle:            31,
			},
		},
		{
			name: "fixed amount coupon capped at prorated cost",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("0"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
				Coupon: &prorationdomain.CouponTerms{
					Kind:         prorationdomain.CouponFixedAmount,
					AmountOffUSD: usd("500"),
				},
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("0"),
				NewTierProratedCostUSD: usd("17.39"),
				CouponDiscountUSD:      usd("17.39"),
				NetChargeUSD:           usd("0"),
				DaysRemaining:          11,
				DaysInCycle:            31,
			},
		},
		{
			name: "duration bonus leaves the charge untouched",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("19"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
				Coupon: &prorationdomain.CouponTerms{
					Kind:      prorationdomain.CouponDurationBonus,
					BonusDays: 14,
				},
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("6.74"),
				NewTierProratedCostUSD: usd("17.39"),
				CouponDiscountUSD:      usd("0"),
				NetChargeUSD:           usd("10.65"),
				DaysRemaining:          11,
				DaysInCycle:            31,
			},
		},
		{
			// now past periodEnd clamps daysRemaining to zero.
			name: "change after period end charges nothing",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("19"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("0"),
				NewTierProratedCostUSD: usd("0"),
				CouponDiscountUSD:      usd("0"),
				NetChargeUSD:           usd("0"),
				DaysRemaining:          0,
				DaysInCycle:            31,
			},
		},
		{
			// now before periodStart clamps daysRemaining to the full cycle.
			name: "change before period start uses the full cycle",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("19"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("19"),
				NewTierProratedCostUSD: usd("49"),
				CouponDiscountUSD:      usd("0"),
				NetChargeUSD:           usd("30"),
				DaysRemaining:          31,
				DaysInCycle:            31,
			},
		},
		{
			// A partial trailing day counts as a whole remaining day.
			name: "partial day rounds up",
			input: prorationdomain.CalculateInput{
				CurrentTierPriceUSD: usd("19"),
				NewTierPriceUSD:     usd("49"),
				PeriodStart:         periodStart,
				PeriodEnd:           periodEnd,
				Now:                 time.Date(2026, 1, 20, 18, 30, 0, 0, time.UTC),
			},
			want: prorationdomain.Result{
				UnusedCreditValueUSD:   usd("7.35"),
				NewTierProratedCostUSD: usd("18.97"),
				CouponDiscountUSD:      usd("0"),
				NetChargeUSD:           usd("11.61"),
				DaysRemaining:          12,
				DaysInCycle:            31,
			},
		},
	}

	svc := newCalculator(t, nil, time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Calculate(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.UnusedCreditValueUSD.Equal(got.UnusedCreditValueUSD),
				"unused credit: want %s got %s", tt.want.UnusedCreditValueUSD, got.UnusedCreditValueUSD)
			assert.True(t, tt.want.NewTierProratedCostUSD.Equal(got.NewTierProratedCostUSD),
				"new tier prorated: want %s got %s", tt.want.NewTierProratedCostUSD, got.NewTierProratedCostUSD)
			assert.True(t, tt.want.CouponDiscountUSD.Equal(got.CouponDiscountUSD),
				"coupon discount: want %s got %s", tt.want.CouponDiscountUSD, got.CouponDiscountUSD)
			assert.True(t, tt.want.NetChargeUSD.Equal(got.NetChargeUSD),
				"net charge: want %s got %s", tt.want.NetChargeUSD, got.NetChargeUSD)
			assert.False(t, got.NetChargeUSD.IsNegative())
			assert.Equal(t, tt.want.DaysRemaining, got.DaysRemaining)
			assert.Equal(t, tt.want.DaysInCycle, got.DaysInCycle)
		})
	}
}

func TestCalculate_Validation(t *testing.T) {
	svc := newCalculator(t, nil, time.Now())
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Calculate(prorationdomain.CalculateInput{
		CurrentTierPriceUSD: usd("19"),
		NewTierPriceUSD:     usd("49"),
		PeriodStart:         periodEnd,
		PeriodEnd:           periodStart,
		Now:                 periodStart,
	})
	assert.ErrorIs(t, err, prorationdomain.ErrInvalidPeriod)

	_, err = svc.Calculate(prorationdomain.CalculateInput{
		CurrentTierPriceUSD: usd("-1"),
		NewTierPriceUSD:     usd("49"),
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Now:                 periodStart,
	})
	assert.ErrorIs(t, err, prorationdomain.ErrInvalidPrice)

	_, err = svc.Calculate(prorationdomain.CalculateInput{
		CurrentTierPriceUSD: usd("19"),
		NewTierPriceUSD:     usd("49"),
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Now:                 periodStart,
		Coupon: &prorationdomain.CouponTerms{
			Kind:       prorationdomain.CouponPercentage,
			PercentOff: usd("140"),
		},
	})
	assert.ErrorIs(t, err, prorationdomain.ErrInvalidCoupon)

	_, err = svc.Calculate(prorationdomain.CalculateInput{
		CurrentTierPriceUSD: usd("19"),
		NewTierPriceUSD:     usd("49"),
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Now:                 periodStart,
		Coupon:              &prorationdomain.CouponTerms{Kind: "bogus"},
	})
	assert.ErrorIs(t, err, prorationdomain.ErrInvalidCoupon)
}

func TestPreview(t *testing.T) {
	now := time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC)
	subID := snowflake.ID(42)

	t.Run("resolves price and coupon from the store", func(t *testing.T) {
		store := &subscriptionStoreMock{}
		store.On("GetCurrentTierPrice", mock.Anything, subID).Return(usd("19"), nil)
		store.On("GetActiveCoupon", mock.Anything, subID).Return(&prorationdomain.CouponTerms{
			Kind:       prorationdomain.CouponPercentage,
			PercentOff: usd("20"),
		}, nil)

		svc := newCalculator(t, store, now)
		result, err := svc.Preview(context.Background(), prorationdomain.PreviewRequest{
			SubscriptionID:  subID,
			NewTierPriceUSD: usd("49"),
		})
		require.NoError(t, err)
		assert.True(t, usd("7.17").Equal(result.NetChargeUSD), "got %s", result.NetChargeUSD)
		store.AssertExpectations(t)
	})

	t.Run("fails without a store", func(t *testing.T) {
		svc := newCalculator(t, nil, now)
		_, err := svc.Preview(context.Background(), prorationdomain.PreviewRequest{
			SubscriptionID:  subID,
			NewTierPriceUSD: usd("49"),
		})
		assert.ErrorIs(t, err, prorationdomain.ErrSubscriptionStoreUnavailable)
	})
}
