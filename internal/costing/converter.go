// Package costing converts raw token usage into vendor cost and credit
// deductions. All arithmetic is decimal until the final integer credit
// ceilings; nothing here touches storage.
package costing

import (
	"errors"

	"github.com/shopspring/decimal"

	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
)

// creditsPerUSD encodes the fixed exchange rate of 1 credit = $0.01. It is a
// system-wide constant, not configuration: historic usage records already
// embed it.
const creditsPerUSD = 100

const tokensPerK = 1000

var (
	ErrNegativeTokens  = errors.New("negative_token_count")
	ErrCachedExceedsIn = errors.New("cached_tokens_exceed_input")
	ErrInvalidMargin   = errors.New("invalid_margin_multiplier")
)

// TokenUsage is the token-count output of a completed inference request.
type TokenUsage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
}

// Conversion is the full charge breakdown for one request.
type Conversion struct {
	VendorCostUSD  decimal.Decimal
	CreditsTotal   int64
	InputCredits   int64
	OutputCredits  int64
	GrossMarginUSD decimal.Decimal
}

// Converter is the stateless cost-conversion layer.
type Converter struct{}

func NewConverter() *Converter { return &Converter{} }

// Convert computes vendor cost, total credits, the input/output credit split,
// and gross margin for actual usage.
//
// With explicit per-K rates the two sides are priced independently off the
// retail credit table and need not sum to CreditsTotal. The proportional
// fallback ceils each side's share independently, so the parts may sum to one
// more than the total; that overcount is bounded and deliberately not
// redistributed.
func (c *Converter) Convert(usage TokenUsage, pricing pricingdomain.PricingEntry, margin float64, split pricingdomain.CreditSplit) (Conversion, error) {
	if usage.InputTokens < 0 || usage.OutputTokens < 0 || usage.CachedInputTokens < 0 {
		return Conversion{}, ErrNegativeTokens
	}
	if usage.CachedInputTokens > usage.InputTokens {
		return Conversion{}, ErrCachedExceedsIn
	}
	if margin < 1.0 {
		return Conversion{}, ErrInvalidMargin
	}

	vendorCost := vendorCostUSD(usage, pricing)
	creditsTotal := creditsFromVendorCost(vendorCost, margin)

	grossMargin := decimal.NewFromInt(creditsTotal).
		Div(decimal.NewFromInt(creditsPerUSD)).
		Sub(vendorCost)

	inputCredits, outputCredits := splitCredits(usage, creditsTotal, split)

	return Conversion{
		VendorCostUSD:  vendorCost,
		CreditsTotal:   creditsTotal,
		InputCredits:   inputCredits,
		OutputCredits:  outputCredits,
		GrossMarginUSD: grossMargin,
	}, nil
}

// Estimate prices expected token counts ahead of the vendor call, for the
// pre-flight affordability gate. Cache hits are unknown at this point and
// assumed absent, which keeps the estimate conservative.
func (c *Converter) Estimate(inputTokens, outputTokens int64, pricing pricingdomain.PricingEntry, margin float64) (int64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, ErrNegativeTokens
	}
	if margin < 1.0 {
		return 0, ErrInvalidMargin
	}
	cost := vendorCostUSD(TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens}, pricing)
	return creditsFromVendorCost(cost, margin), nil
}

func vendorCostUSD(usage TokenUsage, pricing pricingdomain.PricingEntry) decimal.Decimal {
	perK := decimal.NewFromInt(tokensPerK)

	standardInput := usage.InputTokens - usage.CachedInputTokens
	cost := decimal.NewFromInt(standardInput).Mul(pricing.InputPricePerK).Div(perK)

	if usage.CachedInputTokens > 0 {
		cacheRate := pricing.InputPricePerK
		if pricing.CacheReadPricePerK.Valid {
			cacheRate = pricing.CacheReadPricePerK.Decimal
		}
		cost = cost.Add(decimal.NewFromInt(usage.CachedInputTokens).Mul(cacheRate).Div(perK))
	}

	cost = cost.Add(decimal.NewFromInt(usage.OutputTokens).Mul(pricing.OutputPricePerK).Div(perK))
	return cost
}

func creditsFromVendorCost(vendorCost decimal.Decimal, margin float64) int64 {
	return vendorCost.
		Mul(decimal.NewFromFloat(margin)).
		Mul(decimal.NewFromInt(creditsPerUSD)).
		Ceil().
		IntPart()
}

func splitCredits(usage TokenUsage, creditsTotal int64, split pricingdomain.CreditSplit) (int64, int64) {
	if split.Mode == pricingdomain.SplitExplicitPerK {
		return perKCredits(usage.InputTokens, split.InputCreditsPerK),
			perKCredits(usage.OutputTokens, split.OutputCreditsPerK)
	}

	totalTokens := usage.InputTokens + usage.OutputTokens
	if totalTokens == 0 {
		return 0, 0
	}
	return ceilShare(usage.InputTokens, creditsTotal, totalTokens),
		ceilShare(usage.OutputTokens, creditsTotal, totalTokens)
}

func perKCredits(tokens int64, ratePerK float64) int64 {
	if tokens == 0 {
		return 0
	}
	return decimal.NewFromInt(tokens).
		Mul(decimal.NewFromFloat(ratePerK)).
		Div(decimal.NewFromInt(tokensPerK)).
		Ceil().
		IntPart()
}

// ceilShare computes ceil(tokens/totalTokens * credits) in integer
// arithmetic, avoiding decimal division artifacts on exact fractions.
func ceilShare(tokens, credits, totalTokens int64) int64 {
	if tokens == 0 || credits == 0 {
		return 0
	}
	return (tokens*credits + totalTokens - 1) / totalTokens
}
