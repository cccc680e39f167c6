package domain

import (
	"context"
	"errors"
	"time"
)

type CreatePricingEntryRequest struct {
	ModelID            string     `json:"model_id"`
	ProviderID         string     `json:"provider_id"`
	InputPricePerK     string     `json:"input_price_per_k"`
	OutputPricePerK    string     `json:"output_price_per_k"`
	CacheReadPricePerK *string    `json:"cache_read_price_per_k"`
	EffectiveFrom      time.Time  `json:"effective_from"`
	EffectiveUntil     *time.Time `json:"effective_until"`
}

type UpsertTierMarginRequest struct {
	Tier       string  `json:"tier"`
	ProviderID string  `json:"provider_id"`
	ModelID    string  `json:"model_id"`
	Multiplier float64 `json:"multiplier"`
}

type UpsertModelMetaRequest struct {
	ModelID           string   `json:"model_id"`
	InputCreditsPerK  *float64 `json:"input_credits_per_k"`
	OutputCreditsPerK *float64 `json:"output_credits_per_k"`
}

// Catalog resolves vendor pricing, tier margins, and model credit metadata.
// Reads are cached; admin writes invalidate the cache explicitly.
type Catalog interface {
	ResolvePrice(ctx context.Context, modelID, providerID string, at time.Time) (*PricingEntry, error)
	ResolveMarginMultiplier(ctx context.Context, tier, providerID, modelID string) (float64, error)
	ResolveModelMeta(ctx context.Context, modelID string) (ModelMeta, error)

	CreatePricingEntry(ctx context.Context, req CreatePricingEntryRequest) (*PricingEntry, error)
	UpsertTierMargin(ctx context.Context, req UpsertTierMarginRequest) (*TierMargin, error)
	UpsertModelMeta(ctx context.Context, req UpsertModelMetaRequest) (*ModelMeta, error)
}

var (
	// ErrPricingNotFound means no entry covers the request timestamp. The
	// request must abort; cost is never defaulted to zero.
	ErrPricingNotFound = errors.New("pricing_not_found")
	// ErrMarginNotFound means no margin row matches the tier at any
	// specificity level.
	ErrMarginNotFound = errors.New("margin_not_found")
	// ErrInvalidMargin flags a configured multiplier below 1.0 (selling at
	// a loss) or non-positive.
	ErrInvalidMargin = errors.New("invalid_margin_multiplier")

	ErrInvalidModel         = errors.New("invalid_model")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidTier          = errors.New("invalid_tier")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidPricingWindow = errors.New("invalid_pricing_window")
	ErrInvalidCreditRate    = errors.New("invalid_credit_rate")
)
