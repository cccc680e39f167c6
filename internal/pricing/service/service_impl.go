package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inferbill/inferbill/internal/cache"
	"github.com/inferbill/inferbill/internal/config"
	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          pricingdomain.Repository
	ResolverCache cache.PricingResolverCache
	BillingCfg    *config.BillingConfigHolder `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          pricingdomain.Repository
	resolverCache cache.PricingResolverCache
	billingCfg    *config.BillingConfigHolder
}

func NewService(p Params) pricingdomain.Catalog {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("pricing.catalog"),
		genID:         p.GenID,
		repo:          p.Repo,
		resolverCache: p.ResolverCache,
		billingCfg:    p.BillingCfg,
	}
}

// ResolvePrice selects the entry whose effective window covers at. Ties
// (overlapping windows, which correct data should not produce) go to the
// latest effective_from.
func (s *Service) ResolvePrice(ctx context.Context, modelID, providerID string, at time.Time) (*pricingdomain.PricingEntry, error) {
	modelID = strings.TrimSpace(modelID)
	providerID = strings.TrimSpace(providerID)
	if modelID == "" {
		return nil, pricingdomain.ErrInvalidModel
	}
	if providerID == "" {
		return nil, pricingdomain.ErrInvalidProvider
	}

	entries, err := s.listEntries(ctx, modelID, providerID)
	if err != nil {
		return nil, err
	}

	var selected *pricingdomain.PricingEntry
	for i := range entries {
		entry := entries[i]
		if !entry.ActiveAt(at) {
			continue
		}
		if selected == nil || entry.EffectiveFrom.After(selected.EffectiveFrom) {
			selected = &entry
		}
	}
	if selected == nil {
		return nil, pricingdomain.ErrPricingNotFound
	}
	return selected, nil
}

// ResolveMarginMultiplier finds the multiplier for the tier, preferring the
// most specific row: (tier, provider, model), then (tier, provider), then the
// tier-wide default. A configured multiplier below 1.0 is rejected rather
// than applied.
func (s *Service) ResolveMarginMultiplier(ctx context.Context, tier, providerID, modelID string) (float64, error) {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return 0, pricingdomain.ErrInvalidTier
	}
	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)

	margins, err := s.listMargins(ctx, tier)
	if err != nil {
		return 0, err
	}

	var selected *pricingdomain.TierMargin
	for i := range margins {
		margin := margins[i]
		if margin.ProviderID != "" && margin.ProviderID != providerID {
			continue
		}
		if margin.ModelID != "" && margin.ModelID != modelID {
			continue
		}
		if selected == nil || specificity(margin) > specificity(*selected) {
			selected = &margin
		}
	}
	if selected == nil {
		return 0, pricingdomain.ErrMarginNotFound
	}
	if selected.Multiplier < 1.0 {
		s.log.Error("margin multiplier below 1.0 rejected",
			zap.String("tier", tier),
			zap.String("provider_id", providerID),
			zap.String("model_id", modelID),
			zap.Float64("multiplier", selected.Multiplier),
		)
		return 0, pricingdomain.ErrInvalidMargin
	}
	return selected.Multiplier, nil
}

// ResolveModelMeta returns the model's credit metadata. A model with no row
// resolves to the proportional fallback split.
func (s *Service) ResolveModelMeta(ctx context.Context, modelID string) (pricingdomain.ModelMeta, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return pricingdomain.ModelMeta{}, pricingdomain.ErrInvalidModel
	}

	if s.resolverCache != nil {
		if cached, ok := s.resolverCache.GetModelMeta(modelID); ok {
			return cached, nil
		}
	}

	meta, err := s.repo.FindModelMeta(ctx, s.db, modelID)
	if err != nil {
		return pricingdomain.ModelMeta{}, err
	}
	if meta == nil {
		meta = &pricingdomain.ModelMeta{ModelID: modelID}
	}
	if s.resolverCache != nil {
		s.resolverCache.SetModelMeta(modelID, *meta, s.metaTTL())
	}
	return *meta, nil
}

func (s *Service) CreatePricingEntry(ctx context.Context, req pricingdomain.CreatePricingEntryRequest) (*pricingdomain.PricingEntry, error) {
	modelID := strings.TrimSpace(req.ModelID)
	providerID := strings.TrimSpace(req.ProviderID)
	if modelID == "" {
		return nil, pricingdomain.ErrInvalidModel
	}
	if providerID == "" {
		return nil, pricingdomain.ErrInvalidProvider
	}
	inputPrice, err := parsePrice(req.InputPricePerK)
	if err != nil {
		return nil, err
	}
	outputPrice, err := parsePrice(req.OutputPricePerK)
	if err != nil {
		return nil, err
	}
	var cachePrice decimal.NullDecimal
	if req.CacheReadPricePerK != nil {
		parsed, err := parsePrice(*req.CacheReadPricePerK)
		if err != nil {
			return nil, err
		}
		cachePrice = decimal.NewNullDecimal(parsed)
	}
	if req.EffectiveFrom.IsZero() {
		return nil, pricingdomain.ErrInvalidPricingWindow
	}
	if req.EffectiveUntil != nil && !req.EffectiveUntil.After(req.EffectiveFrom) {
		return nil, pricingdomain.ErrInvalidPricingWindow
	}

	entry := &pricingdomain.PricingEntry{
		ID:                 s.genID.Generate(),
		ModelID:            modelID,
		ProviderID:         providerID,
		InputPricePerK:     inputPrice,
		OutputPricePerK:    outputPrice,
		CacheReadPricePerK: cachePrice,
		EffectiveFrom:      req.EffectiveFrom.UTC(),
		EffectiveUntil:     req.EffectiveUntil,
	}
	if err := s.repo.InsertEntry(ctx, s.db, entry); err != nil {
		return nil, err
	}
	if s.resolverCache != nil {
		s.resolverCache.InvalidateModel(modelID)
	}
	s.log.Info("pricing entry created",
		zap.String("model_id", modelID),
		zap.String("provider_id", providerID),
		zap.Time("effective_from", entry.EffectiveFrom),
	)
	return entry, nil
}

func (s *Service) UpsertTierMargin(ctx context.Context, req pricingdomain.UpsertTierMarginRequest) (*pricingdomain.TierMargin, error) {
	tier := strings.TrimSpace(req.Tier)
	if tier == "" {
		return nil, pricingdomain.ErrInvalidTier
	}
	if req.Multiplier < 1.0 {
		return nil, pricingdomain.ErrInvalidMargin
	}

	margin := &pricingdomain.TierMargin{
		ID:         s.genID.Generate(),
		Tier:       tier,
		ProviderID: strings.TrimSpace(req.ProviderID),
		ModelID:    strings.TrimSpace(req.ModelID),
		Multiplier: req.Multiplier,
	}
	if err := s.repo.UpsertMargin(ctx, s.db, margin); err != nil {
		return nil, err
	}
	if s.resolverCache != nil {
		s.resolverCache.InvalidateAll()
	}
	return margin, nil
}

func (s *Service) UpsertModelMeta(ctx context.Context, req pricingdomain.UpsertModelMetaRequest) (*pricingdomain.ModelMeta, error) {
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		return nil, pricingdomain.ErrInvalidModel
	}
	// Per-K rates come as a pair; a lone rate cannot drive the explicit
	// split and is a caller mistake.
	if (req.InputCreditsPerK == nil) != (req.OutputCreditsPerK == nil) {
		return nil, pricingdomain.ErrInvalidCreditRate
	}
	if req.InputCreditsPerK != nil && (*req.InputCreditsPerK < 0 || *req.OutputCreditsPerK < 0) {
		return nil, pricingdomain.ErrInvalidCreditRate
	}

	meta := &pricingdomain.ModelMeta{
		ID:                s.genID.Generate(),
		ModelID:           modelID,
		InputCreditsPerK:  req.InputCreditsPerK,
		OutputCreditsPerK: req.OutputCreditsPerK,
	}
	if err := s.repo.UpsertModelMeta(ctx, s.db, meta); err != nil {
		return nil, err
	}
	if s.resolverCache != nil {
		s.resolverCache.InvalidateModel(modelID)
	}
	return meta, nil
}

func (s *Service) listEntries(ctx context.Context, modelID, providerID string) ([]pricingdomain.PricingEntry, error) {
	if s.resolverCache != nil {
		if cached, ok := s.resolverCache.GetEntries(modelID, providerID); ok {
			return cached, nil
		}
	}
	entries, err := s.repo.ListEntries(ctx, s.db, modelID, providerID)
	if err != nil {
		return nil, err
	}
	if s.resolverCache != nil {
		s.resolverCache.SetEntries(modelID, providerID, entries, s.pricingTTL())
	}
	return entries, nil
}

func (s *Service) listMargins(ctx context.Context, tier string) ([]pricingdomain.TierMargin, error) {
	if s.resolverCache != nil {
		if cached, ok := s.resolverCache.GetMargins(tier); ok {
			return cached, nil
		}
	}
	margins, err := s.repo.ListMargins(ctx, s.db, tier)
	if err != nil {
		return nil, err
	}
	if s.resolverCache != nil {
		s.resolverCache.SetMargins(tier, margins, s.pricingTTL())
	}
	return margins, nil
}

func (s *Service) pricingTTL() time.Duration {
	if s.billingCfg != nil {
		return s.billingCfg.Get().PricingCacheTTL
	}
	return config.DefaultBillingConfig().PricingCacheTTL
}

func (s *Service) metaTTL() time.Duration {
	if s.billingCfg != nil {
		return s.billingCfg.Get().ModelMetaCacheTTL
	}
	return config.DefaultBillingConfig().ModelMetaCacheTTL
}

func specificity(margin pricingdomain.TierMargin) int {
	score := 0
	if margin.ProviderID != "" {
		score++
	}
	if margin.ModelID != "" {
		score += 2
	}
	return score
}

func parsePrice(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, pricingdomain.ErrInvalidPrice
	}
	if value.IsNegative() {
		return decimal.Zero, pricingdomain.ErrInvalidPrice
	}
	return value, nil
}
