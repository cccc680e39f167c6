// Package estimate composes the pricing catalog, cost converter, and credit
// ledger into the two request-facing flows: the pre-flight affordability
// estimate and the post-hoc charge.
package estimate

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inferbill/inferbill/internal/clock"
	"github.com/inferbill/inferbill/internal/config"
	"github.com/inferbill/inferbill/internal/costing"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
)

// TierResolver maps a user onto a subscription tier. The authoritative
// mapping lives with the subscription collaborator; the static fallback
// assumes the configured default tier.
type TierResolver interface {
	ResolveTier(ctx context.Context, userID snowflake.ID) (string, error)
}

type staticTierResolver struct {
	tier string
}

func (r staticTierResolver) ResolveTier(context.Context, snowflake.ID) (string, error) {
	return r.tier, nil
}

// NewStaticTierResolver pins every user to one tier.
func NewStaticTierResolver(tier string) TierResolver {
	return staticTierResolver{tier: tier}
}

type EstimateRequest struct {
	UserID       snowflake.ID
	ModelID      string
	ProviderID   string
	InputTokens  int64
	OutputTokens int64
}

type EstimateResponse struct {
	Tier             string                    `json:"tier"`
	MarginMultiplier float64                   `json:"margin_multiplier"`
	EstimatedCredits int64                     `json:"estimated_credits"`
	Affordability    ledgerdomain.Affordability `json:"affordability"`
}

type ChargeRequest struct {
	UserID             snowflake.ID
	RequestID          string
	ModelID            string
	ProviderID         string
	Usage              costing.TokenUsage
	Status             ledgerdomain.UsageRecordStatus
	RequestStartedAt   time.Time
	RequestCompletedAt time.Time
}

type ChargeResponse struct {
	Account    *ledgerdomain.CreditAccount
	Conversion costing.Conversion
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	Clock     clock.Clock
	Catalog   pricingdomain.Catalog
	Converter *costing.Converter
	Ledger    ledgerdomain.Service
	Tiers     TierResolver `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	catalog   pricingdomain.Catalog
	converter *costing.Converter
	ledger    ledgerdomain.Service
	tiers     TierResolver
}

func NewService(p Params) *Service {
	tiers := p.Tiers
	if tiers == nil {
		tiers = NewStaticTierResolver(p.Cfg.DefaultTier)
	}
	return &Service{
		log:       p.Log.Named("estimate.service"),
		clock:     p.Clock,
		catalog:   p.Catalog,
		converter: p.Converter,
		ledger:    p.Ledger,
		tiers:     tiers,
	}
}

// Estimate prices the expected token counts and checks the balance against
// them. Advisory only: no credits are reserved.
func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (EstimateResponse, error) {
	tier, err := s.tiers.ResolveTier(ctx, req.UserID)
	if err != nil {
		return EstimateResponse{}, err
	}

	now := s.clock.Now().UTC()
	pricing, err := s.catalog.ResolvePrice(ctx, req.ModelID, req.ProviderID, now)
	if err != nil {
		return EstimateResponse{}, err
	}
	margin, err := s.catalog.ResolveMarginMultiplier(ctx, tier, req.ProviderID, req.ModelID)
	if err != nil {
		return EstimateResponse{}, err
	}

	estimated, err := s.converter.Estimate(req.InputTokens, req.OutputTokens, *pricing, margin)
	if err != nil {
		return EstimateResponse{}, err
	}

	affordability, err := s.ledger.CheckAffordable(ctx, req.UserID, creditTypeForTier(tier), estimated)
	if err != nil {
		return EstimateResponse{}, err
	}

	return EstimateResponse{
		Tier:             tier,
		MarginMultiplier: margin,
		EstimatedCredits: estimated,
		Affordability:    affordability,
	}, nil
}

// Charge converts the actual usage of a completed request and deducts it
// atomically. Pricing resolves at the request start time so a price change
// mid-request never applies retroactively.
func (s *Service) Charge(ctx context.Context, req ChargeRequest) (ChargeResponse, error) {
	tier, err := s.tiers.ResolveTier(ctx, req.UserID)
	if err != nil {
		return ChargeResponse{}, err
	}

	at := req.RequestStartedAt
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}
	pricing, err := s.catalog.ResolvePrice(ctx, req.ModelID, req.ProviderID, at)
	if err != nil {
		return ChargeResponse{}, err
	}
	margin, err := s.catalog.ResolveMarginMultiplier(ctx, tier, req.ProviderID, req.ModelID)
	if err != nil {
		return ChargeResponse{}, err
	}
	meta, err := s.catalog.ResolveModelMeta(ctx, req.ModelID)
	if err != nil {
		return ChargeResponse{}, err
	}

	conversion, err := s.converter.Convert(req.Usage, *pricing, margin, meta.Split())
	if err != nil {
		return ChargeResponse{}, err
	}

	completedAt := req.RequestCompletedAt
	if completedAt.IsZero() {
		completedAt = s.clock.Now().UTC()
	}

	account, err := s.ledger.DeductAtomically(ctx, ledgerdomain.DeductRequest{
		UserID:     req.UserID,
		CreditType: creditTypeForTier(tier),
		Credits:    conversion.CreditsTotal,
		RequestID:  req.RequestID,
		Usage: ledgerdomain.UsageRecord{
			ModelID:            req.ModelID,
			ProviderID:         req.ProviderID,
			InputTokens:        req.Usage.InputTokens,
			OutputTokens:       req.Usage.OutputTokens,
			CachedInputTokens:  req.Usage.CachedInputTokens,
			VendorCostUSD:      conversion.VendorCostUSD,
			MarginMultiplier:   margin,
			InputCredits:       conversion.InputCredits,
			OutputCredits:      conversion.OutputCredits,
			GrossMarginUSD:     conversion.GrossMarginUSD,
			Status:             req.Status,
			RequestStartedAt:   at,
			RequestCompletedAt: completedAt,
		},
	})
	if err != nil {
		return ChargeResponse{}, err
	}

	return ChargeResponse{Account: account, Conversion: conversion}, nil
}

// creditTypeForTier maps the free tier onto free credits; every paid tier
// spends pro credits.
func creditTypeForTier(tier string) ledgerdomain.CreditType {
	if tier == "free" {
		return ledgerdomain.CreditTypeFree
	}
	return ledgerdomain.CreditTypePro
}
