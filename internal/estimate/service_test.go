package estimate

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inferbill/inferbill/internal/clock"
	"github.com/inferbill/inferbill/internal/config"
	"github.com/inferbill/inferbill/internal/costing"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	ledgerrepository "github.com/inferbill/inferbill/internal/ledger/repository"
	ledgerservice "github.com/inferbill/inferbill/internal/ledger/service"
	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
)

type catalogMock struct {
	mock.Mock
}

func (m *catalogMock) ResolvePrice(ctx context.Context, modelID, providerID string, at time.Time) (*pricingdomain.PricingEntry, error) {
	args := m.Called(ctx, modelID, providerID, at)
	entry := args.Get(0)
	if entry == nil {
		return nil, args.Error(1)
	}
	return entry.(*pricingdomain.PricingEntry), args.Error(1)
}

func (m *catalogMock) ResolveMarginMultiplier(ctx context.Context, tier, providerID, modelID string) (float64, error) {
	args := m.Called(ctx, tier, providerID, modelID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *catalogMock) ResolveModelMeta(ctx context.Context, modelID string) (pricingdomain.ModelMeta, error) {
	args := m.Called(ctx, modelID)
	return args.Get(0).(pricingdomain.ModelMeta), args.Error(1)
}

func (m *catalogMock) CreatePricingEntry(context.Context, pricingdomain.CreatePricingEntryRequest) (*pricingdomain.PricingEntry, error) {
	return nil, nil
}

func (m *catalogMock) UpsertTierMargin(context.Context, pricingdomain.UpsertTierMarginRequest) (*pricingdomain.TierMargin, error) {
	return nil, nil
}

func (m *catalogMock) UpsertModelMeta(context.Context, pricingdomain.UpsertModelMetaRequest) (*pricingdomain.ModelMeta, error) {
	return nil, nil
}

func gpt4oPricing() *pricingdomain.PricingEntry {
	return &pricingdomain.PricingEntry{
		ID:              snowflake.ID(1),
		ModelID:         "gpt-4o",
		ProviderID:      "openai",
		InputPricePerK:  decimal.RequireFromString("0.01"),
		OutputPricePerK: decimal.RequireFromString("0.03"),
		EffectiveFrom:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newEstimateFixture(t *testing.T) (*Service, ledgerdomain.Service, *catalogMock, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.CreditAccount{}, &ledgerdomain.UsageRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  ledgerrepository.New(),
	})

	catalog := &catalogMock{}
	svc := NewService(Params{
		Log:       zap.NewNop(),
		Cfg:       config.Config{DefaultTier: "pro"},
		Clock:     fc,
		Catalog:   catalog,
		Converter: costing.NewConverter(),
		Ledger:    ledger,
	})
	return svc, ledger, catalog, node, fc
}

func allocatePro(t *testing.T, ledger ledgerdomain.Service, fc *clock.FakeClock, userID snowflake.ID, total int64) {
	t.Helper()
	now := fc.Now()
	_, err := ledger.Allocate(context.Background(), ledgerdomain.AllocateRequest{
		UserID:       userID,
		CreditType:   ledgerdomain.CreditTypePro,
		TotalCredits: total,
		PeriodStart:  now,
		PeriodEnd:    now.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
}

func TestEstimate(t *testing.T) {
	ctx := context.Background()

	t.Run("prices the expected tokens and reports affordability", func(t *testing.T) {
		svc, ledger, catalog, node, fc := newEstimateFixture(t)
		userID := node.Generate()
		allocatePro(t, ledger, fc, userID, 100)

		catalog.On("ResolvePrice", mock.Anything, "gpt-4o", "openai", mock.Anything).Return(gpt4oPricing(), nil)
		catalog.On("ResolveMarginMultiplier", mock.Anything, "pro", "openai", "gpt-4o").Return(1.5, nil)

		// 1000 in at $0.01/K + 500 out at $0.03/K = $0.025 vendor cost;
		// *1.5 margin *100 credits/USD, ceiled = 4 credits.
		resp, err := svc.Estimate(ctx, EstimateRequest{
			UserID:       userID,
			ModelID:      "gpt-4o",
			ProviderID:   "openai",
			InputTokens:  1000,
			OutputTokens: 500,
		})
		require.NoError(t, err)
		assert.Equal(t, "pro", resp.Tier)
		assert.Equal(t, int64(4), resp.EstimatedCredits)
		assert.True(t, resp.Affordability.Sufficient)
		assert.Equal(t, int64(100), resp.Affordability.Balance)
	})

	t.Run("propagates missing pricing", func(t *testing.T) {
		svc, _, catalog, node, _ := newEstimateFixture(t)

		catalog.On("ResolvePrice", mock.Anything, "unknown", "openai", mock.Anything).
			Return(nil, pricingdomain.ErrPricingNotFound)

		_, err := svc.Estimate(ctx, EstimateRequest{
			UserID:      node.Generate(),
			ModelID:     "unknown",
			ProviderID:  "openai",
			InputTokens: 100,
		})
		assert.ErrorIs(t, err, pricingdomain.ErrPricingNotFound)
	})
}

func TestCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("converts actual usage and deducts atomically", func(t *testing.T) {
		svc, ledger, catalog, node, fc := newEstimateFixture(t)
		userID := node.Generate()
		allocatePro(t, ledger, fc, userID, 100)

		catalog.On("ResolvePrice", mock.Anything, "gpt-4o", "openai", mock.Anything).Return(gpt4oPricing(), nil)
		catalog.On("ResolveMarginMultiplier", mock.Anything, "pro", "openai", "gpt-4o").Return(1.5, nil)
		catalog.On("ResolveModelMeta", mock.Anything, "gpt-4o").Return(pricingdomain.ModelMeta{ModelID: "gpt-4o"}, nil)

		started := fc.Now().Add(-2 * time.Second)
		resp, err := svc.Charge(ctx, ChargeRequest{
			UserID:     userID,
			RequestID:  "req-charge-1",
			ModelID:    "gpt-4o",
			ProviderID: "openai",
			Usage: costing.TokenUsage{
				InputTokens:  1000,
				OutputTokens: 500,
			},
			Status:             ledgerdomain.UsageStatusSuccess,
			RequestStartedAt:   started,
			RequestCompletedAt: fc.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), resp.Conversion.CreditsTotal)
		assert.Equal(t, int64(4), resp.Account.UsedCredits)

		balance, err := ledger.GetActive(ctx, userID, ledgerdomain.CreditTypePro)
		require.NoError(t, err)
		assert.Equal(t, int64(96), balance.Remaining())
	})

	t.Run("pricing resolves at request start time", func(t *testing.T) {
		svc, ledger, catalog, node, fc := newEstimateFixture(t)
		userID := node.Generate()
		allocatePro(t, ledger, fc, userID, 100)

		started := time.Date(2026, 3, 10, 11, 59, 0, 0, time.UTC)
		catalog.On("ResolvePrice", mock.Anything, "gpt-4o", "openai", started).Return(gpt4oPricing(), nil)
		catalog.On("ResolveMarginMultiplier", mock.Anything, "pro", "openai", "gpt-4o").Return(1.0, nil)
		catalog.On("ResolveModelMeta", mock.Anything, "gpt-4o").Return(pricingdomain.ModelMeta{ModelID: "gpt-4o"}, nil)

		_, err := svc.Charge(ctx, ChargeRequest{
			UserID:           userID,
			RequestID:        "req-charge-2",
			ModelID:          "gpt-4o",
			ProviderID:       "openai",
			Usage:            costing.TokenUsage{InputTokens: 1000},
			Status:           ledgerdomain.UsageStatusSuccess,
			RequestStartedAt: started,
		})
		require.NoError(t, err)
		catalog.AssertCalled(t, "ResolvePrice", mock.Anything, "gpt-4o", "openai", started)
	})

	t.Run("insufficient balance surfaces without partial state", func(t *testing.T) {
		svc, ledger, catalog, node, fc := newEstimateFixture(t)
		userID := node.Generate()
		allocatePro(t, ledger, fc, userID, 1)

		catalog.On("ResolvePrice", mock.Anything, "gpt-4o", "openai", mock.Anything).Return(gpt4oPricing(), nil)
		catalog.On("ResolveMarginMultiplier", mock.Anything, "pro", "openai", "gpt-4o").Return(1.5, nil)
		catalog.On("ResolveModelMeta", mock.Anything, "gpt-4o").Return(pricingdomain.ModelMeta{ModelID: "gpt-4o"}, nil)

		_, err := svc.Charge(ctx, ChargeRequest{
			UserID:     userID,
			RequestID:  "req-charge-3",
			ModelID:    "gpt-4o",
			ProviderID: "openai",
			Usage:      costing.TokenUsage{InputTokens: 1000, OutputTokens: 500},
			Status:     ledgerdomain.UsageStatusSuccess,
		})
		assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)

		account, err := ledger.GetActive(ctx, userID, ledgerdomain.CreditTypePro)
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.UsedCredits)
	})
}
