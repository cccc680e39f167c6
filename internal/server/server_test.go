package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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
	"github.com/inferbill/inferbill/internal/estimate"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	ledgerrepository "github.com/inferbill/inferbill/internal/ledger/repository"
	ledgerservice "github.com/inferbill/inferbill/internal/ledger/service"
	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
	prorationservice "github.com/inferbill/inferbill/internal/proration/service"
	webhookdomain "github.com/inferbill/inferbill/internal/webhook/domain"
	webhookservice "github.com/inferbill/inferbill/internal/webhook/service"
)

type catalogStub struct {
	mock.Mock
}

func (m *catalogStub) ResolvePrice(ctx context.Context, modelID, providerID string, at time.Time) (*pricingdomain.PricingEntry, error) {
	args := m.Called(ctx, modelID, providerID, at)
	entry := args.Get(0)
	if entry == nil {
		return nil, args.Error(1)
	}
	return entry.(*pricingdomain.PricingEntry), args.Error(1)
}

func (m *catalogStub) ResolveMarginMultiplier(ctx context.Context, tier, providerID, modelID string) (float64, error) {
	args := m.Called(ctx, tier, providerID, modelID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *catalogStub) ResolveModelMeta(ctx context.Context, modelID string) (pricingdomain.ModelMeta, error) {
	args := m.Called(ctx, modelID)
	return args.Get(0).(pricingdomain.ModelMeta), args.Error(1)
}

func (m *catalogStub) CreatePricingEntry(context.Context, pricingdomain.CreatePricingEntryRequest) (*pricingdomain.PricingEntry, error) {
	return nil, nil
}

func (m *catalogStub) UpsertTierMargin(context.Context, pricingdomain.UpsertTierMarginRequest) (*pricingdomain.TierMargin, error) {
	return nil, nil
}

func (m *catalogStub) UpsertModelMeta(context.Context, pricingdomain.UpsertModelMetaRequest) (*pricingdomain.ModelMeta, error) {
	return nil, nil
}

type serverFixture struct {
	srv     *Server
	engine  *gin.Engine
	ledger  ledgerdomain.Service
	catalog *catalogStub
	genID   *snowflake.Node
	clock   *clock.FakeClock
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.CreditAccount{},
		&ledgerdomain.UsageRecord{},
		&webhookdomain.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{DefaultTier: "pro", HTTPAddr: ":0"}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
		Repo:  ledgerrepository.New(),
	})
	catalog := &catalogStub{}
	estimateSvc := estimate.NewService(estimate.Params{
		Log:       log,
		Cfg:       cfg,
		Clock:     fc,
		Catalog:   catalog,
		Converter: costing.NewConverter(),
		Ledger:    ledgerSvc,
	})
	prorationSvc := prorationservice.NewService(prorationservice.Params{
		Log:   log,
		Clock: fc,
	})
	dispatcher := webhookservice.NewService(webhookservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
	})

	engine := NewEngine(log, nil)
	srv := NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		Log:          log,
		GenID:        node,
		EstimateSvc:  estimateSvc,
		LedgerSvc:    ledgerSvc,
		CatalogSvc:   catalog,
		ProrationSvc: prorationSvc,
		Dispatcher:   dispatcher,
	})

	return &serverFixture{
		srv:     srv,
		engine:  engine,
		ledger:  ledgerSvc,
		catalog: catalog,
		genID:   node,
		clock:   fc,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, userID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-User-Id", userID.String())
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *serverFixture) allocate(t *testing.T, userID snowflake.ID, total int64) {
	t.Helper()
	now := f.clock.Now()
	w := f.do(t, http.MethodPost, "/admin/credits/allocate", 0, gin.H{
		"user_id":       userID.String(),
		"credit_type":   "pro",
		"total_credits": total,
		"period_start":  now.Format(time.RFC3339),
		"period_end":    now.AddDate(0, 1, 0).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (f *serverFixture) stubCatalog(margin float64) {
	f.catalog.On("ResolvePrice", mock.Anything, "gpt-4o", "openai", mock.Anything).Return(&pricingdomain.PricingEntry{
		ID:              snowflake.ID(1),
		ModelID:         "gpt-4o",
		ProviderID:      "openai",
		InputPricePerK:  decimal.RequireFromString("0.01"),
		OutputPricePerK: decimal.RequireFromString("0.03"),
		EffectiveFrom:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil)
	f.catalog.On("ResolveMarginMultiplier", mock.Anything, "pro", "openai", "gpt-4o").Return(margin, nil)
	f.catalog.On("ResolveModelMeta", mock.Anything, "gpt-4o").Return(pricingdomain.ModelMeta{ModelID: "gpt-4o"}, nil)
}

func TestAuthRequired(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, http.MethodGet, "/v1/credits/balance", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/v1/usage/estimate", 0, gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	f := newServerFixture(t)
	userID := f.genID.Generate()
	f.allocate(t, userID, 500)

	w := f.do(t, http.MethodGet, "/v1/credits/balance?credit_type=pro", userID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(500), resp.Balance)
	assert.Equal(t, "pro", resp.CreditType)

	// No account for this user yet.
	w = f.do(t, http.MethodGet, "/v1/credits/balance", f.genID.Generate(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEstimateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	userID := f.genID.Generate()
	f.allocate(t, userID, 100)
	f.stubCatalog(1.5)

	w := f.do(t, http.MethodPost, "/v1/usage/estimate", userID, gin.H{
		"model_id":      "gpt-4o",
		"provider_id":   "openai",
		"input_tokens":  1000,
		"output_tokens": 500,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp estimate.EstimateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.EstimatedCredits)
	assert.True(t, resp.Affordability.Sufficient)
}

func TestChargeEndpoint(t *testing.T) {
	f := newServerFixture(t)
	userID := f.genID.Generate()
	f.allocate(t, userID, 100)
	f.stubCatalog(1.5)

	body := gin.H{
		"request_id":    "req-http-1",
		"model_id":      "gpt-4o",
		"provider_id":   "openai",
		"input_tokens":  1000,
		"output_tokens": 500,
	}

	w := f.do(t, http.MethodPost, "/v1/usage/charge", userID, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp chargeUsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.CreditsDeducted)
	assert.Equal(t, int64(96), resp.Balance)

	// Replay with the same request id deducts nothing further.
	w = f.do(t, http.MethodPost, "/v1/usage/charge", userID, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(96), resp.Balance)
}

func TestChargeInsufficientCredits(t *testing.T) {
	f := newServerFixture(t)
	userID := f.genID.Generate()
	f.allocate(t, userID, 1)
	f.stubCatalog(1.5)

	w := f.do(t, http.MethodPost, "/v1/usage/charge", userID, gin.H{
		"request_id":    "req-http-poor",
		"model_id":      "gpt-4o",
		"provider_id":   "openai",
		"input_tokens":  1000,
		"output_tokens": 500,
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_credits", resp.Error.Type)
	assert.False(t, resp.Error.Retryable)
}

func TestProrationPreviewEndpoint(t *testing.T) {
	f := newServerFixture(t)

	// No subscription store wired: the preview endpoint degrades to 500.
	w := f.do(t, http.MethodPost, "/admin/proration/preview", 0, gin.H{
		"subscription_id":    "42",
		"new_tier_price_usd": "49",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = f.do(t, http.MethodPost, "/admin/proration/preview", 0, gin.H{
		"subscription_id":    "42",
		"new_tier_price_usd": "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookOutboxEndpoints(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, f.srv.dispatcher.Queue(context.Background(), f.genID.Generate(), "credits.low", map[string]any{"balance": int64(5)}))

	w := f.do(t, http.MethodPost, "/internal/webhooks/claim", 0, gin.H{"limit": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var claimResp struct {
		Events []webhookdomain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimResp))
	require.Len(t, claimResp.Events, 1)

	path := fmt.Sprintf("/internal/webhooks/%s/delivered", claimResp.Events[0].EventID)
	w = f.do(t, http.MethodPost, path, 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/internal/webhooks/no-such-event/failed", 0, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
