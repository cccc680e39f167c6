package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/inferbill/inferbill/internal/costing"
	"github.com/inferbill/inferbill/internal/estimate"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
)

type estimateUsageRequest struct {
	ModelID      string `json:"model_id" binding:"required"`
	ProviderID   string `json:"provider_id" binding:"required"`
	InputTokens  int64  `json:"input_tokens" binding:"min=0"`
	OutputTokens int64  `json:"output_tokens" binding:"min=0"`
}

// EstimateUsage prices expected token counts and reports whether the caller
// can afford them. Advisory: nothing is reserved.
func (s *Server) EstimateUsage(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req estimateUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.estimateSvc.Estimate(c.Request.Context(), estimate.EstimateRequest{
		UserID:       userID,
		ModelID:      strings.TrimSpace(req.ModelID),
		ProviderID:   strings.TrimSpace(req.ProviderID),
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type chargeUsageRequest struct {
	RequestID          string     `json:"request_id" binding:"required"`
	ModelID            string     `json:"model_id" binding:"required"`
	ProviderID         string     `json:"provider_id" binding:"required"`
	InputTokens        int64      `json:"input_tokens" binding:"min=0"`
	OutputTokens       int64      `json:"output_tokens" binding:"min=0"`
	CachedInputTokens  int64      `json:"cached_input_tokens" binding:"min=0"`
	Status             string     `json:"status"`
	RequestStartedAt   *time.Time `json:"request_started_at"`
	RequestCompletedAt *time.Time `json:"request_completed_at"`
}

type chargeUsageResponse struct {
	CreditsDeducted int64  `json:"credits_deducted"`
	InputCredits    int64  `json:"input_credits"`
	OutputCredits   int64  `json:"output_credits"`
	VendorCostUSD   string `json:"vendor_cost_usd"`
	Balance         int64  `json:"balance"`
}

// ChargeUsage converts the actual token usage of a completed request and
// deducts it atomically. Replays with a known request_id are idempotent.
func (s *Server) ChargeUsage(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req chargeUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	status := ledgerdomain.UsageRecordStatus(strings.TrimSpace(req.Status))
	if status == "" {
		status = ledgerdomain.UsageStatusSuccess
	}

	chargeReq := estimate.ChargeRequest{
		UserID:     userID,
		RequestID:  strings.TrimSpace(req.RequestID),
		ModelID:    strings.TrimSpace(req.ModelID),
		ProviderID: strings.TrimSpace(req.ProviderID),
		Usage: costing.TokenUsage{
			InputTokens:       req.InputTokens,
			OutputTokens:      req.OutputTokens,
			CachedInputTokens: req.CachedInputTokens,
		},
		Status: status,
	}
	if req.RequestStartedAt != nil {
		chargeReq.RequestStartedAt = *req.RequestStartedAt
	}
	if req.RequestCompletedAt != nil {
		chargeReq.RequestCompletedAt = *req.RequestCompletedAt
	}

	resp, err := s.estimateSvc.Charge(c.Request.Context(), chargeReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, chargeUsageResponse{
		CreditsDeducted: resp.Conversion.CreditsTotal,
		InputCredits:    resp.Conversion.InputCredits,
		OutputCredits:   resp.Conversion.OutputCredits,
		VendorCostUSD:   resp.Conversion.VendorCostUSD.String(),
		Balance:         resp.Account.Remaining(),
	})
}

type balanceResponse struct {
	CreditType         string    `json:"credit_type"`
	TotalCredits       int64     `json:"total_credits"`
	UsedCredits        int64     `json:"used_credits"`
	Balance            int64     `json:"balance"`
	BillingPeriodStart time.Time `json:"billing_period_start"`
	BillingPeriodEnd   time.Time `json:"billing_period_end"`
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	creditType, err := creditTypeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.ledgerSvc.GetActive(c.Request.Context(), userID, creditType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		CreditType:         string(account.CreditType),
		TotalCredits:       account.TotalCredits,
		UsedCredits:        account.UsedCredits,
		Balance:            account.Remaining(),
		BillingPeriodStart: account.BillingPeriodStart,
		BillingPeriodEnd:   account.BillingPeriodEnd,
	})
}

func (s *Server) CheckAffordability(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	creditType, err := creditTypeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	estimated, err := int64QueryParam(c, "estimated_credits")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledgerSvc.CheckAffordable(c.Request.Context(), userID, creditType, estimated)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ListUsage(c *gin.Context) {
	userID, ok := s.callerID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	pageSize, err := int64QueryParamDefault(c, "page_size", 50)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.ListUsage(c.Request.Context(), ledgerdomain.ListUsageRequest{
		UserID:    userID,
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  int32(pageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type allocateCreditsRequest struct {
	UserID            string    `json:"user_id" binding:"required"`
	SubscriptionID    *string   `json:"subscription_id"`
	CreditType        string    `json:"credit_type" binding:"required"`
	TotalCredits      int64     `json:"total_credits" binding:"required"`
	MonthlyAllocation int64     `json:"monthly_allocation"`
	PeriodStart       time.Time `json:"period_start" binding:"required"`
	PeriodEnd         time.Time `json:"period_end" binding:"required"`
}

// AllocateCredits opens a new billing period, superseding any current
// account for the same user and credit type.
func (s *Server) AllocateCredits(c *gin.Context) {
	var req allocateCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidUser)
		return
	}

	var subscriptionID *snowflake.ID
	if req.SubscriptionID != nil && strings.TrimSpace(*req.SubscriptionID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*req.SubscriptionID))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		subscriptionID = &parsed
	}

	account, err := s.ledgerSvc.Allocate(c.Request.Context(), ledgerdomain.AllocateRequest{
		UserID:            userID,
		SubscriptionID:    subscriptionID,
		CreditType:        ledgerdomain.CreditType(strings.TrimSpace(req.CreditType)),
		TotalCredits:      req.TotalCredits,
		MonthlyAllocation: req.MonthlyAllocation,
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

type topUpCreditsRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	CreditType string `json:"credit_type" binding:"required"`
	Credits    int64  `json:"credits" binding:"required"`
}

func (s *Server) TopUpCredits(c *gin.Context) {
	var req topUpCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidUser)
		return
	}

	account, err := s.ledgerSvc.TopUp(c.Request.Context(), ledgerdomain.TopUpRequest{
		UserID:     userID,
		CreditType: ledgerdomain.CreditType(strings.TrimSpace(req.CreditType)),
		Credits:    req.Credits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func creditTypeParam(c *gin.Context) (ledgerdomain.CreditType, error) {
	raw := strings.TrimSpace(c.DefaultQuery("credit_type", string(ledgerdomain.CreditTypePro)))
	creditType := ledgerdomain.CreditType(raw)
	if !creditType.Valid() {
		return "", ledgerdomain.ErrInvalidType
	}
	return creditType, nil
}
