package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
)

type createPricingEntryRequest struct {
	ModelID            string     `json:"model_id" binding:"required"`
	ProviderID         string     `json:"provider_id" binding:"required"`
	InputPricePerK     string     `json:"input_price_per_k" binding:"required"`
	OutputPricePerK    string     `json:"output_price_per_k" binding:"required"`
	CacheReadPricePerK *string    `json:"cache_read_price_per_k"`
	EffectiveFrom      time.Time  `json:"effective_from" binding:"required"`
	EffectiveUntil     *time.Time `json:"effective_until"`
}

// CreatePricingEntry opens a new vendor price window. Existing entries stay
// untouched; historic charges keep resolving against them.
func (s *Server) CreatePricingEntry(c *gin.Context) {
	var req createPricingEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	entry, err := s.catalogSvc.CreatePricingEntry(c.Request.Context(), pricingdomain.CreatePricingEntryRequest{
		ModelID:            strings.TrimSpace(req.ModelID),
		ProviderID:         strings.TrimSpace(req.ProviderID),
		InputPricePerK:     strings.TrimSpace(req.InputPricePerK),
		OutputPricePerK:    strings.TrimSpace(req.OutputPricePerK),
		CacheReadPricePerK: req.CacheReadPricePerK,
		EffectiveFrom:      req.EffectiveFrom,
		EffectiveUntil:     req.EffectiveUntil,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type upsertTierMarginRequest struct {
	Tier       string  `json:"tier" binding:"required"`
	ProviderID string  `json:"provider_id"`
	ModelID    string  `json:"model_id"`
	Multiplier float64 `json:"multiplier" binding:"required"`
}

func (s *Server) UpsertTierMargin(c *gin.Context) {
	var req upsertTierMarginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	margin, err := s.catalogSvc.UpsertTierMargin(c.Request.Context(), pricingdomain.UpsertTierMarginRequest{
		Tier:       strings.TrimSpace(req.Tier),
		ProviderID: strings.TrimSpace(req.ProviderID),
		ModelID:    strings.TrimSpace(req.ModelID),
		Multiplier: req.Multiplier,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, margin)
}

type upsertModelMetaRequest struct {
	ModelID           string   `json:"model_id" binding:"required"`
	InputCreditsPerK  *float64 `json:"input_credits_per_k"`
	OutputCreditsPerK *float64 `json:"output_credits_per_k"`
}

func (s *Server) UpsertModelMeta(c *gin.Context) {
	var req upsertModelMetaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	meta, err := s.catalogSvc.UpsertModelMeta(c.Request.Context(), pricingdomain.UpsertModelMetaRequest{
		ModelID:           strings.TrimSpace(req.ModelID),
		InputCreditsPerK:  req.InputCreditsPerK,
		OutputCreditsPerK: req.OutputCreditsPerK,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}
