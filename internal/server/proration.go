package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	prorationdomain "github.com/inferbill/inferbill/internal/proration/domain"
)

type previewProrationRequest struct {
	SubscriptionID  string `json:"subscription_id" binding:"required"`
	NewTierPriceUSD string `json:"new_tier_price_usd" binding:"required"`
}

// PreviewProration computes the one-time charge a tier change would cost
// right now. The actual charge execution belongs to the payment collaborator.
func (s *Server) PreviewProration(c *gin.Context) {
	var req previewProrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	newTierPrice, err := decimal.NewFromString(strings.TrimSpace(req.NewTierPriceUSD))
	if err != nil {
		AbortWithError(c, prorationdomain.ErrInvalidPrice)
		return
	}

	result, err := s.prorationSvc.Preview(c.Request.Context(), prorationdomain.PreviewRequest{
		SubscriptionID:  subscriptionID,
		NewTierPriceUSD: newTierPrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
