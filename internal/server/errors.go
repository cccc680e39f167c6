package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inferbill/inferbill/internal/costing"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
	prorationdomain "github.com/inferbill/inferbill/internal/proration/domain"
	webhookdomain "github.com/inferbill/inferbill/internal/webhook/domain"
)

type errorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:      "rate_limited",
			Message:   "too many requests",
			Retryable: true,
		}

	// Terminal financial rejections: the caller must not retry the same
	// request, the outcome will not change.
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, ledgerdomain.ErrBillingPeriodExpired):
		return http.StatusConflict, errorPayload{
			Type:    "billing_period_expired",
			Message: "billing period expired",
		}

	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}

	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}

	case ledgerdomain.IsTransient(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:      "transient_error",
			Message:   "temporarily unavailable",
			Retryable: true,
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, pricingdomain.ErrPricingNotFound),
		errors.Is(err, pricingdomain.ErrMarginNotFound),
		errors.Is(err, webhookdomain.ErrEventNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidCredits),
		errors.Is(err, ledgerdomain.ErrInvalidType),
		errors.Is(err, ledgerdomain.ErrInvalidRequestID),
		errors.Is(err, ledgerdomain.ErrInvalidPeriod),
		errors.Is(err, pricingdomain.ErrInvalidMargin),
		errors.Is(err, pricingdomain.ErrInvalidModel),
		errors.Is(err, pricingdomain.ErrInvalidProvider),
		errors.Is(err, pricingdomain.ErrInvalidTier),
		errors.Is(err, pricingdomain.ErrInvalidPrice),
		errors.Is(err, pricingdomain.ErrInvalidPricingWindow),
		errors.Is(err, pricingdomain.ErrInvalidCreditRate),
		errors.Is(err, prorationdomain.ErrInvalidPeriod),
		errors.Is(err, prorationdomain.ErrInvalidPrice),
		errors.Is(err, prorationdomain.ErrInvalidCoupon),
		errors.Is(err, webhookdomain.ErrInvalidEventType),
		errors.Is(err, costing.ErrNegativeTokens),
		errors.Is(err, costing.ErrCachedExceedsIn),
		errors.Is(err, costing.ErrInvalidMargin):
		return true
	default:
		return strings.HasPrefix(err.Error(), "invalid_")
	}
}
