package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	obsmetrics "github.com/inferbill/inferbill/internal/observability/metrics"
	"github.com/inferbill/inferbill/internal/userctx"
)

const (
	headerRequestID = "X-Request-Id"
	headerUserID    = "X-User-Id"
)

// RequestLogMiddleware logs each request with correlation identifiers and
// records HTTP metrics.
func RequestLogMiddleware(log *zap.Logger, metrics *obsmetrics.Metrics) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		elapsed := time.Since(start)

		metrics.ObserveHTTPRequest(route, c.Request.Method, status, elapsed)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, zap.Error(lastErr.Err))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(headerRequestID, requestID)
	return requestID
}

// UserRequired resolves the caller identity set upstream by the (excluded)
// authenticating gateway and stores it in the request context.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := userctx.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) callerID(c *gin.Context) (snowflake.ID, bool) {
	return userctx.UserIDFromContext(c.Request.Context())
}

// EstimateRateLimit throttles pre-flight estimates per user.
func (s *Server) EstimateRateLimit() gin.HandlerFunc {
	return s.rateLimit(func(c *gin.Context, userID snowflake.ID) (*rateLimitOutcome, error) {
		res, err := s.limiter.AllowEstimate(c.Request.Context(), userID)
		if err != nil {
			return nil, err
		}
		return &rateLimitOutcome{allowed: res.Allowed, retryAfter: res.RetryAfter}, nil
	})
}

// DeductRateLimit throttles charge submissions per user.
func (s *Server) DeductRateLimit() gin.HandlerFunc {
	return s.rateLimit(func(c *gin.Context, userID snowflake.ID) (*rateLimitOutcome, error) {
		res, err := s.limiter.AllowDeduct(c.Request.Context(), userID)
		if err != nil {
			return nil, err
		}
		return &rateLimitOutcome{allowed: res.Allowed, retryAfter: res.RetryAfter}, nil
	})
}

type rateLimitOutcome struct {
	allowed    bool
	retryAfter time.Duration
}

func (s *Server) rateLimit(check func(*gin.Context, snowflake.ID) (*rateLimitOutcome, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		userID, ok := s.callerID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		outcome, err := check(c, userID)
		if err != nil {
			// Redis being down must not block billing traffic.
			s.log.Warn("rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !outcome.allowed {
			if outcome.retryAfter > 0 {
				seconds := int64(outcome.retryAfter / time.Second)
				if outcome.retryAfter%time.Second != 0 {
					seconds++
				}
				c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
