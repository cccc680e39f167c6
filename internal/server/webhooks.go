package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type claimWebhookEventsRequest struct {
	Limit int `json:"limit"`
}

// ClaimWebhookEvents hands a batch of pending outbox events to the delivery
// worker, locking them against concurrent workers.
func (s *Server) ClaimWebhookEvents(c *gin.Context) {
	var req claimWebhookEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	events, err := s.dispatcher.Claim(c.Request.Context(), req.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) MarkWebhookDelivered(c *gin.Context) {
	eventID := strings.TrimSpace(c.Param("event_id"))
	if eventID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.dispatcher.MarkDelivered(c.Request.Context(), eventID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}

func (s *Server) MarkWebhookFailed(c *gin.Context) {
	eventID := strings.TrimSpace(c.Param("event_id"))
	if eventID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.dispatcher.MarkFailed(c.Request.Context(), eventID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}
