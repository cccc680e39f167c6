package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func int64QueryParam(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, ErrInvalidRequest
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, ErrInvalidRequest
	}
	return value, nil
}

func int64QueryParamDefault(c *gin.Context, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, ErrInvalidRequest
	}
	return value, nil
}
