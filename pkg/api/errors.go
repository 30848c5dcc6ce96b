package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/pkg/admission"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/store"
)

// respondError maps service-layer errors to HTTP responses with stable
// error codes in the body.
func (s *Server) respondError(c *gin.Context, err error) {
	var validErr *models.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}
	var admErr *admission.Error
	if errors.As(err, &admErr) {
		if admErr.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(admErr.RetryAfter.Seconds())))
		}
		c.JSON(statusForCode(admErr.Code), gin.H{
			"error_code": string(admErr.Code),
			"error":      admErr.Message,
		})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	// Unexpected error
	s.logger.Error("Unexpected service error", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.ErrCodeRateLimited, models.ErrCodeDailyLimit:
		return http.StatusTooManyRequests
	case models.ErrCodeNoCredits:
		return http.StatusPaymentRequired
	case models.ErrCodeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
