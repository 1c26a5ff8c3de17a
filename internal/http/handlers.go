package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"talentchat/internal/domain"
	"talentchat/internal/service"
)

// statusFor traduce errores del nucleo a codigos HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMalformedRoomID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	logger.Warn(op+" rejected", zap.Error(err), zap.Int("status", status))
	if retryAfter, ok := retryAfterFor(err); ok {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
		c.JSON(status, gin.H{"error": err.Error(), "retry_after_ms": retryAfter.Milliseconds()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func retryAfterFor(err error) (time.Duration, bool) {
	var rlErr *service.RateLimitError
	if !errors.As(err, &rlErr) {
		return 0, false
	}
	return rlErr.RetryAfter, true
}

// Retry-After va en segundos enteros, minimo 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
