package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/internal/service"
)

// statusFor 에러 분류별 HTTP 상태 코드
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage 분류되지 않은 에러의 내부 사정은 노출하지 않는다
func publicMessage(err error) string {
	if service.KindOf(err) == service.KindUnknown {
		return "internal error"
	}
	return err.Error()
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error":   service.CodeOf(err),
		"message": publicMessage(err),
	})
}
