package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/internal/api/middleware"
	"github.com/rl-arena/code-arena-backend/internal/service"
)

type QueueHandler struct {
	matchmaking *service.MatchmakingService
}

func NewQueueHandler(matchmaking *service.MatchmakingService) *QueueHandler {
	return &QueueHandler{matchmaking: matchmaking}
}

// GetStats godoc
// @Summary Queue statistics
// @Description Per-category queue size and average wait
// @Tags queue
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /queue/stats [get]
func (h *QueueHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories": h.matchmaking.Stats(),
		"serverTime": time.Now().UTC(),
	})
}

// GetStatus 로그인한 플레이어의 대기열 상태
func (h *QueueHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.matchmaking.Status(middleware.UserID(c)))
}
