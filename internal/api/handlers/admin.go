package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/pkg/distributed"
	"go.uber.org/zap"
)

// DeadLetterSource 재시도를 포기한 채점 작업 조회
type DeadLetterSource interface {
	PeekDLQ(ctx context.Context, count int64) ([]distributed.DeadLetter, error)
	Stats(ctx context.Context) (*distributed.ReconcileStats, error)
}

type ReconciliationHandler struct {
	queue  DeadLetterSource
	logger *zap.Logger
}

// NewReconciliationHandler queue가 nil이면 재처리 큐가 꺼진 것으로 응답한다
func NewReconciliationHandler(queue DeadLetterSource, logger *zap.Logger) *ReconciliationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationHandler{queue: queue, logger: logger}
}

// GetStatus 재처리 큐 상태와 dead letter 목록
func (h *ReconciliationHandler) GetStatus(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusOK, gin.H{
			"enabled":     false,
			"deadLetters": []distributed.DeadLetter{},
		})
		return
	}

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_limit",
			"message": "limit must be between 1 and 500",
		})
		return
	}

	ctx := c.Request.Context()
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.logger.Error("Failed to read reconcile stats", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "dependency_failure", "message": "Failed to read reconcile queue"})
		return
	}
	deadLetters, err := h.queue.PeekDLQ(ctx, limit)
	if err != nil {
		h.logger.Error("Failed to read dead letters", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "dependency_failure", "message": "Failed to read reconcile queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":     true,
		"stats":       stats,
		"deadLetters": deadLetters,
	})
}
