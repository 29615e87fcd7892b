package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/internal/api/middleware"
	"github.com/rl-arena/code-arena-backend/internal/service"
)

type SubmissionHandler struct {
	submissions *service.SubmissionService
}

func NewSubmissionHandler(submissions *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

type practiceSubmissionRequest struct {
	ProblemID string `json:"problemId" binding:"required"`
	Code      string `json:"code" binding:"required"`
	Language  string `json:"language" binding:"required"`
}

// CreatePractice godoc
// @Summary Submit practice code
// @Description Judge code against a problem outside of any match. The result is pushed as submission:result.
// @Tags submissions
// @Accept json
// @Produce json
// @Success 202 {object} models.Submission
// @Failure 400 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Router /practice/submissions [post]
func (h *SubmissionHandler) CreatePractice(c *gin.Context) {
	var req practiceSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   service.CodeOf(service.ErrInvalidCommand),
			"message": err.Error(),
		})
		return
	}

	sub, err := h.submissions.SubmitPractice(c.Request.Context(), middleware.UserID(c), req.ProblemID, req.Code, req.Language)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sub)
}

// GetSubmission 본인 제출 조회 (관리자는 전체)
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	sub, err := h.submissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	// 다른 사람의 제출은 존재 여부도 알리지 않는다
	if sub.PlayerID != middleware.UserID(c) && !middleware.IsAdmin(c) {
		respondError(c, service.ErrSubmissionNotFound)
		return
	}
	c.JSON(http.StatusOK, sub)
}
