package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/internal/service"
)

type MatchHandler struct {
	matches *service.MatchService
}

func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// GetMatch godoc
// @Summary Get match
// @Description Match state, participants and the current scoreboard
// @Tags matches
// @Produce json
// @Param id path string true "Match ID"
// @Success 200 {object} service.MatchView
// @Failure 404 {object} map[string]string
// @Router /matches/{id} [get]
func (h *MatchHandler) GetMatch(c *gin.Context) {
	view, err := h.matches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetScoreboard 경기 스코어보드
func (h *MatchHandler) GetScoreboard(c *gin.Context) {
	matchID := c.Param("id")
	board, err := h.matches.Scoreboard(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matchId":    matchID,
		"scoreboard": board,
	})
}

// ListActiveForPlayer 플레이어의 진행 중(또는 로비) 경기
func (h *MatchHandler) ListActiveForPlayer(c *gin.Context) {
	playerID := c.Param("id")
	matches := h.matches.ActiveMatchesFor(playerID)
	c.JSON(http.StatusOK, gin.H{
		"playerId": playerID,
		"matches":  matches,
		"total":    len(matches),
	})
}

// ForceEnd 관리자 강제 종료
func (h *MatchHandler) ForceEnd(c *gin.Context) {
	result, err := h.matches.ForceEnd(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"match":      result.Match,
		"scoreboard": result.Scoreboard,
		"winnerId":   result.WinnerID,
		"scored":     result.Scored,
	}
	if result.ScoringErr != nil {
		resp["scoringError"] = result.ScoringErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}
