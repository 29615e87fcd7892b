package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"go.uber.org/zap"
)

type PlayerHandler struct {
	catalog repository.CatalogStore
	logger  *zap.Logger
}

func NewPlayerHandler(catalog repository.CatalogStore, logger *zap.Logger) *PlayerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlayerHandler{catalog: catalog, logger: logger}
}

// GetRating godoc
// @Summary Get player rating
// @Description Current rating and record. Unknown players get the default rating.
// @Tags players
// @Produce json
// @Param id path string true "Player ID"
// @Success 200 {object} models.RatingRecord
// @Failure 502 {object} map[string]string
// @Router /players/{id}/rating [get]
func (h *PlayerHandler) GetRating(c *gin.Context) {
	rating, err := h.catalog.GetRating(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to get rating", zap.String("playerId", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "dependency_failure",
			"message": "Failed to get rating",
		})
		return
	}
	c.JSON(http.StatusOK, rating)
}
