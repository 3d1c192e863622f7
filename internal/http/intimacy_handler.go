package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion-llm/internal/service"
)

// IntimacyHandler expone el progreso de la relacion por personaje.
type IntimacyHandler struct {
	logger   *zap.Logger
	intimacy *service.IntimacyService
}

func NewIntimacyHandler(logger *zap.Logger, intimacy *service.IntimacyService) *IntimacyHandler {
	return &IntimacyHandler{logger: logger, intimacy: intimacy}
}

// Overview maneja GET /intimacy/:character_id.
func (h *IntimacyHandler) Overview(c *gin.Context) {
	characterID := c.Param("character_id")
	overview, err := h.intimacy.Overview(c.Request.Context(), authUserID(c), characterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// Checkin maneja POST /intimacy/:character_id/checkin.
func (h *IntimacyHandler) Checkin(c *gin.Context) {
	characterID := c.Param("character_id")
	award, err := h.intimacy.Checkin(c.Request.Context(), authUserID(c), characterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"xp_awarded":   award.Awarded,
		"level":        award.LevelAfter,
		"stage":        award.StageAfter,
		"level_up":     award.LevelUp,
		"new_features": award.NewFeatures,
	})
}

// EmotionHistory maneja GET /intimacy/:character_id/history.
func (h *IntimacyHandler) EmotionHistory(c *gin.Context) {
	characterID := c.Param("character_id")
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	entries, err := h.intimacy.EmotionHistory(c.Request.Context(), authUserID(c), characterID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
