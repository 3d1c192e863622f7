package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion-llm/internal/service"
)

// GiftHandler expone el envío idempotente de regalos y el catálogo.
type GiftHandler struct {
	logger *zap.Logger
	gifts  *service.GiftService
	subs   *service.SubscriptionService
}

func NewGiftHandler(logger *zap.Logger, gifts *service.GiftService, subs *service.SubscriptionService) *GiftHandler {
	return &GiftHandler{logger: logger, gifts: gifts, subs: subs}
}

// SendGift maneja POST /gifts.
func (h *GiftHandler) SendGift(c *gin.Context) {
	var req struct {
		CharacterID    string `json:"character_id" binding:"required"`
		GiftType       string `json:"gift_type" binding:"required"`
		IdempotencyKey string `json:"idempotency_key" binding:"required"`
		SessionID      string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	userID := authUserID(c)
	tier, err := h.subs.EffectiveTier(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	receipt, err := h.gifts.Send(c.Request.Context(), service.SendGiftRequest{
		UserID:         userID,
		CharacterID:    req.CharacterID,
		SessionID:      req.SessionID,
		GiftType:       req.GiftType,
		IdempotencyKey: req.IdempotencyKey,
		Tier:           tier,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, receipt)
}

// Catalog maneja GET /gifts/catalog.
func (h *GiftHandler) Catalog(c *gin.Context) {
	tier, _ := strconv.Atoi(c.Query("tier"))
	c.JSON(http.StatusOK, gin.H{"gifts": service.GiftCatalog(tier)})
}

// History maneja GET /gifts/history.
func (h *GiftHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	gifts, err := h.gifts.History(c.Request.Context(), authUserID(c), c.Query("character_id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gifts": gifts})
}
