package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion-llm/internal/service"
)

// WalletHandler expone saldo, compras y el sistema de stamina.
type WalletHandler struct {
	logger  *zap.Logger
	wallet  *service.WalletService
	stamina *service.StaminaService
	subs    *service.SubscriptionService
}

func NewWalletHandler(
	logger *zap.Logger,
	wallet *service.WalletService,
	stamina *service.StaminaService,
	subs *service.SubscriptionService,
) *WalletHandler {
	return &WalletHandler{logger: logger, wallet: wallet, stamina: stamina, subs: subs}
}

// Balance maneja GET /wallet/balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	userID := authUserID(c)
	tier, err := h.subs.EffectiveTier(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	wallet, err := h.wallet.Balance(c.Request.Context(), userID, tier)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":      wallet.TotalCredits,
		"daily_free": wallet.DailyFreeCredits,
		"purchased":  wallet.PurchasedCredits,
		"bonus":      wallet.BonusCredits,
		"tier":       tier,
	})
}

// Purchase maneja POST /wallet/purchase.
func (h *WalletHandler) Purchase(c *gin.Context) {
	var req struct {
		PackageID string `json:"package_id" binding:"required"`
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

	wallet, err := h.wallet.Purchase(c.Request.Context(), userID, tier, req.PackageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":      wallet.TotalCredits,
		"daily_free": wallet.DailyFreeCredits,
		"purchased":  wallet.PurchasedCredits,
		"bonus":      wallet.BonusCredits,
	})
}

// Packages maneja GET /wallet/packages.
func (h *WalletHandler) Packages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.wallet.Packages()})
}

// Transactions maneja GET /wallet/transactions.
func (h *WalletHandler) Transactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	entries, err := h.wallet.Transactions(c.Request.Context(), authUserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}

// StaminaStatus maneja GET /stamina.
func (h *WalletHandler) StaminaStatus(c *gin.Context) {
	stamina, err := h.stamina.Status(c.Request.Context(), authUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current":        stamina.Current,
		"max":            stamina.Max,
		"last_reset_at":  stamina.LastResetAt,
		"needs_purchase": stamina.Current <= 0,
	})
}

// StaminaPurchase maneja POST /stamina/purchase.
func (h *WalletHandler) StaminaPurchase(c *gin.Context) {
	var req struct {
		Packs int `json:"packs" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	stamina, wallet, err := h.stamina.PurchasePacks(c.Request.Context(), authUserID(c), req.Packs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current":         stamina.Current,
		"max":             stamina.Max,
		"credits_balance": wallet.TotalCredits,
	})
}
