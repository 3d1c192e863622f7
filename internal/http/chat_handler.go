package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/service"
)

// ChatHandler expone sesiones, historial y el turno de chat.
type ChatHandler struct {
	logger     *zap.Logger
	sessions   *service.SessionService
	pipeline   *service.ChatPipeline
	subs       *service.SubscriptionService
	characters service.CharacterProvider
}

func NewChatHandler(
	logger *zap.Logger,
	sessions *service.SessionService,
	pipeline *service.ChatPipeline,
	subs *service.SubscriptionService,
	characters service.CharacterProvider,
) *ChatHandler {
	return &ChatHandler{
		logger:     logger,
		sessions:   sessions,
		pipeline:   pipeline,
		subs:       subs,
		characters: characters,
	}
}

// ListCharacters maneja GET /characters.
func (h *ChatHandler) ListCharacters(c *gin.Context) {
	premiumOK, err := h.subs.HasFeature(c.Request.Context(), authUserID(c), domain.FeaturePremiumCharacters)
	if err != nil {
		writeError(c, err)
		return
	}

	cards := h.characters.List()
	out := make([]gin.H, 0, len(cards))
	for _, card := range cards {
		out = append(out, gin.H{
			"id":         card.ID,
			"name":       card.Name,
			"persona":    card.Persona,
			"is_premium": card.IsPremium,
			"locked":     card.IsPremium && !premiumOK,
		})
	}
	c.JSON(http.StatusOK, gin.H{"characters": out})
}

// CreateSession maneja POST /chat/sessions.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		CharacterID string `json:"character_id" binding:"required"`
		ScenarioID  string `json:"scenario_id"`
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

	session, created, err := h.sessions.StartOrResume(c.Request.Context(), userID, req.CharacterID, req.ScenarioID, tier)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"session_id":     session.ID,
		"character_id":   session.CharacterID,
		"character_name": session.CharacterName,
		"scenario_id":    session.ScenarioID,
		"created":        created,
	})
}

// ListSessions maneja GET /chat/sessions.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID := authUserID(c)
	characterID := c.Query("character_id")

	sessions, err := h.sessions.List(c.Request.Context(), userID, characterID)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("include_messages") == "true" && len(sessions) > 0 {
		messages, _, err := h.sessions.Messages(c.Request.Context(), userID, sessions[0].ID, 0, "", "")
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "messages": messages})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetMessages maneja GET /chat/sessions/:id/messages con cursor.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID := authUserID(c)
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, hasMore, err := h.sessions.Messages(c.Request.Context(), userID, sessionID, limit, c.Query("before_id"), c.Query("after_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"messages": messages, "has_more": hasMore}
	if len(messages) > 0 {
		body["oldest_id"] = messages[0].ID
		body["newest_id"] = messages[len(messages)-1].ID
	}
	c.JSON(http.StatusOK, body)
}

// PostCompletion maneja POST /chat/completions: el turno completo.
func (h *ChatHandler) PostCompletion(c *gin.Context) {
	var req struct {
		SessionID    string `json:"session_id" binding:"required"`
		Message      string `json:"message" binding:"required"`
		IntimacyHint int    `json:"intimacy_level"`
		SpicyMode    bool   `json:"spicy_mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.pipeline.ProcessMessage(c.Request.Context(), service.ChatRequest{
		UserID:       authUserID(c),
		SessionID:    req.SessionID,
		Message:      req.Message,
		IntimacyHint: req.IntimacyHint,
		SpicyMode:    req.SpicyMode,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id":     res.MessageID,
		"content":        res.ReplyText,
		"tokens_used":    res.TokensUsed,
		"character_name": res.CharacterName,
		"extra_data":     res.ExtraData,
	})
}

// DeleteSession maneja DELETE /chat/sessions/:id.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), authUserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
