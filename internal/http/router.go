package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDeps agrupa los handlers y la configuracion de auth del router.
type RouterDeps struct {
	Logger        *zap.Logger
	Chat          *ChatHandler
	Gifts         *GiftHandler
	Wallet        *WalletHandler
	Intimacy      *IntimacyHandler
	JWTSecret     []byte
	DevAuthHeader bool
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(deps.Logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/", AuthMiddleware(deps.JWTSecret, deps.DevAuthHeader))

	authed.GET("/characters", deps.Chat.ListCharacters)

	chat := authed.Group("/chat")
	chat.POST("/sessions", deps.Chat.CreateSession)
	chat.GET("/sessions", deps.Chat.ListSessions)
	chat.GET("/sessions/:id/messages", deps.Chat.GetMessages)
	chat.DELETE("/sessions/:id", deps.Chat.DeleteSession)
	chat.POST("/completions", deps.Chat.PostCompletion)

	gifts := authed.Group("/gifts")
	gifts.POST("", deps.Gifts.SendGift)
	gifts.GET("/catalog", deps.Gifts.Catalog)
	gifts.GET("/history", deps.Gifts.History)

	wallet := authed.Group("/wallet")
	wallet.GET("/balance", deps.Wallet.Balance)
	wallet.POST("/purchase", deps.Wallet.Purchase)
	wallet.GET("/packages", deps.Wallet.Packages)
	wallet.GET("/transactions", deps.Wallet.Transactions)

	authed.GET("/stamina", deps.Wallet.StaminaStatus)
	authed.POST("/stamina/purchase", deps.Wallet.StaminaPurchase)

	intimacy := authed.Group("/intimacy")
	intimacy.GET("/:character_id", deps.Intimacy.Overview)
	intimacy.POST("/:character_id/checkin", deps.Intimacy.Checkin)
	intimacy.GET("/:character_id/history", deps.Intimacy.EmotionHistory)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
