package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"companion-llm/internal/config"
	"companion-llm/internal/db"
	apihttp "companion-llm/internal/http"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
	"companion-llm/internal/service"

	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Backend de datos: Postgres, o el store en memoria con MOCK_DATABASE.
	var (
		uow      repository.UnitOfWork
		sessions repository.SessionRepository
		messages repository.MessageRepository
		states   repository.UserStateRepository
		wallets  repository.WalletRepository
		gifts    repository.GiftRepository
		effects  repository.EffectRepository
		subs     repository.SubscriptionRepository
		ledger   repository.LedgerRepository
		profiles repository.UserProfileRepository
		memories repository.MemoryRepository
	)
	if cfg.MockDatabase {
		logger.Warn("MOCK_DATABASE activo: el estado vive solo en memoria")
		store := repository.NewMemStore()
		uow = store
		sessions = store.Sessions()
		messages = store.Messages()
		states = store.States()
		wallets = store.Wallets()
		gifts = store.Gifts()
		effects = store.Effects()
		subs = store.Subscriptions()
		ledger = store.Ledger()
		profiles = store.Profiles()
		memories = store.Memories()
	} else {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		uow = repository.NewPgUnitOfWork(pool)
		sessions = repository.NewPgSessionRepository(pool)
		messages = repository.NewPgMessageRepository(pool)
		states = repository.NewPgUserStateRepository(pool)
		wallets = repository.NewPgWalletRepository(pool)
		gifts = repository.NewPgGiftRepository(pool)
		effects = repository.NewPgEffectRepository(pool)
		subs = repository.NewPgSubscriptionRepository(pool)
		ledger = repository.NewPgLedgerRepository(pool)
		profiles = repository.NewPgUserProfileRepository(pool)
		memories = repository.NewPgMemoryRepository(pool)
	}

	// Proveedor LLM: mock determinista o API OpenAI-compatible.
	var (
		llmClient llm.LLMClient
		embedder  llm.Embedder
	)
	if cfg.MockLLM {
		logger.Warn("MOCK_LLM activo: respuestas generadas localmente")
		mock := &llm.MockClient{}
		llmClient = mock
		embedder = mock
	} else {
		httpClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.EmbeddingModel, zap.NewStdLog(logger))
		llmClient = httpClient
		embedder = httpClient
	}

	// Rate limiting e idempotencia: Redis si está disponible, memoria si no.
	limiter := service.NewMemoryRateLimiter()
	idemCache := service.NewMemoryIdempotencyCache()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, usando limitador en memoria", zap.Error(err))
		} else {
			limiter = service.NewRedisRateLimiter(redisClient)
			idemCache = service.NewRedisIdempotencyCache(redisClient)
		}
		cancel()
	}

	characters := service.NewStaticCharacters()
	scenarios := service.NewStaticScenarios()
	emotionEngine := service.NewEmotionEngine()

	subsSvc := service.NewSubscriptionService(subs, wallets, ledger, logger)
	walletSvc := service.NewWalletService(uow, wallets, ledger, cfg.MockPayment, logger)
	staminaSvc := service.NewStaminaService(uow, logger)
	memorySvc := service.NewMemoryService(memories, profiles, embedder, llmClient, logger)
	refineSvc := service.NewEmotionAnalysisService(llmClient, cfg.AnalysisModel, logger)
	sessionSvc := service.NewSessionService(sessions, messages, characters, scenarios, subsSvc)
	intimacySvc := service.NewIntimacyService(uow, states, logger)
	giftSvc := service.NewGiftService(uow, gifts, wallets, sessions, messages, idemCache, walletSvc, emotionEngine, characters, llmClient, logger)

	workers, err := ants.NewPool(cfg.PostUpdateWorkers)
	if err != nil {
		logger.Fatal("worker pool", zap.Error(err))
	}
	postUpdater := service.NewPostUpdater(uow, emotionEngine, memorySvc, workers, logger)

	pipeline := service.NewChatPipeline(service.ChatPipelineDeps{
		UOW:        uow,
		Sessions:   sessions,
		Messages:   messages,
		States:     states,
		Effects:    effects,
		Limiter:    limiter,
		Subs:       subsSvc,
		Wallet:     walletSvc,
		Stamina:    staminaSvc,
		Refine:     refineSvc,
		Memories:   memorySvc,
		Characters: characters,
		Scenarios:  scenarios,
		LLMClient:  llmClient,
		Emotion:    emotionEngine,
		Post:       postUpdater,
		Flags:      service.PipelineFlags{UseV4Pipeline: cfg.UseV4Pipeline},
		Logger:     logger,
	})

	if cfg.AuthJWTSecret == "" {
		logger.Warn("auth jwt secret not configured")
	}

	chatHandler := apihttp.NewChatHandler(logger, sessionSvc, pipeline, subsSvc, characters)
	giftHandler := apihttp.NewGiftHandler(logger, giftSvc, subsSvc)
	walletHandler := apihttp.NewWalletHandler(logger, walletSvc, staminaSvc, subsSvc)
	intimacyHandler := apihttp.NewIntimacyHandler(logger, intimacySvc)

	router := apihttp.NewRouter(apihttp.RouterDeps{
		Logger:        logger,
		Chat:          chatHandler,
		Gifts:         giftHandler,
		Wallet:        walletHandler,
		Intimacy:      intimacyHandler,
		JWTSecret:     []byte(cfg.AuthJWTSecret),
		DevAuthHeader: cfg.DevAuthHeader,
	})

	// Regalos cuyo agradecimiento quedó pendiente se reintentan de fondo.
	ackCtx, stopAcks := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ackCtx.Done():
				return
			case <-ticker.C:
				if n := giftSvc.RetryPendingAcks(ackCtx, 20); n > 0 {
					logger.Info("gift acks retried", zap.Int("count", n))
				}
			}
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(cfg.RequestTimeoutSecs) * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopAcks()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	// Los post-updates en vuelo se terminan de aplicar antes de salir.
	postUpdater.Drain(10 * time.Second)
}
