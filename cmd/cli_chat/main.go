package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
	"companion-llm/internal/service"
)

const cliUserID = "cli-user"

// harness agrupa el stack completo en memoria que usa el REPL: el mismo
// motor que el servidor, sin Postgres ni Redis.
type harness struct {
	store    *repository.MemStore
	pipeline *service.ChatPipeline
	sessions *service.SessionService
	gifts    *service.GiftService
	wallet   *service.WalletService
	stamina  *service.StaminaService
	intimacy *service.IntimacyService
	subs     *service.SubscriptionService
}

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	h := buildHarness()

	fmt.Println("===== Companion CLI =====")
	card := pickCharacter(reader, service.NewStaticCharacters())

	tier, err := h.subs.EffectiveTier(ctx, cliUserID)
	if err != nil {
		tier = domain.TierFree
	}
	session, _, err := h.sessions.StartOrResume(ctx, cliUserID, card.ID, "", tier)
	if err != nil {
		fmt.Printf("no se pudo abrir la sesion: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nChateando con %s. Comandos: /gift <tipo>, /gifts, /checkin, /wallet, /intimacy, /tier <plan>, /salir\n\n", card.Name)

	for {
		fmt.Print("Tu > ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "/salir") || strings.EqualFold(line, "/exit") {
			fmt.Println("Hasta luego.")
			return
		}
		if strings.HasPrefix(line, "/") {
			runCommand(ctx, h, session, line)
			continue
		}

		resp, err := h.pipeline.ProcessMessage(ctx, service.ChatRequest{
			UserID:    cliUserID,
			SessionID: session.ID,
			Message:   line,
		})
		if err != nil {
			printTurnError(err)
			continue
		}
		fmt.Printf("%s > %s\n", resp.CharacterName, resp.ReplyText)
		printTurnSummary(resp.ExtraData)
	}
}

func buildHarness() *harness {
	logger := zap.NewNop()

	store := repository.NewMemStore()

	var (
		llmClient llm.LLMClient
		embedder  llm.Embedder
	)
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		model := os.Getenv("LLM_MODEL")
		if model == "" {
			model = "gpt-5.1"
		}
		httpClient := llm.NewHTTPClient(os.Getenv("LLM_BASE_URL"), apiKey, model, "", nil)
		llmClient, embedder = httpClient, httpClient
	} else {
		fmt.Println("LLM_API_KEY no seteada: usando el mock determinista.")
		mock := &llm.MockClient{}
		llmClient, embedder = mock, mock
	}

	characters := service.NewStaticCharacters()
	scenarios := service.NewStaticScenarios()
	emotionEngine := service.NewEmotionEngine()

	subsSvc := service.NewSubscriptionService(store.Subscriptions(), store.Wallets(), store.Ledger(), logger)
	walletSvc := service.NewWalletService(store, store.Wallets(), store.Ledger(), true, logger)
	staminaSvc := service.NewStaminaService(store, logger)
	memorySvc := service.NewMemoryService(store.Memories(), store.Profiles(), embedder, llmClient, logger)
	sessionSvc := service.NewSessionService(store.Sessions(), store.Messages(), characters, scenarios, subsSvc)
	intimacySvc := service.NewIntimacyService(store, store.States(), logger)
	giftSvc := service.NewGiftService(store, store.Gifts(), store.Wallets(), store.Sessions(), store.Messages(), service.NewMemoryIdempotencyCache(), walletSvc, emotionEngine, characters, llmClient, logger)

	// Pool nil: el post-update corre inline, asi el siguiente turno del REPL
	// ya ve el estado actualizado.
	postUpdater := service.NewPostUpdater(store, emotionEngine, memorySvc, nil, logger)

	pipeline := service.NewChatPipeline(service.ChatPipelineDeps{
		UOW:        store,
		Sessions:   store.Sessions(),
		Messages:   store.Messages(),
		States:     store.States(),
		Effects:    store.Effects(),
		Limiter:    service.NewMemoryRateLimiter(),
		Subs:       subsSvc,
		Wallet:     walletSvc,
		Stamina:    staminaSvc,
		Memories:   memorySvc,
		Characters: characters,
		Scenarios:  scenarios,
		LLMClient:  llmClient,
		Emotion:    emotionEngine,
		Post:       postUpdater,
		Flags:      service.PipelineFlags{UseV4Pipeline: true},
		Logger:     logger,
	})

	return &harness{
		store:    store,
		pipeline: pipeline,
		sessions: sessionSvc,
		gifts:    giftSvc,
		wallet:   walletSvc,
		stamina:  staminaSvc,
		intimacy: intimacySvc,
		subs:     subsSvc,
	}
}

func pickCharacter(reader *bufio.Reader, characters service.StaticCharacters) domain.CharacterCard {
	cards := characters.List()
	fmt.Println("Personajes disponibles:")
	for i, card := range cards {
		premium := ""
		if card.IsPremium {
			premium = " (premium)"
		}
		fmt.Printf("[%d] %s%s\n", i+1, card.Name, premium)
	}
	for {
		fmt.Print("Selecciona un personaje: ")
		choice, _ := reader.ReadString('\n')
		idx, err := strconv.Atoi(strings.TrimSpace(choice))
		if err == nil && idx >= 1 && idx <= len(cards) {
			return cards[idx-1]
		}
		fmt.Println("Seleccion invalida.")
	}
}

func runCommand(ctx context.Context, h *harness, session domain.Session, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/gift":
		if len(fields) < 2 {
			fmt.Println("Uso: /gift <tipo>  (ver /gifts)")
			return
		}
		tier, _ := h.subs.EffectiveTier(ctx, cliUserID)
		receipt, err := h.gifts.Send(ctx, service.SendGiftRequest{
			UserID:         cliUserID,
			CharacterID:    session.CharacterID,
			SessionID:      session.ID,
			GiftType:       fields[1],
			IdempotencyKey: uuid.NewString(),
			Tier:           tier,
		})
		if err != nil {
			printTurnError(err)
			return
		}
		fmt.Printf("Regalo enviado: %s (saldo %d, +%.0f XP)\n", receipt.GiftName, receipt.NewBalance, receipt.XPAwarded)
		if receipt.AckMessage != "" {
			fmt.Printf("%s > %s\n", session.CharacterName, receipt.AckMessage)
		}
	case "/gifts":
		for _, info := range service.GiftCatalog(0) {
			fmt.Printf("  %-14s %4d creditos  tier %d\n", info.Type, info.Price, info.Tier)
		}
	case "/checkin":
		award, err := h.intimacy.Checkin(ctx, cliUserID, session.CharacterID)
		if err != nil {
			printTurnError(err)
			return
		}
		fmt.Printf("Check-in: +%.0f XP (nivel %d, %s)\n", award.Awarded, award.LevelAfter, award.StageAfter)
	case "/wallet":
		tier, _ := h.subs.EffectiveTier(ctx, cliUserID)
		wallet, err := h.wallet.Balance(ctx, cliUserID, tier)
		if err != nil {
			printTurnError(err)
			return
		}
		stamina, _ := h.stamina.Status(ctx, cliUserID)
		fmt.Printf("Creditos: %d (diarios %d, comprados %d, bonus %d) | Stamina: %d/%d | Tier: %s\n",
			wallet.TotalCredits, wallet.DailyFreeCredits, wallet.PurchasedCredits, wallet.BonusCredits,
			stamina.Current, stamina.Max, tier)
	case "/intimacy":
		overview, err := h.intimacy.Overview(ctx, cliUserID, session.CharacterID)
		if err != nil {
			printTurnError(err)
			return
		}
		fmt.Printf("Nivel %d (%s), %.0f XP, racha %d dias, emocion %d (%s)\n",
			overview.Level, overview.Stage, overview.XP, overview.StreakDays,
			overview.EmotionScore, overview.EmotionState)
		if len(overview.Events) > 0 {
			fmt.Printf("Hitos: %s\n", strings.Join(overview.Events, ", "))
		}
	case "/tier":
		if len(fields) < 2 {
			fmt.Println("Uso: /tier free|premium|vip")
			return
		}
		setTier(ctx, h, fields[1])
	default:
		fmt.Println("Comando desconocido.")
	}
}

// setTier escribe la suscripcion directo en el store; es el atajo del REPL
// para probar gates de tier sin pasar por un flujo de pago.
func setTier(ctx context.Context, h *harness, tier string) {
	switch tier {
	case domain.TierFree, domain.TierPremium, domain.TierVIP:
	default:
		fmt.Println("Tier invalido. Opciones: free, premium, vip.")
		return
	}
	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	err := h.store.Subscriptions().Save(ctx, domain.Subscription{
		UserID:    cliUserID,
		Tier:      tier,
		StartedAt: time.Now().UTC(),
		ExpiresAt: &expires,
	})
	if err != nil {
		fmt.Printf("error guardando suscripcion: %v\n", err)
		return
	}
	fmt.Printf("Tier cambiado a %s.\n", tier)
}

func printTurnSummary(extra map[string]any) {
	var parts []string
	if app, ok := extra["emotion"].(service.DeltaApplication); ok {
		parts = append(parts, fmt.Sprintf("emocion %d (%s, delta %+d)", app.ScoreAfter, app.StateAfter, app.AppliedDelta))
	}
	if award, ok := extra["intimacy"].(service.AwardResult); ok {
		parts = append(parts, fmt.Sprintf("nivel %d (+%.0f XP)", award.LevelAfter, award.Awarded))
		if award.LevelUp {
			parts = append(parts, "LEVEL UP")
		}
	}
	if event, ok := extra["event"].(string); ok && event != "" {
		parts = append(parts, "hito: "+event)
	}
	if len(parts) > 0 {
		fmt.Printf("  [%s]\n", strings.Join(parts, " | "))
	}
}

func printTurnError(err error) {
	var coded *domain.CodedError
	if errors.As(err, &coded) {
		fmt.Printf("[%s] %s\n", coded.Code, coded.Message)
		if reply, ok := coded.Detail["reply_text"].(string); ok && reply != "" {
			fmt.Printf("> %s\n", reply)
		}
		return
	}
	fmt.Printf("error: %v\n", err)
}
