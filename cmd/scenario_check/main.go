package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
	"companion-llm/internal/service"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

const (
	checkUserID      = "user-check"
	checkCharacterID = "companion-check"
)

func main() {
	fmt.Printf("%s==== Escenarios end-to-end del motor ====%s\n\n", colorCyan, colorReset)

	results := []bool{
		scenarioFreshChat(),
		scenarioGiftIdempotency(),
		scenarioColdWar(),
		scenarioDailyCap(),
		scenarioRateLimit(),
		scenarioSubscriptionExpiry(),
	}

	passed := 0
	for _, ok := range results {
		if ok {
			passed++
		}
	}
	fmt.Printf("\n%d/%d escenarios OK\n", passed, len(results))
	if passed != len(results) {
		os.Exit(1)
	}
}

/*
========================
 Escenarios
========================
*/

func scenarioFreshChat() bool {
	c := &check{name: "chat free-tier desde cero"}
	ctx := context.Background()
	h := newHarness()

	session, created, err := h.sessions.StartOrResume(ctx, checkUserID, checkCharacterID, "", domain.TierFree)
	if err != nil {
		c.failf("crear sesion: %v", err)
		return c.report()
	}
	c.expect(created, "se esperaba sesion nueva")

	h.mock.Enqueue(`{"reply":"hi!","emotion_delta":3,"intent":"SMALL_TALK","thought":"","is_nsfw":false}`)
	resp, err := h.pipeline.ProcessMessage(ctx, service.ChatRequest{
		UserID:    checkUserID,
		SessionID: session.ID,
		Message:   "hello",
	})
	if err != nil {
		c.failf("turno: %v", err)
		return c.report()
	}
	c.expect(resp.ReplyText == "hi!", "reply %q, se esperaba %q", resp.ReplyText, "hi!")

	msgs, _ := h.store.Messages().ListRecent(ctx, session.ID, 10)
	c.expect(len(msgs) == 2, "mensajes %d, se esperaban 2", len(msgs))

	st, err := h.store.States().Get(ctx, checkUserID, checkCharacterID)
	c.expect(err == nil, "estado: %v", err)
	c.expect(st.IntimacyXP == 2, "xp %.1f, se esperaban 2", st.IntimacyXP)
	c.expect(st.EmotionScore == 3, "emocion %d, se esperaba 3", st.EmotionScore)

	wallet, _ := h.store.Wallets().Get(ctx, checkUserID)
	c.expect(wallet.TotalCredits == 49, "saldo %d, se esperaba 49", wallet.TotalCredits)

	stamina, _ := h.store.Stamina().Get(ctx, checkUserID)
	c.expect(stamina.Current == 49, "stamina %d, se esperaba 49", stamina.Current)

	c.expect(countLedger(ctx, h, domain.LedgerChatDeduction) == 1, "se esperaba exactamente un asiento chat_deduction")

	return c.report()
}

func scenarioGiftIdempotency() bool {
	c := &check{name: "idempotencia de regalos"}
	ctx := context.Background()
	h := newHarness()
	seedWallet(ctx, h, 500)

	first, err := h.gifts.Send(ctx, service.SendGiftRequest{
		UserID:         checkUserID,
		CharacterID:    checkCharacterID,
		GiftType:       "chocolate",
		IdempotencyKey: "K1",
		Tier:           domain.TierFree,
	})
	if err != nil {
		c.failf("primer envio: %v", err)
		return c.report()
	}
	c.expect(first.NewBalance == 480, "saldo %d, se esperaba 480", first.NewBalance)
	c.expect(!first.Replayed, "el primer envio no debe ser replay")

	replay, err := h.gifts.Send(ctx, service.SendGiftRequest{
		UserID:         checkUserID,
		CharacterID:    checkCharacterID,
		GiftType:       "chocolate",
		IdempotencyKey: "K1",
		Tier:           domain.TierFree,
	})
	if err != nil {
		c.failf("replay: %v", err)
		return c.report()
	}
	c.expect(replay.Replayed, "el segundo envio debe ser replay")
	c.expect(replay.GiftID == first.GiftID, "gift_id difiere: %s vs %s", replay.GiftID, first.GiftID)

	wallet, _ := h.store.Wallets().Get(ctx, checkUserID)
	c.expect(wallet.TotalCredits == 480, "saldo tras replay %d, se esperaba 480", wallet.TotalCredits)

	rows, _ := h.store.Gifts().ListByUser(ctx, checkUserID, "", 50, 0)
	c.expect(len(rows) == 1, "filas de regalo %d, se esperaba 1", len(rows))
	c.expect(countLedger(ctx, h, domain.LedgerGift) == 1, "se esperaba exactamente un asiento gift")

	return c.report()
}

func scenarioColdWar() bool {
	c := &check{name: "cold_war no se arregla hablando"}
	ctx := context.Background()
	h := newHarness()
	seedWallet(ctx, h, 500)
	now := time.Now().UTC()

	seed := domain.UserState{
		UserID:           checkUserID,
		CharacterID:      checkCharacterID,
		IntimacyLevel:    1,
		IntimacyStage:    domain.StageStrangers,
		EmotionScore:     -85,
		EmotionState:     domain.EmotionStateForScore(-85),
		LastDailyReset:   now,
		EmotionUpdatedAt: now,
	}
	if err := h.store.States().Create(ctx, seed); err != nil {
		c.failf("sembrar estado: %v", err)
		return c.report()
	}

	session, _, err := h.sessions.StartOrResume(ctx, checkUserID, checkCharacterID, "", domain.TierFree)
	if err != nil {
		c.failf("crear sesion: %v", err)
		return c.report()
	}

	resp, err := h.pipeline.ProcessMessage(ctx, service.ChatRequest{
		UserID:    checkUserID,
		SessionID: session.ID,
		Message:   "I'm sorry, I was wrong",
	})
	if err != nil {
		c.failf("turno de disculpa: %v", err)
		return c.report()
	}
	c.expect(resp.ReplyText != "", "la respuesta enlatada no puede ser vacia")
	requiresGift, _ := resp.ExtraData["requires_gift"].(bool)
	c.expect(requiresGift, "extra_data.requires_gift debe ser true")

	st, _ := h.store.States().Get(ctx, checkUserID, checkCharacterID)
	c.expect(st.EmotionScore == -80, "emocion %d, se esperaba -80", st.EmotionScore)
	c.expect(st.EmotionState == domain.EmotionColdWar, "estado %s, se esperaba cold_war", st.EmotionState)

	receipt, err := h.gifts.Send(ctx, service.SendGiftRequest{
		UserID:         checkUserID,
		CharacterID:    checkCharacterID,
		SessionID:      session.ID,
		GiftType:       "apology_scroll",
		IdempotencyKey: "apology-1",
		Tier:           domain.TierFree,
	})
	if err != nil {
		c.failf("regalo de disculpa: %v", err)
		return c.report()
	}
	c.expect(receipt.Emotion != nil && receipt.Emotion.ScoreAfter > -75,
		"el regalo debe dejar el score arriba de -75")

	st, _ = h.store.States().Get(ctx, checkUserID, checkCharacterID)
	c.expect(st.EmotionScore > -75, "emocion %d, se esperaba > -75", st.EmotionScore)
	c.expect(st.EmotionState != domain.EmotionColdWar, "el estado debe salir de cold_war")

	rows, _ := h.store.Gifts().ListByUser(ctx, checkUserID, "", 50, 0)
	c.expect(len(rows) == 1, "filas de regalo %d, se esperaba 1", len(rows))
	c.expect(countLedger(ctx, h, domain.LedgerGift) == 1, "se esperaba un asiento gift")

	history, _ := h.store.States().ListEmotionHistory(ctx, checkUserID, checkCharacterID, 10, 0)
	found := false
	for _, entry := range history {
		if entry.Trigger == "gift:apology_scroll" {
			found = true
		}
	}
	c.expect(found, "falta la fila de historial emocional del regalo")

	return c.report()
}

func scenarioDailyCap() bool {
	c := &check{name: "tope diario de XP"}
	ctx := context.Background()
	h := newHarness()
	now := time.Now().UTC()

	seed := domain.UserState{
		UserID:           checkUserID,
		CharacterID:      checkCharacterID,
		IntimacyLevel:    1,
		IntimacyStage:    domain.StageStrangers,
		DailyXPEarned:    495,
		LastDailyReset:   now,
		EmotionState:     domain.EmotionNeutral,
		EmotionUpdatedAt: now,
	}
	if err := h.store.States().Create(ctx, seed); err != nil {
		c.failf("sembrar estado: %v", err)
		return c.report()
	}

	award, err := h.intimacy.Checkin(ctx, checkUserID, checkCharacterID)
	if err != nil {
		c.failf("checkin: %v", err)
		return c.report()
	}
	c.expect(award.Awarded == 5, "checkin otorgo %.1f, se esperaban 5", award.Awarded)

	st, _ := h.store.States().Get(ctx, checkUserID, checkCharacterID)
	c.expect(st.DailyXPEarned == 500, "daily_xp %.1f, se esperaban 500", st.DailyXPEarned)

	res := service.DefaultIntimacyEngine.Award(&st, service.ActionMessage, nil, now)
	c.expect(res.Awarded == 0, "con el tope lleno se esperaba awarded=0, fue %.1f", res.Awarded)
	c.expect(res.Reason == service.ReasonDailyCap, "reason %q, se esperaba daily_cap", res.Reason)

	return c.report()
}

func scenarioRateLimit() bool {
	c := &check{name: "rate limit free tier"}
	ctx := context.Background()
	h := newHarness()

	session, _, err := h.sessions.StartOrResume(ctx, checkUserID, checkCharacterID, "", domain.TierFree)
	if err != nil {
		c.failf("crear sesion: %v", err)
		return c.report()
	}

	for i := 1; i <= 5; i++ {
		_, err := h.pipeline.ProcessMessage(ctx, service.ChatRequest{
			UserID:    checkUserID,
			SessionID: session.ID,
			Message:   fmt.Sprintf("mensaje %d", i),
		})
		c.expect(err == nil, "request %d rechazada: %v", i, err)
	}

	_, err = h.pipeline.ProcessMessage(ctx, service.ChatRequest{
		UserID:    checkUserID,
		SessionID: session.ID,
		Message:   "mensaje 6",
	})
	var coded *domain.CodedError
	if !errors.As(err, &coded) || coded.Code != domain.CodeRateLimited {
		c.failf("request 6 debia dar ERATE_LIMITED, dio %v", err)
		return c.report()
	}
	retryAfter, _ := coded.Detail["retry_after"].(int)
	c.expect(retryAfter >= 1, "retry_after %d, se esperaba >= 1", retryAfter)

	return c.report()
}

func scenarioSubscriptionExpiry() bool {
	c := &check{name: "expiracion de suscripcion"}
	ctx := context.Background()
	h := newHarness()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	err := h.store.Subscriptions().Save(ctx, domain.Subscription{
		UserID:    checkUserID,
		Tier:      domain.TierPremium,
		StartedAt: yesterday.Add(-30 * 24 * time.Hour),
		ExpiresAt: &yesterday,
	})
	if err != nil {
		c.failf("sembrar suscripcion: %v", err)
		return c.report()
	}

	tier, err := h.subs.EffectiveTier(ctx, checkUserID)
	c.expect(err == nil, "effective tier: %v", err)
	c.expect(tier == domain.TierFree, "tier %q, se esperaba free", tier)
	c.expect(countLedger(ctx, h, domain.LedgerSubscriptionExpired) == 1, "se esperaba un asiento subscription_expired")

	tier, _ = h.subs.EffectiveTier(ctx, checkUserID)
	c.expect(tier == domain.TierFree, "tier %q en la segunda lectura", tier)
	c.expect(countLedger(ctx, h, domain.LedgerSubscriptionExpired) == 1, "la degradacion debe asentarse una sola vez")

	return c.report()
}

/*
========================
 Harness en memoria
========================
*/

// harness arma el stack completo del motor sobre MemStore + MockClient, con
// post-update inline para que las aserciones vean el estado final.
type harness struct {
	store    *repository.MemStore
	mock     *llm.MockClient
	pipeline *service.ChatPipeline
	sessions *service.SessionService
	gifts    *service.GiftService
	intimacy *service.IntimacyService
	subs     *service.SubscriptionService
}

func newHarness() *harness {
	logger := zap.NewNop()
	store := repository.NewMemStore()
	mock := &llm.MockClient{}

	characters := checkCharacters{}
	scenarios := service.NewStaticScenarios()
	emotionEngine := service.NewEmotionEngine()

	subsSvc := service.NewSubscriptionService(store.Subscriptions(), store.Wallets(), store.Ledger(), logger)
	walletSvc := service.NewWalletService(store, store.Wallets(), store.Ledger(), true, logger)
	staminaSvc := service.NewStaminaService(store, logger)
	memorySvc := service.NewMemoryService(store.Memories(), store.Profiles(), mock, mock, logger)
	sessionSvc := service.NewSessionService(store.Sessions(), store.Messages(), characters, scenarios, subsSvc)
	intimacySvc := service.NewIntimacyService(store, store.States(), logger)
	giftSvc := service.NewGiftService(store, store.Gifts(), store.Wallets(), store.Sessions(), store.Messages(), service.NewMemoryIdempotencyCache(), walletSvc, emotionEngine, characters, mock, logger)
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
		LLMClient:  mock,
		Emotion:    emotionEngine,
		Post:       postUpdater,
		Flags:      service.PipelineFlags{UseV4Pipeline: true},
		Logger:     logger,
	})

	return &harness{
		store:    store,
		mock:     mock,
		pipeline: pipeline,
		sessions: sessionSvc,
		gifts:    giftSvc,
		intimacy: intimacySvc,
		subs:     subsSvc,
	}
}

// checkCharacters sirve una ficha con modificadores neutros: los numeros
// esperados de los escenarios no deben depender de la personalidad del
// catalogo real.
type checkCharacters struct{}

func (checkCharacters) Get(id string) (domain.CharacterCard, error) {
	if id != checkCharacterID {
		return domain.CharacterCard{}, domain.NewCodedError(domain.CodeCharacterNotFound, "unknown character").
			With("character_id", id)
	}
	return neutralCard(), nil
}

func (checkCharacters) List() []domain.CharacterCard {
	return []domain.CharacterCard{neutralCard()}
}

func neutralCard() domain.CharacterCard {
	return domain.CharacterCard{
		ID:              checkCharacterID,
		Name:            "Companion",
		Persona:         "A neutral test companion.",
		SpeechStyle:     "plain",
		Sensitivity:     1.0,
		ForgivenessRate: 1.0,
	}
}

func seedWallet(ctx context.Context, h *harness, purchased int) {
	wallet := domain.Wallet{
		UserID:           checkUserID,
		PurchasedCredits: purchased,
		DailyRefreshedAt: time.Now().UTC(),
	}
	wallet.Recompute()
	_ = h.store.Wallets().Create(ctx, wallet)
}

func countLedger(ctx context.Context, h *harness, entryType string) int {
	entries, _ := h.store.Ledger().ListByUser(ctx, checkUserID, 100, 0)
	n := 0
	for _, e := range entries {
		if e.Type == entryType {
			n++
		}
	}
	return n
}

/*
========================
 Reporte
========================
*/

type check struct {
	name string
	fail []string
}

func (c *check) expect(cond bool, format string, args ...any) {
	if !cond {
		c.fail = append(c.fail, fmt.Sprintf(format, args...))
	}
}

func (c *check) failf(format string, args ...any) {
	c.fail = append(c.fail, fmt.Sprintf(format, args...))
}

func (c *check) report() bool {
	if len(c.fail) == 0 {
		fmt.Printf("%sPASS%s %s\n", colorGreen, colorReset, c.name)
		return true
	}
	fmt.Printf("%sFAIL%s %s\n", colorRed, colorReset, c.name)
	for _, f := range c.fail {
		fmt.Printf("  - %s\n", f)
	}
	return false
}
