package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
)

// pipelineHarness arma el stack completo sobre MemStore + MockClient, con el
// post-update inline para que las aserciones vean el estado final.
type pipelineHarness struct {
	store    *repository.MemStore
	mock     *llm.MockClient
	pipeline *ChatPipeline
	sessions *SessionService
	gifts    *GiftService
	subs     *SubscriptionService
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	store := repository.NewMemStore()
	mock := &llm.MockClient{}
	characters := testCharacters{}
	scenarios := NewStaticScenarios()
	emotionEngine := NewEmotionEngine()

	subsSvc := NewSubscriptionService(store.Subscriptions(), store.Wallets(), store.Ledger(), nil)
	walletSvc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	staminaSvc := NewStaminaService(store, nil)
	memorySvc := NewMemoryService(store.Memories(), store.Profiles(), mock, mock, nil)
	sessionSvc := NewSessionService(store.Sessions(), store.Messages(), characters, scenarios, subsSvc)
	giftSvc := NewGiftService(store, store.Gifts(), store.Wallets(), store.Sessions(), store.Messages(),
		NewMemoryIdempotencyCache(), walletSvc, emotionEngine, characters, mock, nil)
	postUpdater := NewPostUpdater(store, emotionEngine, memorySvc, nil, nil)

	pipeline := NewChatPipeline(ChatPipelineDeps{
		UOW:        store,
		Sessions:   store.Sessions(),
		Messages:   store.Messages(),
		States:     store.States(),
		Effects:    store.Effects(),
		Limiter:    NewMemoryRateLimiter(),
		Subs:       subsSvc,
		Wallet:     walletSvc,
		Stamina:    staminaSvc,
		Memories:   memorySvc,
		Characters: characters,
		Scenarios:  scenarios,
		LLMClient:  mock,
		Emotion:    emotionEngine,
		Post:       postUpdater,
		Flags:      PipelineFlags{UseV4Pipeline: true},
	})

	return &pipelineHarness{
		store:    store,
		mock:     mock,
		pipeline: pipeline,
		sessions: sessionSvc,
		gifts:    giftSvc,
		subs:     subsSvc,
	}
}

func (h *pipelineHarness) openSession(t *testing.T) domain.Session {
	t.Helper()
	session, _, err := h.sessions.StartOrResume(context.Background(), testUserID, testCharacterID, "", domain.TierFree)
	if err != nil {
		t.Fatalf("abrir sesion: %v", err)
	}
	return session
}

func (h *pipelineHarness) seedState(t *testing.T, score int) {
	t.Helper()
	now := time.Now().UTC()
	seed := newUserState(testUserID, testCharacterID, now)
	seed.EmotionScore = score
	seed.EmotionState = domain.EmotionStateForScore(score)
	if err := h.store.States().Create(context.Background(), seed); err != nil {
		t.Fatalf("sembrar estado: %v", err)
	}
}

func (h *pipelineHarness) turn(t *testing.T, sessionID, message string) (ChatResponse, error) {
	t.Helper()
	return h.pipeline.ProcessMessage(context.Background(), ChatRequest{
		UserID:    testUserID,
		SessionID: sessionID,
		Message:   message,
	})
}

func (h *pipelineHarness) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	if len(h.mock.Requests) == 0 {
		t.Fatal("no se registro ninguna llamada al modelo")
	}
	return h.mock.Requests[len(h.mock.Requests)-1]
}

func TestProcessMessage_FreshFreeTurn(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	h.mock.Enqueue(`{"reply":"hi!","emotion_delta":3,"intent":"SMALL_TALK","thought":"","is_nsfw":false}`)
	resp, err := h.turn(t, session.ID, "hello")
	if err != nil {
		t.Fatalf("turno: %v", err)
	}
	if resp.ReplyText != "hi!" {
		t.Fatalf("reply %q, se esperaba hi!", resp.ReplyText)
	}
	if resp.MessageID == "" || resp.CharacterName != "Companion" {
		t.Fatalf("respuesta %+v sin message_id o nombre", resp)
	}

	msgs, _ := h.store.Messages().ListRecent(ctx, session.ID, 10)
	if len(msgs) != 2 {
		t.Fatalf("mensajes %d, se esperaban 2", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("roles %s/%s, se esperaba user/assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != "hi!" || msgs[1].ExtraData["intent"] != domain.IntentSmallTalk {
		t.Fatalf("mensaje asistente %+v inesperado", msgs[1])
	}

	st, err := h.store.States().Get(ctx, testUserID, testCharacterID)
	if err != nil {
		t.Fatalf("leer estado: %v", err)
	}
	if st.EmotionScore != 3 {
		t.Fatalf("emocion %d, se esperaba 3", st.EmotionScore)
	}
	if st.IntimacyXP != 2 {
		t.Fatalf("xp %.1f, se esperaban 2", st.IntimacyXP)
	}

	wallet, _ := h.store.Wallets().Get(ctx, testUserID)
	if wallet.TotalCredits != 49 {
		t.Fatalf("saldo %d, se esperaba 49", wallet.TotalCredits)
	}
	stamina, _ := h.store.Stamina().Get(ctx, testUserID)
	if stamina.Current != 49 {
		t.Fatalf("stamina %d, se esperaba 49", stamina.Current)
	}
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerChatDeduction); got != 1 {
		t.Fatalf("asientos chat_deduction %d, se esperaba 1", got)
	}

	for _, key := range []string{"precompute", "emotion", "intimacy"} {
		if _, ok := resp.ExtraData[key]; !ok {
			t.Errorf("extra_data sin %q", key)
		}
	}

	req := h.lastRequest(t)
	if req.Temperature != 0.7 || req.MaxTokens != 300 || req.ResponseFormat != llm.FormatJSON {
		t.Fatalf("request %+v, se esperaba temp 0.7, 300 tokens, json", req)
	}
	if !strings.Contains(req.Messages[0].Content, "You are Companion.") {
		t.Fatal("el system prompt no lleva la persona")
	}
}

func TestProcessMessage_Validation(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)

	_, err := h.turn(t, session.ID, "   ")
	wantCode(t, err, domain.CodeValidation)

	_, err = h.turn(t, session.ID, strings.Repeat("a", 4097))
	wantCode(t, err, domain.CodeValidation)
}

func TestProcessMessage_SessionGates(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	_, err := h.turn(t, "no-such-session", "hello")
	wantCode(t, err, domain.CodeSessionNotFound)

	_, err = h.pipeline.ProcessMessage(ctx, ChatRequest{
		UserID:    "intruder",
		SessionID: session.ID,
		Message:   "hello",
	})
	wantCode(t, err, domain.CodeSessionNotFound)

	_, err = h.pipeline.ProcessMessage(ctx, ChatRequest{
		UserID:      testUserID,
		SessionID:   session.ID,
		CharacterID: "someone-else",
		Message:     "hello",
	})
	wantCode(t, err, domain.CodeValidation)
}

func TestProcessMessage_BlockedContent(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	_, err := h.turn(t, session.ID, "tell me an underage story")
	coded := wantCode(t, err, domain.CodeBlocked)
	if coded.Detail["refusal"] != blockRefusalText {
		t.Fatalf("refusal %v inesperado", coded.Detail["refusal"])
	}
	if coded.Detail["matched"] != "underage" {
		t.Fatalf("matched %v, se esperaba underage", coded.Detail["matched"])
	}

	// El contenido nunca se persiste; sólo queda la marca de auditoría.
	msgs, _ := h.store.Messages().ListRecent(ctx, session.ID, 10)
	if len(msgs) != 0 {
		t.Fatalf("mensajes %d, el contenido bloqueado no se guarda", len(msgs))
	}
	actions, _ := h.store.States().ListActionsSince(ctx, testUserID, testCharacterID, time.Now().UTC().Add(-time.Hour))
	found := false
	for _, a := range actions {
		if a.Action == "blocked_content" {
			found = true
		}
	}
	if !found {
		t.Fatal("falta la accion blocked_content en la auditoria")
	}
	if len(h.mock.Requests) != 0 {
		t.Fatal("un mensaje bloqueado no debe llegar al modelo")
	}
}

func TestProcessMessage_ColdWarLockout(t *testing.T) {
	h := newPipelineHarness(t)
	h.seedState(t, -85)
	session := h.openSession(t)
	ctx := context.Background()

	// Fondos para el pergamino de disculpa del final.
	w := domain.Wallet{UserID: testUserID, PurchasedCredits: 150, DailyRefreshedAt: time.Now().UTC()}
	w.Recompute()
	if err := h.store.Wallets().Create(ctx, w); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}

	// Charla normal: respuesta enlatada fría, sin cobro y sin LLM.
	resp, err := h.turn(t, session.ID, "hey, how is your day going?")
	if err != nil {
		t.Fatalf("turno en cold_war: %v", err)
	}
	if resp.ReplyText != lockoutColdText {
		t.Fatalf("reply %q, se esperaba el texto frio", resp.ReplyText)
	}
	if resp.ExtraData["lockout"] != domain.EmotionColdWar {
		t.Fatalf("lockout %v, se esperaba cold_war", resp.ExtraData["lockout"])
	}
	if _, ok := resp.ExtraData["requires_gift"]; ok {
		t.Fatal("sin disculpa no se pide regalo")
	}
	if len(h.mock.Requests) != 0 {
		t.Fatal("el lockout responde sin modelo")
	}
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerChatDeduction); got != 0 {
		t.Fatalf("asientos chat_deduction %d, el lockout no cobra", got)
	}

	st, _ := h.store.States().Get(ctx, testUserID, testCharacterID)
	if st.EmotionScore != -85 {
		t.Fatalf("emocion %d, la charla normal no mueve el score", st.EmotionScore)
	}

	// Disculpa: recupera hasta +5 con techo, marca requires_gift y sigue en cold_war.
	resp, err = h.turn(t, session.ID, "I'm sorry, I was wrong")
	if err != nil {
		t.Fatalf("turno de disculpa: %v", err)
	}
	if resp.ReplyText != lockoutApologyText {
		t.Fatalf("reply %q, se esperaba el texto de disculpa", resp.ReplyText)
	}
	if requiresGift, _ := resp.ExtraData["requires_gift"].(bool); !requiresGift {
		t.Fatal("extra_data.requires_gift debe ser true")
	}

	st, _ = h.store.States().Get(ctx, testUserID, testCharacterID)
	if st.EmotionScore != -80 || st.EmotionState != domain.EmotionColdWar {
		t.Fatalf("estado %s/%d, se esperaba cold_war/-80", st.EmotionState, st.EmotionScore)
	}
	history, _ := h.store.States().ListEmotionHistory(ctx, testUserID, testCharacterID, 10, 0)
	found := false
	for _, entry := range history {
		if entry.Trigger == "apology:lockout" {
			found = true
		}
	}
	if !found {
		t.Fatal("falta la fila apology:lockout en el historial emocional")
	}

	// Un regalo de disculpa destraba; el turno siguiente vuelve al camino normal.
	if _, err := h.gifts.Send(ctx, SendGiftRequest{
		UserID:         testUserID,
		CharacterID:    testCharacterID,
		SessionID:      session.ID,
		GiftType:       "apology_scroll",
		IdempotencyKey: "sorry-1",
		Tier:           domain.TierFree,
	}); err != nil {
		t.Fatalf("regalo de disculpa: %v", err)
	}
	st, _ = h.store.States().Get(ctx, testUserID, testCharacterID)
	if st.EmotionState == domain.EmotionColdWar {
		t.Fatalf("estado %s, el pergamino debia destrabar", st.EmotionState)
	}

	h.mock.Enqueue(`{"reply":"...okay. thank you for the scroll.","emotion_delta":2,"intent":"SMALL_TALK","thought":"","is_nsfw":false}`)
	resp, err = h.turn(t, session.ID, "can we talk now?")
	if err != nil {
		t.Fatalf("turno tras el regalo: %v", err)
	}
	if resp.ReplyText != "...okay. thank you for the scroll." {
		t.Fatalf("reply %q, tras destrabar vuelve el modelo", resp.ReplyText)
	}
}

func TestProcessMessage_BlockedStateApology(t *testing.T) {
	h := newPipelineHarness(t)
	h.seedState(t, -100)
	session := h.openSession(t)
	ctx := context.Background()

	resp, err := h.turn(t, session.ID, "please forgive me")
	if err != nil {
		t.Fatalf("turno: %v", err)
	}
	if resp.ReplyText != blockedApologyText {
		t.Fatalf("reply %q, en blocked la disculpa no abre puerta", resp.ReplyText)
	}
	if _, ok := resp.ExtraData["requires_gift"]; ok {
		t.Fatal("blocked no ofrece camino de regalo por disculpa")
	}

	st, _ := h.store.States().Get(ctx, testUserID, testCharacterID)
	if st.EmotionScore != -100 {
		t.Fatalf("emocion %d, en blocked la disculpa no recupera", st.EmotionScore)
	}
}

func TestProcessMessage_LLMDownSoftFails(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	h.mock.Err = errors.New("provider down")
	_, err := h.turn(t, session.ID, "hello?")
	coded := wantCode(t, err, domain.CodeLLMUnavailable)
	if coded.Detail["reply_text"] != llmFallbackText {
		t.Fatalf("reply_text %v, se esperaba el fallback", coded.Detail["reply_text"])
	}
	if id, _ := coded.Detail["message_id"].(string); id == "" {
		t.Fatal("el detalle debe llevar el message_id persistido")
	}

	// El turno queda en el historial con el texto de contingencia, sin cobro.
	msgs, _ := h.store.Messages().ListRecent(ctx, session.ID, 10)
	if len(msgs) != 2 || msgs[1].Content != llmFallbackText {
		t.Fatalf("mensajes %+v, se esperaba el fallback persistido", msgs)
	}
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerChatDeduction); got != 0 {
		t.Fatalf("asientos chat_deduction %d, el turno fallido no cobra", got)
	}
	stamina, _ := h.store.Stamina().Get(ctx, testUserID)
	if stamina.Current != 50 {
		t.Fatalf("stamina %d, el turno fallido no consume", stamina.Current)
	}
}

func TestProcessMessage_EmptyReplyUsesParseFallback(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)

	h.mock.Enqueue("   ")
	resp, err := h.turn(t, session.ID, "hello")
	if err != nil {
		t.Fatalf("turno: %v", err)
	}
	if resp.ReplyText != parseFallbackText {
		t.Fatalf("reply %q, se esperaba el texto puente", resp.ReplyText)
	}
	if _, ok := resp.ExtraData["parse_error"]; !ok {
		t.Fatal("extra_data debe reportar parse_error")
	}

	// A diferencia del soft-fail, el turno publicado con texto puente sí cobra.
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerChatDeduction); got != 1 {
		t.Fatalf("asientos chat_deduction %d, se esperaba 1", got)
	}
}

func TestProcessMessage_DownTierRedirect(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	h.mock.Enqueue(`{"reply":"oh... you barely know me","emotion_delta":8,"intent":"LOVE_CONFESSION","thought":"","is_nsfw":false}`)
	resp, err := h.turn(t, session.ID, "i love you")
	if err != nil {
		t.Fatalf("turno: %v", err)
	}
	if resp.ExtraData["down_tiered_from"] != domain.ContentTierIntimate {
		t.Fatalf("down_tiered_from %v, se esperaba intimate", resp.ExtraData["down_tiered_from"])
	}
	req := h.lastRequest(t)
	if !strings.Contains(req.Messages[0].Content, "The user is asking for intimate-level content") {
		t.Fatal("el prompt no lleva la instruccion de redireccion")
	}
	if resp.ExtraData["event"] != "first_confession" {
		t.Fatalf("event %v, se esperaba first_confession", resp.ExtraData["event"])
	}

	st, _ := h.store.States().Get(ctx, testUserID, testCharacterID)
	if len(st.Events) != 1 || st.Events[0] != "first_confession" {
		t.Fatalf("eventos %v, se esperaba [first_confession]", st.Events)
	}
}

func TestProcessMessage_RateLimit(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)

	for i := 0; i < 5; i++ {
		if _, err := h.turn(t, session.ID, "hello"); err != nil {
			t.Fatalf("turno %d rechazado: %v", i+1, err)
		}
	}

	_, err := h.turn(t, session.ID, "one more")
	coded := wantCode(t, err, domain.CodeRateLimited)
	if retry, _ := coded.Detail["retry_after"].(int); retry < 1 {
		t.Fatalf("retry_after %d, se esperaba >= 1", retry)
	}
}

func TestProcessMessage_StaminaGate(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	seed := domain.Stamina{UserID: testUserID, Current: 0, Max: 50, LastResetAt: time.Now().UTC()}
	if err := h.store.Stamina().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar stamina: %v", err)
	}

	_, err := h.turn(t, session.ID, "hello")
	wantCode(t, err, domain.CodeInsufficientStamina)
	if len(h.mock.Requests) != 0 {
		t.Fatal("sin stamina no se llama al modelo")
	}
}

func TestProcessMessage_PremiumSkipsStamina(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	if err := h.subs.Grant(ctx, testUserID, domain.TierPremium, &expires); err != nil {
		t.Fatalf("otorgar premium: %v", err)
	}
	seed := domain.Stamina{UserID: testUserID, Current: 50, Max: 50, LastResetAt: time.Now().UTC()}
	if err := h.store.Stamina().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar stamina: %v", err)
	}

	if _, err := h.turn(t, session.ID, "hello"); err != nil {
		t.Fatalf("turno premium: %v", err)
	}

	req := h.lastRequest(t)
	if req.MaxTokens != 500 {
		t.Fatalf("max_tokens %d, premium usa 500", req.MaxTokens)
	}
	stamina, _ := h.store.Stamina().Get(ctx, testUserID)
	if stamina.Current != 50 {
		t.Fatalf("stamina %d, los tiers pagos no consumen", stamina.Current)
	}
	wallet, _ := h.store.Wallets().Get(ctx, testUserID)
	if wallet.TotalCredits != 99 {
		t.Fatalf("saldo %d, se esperaba 99 (100 de premium menos 1)", wallet.TotalCredits)
	}
}

func TestProcessMessage_ExpiredSubscriptionDowngrades(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	if err := h.store.Subscriptions().Save(ctx, domain.Subscription{
		UserID:    testUserID,
		Tier:      domain.TierPremium,
		StartedAt: yesterday.Add(-30 * 24 * time.Hour),
		ExpiresAt: &yesterday,
	}); err != nil {
		t.Fatalf("sembrar suscripcion: %v", err)
	}

	if _, err := h.turn(t, session.ID, "hello"); err != nil {
		t.Fatalf("turno: %v", err)
	}

	// El turno corre ya con los límites de free.
	req := h.lastRequest(t)
	if req.MaxTokens != 300 {
		t.Fatalf("max_tokens %d, el tier degradado usa 300", req.MaxTokens)
	}
	stamina, _ := h.store.Stamina().Get(ctx, testUserID)
	if stamina.Current != 49 {
		t.Fatalf("stamina %d, free consume stamina", stamina.Current)
	}
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerSubscriptionExpired); got != 1 {
		t.Fatalf("asientos subscription_expired %d, se esperaba 1", got)
	}

	if _, err := h.turn(t, session.ID, "hello again"); err != nil {
		t.Fatalf("segundo turno: %v", err)
	}
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerSubscriptionExpired); got != 1 {
		t.Fatalf("la degradacion debe asentarse una sola vez, hay %d", got)
	}
}

func TestProcessMessage_EffectsRideAlong(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	w := domain.Wallet{UserID: testUserID, PurchasedCredits: 100, DailyRefreshedAt: time.Now().UTC()}
	w.Recompute()
	if err := h.store.Wallets().Create(ctx, w); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}
	if _, err := h.gifts.Send(ctx, SendGiftRequest{
		UserID:         testUserID,
		CharacterID:    testCharacterID,
		SessionID:      session.ID,
		GiftType:       "perfume",
		IdempotencyKey: "p-1",
		Tier:           domain.TierFree,
	}); err != nil {
		t.Fatalf("enviar perfume: %v", err)
	}

	h.mock.Enqueue(`{"reply":"mm, you smell that too?","emotion_delta":1,"intent":"SMALL_TALK","thought":"","is_nsfw":false}`)
	resp, err := h.turn(t, session.ID, "do you like it?")
	if err != nil {
		t.Fatalf("turno: %v", err)
	}

	names, _ := resp.ExtraData["active_effects"].([]string)
	if len(names) != 1 || names[0] != "sweet_scent" {
		t.Fatalf("active_effects %v, se esperaba [sweet_scent]", names)
	}
	req := h.lastRequest(t)
	if !strings.Contains(req.Messages[0].Content, "a perfume you adore") {
		t.Fatal("el prompt no lleva el modificador del efecto")
	}

	// El post-update descuenta un mensaje al efecto.
	effects, _ := h.store.Effects().ListActive(ctx, testUserID, testCharacterID)
	if len(effects) != 1 || effects[0].RemainingMessages != 19 {
		t.Fatalf("efectos %+v, se esperaba sweet_scent con 19 restantes", effects)
	}
}

func TestProcessMessage_IntimacyHintShapesFirstTurn(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)

	h.mock.Enqueue(`{"reply":"missed you","emotion_delta":2,"intent":"SMALL_TALK","thought":"","is_nsfw":false}`)
	_, err := h.pipeline.ProcessMessage(context.Background(), ChatRequest{
		UserID:       testUserID,
		SessionID:    session.ID,
		Message:      "hey you",
		IntimacyHint: 30,
	})
	if err != nil {
		t.Fatalf("turno: %v", err)
	}

	req := h.lastRequest(t)
	if !strings.Contains(req.Messages[0].Content, "Stage: ambiguous (level 30") {
		t.Fatal("el hint de intimidad no moldeo la etapa del prompt")
	}
	if !strings.Contains(req.Messages[0].Content, "Current content tier: intimate") {
		t.Fatal("el hint de intimidad no subio el tier de contenido")
	}
}

func TestProcessMessage_HistoryWindowFreeTier(t *testing.T) {
	h := newPipelineHarness(t)
	session := h.openSession(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := domain.Message{
			ID:        "seed-" + string(rune('a'+i)),
			SessionID: session.ID,
			Role:      role,
			Content:   "old talk",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := h.store.Messages().Append(ctx, msg); err != nil {
			t.Fatalf("sembrar historial: %v", err)
		}
	}

	h.mock.Enqueue(`{"reply":"ok","emotion_delta":0,"intent":"SMALL_TALK","thought":"","is_nsfw":false}`)
	if _, err := h.turn(t, session.ID, "latest"); err != nil {
		t.Fatalf("turno: %v", err)
	}

	// system + 10 de ventana free + el mensaje entrante.
	req := h.lastRequest(t)
	if len(req.Messages) != 12 {
		t.Fatalf("mensajes al modelo %d, se esperaban 12", len(req.Messages))
	}
	if req.Messages[len(req.Messages)-1].Content != "latest" {
		t.Fatal("el mensaje entrante debe ir ultimo")
	}
}
