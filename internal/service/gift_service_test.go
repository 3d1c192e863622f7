package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
)

// testCharacters sirve una única ficha con modificadores neutros para que
// los números esperados no dependan del catálogo real.
type testCharacters struct{}

func (testCharacters) Get(id string) (domain.CharacterCard, error) {
	if id != testCharacterID {
		return domain.CharacterCard{}, domain.NewCodedError(domain.CodeCharacterNotFound, "unknown character").
			With("character_id", id)
	}
	return domain.CharacterCard{
		ID:              testCharacterID,
		Name:            "Companion",
		Persona:         "A neutral test companion.",
		SpeechStyle:     "plain",
		Sensitivity:     1.0,
		ForgivenessRate: 1.0,
	}, nil
}

func (testCharacters) List() []domain.CharacterCard {
	card, _ := testCharacters{}.Get(testCharacterID)
	return []domain.CharacterCard{card}
}

type giftHarness struct {
	store *repository.MemStore
	mock  *llm.MockClient
	svc   *GiftService
}

func newGiftHarness(t *testing.T, cache IdempotencyCache) *giftHarness {
	t.Helper()
	store := repository.NewMemStore()
	mock := &llm.MockClient{}
	walletSvc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	svc := NewGiftService(
		store, store.Gifts(), store.Wallets(), store.Sessions(), store.Messages(),
		cache, walletSvc, NewEmotionEngine(), testCharacters{}, mock, nil,
	)
	return &giftHarness{store: store, mock: mock, svc: svc}
}

func (h *giftHarness) seedWallet(t *testing.T, purchased int) {
	t.Helper()
	w := domain.Wallet{
		UserID:           testUserID,
		PurchasedCredits: purchased,
		DailyRefreshedAt: time.Now().UTC(),
	}
	w.Recompute()
	if err := h.store.Wallets().Create(context.Background(), w); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}
}

func giftRequest(giftType, key string) SendGiftRequest {
	return SendGiftRequest{
		UserID:         testUserID,
		CharacterID:    testCharacterID,
		GiftType:       giftType,
		IdempotencyKey: key,
		Tier:           domain.TierFree,
	}
}

func TestGiftSend_HappyPath(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 500)
	ctx := context.Background()
	h.mock.Enqueue("aww, chocolate! you remembered.")

	receipt, err := h.svc.Send(ctx, giftRequest("chocolate", "key-1"))
	if err != nil {
		t.Fatalf("enviar regalo: %v", err)
	}
	if receipt.NewBalance != 480 {
		t.Fatalf("saldo %d, se esperaban 480", receipt.NewBalance)
	}
	if receipt.XPAwarded != 20 || receipt.LevelAfter != 2 {
		t.Fatalf("xp %.0f nivel %d, se esperaban 20 y 2", receipt.XPAwarded, receipt.LevelAfter)
	}
	if receipt.EventTriggered != "first_gift" {
		t.Fatalf("evento %q, se esperaba first_gift", receipt.EventTriggered)
	}
	if receipt.AckMessage != "aww, chocolate! you remembered." {
		t.Fatalf("ack %q inesperado", receipt.AckMessage)
	}
	if receipt.Emotion == nil || receipt.Emotion.AppliedDelta != 8 {
		t.Fatalf("emocion %+v, se esperaba delta 8", receipt.Emotion)
	}

	st, err := h.store.States().Get(ctx, testUserID, testCharacterID)
	if err != nil {
		t.Fatalf("leer estado: %v", err)
	}
	if st.IntimacyXP != 20 || st.IntimacyLevel != 2 {
		t.Fatalf("estado xp=%.0f nivel=%d, se esperaban 20 y 2", st.IntimacyXP, st.IntimacyLevel)
	}

	gifts, _ := h.store.Gifts().ListByUser(ctx, testUserID, "", 10, 0)
	if len(gifts) != 1 {
		t.Fatalf("regalos %d, se esperaba 1", len(gifts))
	}
	if gifts[0].Status != domain.GiftAcknowledged {
		t.Fatalf("estado del regalo %q, se esperaba acknowledged", gifts[0].Status)
	}
}

func TestGiftSend_ReplayReturnsSameReceipt(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 500)
	ctx := context.Background()

	first, err := h.svc.Send(ctx, giftRequest("chocolate", "key-1"))
	if err != nil {
		t.Fatalf("primer envio: %v", err)
	}
	second, err := h.svc.Send(ctx, giftRequest("chocolate", "key-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if !second.Replayed {
		t.Fatal("el replay debia marcarse como tal")
	}
	if second.GiftID != first.GiftID {
		t.Fatalf("gift_id %s != %s, el replay debe devolver el mismo regalo", second.GiftID, first.GiftID)
	}
	if second.NewBalance != 480 {
		t.Fatalf("saldo del replay %d, se esperaba 480", second.NewBalance)
	}

	w, _ := h.store.Wallets().Get(ctx, testUserID)
	if w.TotalCredits != 480 {
		t.Fatalf("saldo real %d, el replay no debe cobrar dos veces", w.TotalCredits)
	}
	gifts, _ := h.store.Gifts().ListByUser(ctx, testUserID, "", 10, 0)
	if len(gifts) != 1 {
		t.Fatalf("regalos %d, se esperaba 1", len(gifts))
	}
	if got := countLedgerEntries(t, h.store, testUserID, domain.LedgerGift); got != 1 {
		t.Fatalf("asientos gift %d, se esperaba 1", got)
	}
}

func TestGiftSend_ReplaySurvivesWithoutCache(t *testing.T) {
	// Sin cache en memoria el replay se resuelve contra la tabla persistida.
	h := newGiftHarness(t, nil)
	h.seedWallet(t, 500)
	ctx := context.Background()

	first, err := h.svc.Send(ctx, giftRequest("rose", "key-9"))
	if err != nil {
		t.Fatalf("primer envio: %v", err)
	}
	second, err := h.svc.Send(ctx, giftRequest("rose", "key-9"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.GiftID != first.GiftID {
		t.Fatalf("replay %+v, se esperaba el recibo original %s", second, first.GiftID)
	}
}

func TestGiftSend_Validation(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	ctx := context.Background()

	_, err := h.svc.Send(ctx, giftRequest("unicorn", "key-1"))
	wantCode(t, err, domain.CodeValidation)

	_, err = h.svc.Send(ctx, giftRequest("rose", "  "))
	wantCode(t, err, domain.CodeValidation)
}

func TestGiftSend_InsufficientCredits(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 10)
	ctx := context.Background()

	_, err := h.svc.Send(ctx, giftRequest("chocolate", "key-1"))
	coded := wantCode(t, err, domain.CodeInsufficientCredits)
	if coded.Detail["required"] != 20 {
		t.Fatalf("required %v, se esperaba 20", coded.Detail["required"])
	}

	gifts, _ := h.store.Gifts().ListByUser(ctx, testUserID, "", 10, 0)
	if len(gifts) != 0 {
		t.Fatalf("no debia persistirse ningun regalo, hay %d", len(gifts))
	}
}

func TestGiftSend_EffectGiftInstallsModifier(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 100)
	ctx := context.Background()

	receipt, err := h.svc.Send(ctx, giftRequest("perfume", "key-1"))
	if err != nil {
		t.Fatalf("enviar perfume: %v", err)
	}
	if receipt.NewBalance != 40 {
		t.Fatalf("saldo %d, se esperaban 40", receipt.NewBalance)
	}
	if receipt.Emotion == nil || receipt.Emotion.AppliedDelta != 10 {
		t.Fatalf("emocion %+v, se esperaba delta 10", receipt.Emotion)
	}

	effects, err := h.store.Effects().ListActive(ctx, testUserID, testCharacterID)
	if err != nil {
		t.Fatalf("listar efectos: %v", err)
	}
	if len(effects) != 1 {
		t.Fatalf("efectos %d, se esperaba 1", len(effects))
	}
	if effects[0].EffectType != "sweet_scent" || effects[0].RemainingMessages != 20 {
		t.Fatalf("efecto %+v, se esperaba sweet_scent por 20 mensajes", effects[0])
	}
}

func TestGiftSend_LuxuryForcesFullRecovery(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 600)
	ctx := context.Background()

	receipt, err := h.svc.Send(ctx, giftRequest("diamond_ring", "key-1"))
	if err != nil {
		t.Fatalf("enviar anillo: %v", err)
	}
	if receipt.Emotion == nil || receipt.Emotion.AppliedDelta != 50 {
		t.Fatalf("emocion %+v, el lujo debe aplicar el delta maximo", receipt.Emotion)
	}
	if receipt.Emotion.ScoreAfter != 50 || receipt.Emotion.StateAfter != domain.EmotionHappy {
		t.Fatalf("estado %s/%d, se esperaba happy/50", receipt.Emotion.StateAfter, receipt.Emotion.ScoreAfter)
	}
}

func TestGiftSend_ApologyScrollLiftsColdWar(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 200)
	ctx := context.Background()

	seed := newUserState(testUserID, testCharacterID, time.Now().UTC())
	seed.EmotionScore = -85
	seed.EmotionState = domain.EmotionColdWar
	if err := h.store.States().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar estado: %v", err)
	}

	receipt, err := h.svc.Send(ctx, giftRequest("apology_scroll", "key-1"))
	if err != nil {
		t.Fatalf("enviar pergamino: %v", err)
	}
	if receipt.Emotion == nil || receipt.Emotion.ScoreAfter != -70 {
		t.Fatalf("emocion %+v, se esperaba score -70", receipt.Emotion)
	}
	if receipt.Emotion.StateAfter == domain.EmotionColdWar {
		t.Fatal("el pergamino debia sacar del cold_war")
	}

	history, err := h.store.States().ListEmotionHistory(ctx, testUserID, testCharacterID, 10, 0)
	if err != nil {
		t.Fatalf("listar historial: %v", err)
	}
	found := false
	for _, entry := range history {
		if entry.Trigger == "gift:apology_scroll" {
			found = true
		}
	}
	if !found {
		t.Fatalf("historial %+v sin el trigger gift:apology_scroll", history)
	}
}

func TestGiftSend_AckFallbackAndRetry(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 500)
	ctx := context.Background()

	h.mock.Err = context.DeadlineExceeded
	receipt, err := h.svc.Send(ctx, giftRequest("chocolate", "key-1"))
	if err != nil {
		t.Fatalf("el regalo debe cobrarse aunque caiga el modelo: %v", err)
	}
	if !strings.Contains(receipt.AckMessage, "Chocolate Box") {
		t.Fatalf("ack enlatado %q, debia mencionar el regalo", receipt.AckMessage)
	}

	gifts, _ := h.store.Gifts().ListByUser(ctx, testUserID, "", 10, 0)
	if len(gifts) != 1 || gifts[0].Status != domain.GiftPending {
		t.Fatalf("regalo %+v, debia quedar pendiente de ack", gifts)
	}

	h.mock.Err = nil
	h.mock.Enqueue("you spoil me. thank you.")
	if acked := h.svc.RetryPendingAcks(ctx, 10); acked != 1 {
		t.Fatalf("acked %d, se esperaba 1", acked)
	}
	gifts, _ = h.store.Gifts().ListByUser(ctx, testUserID, "", 10, 0)
	if gifts[0].Status != domain.GiftAcknowledged {
		t.Fatalf("estado %q tras el retry, se esperaba acknowledged", gifts[0].Status)
	}
}

func TestGiftSend_FirstGiftEventOnlyOnce(t *testing.T) {
	h := newGiftHarness(t, NewMemoryIdempotencyCache())
	h.seedWallet(t, 500)
	ctx := context.Background()

	first, err := h.svc.Send(ctx, giftRequest("rose", "key-1"))
	if err != nil {
		t.Fatalf("primer regalo: %v", err)
	}
	if first.EventTriggered != "first_gift" {
		t.Fatalf("evento %q, se esperaba first_gift", first.EventTriggered)
	}

	second, err := h.svc.Send(ctx, giftRequest("rose", "key-2"))
	if err != nil {
		t.Fatalf("segundo regalo: %v", err)
	}
	if second.EventTriggered != "" {
		t.Fatalf("evento %q, first_gift no debe repetirse", second.EventTriggered)
	}
}
