package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
)

const (
	giftIdempotencyTTL = 24 * time.Hour
	stateWriteRetries  = 3
)

// Señales internas del loop transaccional.
var (
	errGiftReplayRace = errors.New("gift idempotency race")
	errStateConflict  = errors.New("user state version conflict")
)

// SendGiftRequest es la orden de envío ya autenticada y con tier resuelto.
type SendGiftRequest struct {
	UserID         string `json:"user_id"`
	CharacterID    string `json:"character_id"`
	SessionID      string `json:"session_id,omitempty"`
	GiftType       string `json:"gift_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Tier           string `json:"-"`
}

// GiftReceipt es el resultado serializado en el registro de idempotencia:
// un replay devuelve exactamente este contenido.
type GiftReceipt struct {
	GiftID         string            `json:"gift_id"`
	GiftType       string            `json:"gift_type"`
	GiftName       string            `json:"gift_name"`
	NewBalance     int               `json:"new_balance"`
	XPAwarded      float64           `json:"xp_awarded"`
	LevelAfter     int               `json:"level_after"`
	Emotion        *DeltaApplication `json:"emotion,omitempty"`
	EventTriggered string            `json:"event_triggered,omitempty"`
	AckMessage     string            `json:"ack_message,omitempty"`
	Replayed       bool              `json:"-"`
}

// GiftService ejecuta la transacción de regalo: cobro, registro, XP, efectos
// y recuperación emocional en un solo commit, con idempotencia por clave del
// cliente. El agradecimiento del personaje va después del commit.
type GiftService struct {
	uow        repository.UnitOfWork
	gifts      repository.GiftRepository
	wallets    repository.WalletRepository
	sessions   repository.SessionRepository
	messages   repository.MessageRepository
	cache      IdempotencyCache
	walletSvc  *WalletService
	emotion    *EmotionEngine
	intimacy   IntimacyEngine
	characters CharacterProvider
	llmClient  llm.LLMClient
	logger     *zap.Logger
}

func NewGiftService(
	uow repository.UnitOfWork,
	gifts repository.GiftRepository,
	wallets repository.WalletRepository,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	cache IdempotencyCache,
	walletSvc *WalletService,
	emotion *EmotionEngine,
	characters CharacterProvider,
	llmClient llm.LLMClient,
	logger *zap.Logger,
) *GiftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GiftService{
		uow:        uow,
		gifts:      gifts,
		wallets:    wallets,
		sessions:   sessions,
		messages:   messages,
		cache:      cache,
		walletSvc:  walletSvc,
		emotion:    emotion,
		characters: characters,
		llmClient:  llmClient,
		logger:     logger,
	}
}

// Send procesa un regalo. La misma (user, idempotency_key) produce el mismo
// resultado y cobra exactamente una vez dentro de la ventana de 24h.
func (s *GiftService) Send(ctx context.Context, req SendGiftRequest) (GiftReceipt, error) {
	info, ok := LookupGift(req.GiftType)
	if !ok {
		return GiftReceipt{}, domain.NewCodedError(domain.CodeValidation, "unknown gift type").
			With("gift_type", req.GiftType)
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return GiftReceipt{}, domain.NewCodedError(domain.CodeValidation, "idempotency_key is required")
	}

	if receipt, ok := s.lookupReplay(ctx, req.UserID, req.IdempotencyKey); ok {
		return receipt, nil
	}

	// Pre-check optimista: evita abrir transacción para un rechazo obvio.
	if w, err := s.wallets.Get(ctx, req.UserID); err == nil && w.TotalCredits < info.Price {
		return GiftReceipt{}, domain.NewCodedError(domain.CodeInsufficientCredits, "not enough credits for gift").
			With("required", info.Price).
			With("current_balance", w.TotalCredits)
	}

	var receipt GiftReceipt
	var record domain.IdempotencyRecord
	var err error
	for attempt := 0; attempt < stateWriteRetries; attempt++ {
		receipt, record, err = s.sendOnce(ctx, req, info)
		if !errors.Is(err, errStateConflict) {
			break
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
	if errors.Is(err, errStateConflict) {
		return GiftReceipt{}, domain.NewCodedError(domain.CodeTransient, "gift transaction conflicted, retry").
			With("attempts", stateWriteRetries)
	}
	if errors.Is(err, errGiftReplayRace) {
		// Otro request con la misma clave ganó la carrera: devolvemos su resultado.
		if replayed, ok := s.lookupReplay(ctx, req.UserID, req.IdempotencyKey); ok {
			return replayed, nil
		}
		return GiftReceipt{}, domain.NewCodedError(domain.CodeConflict, "duplicate idempotency key")
	}
	if err != nil {
		return GiftReceipt{}, err
	}

	if s.cache != nil {
		s.cache.Put(ctx, record)
	}

	// Agradecimiento post-commit: el regalo ya está cobrado; si el LLM falla
	// respondemos con el texto enlatado y dejamos el gift pendiente de ack.
	receipt.AckMessage = s.acknowledge(ctx, receipt.GiftID, req, info)
	return receipt, nil
}

func (s *GiftService) sendOnce(ctx context.Context, req SendGiftRequest, info domain.GiftInfo) (GiftReceipt, domain.IdempotencyRecord, error) {
	var receipt GiftReceipt
	var record domain.IdempotencyRecord

	err := repository.RunInTx(ctx, s.uow, func(tx repository.Tx) error {
		now := time.Now().UTC()

		w, err := s.walletSvc.lockOrCreate(ctx, tx, req.UserID, req.Tier)
		if err != nil {
			return err
		}
		if w.TotalCredits < info.Price {
			return domain.NewCodedError(domain.CodeInsufficientCredits, "not enough credits for gift").
				With("required", info.Price).
				With("current_balance", w.TotalCredits)
		}
		if err := deductPockets(&w, info.Price); err != nil {
			return err
		}
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return fmt.Errorf("save wallet: %w", err)
		}

		gift := domain.Gift{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			CharacterID:    req.CharacterID,
			SessionID:      req.SessionID,
			Type:           info.Type,
			Price:          info.Price,
			XPReward:       info.XPReward,
			Tier:           info.Tier,
			Status:         domain.GiftPending,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.Gifts().Create(ctx, gift); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errGiftReplayRace
			}
			return fmt.Errorf("create gift: %w", err)
		}

		ledgerEntry := domain.LedgerEntry{
			ID:           uuid.NewString(),
			UserID:       req.UserID,
			Type:         domain.LedgerGift,
			Amount:       -info.Price,
			BalanceAfter: w.TotalCredits,
			Description:  "gift " + info.Type,
			ExtraData: map[string]any{
				"gift_id":      gift.ID,
				"gift_type":    info.Type,
				"character_id": req.CharacterID,
			},
			CreatedAt: now,
		}
		if err := tx.Ledger().Append(ctx, ledgerEntry); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}

		st, err := loadOrCreateState(ctx, tx, req.UserID, req.CharacterID, now)
		if err != nil {
			return err
		}

		// XP directo, sin pasar por el tope diario: el regalo ya costó créditos.
		st.IntimacyXP += info.XPReward
		st.IntimacyLevel = LevelForXP(st.IntimacyXP)
		st.IntimacyStage = domain.StageForLevel(st.IntimacyLevel)

		var emotionApp *DeltaApplication
		if info.EmotionBonus != 0 || info.ClearsColdWar || info.Tier == domain.GiftTierLuxury {
			app := s.emotion.GiftRecovery(&st, info.EmotionBonus, info.ClearsColdWar, info.Tier == domain.GiftTierLuxury, now)
			emotionApp = &app
			history := domain.EmotionHistoryEntry{
				ID:          uuid.NewString(),
				UserID:      req.UserID,
				CharacterID: req.CharacterID,
				Delta:       app.AppliedDelta,
				ScoreAfter:  app.ScoreAfter,
				StateAfter:  app.StateAfter,
				Trigger:     "gift:" + info.Type,
				CreatedAt:   now,
			}
			if err := tx.States().AppendEmotionHistory(ctx, history); err != nil {
				return fmt.Errorf("append emotion history: %w", err)
			}
		}

		event, _ := s.intimacy.TriggerEvent(&st, TurnSignals{GiftSent: true})

		if err := tx.States().Update(ctx, st); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return errStateConflict
			}
			return fmt.Errorf("update state: %w", err)
		}

		if info.Tier == domain.GiftTierEffect {
			effect := domain.ActiveEffect{
				ID:                uuid.NewString(),
				UserID:            req.UserID,
				CharacterID:       req.CharacterID,
				EffectType:        info.EffectType,
				PromptModifier:    info.PromptModifier,
				RemainingMessages: info.EffectMessages,
				GiftID:            gift.ID,
				CreatedAt:         now,
			}
			if err := tx.Effects().ReplaceByType(ctx, effect); err != nil {
				return fmt.Errorf("replace effect: %w", err)
			}
		}

		receipt = GiftReceipt{
			GiftID:         gift.ID,
			GiftType:       info.Type,
			GiftName:       info.Name,
			NewBalance:     w.TotalCredits,
			XPAwarded:      info.XPReward,
			LevelAfter:     st.IntimacyLevel,
			Emotion:        emotionApp,
			EventTriggered: event,
		}
		raw, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshal receipt: %w", err)
		}
		record = domain.IdempotencyRecord{
			Key:       req.IdempotencyKey,
			UserID:    req.UserID,
			GiftID:    gift.ID,
			Result:    raw,
			ExpiresAt: now.Add(giftIdempotencyTTL),
		}
		if err := tx.Gifts().PutIdempotency(ctx, record); err != nil {
			return fmt.Errorf("put idempotency: %w", err)
		}
		return nil
	})
	return receipt, record, err
}

// lookupReplay busca la clave primero en cache y después en la tabla
// persistida. Las claves son por usuario: la de otro usuario no existe.
func (s *GiftService) lookupReplay(ctx context.Context, userID, key string) (GiftReceipt, bool) {
	var rec domain.IdempotencyRecord
	found := false
	if s.cache != nil {
		rec, found = s.cache.Get(ctx, userID, key)
	}
	if !found {
		stored, err := s.gifts.GetIdempotency(ctx, userID, key)
		if err != nil || stored.Expired(time.Now().UTC()) {
			return GiftReceipt{}, false
		}
		rec, found = stored, true
		if s.cache != nil {
			s.cache.Put(ctx, rec)
		}
	}

	var receipt GiftReceipt
	if err := json.Unmarshal(rec.Result, &receipt); err != nil {
		return GiftReceipt{}, false
	}
	receipt.Replayed = true
	return receipt, true
}

/*
========================
 Agradecimiento
========================
*/

// acknowledge genera la reacción del personaje después del commit. Nunca
// revierte el regalo: ante falla del LLM devuelve el texto enlatado y deja
// el gift en pending para el reintento.
func (s *GiftService) acknowledge(ctx context.Context, giftID string, req SendGiftRequest, info domain.GiftInfo) string {
	card, err := s.characters.Get(req.CharacterID)
	if err != nil {
		card = domain.CharacterCard{ID: req.CharacterID, Name: "Your companion"}
	}

	text, tokens, err := s.generateAck(ctx, card, info)
	if err != nil {
		s.logger.Warn("gift ack generation failed, leaving pending",
			zap.Error(err), zap.String("gift_id", giftID))
		return cannedGiftAck(card.Name, info)
	}

	if err := s.persistAck(ctx, req, card, giftID, text, tokens); err != nil {
		s.logger.Warn("gift ack persist failed, leaving pending",
			zap.Error(err), zap.String("gift_id", giftID))
		return text
	}

	now := time.Now().UTC()
	if err := s.gifts.UpdateStatus(ctx, giftID, domain.GiftAcknowledged, &now); err != nil {
		s.logger.Warn("gift ack status update failed",
			zap.Error(err), zap.String("gift_id", giftID))
	}
	return text
}

func (s *GiftService) generateAck(ctx context.Context, card domain.CharacterCard, info domain.GiftInfo) (string, int, error) {
	system := fmt.Sprintf(
		"You are %s. %s\nSpeech style: %s\nThe user just gave you a gift: %s. React in character, warm and specific, in one or two sentences. Reply with plain text only.",
		card.Name, card.Persona, card.SpeechStyle, info.Name,
	)
	res, err := s.llmClient.ChatCompletion(ctx, llm.Request{
		Messages: []llm.ChatMessage{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: "I got this for you: " + info.Name},
		},
		Temperature: 0.8,
		MaxTokens:   150,
	})
	if err != nil {
		return "", 0, err
	}
	text := strings.TrimSpace(res.Reply)
	if text == "" {
		return "", 0, errors.New("empty ack from model")
	}
	return text, res.TokensUsed, nil
}

func (s *GiftService) persistAck(ctx context.Context, req SendGiftRequest, card domain.CharacterCard, giftID, text string, tokens int) error {
	sessionID := req.SessionID
	if sessionID == "" {
		session, _, err := s.sessions.GetOrCreate(ctx, domain.Session{
			ID:            uuid.NewString(),
			UserID:        req.UserID,
			CharacterID:   req.CharacterID,
			CharacterName: card.Name,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("resolve session: %w", err)
		}
		sessionID = session.ID
	}

	msg := domain.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       domain.RoleAssistant,
		Content:    text,
		TokensUsed: tokens,
		ExtraData:  map[string]any{"gift_ack": true, "gift_id": giftID},
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("append ack message: %w", err)
	}
	return nil
}

// RetryPendingAcks reintenta agradecimientos que quedaron pendientes (caída
// del LLM después del commit). Devuelve cuántos quedaron resueltos.
func (s *GiftService) RetryPendingAcks(ctx context.Context, limit int) int {
	pending, err := s.gifts.ListPendingAck(ctx, limit)
	if err != nil {
		s.logger.Warn("list pending acks failed", zap.Error(err))
		return 0
	}

	acked := 0
	for _, gift := range pending {
		info, ok := LookupGift(gift.Type)
		if !ok {
			continue
		}
		req := SendGiftRequest{
			UserID:      gift.UserID,
			CharacterID: gift.CharacterID,
			SessionID:   gift.SessionID,
			GiftType:    gift.Type,
		}
		card, err := s.characters.Get(gift.CharacterID)
		if err != nil {
			card = domain.CharacterCard{ID: gift.CharacterID, Name: "Your companion"}
		}
		text, tokens, err := s.generateAck(ctx, card, info)
		if err != nil {
			continue
		}
		if err := s.persistAck(ctx, req, card, gift.ID, text, tokens); err != nil {
			continue
		}
		now := time.Now().UTC()
		if err := s.gifts.UpdateStatus(ctx, gift.ID, domain.GiftAcknowledged, &now); err != nil {
			continue
		}
		acked++
	}
	return acked
}

// History lista los regalos del usuario, más recientes primero.
func (s *GiftService) History(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.Gift, error) {
	return s.gifts.ListByUser(ctx, userID, characterID, limit, offset)
}

/*
========================
 Helpers de estado
========================
*/

// loadOrCreateState trae el estado del par, creándolo en el primer contacto.
func loadOrCreateState(ctx context.Context, tx repository.Tx, userID, characterID string, now time.Time) (domain.UserState, error) {
	st, err := tx.States().Get(ctx, userID, characterID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.UserState{}, fmt.Errorf("get state: %w", err)
	}

	st = newUserState(userID, characterID, now)
	if err := tx.States().Create(ctx, st); err != nil {
		return domain.UserState{}, fmt.Errorf("create state: %w", err)
	}
	return tx.States().Get(ctx, userID, characterID)
}

func newUserState(userID, characterID string, now time.Time) domain.UserState {
	return domain.UserState{
		UserID:           userID,
		CharacterID:      characterID,
		IntimacyStage:    domain.StageStrangers,
		EmotionState:     domain.EmotionNeutral,
		LastDailyReset:   now,
		EmotionUpdatedAt: now,
	}
}

// cannedGiftAck es el fallback cuando el modelo no responde.
func cannedGiftAck(name string, info domain.GiftInfo) string {
	switch info.Tier {
	case domain.GiftTierLuxury:
		return fmt.Sprintf("%s stares at the %s, speechless... \"I can't believe you did this. Thank you.\"", name, info.Name)
	case domain.GiftTierEffect:
		return fmt.Sprintf("\"A %s? You remembered... thank you.\"", info.Name)
	default:
		return fmt.Sprintf("\"Aww, a %s! Thank you, that's so sweet.\"", info.Name)
	}
}
