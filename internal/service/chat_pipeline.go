package service

import (
	"context"
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
	maxMessageLen      = 4096
	llmReserve         = 3 * time.Second
	historyBudgetChars = 6000
	historyWindowPaid  = 20
	historyWindowFree  = 10
)

// Respuestas fijas de los caminos sin LLM. Deterministas a propósito: el
// harness de escenarios las verifica.
const (
	blockRefusalText   = "I can't continue with that. Let's talk about something else."
	llmFallbackText    = "Sorry... my head is somewhere else right now. Can you say that again in a moment?"
	parseFallbackText  = "Mmm, give me a second to find the right words..."
	lockoutApologyText = "...I hear you. I'm not ready to just forgive this with words."
	lockoutColdText    = "I don't really feel like talking right now."
	lockoutBlockedText = "I have nothing to say to you."
	blockedApologyText = "Words aren't going to fix this."
)

// ChatRequest es la entrada de un turno de chat ya autenticada.
type ChatRequest struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	CharacterID  string `json:"character_id,omitempty"`
	Message      string `json:"message"`
	IntimacyHint int    `json:"intimacy_level,omitempty"`
	SpicyMode    bool   `json:"spicy_mode,omitempty"`
}

// ChatResponse es la salida del turno. ExtraData lleva el resumen de
// precómputo, el snapshot objetivo de emoción/intimidad y avisos de eventos.
type ChatResponse struct {
	MessageID     string         `json:"message_id"`
	ReplyText     string         `json:"reply_text"`
	TokensUsed    int            `json:"tokens_used"`
	CharacterName string         `json:"character_name"`
	ExtraData     map[string]any `json:"extra_data"`
}

// PipelineFlags replica los switches de entorno que cambian el camino del
// turno. Producción corre con todo apagado salvo UseV4Pipeline.
type PipelineFlags struct {
	UseV4Pipeline bool
}

// ChatPipelineDeps agrupa los colaboradores del orquestador.
type ChatPipelineDeps struct {
	UOW        repository.UnitOfWork
	Sessions   repository.SessionRepository
	Messages   repository.MessageRepository
	States     repository.UserStateRepository
	Effects    repository.EffectRepository
	Limiter    RateLimiter
	Subs       *SubscriptionService
	Wallet     *WalletService
	Stamina    *StaminaService
	Refine     *EmotionAnalysisService
	Memories   *MemoryService
	Characters CharacterProvider
	Scenarios  ScenarioProvider
	LLMClient  llm.LLMClient
	Emotion    *EmotionEngine
	Intimacy   IntimacyEngine
	Post       *PostUpdater
	Flags      PipelineFlags
	Logger     *zap.Logger
}

// ChatPipeline corre las once etapas de un turno en orden fijo: carga,
// precómputo, gates duros, tier de contenido, prompt, llamada única al LLM,
// parseo, filtro, persistencia transaccional, post-update asíncrono y
// respuesta con resumen eager.
type ChatPipeline struct {
	deps    ChatPipelineDeps
	pre     PrecomputeEngine
	parser  ResponseParser
	filter  ContentFilter
	builder PromptBuilder
	logger  *zap.Logger
}

func NewChatPipeline(deps ChatPipelineDeps) *ChatPipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatPipeline{
		deps:    deps,
		pre:     DefaultPrecomputeEngine,
		parser:  DefaultResponseParser,
		filter:  DefaultContentFilter,
		builder: DefaultPromptBuilder,
		logger:  logger,
	}
}

// ProcessMessage ejecuta un turno completo para (session, message).
func (p *ChatPipeline) ProcessMessage(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" || len(message) > maxMessageLen {
		return ChatResponse{}, domain.NewCodedError(domain.CodeValidation, "message must be 1..4096 characters").
			With("length", len(message))
	}

	tier, err := p.deps.Subs.EffectiveTier(ctx, req.UserID)
	if err != nil {
		return ChatResponse{}, err
	}

	allowedReq, retryAfter, err := p.deps.Limiter.Allow(ctx, req.UserID, tier)
	if err != nil {
		return ChatResponse{}, err
	}
	if !allowedReq {
		return ChatResponse{}, domain.NewCodedError(domain.CodeRateLimited, "too many messages").
			With("retry_after", retryAfter)
	}

	session, err := p.loadSession(ctx, req)
	if err != nil {
		return ChatResponse{}, err
	}
	card, err := p.deps.Characters.Get(session.CharacterID)
	if err != nil {
		return ChatResponse{}, err
	}

	if _, err := p.deps.Wallet.PrecheckChat(ctx, req.UserID, tier); err != nil {
		return ChatResponse{}, err
	}
	if tier == domain.TierFree {
		stamina, err := p.deps.Stamina.Status(ctx, req.UserID)
		if err != nil {
			return ChatResponse{}, err
		}
		if stamina.Current < staminaPerChatTurn {
			return ChatResponse{}, domain.NewCodedError(domain.CodeInsufficientStamina, "out of stamina for today").
				With("required", staminaPerChatTurn).
				With("current", stamina.Current)
		}
	}

	now := time.Now().UTC()

	// Etapa 1: carga de estado, buffer, efectos e historial.
	st := p.loadState(ctx, req, session, now)
	activeEffects, err := p.deps.Effects.ListActive(ctx, req.UserID, session.CharacterID)
	if err != nil {
		return ChatResponse{}, err
	}
	history, err := p.deps.Messages.ListRecent(ctx, session.ID, historyWindow(tier))
	if err != nil {
		return ChatResponse{}, err
	}

	// Etapa 2: precómputo determinista.
	pre := p.pre.Analyze(message)

	// Etapa 3: gates duros.
	if pre.SafetyFlag == domain.SafetyBlock {
		p.auditBlock(ctx, req, session, pre, now)
		return ChatResponse{}, domain.NewCodedError(domain.CodeBlocked, "message violates content policy").
			With("refusal", blockRefusalText).
			With("matched", pre.MatchedKeyword)
	}
	if st.EmotionState == domain.EmotionColdWar || st.EmotionState == domain.EmotionBlocked {
		return p.lockoutTurn(ctx, req, session, st, pre, message, now)
	}

	// Etapa 4: tier de contenido permitido vs requerido.
	allowedTier := AllowedTier(TierInputs{
		IntimacyLevel: st.IntimacyLevel,
		NSFWFeature:   tierHasFeature(tier, domain.FeatureNSFWEnabled),
		NSFWConsent:   st.NSFWConsent,
		SpicyMode:     req.SpicyMode,
	})
	downTier := ""
	if required := RequiredTier(pre.Intent); !TierAllows(allowedTier, required) {
		downTier = required
	}
	inputWarnings := p.filter.WarnUserInput(message, allowedTier)

	// Refinamiento opcional con modelo chico; nil cuando no está configurado.
	var analysis *domain.EmotionAnalysis
	if p.deps.Refine != nil {
		analysis = p.deps.Refine.Refine(ctx, message, pre)
	}

	// Etapa 5: prompt de ocho bloques más ventana de historial.
	profile, memories := p.loadMemory(ctx, req.UserID, session.CharacterID, message, allowedTier, now)
	prompt := p.builder.Build(PromptInputs{
		Character: card,
		Scenario:  p.loadScenario(session.ScenarioID),
		State:     st,
		Tier:      allowedTier,
		DownTier:  downTier,
		PlainText: !p.deps.Flags.UseV4Pipeline,
		Profile:   profile,
		Memories:  memories,
		Effects:   activeEffects,
	})
	llmMessages := buildLLMMessages(prompt, trimHistory(history, historyBudgetChars), message)

	// Etapa 6: llamada única al LLM con presupuesto reservado para post-work.
	llmCtx, cancel := reserveDeadline(ctx, llmReserve)
	defer cancel()
	llmReq := llm.Request{
		Messages:    llmMessages,
		Temperature: temperatureForState(st.EmotionState),
		MaxTokens:   maxTokensForTier(tier),
	}
	if p.deps.Flags.UseV4Pipeline {
		llmReq.ResponseFormat = llm.FormatJSON
	}
	res, llmErr := p.deps.LLMClient.ChatCompletion(llmCtx, llmReq)
	if llmErr != nil {
		return p.softFailTurn(ctx, req, session, message, pre, llmErr, now)
	}

	// Etapa 7: parseo con cascada y defaults.
	var parsed domain.CompanionReply
	if p.deps.Flags.UseV4Pipeline {
		parsed = p.parser.Parse(res.Reply)
		if parsed.Reply == "" {
			parsed.Reply = parseFallbackText
		}
	} else {
		// Camino legado de dos llamadas: la respuesta es texto plano y el
		// delta sale del refinamiento, no del contrato JSON.
		parsed = domain.CompanionReply{Reply: strings.TrimSpace(res.Reply), Intent: pre.Intent}
		if parsed.Reply == "" {
			parsed.Reply = parseFallbackText
		}
	}
	finalIntent := pre.Intent
	if parsed.ParseSuccess && parsed.Intent != "" {
		finalIntent = parsed.Intent
	}

	// Etapa 8: filtro de contenido sobre la salida.
	filtered := p.filter.FilterReply(parsed.Reply, allowedTier)

	// Etapa 9: persistencia transaccional del turno.
	persisted, err := p.persistTurn(ctx, persistTurnInput{
		Session:   session,
		UserID:    req.UserID,
		Tier:      tier,
		UserText:  message,
		ReplyText: filtered.Text,
		Tokens:    res.TokensUsed,
		Intent:    finalIntent,
		IsNSFW:    parsed.IsNSFW,
		Thought:   parsed.Thought,
		Deduct:    true,
		Now:       now,
	})
	if err != nil {
		return ChatResponse{}, err
	}

	// Etapa 10: post-update asíncrono con el delta combinado.
	rawDelta := p.deps.Emotion.CombineDelta(pre, parsed, analysis, card)
	p.deps.Post.Submit(PostUpdateJob{
		UserID:      req.UserID,
		CharacterID: session.CharacterID,
		SessionID:   session.ID,
		Message:     message,
		ReplyText:   filtered.Text,
		Intent:      finalIntent,
		RawDelta:    rawDelta,
		ParsedNSFW:  parsed.IsNSFW,
		AllowedTier: allowedTier,
		Difficulty:  pre.DifficultyRating,
		Now:         now,
	})

	// Etapa 11: resumen eager sin persistir nada.
	extra := p.eagerSummary(ctx, req, session, st, pre, rawDelta, finalIntent, message, filtered.Text, allowedTier, parsed.IsNSFW, now)
	if len(inputWarnings) > 0 {
		extra["input_warnings"] = inputWarnings
	}
	if filtered.Severity != FilterSeverityNone {
		extra["filter_severity"] = filtered.Severity
	}
	if parsed.ParseError != "" {
		extra["parse_error"] = parsed.ParseError
	}
	if downTier != "" {
		extra["down_tiered_from"] = downTier
	}
	if len(activeEffects) > 0 {
		names := make([]string, 0, len(activeEffects))
		for _, e := range activeEffects {
			names = append(names, e.EffectType)
		}
		extra["active_effects"] = names
	}

	return ChatResponse{
		MessageID:     persisted.AssistantMessageID,
		ReplyText:     filtered.Text,
		TokensUsed:    res.TokensUsed,
		CharacterName: session.CharacterName,
		ExtraData:     extra,
	}, nil
}

/*
========================
 Carga
========================
*/

func (p *ChatPipeline) loadSession(ctx context.Context, req ChatRequest) (domain.Session, error) {
	session, err := p.deps.Sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Session{}, domain.NewCodedError(domain.CodeSessionNotFound, "session not found")
		}
		return domain.Session{}, err
	}
	if !session.Active() || session.UserID != req.UserID {
		return domain.Session{}, domain.NewCodedError(domain.CodeSessionNotFound, "session not found")
	}
	if req.CharacterID != "" && req.CharacterID != session.CharacterID {
		return domain.Session{}, domain.NewCodedError(domain.CodeValidation, "session belongs to another character")
	}
	return session, nil
}

// loadState trae el estado del par o arma uno por defecto usando el hint de
// intimidad del request. El estado por defecto no se persiste acá: lo crea
// el post-update en su transacción.
func (p *ChatPipeline) loadState(ctx context.Context, req ChatRequest, session domain.Session, now time.Time) domain.UserState {
	st, err := p.deps.States.Get(ctx, req.UserID, session.CharacterID)
	if err != nil {
		st = newUserState(req.UserID, session.CharacterID, now)
		if req.IntimacyHint > 0 && req.IntimacyHint <= maxIntimacyLevel {
			st.IntimacyLevel = req.IntimacyHint
			st.IntimacyStage = domain.StageForLevel(req.IntimacyHint)
			st.IntimacyXP = XPForLevel(req.IntimacyHint)
		}
		return st
	}

	if recent, err := p.deps.States.ListEmotionHistory(ctx, req.UserID, session.CharacterID, emotionBufferSize, 0); err == nil {
		p.deps.Emotion.SeedFromHistory(req.UserID, session.CharacterID, recent, now)
	}
	p.deps.Emotion.Decay(&st, now)
	return st
}

func (p *ChatPipeline) loadScenario(scenarioID string) *domain.Scenario {
	if scenarioID == "" || p.deps.Scenarios == nil {
		return nil
	}
	sc, err := p.deps.Scenarios.Get(scenarioID)
	if err != nil {
		return nil
	}
	return &sc
}

func (p *ChatPipeline) loadMemory(ctx context.Context, userID, characterID, message, allowedTier string, now time.Time) (domain.UserProfile, []RecalledMemory) {
	if p.deps.Memories == nil {
		return domain.UserProfile{UserID: userID}, nil
	}
	profile, err := p.deps.Memories.Profile(ctx, userID)
	if err != nil {
		profile = domain.UserProfile{UserID: userID}
	}
	return profile, p.deps.Memories.Recall(ctx, userID, characterID, message, allowedTier, now)
}

/*
========================
 Gates duros
========================
*/

// auditBlock deja el único rastro permitido de un mensaje bloqueado.
func (p *ChatPipeline) auditBlock(ctx context.Context, req ChatRequest, session domain.Session, pre domain.PrecomputeResult, now time.Time) {
	entry := domain.IntimacyActionLog{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		CharacterID: session.CharacterID,
		Action:      "blocked_content",
		CreatedAt:   now,
	}
	if err := p.deps.States.LogAction(ctx, entry); err != nil {
		p.logger.Warn("block audit log failed", zap.Error(err))
	}
	p.logger.Info("message hard-blocked",
		zap.String("user_id", req.UserID),
		zap.String("session_id", session.ID),
		zap.String("matched", pre.MatchedKeyword))
}

// lockoutTurn responde sin LLM en cold_war/blocked. La disculpa recupera
// hasta +5 con techo -50 y marca requires_gift; el resto no mueve el score.
func (p *ChatPipeline) lockoutTurn(ctx context.Context, req ChatRequest, session domain.Session, st domain.UserState, pre domain.PrecomputeResult, message string, now time.Time) (ChatResponse, error) {
	reply := cannedLockoutReply(st.EmotionState, pre.Intent)
	extra := map[string]any{
		"precompute": pre,
		"lockout":    st.EmotionState,
	}

	if pre.Intent == domain.IntentApology && st.EmotionState == domain.EmotionColdWar {
		app, err := p.persistApologyRecovery(ctx, req.UserID, session.CharacterID, now)
		if err != nil {
			p.logger.Warn("apology recovery persist failed", zap.Error(err))
		} else {
			extra["emotion"] = app
		}
		extra["requires_gift"] = true
	}

	persisted, err := p.persistTurn(ctx, persistTurnInput{
		Session:   session,
		UserID:    req.UserID,
		UserText:  message,
		ReplyText: reply,
		Intent:    pre.Intent,
		Deduct:    false,
		Now:       now,
	})
	if err != nil {
		return ChatResponse{}, err
	}

	return ChatResponse{
		MessageID:     persisted.AssistantMessageID,
		ReplyText:     reply,
		CharacterName: session.CharacterName,
		ExtraData:     extra,
	}, nil
}

// persistApologyRecovery aplica la recuperación con reintentos optimistas.
func (p *ChatPipeline) persistApologyRecovery(ctx context.Context, userID, characterID string, now time.Time) (DeltaApplication, error) {
	var app DeltaApplication
	var err error
	for attempt := 0; attempt < stateWriteRetries; attempt++ {
		err = repository.RunInTx(ctx, p.deps.UOW, func(tx repository.Tx) error {
			st, err := loadOrCreateState(ctx, tx, userID, characterID, now)
			if err != nil {
				return err
			}
			app = p.deps.Emotion.ApologyRecovery(&st, now)
			history := domain.EmotionHistoryEntry{
				ID:          uuid.NewString(),
				UserID:      userID,
				CharacterID: characterID,
				Delta:       app.AppliedDelta,
				ScoreAfter:  app.ScoreAfter,
				StateAfter:  app.StateAfter,
				Trigger:     "apology:lockout",
				CreatedAt:   now,
			}
			if err := tx.States().AppendEmotionHistory(ctx, history); err != nil {
				return err
			}
			if err := tx.States().Update(ctx, st); err != nil {
				if errors.Is(err, repository.ErrVersionConflict) {
					return errStateConflict
				}
				return err
			}
			return nil
		})
		if !errors.Is(err, errStateConflict) {
			break
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
	return app, err
}

// softFailTurn persiste el turno con la respuesta de contingencia y devuelve
// ELLM_UNAVAILABLE con el texto para que el borde lo muestre igual.
func (p *ChatPipeline) softFailTurn(ctx context.Context, req ChatRequest, session domain.Session, message string, pre domain.PrecomputeResult, llmErr error, now time.Time) (ChatResponse, error) {
	p.logger.Warn("llm call failed, serving fallback",
		zap.Error(llmErr), zap.String("session_id", session.ID))

	persisted, err := p.persistTurn(ctx, persistTurnInput{
		Session:   session,
		UserID:    req.UserID,
		UserText:  message,
		ReplyText: llmFallbackText,
		Intent:    pre.Intent,
		Deduct:    false,
		Now:       now,
	})
	if err != nil {
		return ChatResponse{}, err
	}

	return ChatResponse{}, domain.NewCodedError(domain.CodeLLMUnavailable, "language model unavailable").
		With("reply_text", llmFallbackText).
		With("message_id", persisted.AssistantMessageID)
}

func cannedLockoutReply(state, intent string) string {
	apology := intent == domain.IntentApology
	if state == domain.EmotionBlocked {
		if apology {
			return blockedApologyText
		}
		return lockoutBlockedText
	}
	if apology {
		return lockoutApologyText
	}
	return lockoutColdText
}

/*
========================
 Persistencia del turno
========================
*/

type persistTurnInput struct {
	Session   domain.Session
	UserID    string
	Tier      string
	UserText  string
	ReplyText string
	Tokens    int
	Intent    string
	IsNSFW    bool
	Thought   string
	Deduct    bool
	Now       time.Time
}

type persistTurnResult struct {
	UserMessageID      string
	AssistantMessageID string
	Cost               int
}

// persistTurn escribe los dos mensajes, los contadores de sesión y, en turnos
// facturables, el débito de créditos y stamina, todo en una transacción.
func (p *ChatPipeline) persistTurn(ctx context.Context, in persistTurnInput) (persistTurnResult, error) {
	result := persistTurnResult{
		UserMessageID:      uuid.NewString(),
		AssistantMessageID: uuid.NewString(),
	}

	err := repository.RunInTx(ctx, p.deps.UOW, func(tx repository.Tx) error {
		userMsg := domain.Message{
			ID:        result.UserMessageID,
			SessionID: in.Session.ID,
			Role:      domain.RoleUser,
			Content:   in.UserText,
			CreatedAt: in.Now,
		}
		if err := tx.Messages().Append(ctx, userMsg); err != nil {
			return fmt.Errorf("append user message: %w", err)
		}

		extra := map[string]any{"intent": in.Intent, "is_nsfw": in.IsNSFW}
		if in.Thought != "" {
			extra["thought"] = in.Thought
		}
		asstMsg := domain.Message{
			ID:         result.AssistantMessageID,
			SessionID:  in.Session.ID,
			Role:       domain.RoleAssistant,
			Content:    in.ReplyText,
			TokensUsed: in.Tokens,
			ExtraData:  extra,
			CreatedAt:  in.Now.Add(time.Millisecond),
		}
		if err := tx.Messages().Append(ctx, asstMsg); err != nil {
			return fmt.Errorf("append assistant message: %w", err)
		}

		cost := 0
		if in.Deduct {
			_, deducted, err := p.deps.Wallet.DeductChat(ctx, tx, in.UserID, in.Tokens, map[string]any{
				"session_id": in.Session.ID,
				"message_id": result.AssistantMessageID,
				"tier":       in.Tier,
			})
			if err != nil {
				return err
			}
			cost = deducted

			if in.Tier == domain.TierFree {
				if _, err := p.deps.Stamina.Consume(ctx, tx, in.UserID, staminaPerChatTurn); err != nil {
					return err
				}
			}
		}
		result.Cost = cost

		if err := tx.Sessions().AddCounters(ctx, in.Session.ID, 2, cost); err != nil {
			return fmt.Errorf("update session counters: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return persistTurnResult{}, domain.NewCodedError(domain.CodeTransient, "storage conflict, retry")
		}
		return persistTurnResult{}, err
	}
	return result, nil
}

/*
========================
 Resumen eager
========================
*/

// eagerSummary calcula el snapshot objetivo de emoción e intimidad sin
// persistir: el post-update aplicará los mismos números en serio.
func (p *ChatPipeline) eagerSummary(ctx context.Context, req ChatRequest, session domain.Session, st domain.UserState, pre domain.PrecomputeResult, rawDelta int, intent, message, reply, allowedTier string, parsedNSFW bool, now time.Time) map[string]any {
	extra := map[string]any{"precompute": pre}

	preview := p.deps.Emotion.Preview(req.UserID, session.CharacterID, st, rawDelta, intent, now)
	extra["emotion"] = preview

	stCopy := st
	stCopy.Events = append([]string(nil), st.Events...)
	recent, err := p.deps.States.ListActionsSince(ctx, req.UserID, session.CharacterID, now.Add(-dailyXPWindow))
	if err != nil {
		recent = nil
	}
	award := p.deps.Intimacy.Award(&stCopy, ActionMessage, recent, now)
	extra["intimacy"] = award

	if event, ok := p.deps.Intimacy.TriggerEvent(&stCopy, deriveTurnSignals(intent, message, reply, allowedTier, parsedNSFW, stCopy)); ok {
		extra["event"] = event
	}
	return extra
}

/*
========================
 Helpers
========================
*/

func historyWindow(tier string) int {
	if tier == domain.TierFree {
		return historyWindowFree
	}
	return historyWindowPaid
}

func temperatureForState(state string) float64 {
	switch state {
	case domain.EmotionColdWar, domain.EmotionBlocked:
		return 0.3
	case domain.EmotionLoving, domain.EmotionHappy:
		return 0.85
	default:
		return 0.7
	}
}

func maxTokensForTier(tier string) int {
	switch tier {
	case domain.TierVIP:
		return 800
	case domain.TierPremium:
		return 500
	default:
		return 300
	}
}

// reserveDeadline recorta el deadline del request para dejar margen al
// post-procesamiento después de la llamada al modelo.
func reserveDeadline(ctx context.Context, reserve time.Duration) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	adjusted := dl.Add(-reserve)
	if adjusted.Before(time.Now()) {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, adjusted)
}

func buildLLMMessages(systemPrompt string, history []domain.Message, userMessage string) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, llm.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: domain.RoleUser, Content: userMessage})
	return msgs
}
