package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
)

// EmotionAnalysisService pide a un modelo chico un refinamiento del análisis
// de reglas. Es enriquecimiento opcional: el pipeline sigue con el resultado
// de reglas cuando este paso falla o no está configurado.
type EmotionAnalysisService struct {
	llmClient llm.LLMClient
	model     string
	logger    *zap.Logger
}

func NewEmotionAnalysisService(llmClient llm.LLMClient, model string, logger *zap.Logger) *EmotionAnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmotionAnalysisService{llmClient: llmClient, model: model, logger: logger}
}

// Refine devuelve nil cuando el modelo no responde o la salida no parsea:
// nunca bloquea el turno.
func (s *EmotionAnalysisService) Refine(ctx context.Context, message string, pre domain.PrecomputeResult) *domain.EmotionAnalysis {
	if s == nil || s.llmClient == nil {
		return nil
	}

	system := fmt.Sprintf(`You analyze one user message inside an ongoing companion chat.
The fast classifier read it as intent=%s, sentiment=%.2f. Refine or confirm that reading.
Return ONLY a JSON object:
{"sentiment":"positive|negative|neutral","intensity":0.0,"intent":"SMALL_TALK","suggested_delta":0,"reasoning":"one line"}
Rules:
- intensity in [0,1]: 0.1 trivial small talk, 0.5 personal topics, 0.9 insults or love/hate declarations.
- intent: one of SMALL_TALK, COMPLIMENT, INSULT, APOLOGY, LOVE_CONFESSION, REQUEST_NSFW, GIFT_SEND, INVITATION, EXPRESS_SADNESS, IGNORE.
- suggested_delta: integer in [-30,30], how this message should move the companion's feelings.`,
		pre.Intent, pre.SentimentScore)

	res, err := s.llmClient.ChatCompletion(ctx, llm.Request{
		Messages: []llm.ChatMessage{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: strings.TrimSpace(message)},
		},
		Temperature:    0,
		MaxTokens:      200,
		ResponseFormat: llm.FormatJSON,
		Model:          s.model,
	})
	if err != nil {
		s.logger.Debug("emotion refinement skipped", zap.Error(err))
		return nil
	}

	cleaned := stripJSONFences(res.Reply)
	if obj := extractFirstJSONObject(cleaned); obj != "" {
		cleaned = obj
	}
	var analysis domain.EmotionAnalysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		s.logger.Debug("emotion refinement unparseable", zap.Error(err))
		return nil
	}

	analysis.Intent = normalizeIntent(analysis.Intent)
	if analysis.Intent == "" {
		analysis.Intent = pre.Intent
	}
	if analysis.Intensity < 0 {
		analysis.Intensity = 0
	}
	if analysis.Intensity > 1 {
		analysis.Intensity = 1
	}
	analysis.SuggestedDelta = clampDelta(analysis.SuggestedDelta)
	return &analysis
}
