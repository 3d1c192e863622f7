package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/llm"
	"companion-llm/internal/repository"
)

const (
	memoryTopK        = 5
	memoryPoolSize    = 12
	reinforceMinScore = 0.92
)

// RecalledMemory es un recuerdo más el rank con el que entra al prompt.
type RecalledMemory struct {
	Fact domain.MemoryFact `json:"fact"`
	Rank float64           `json:"rank"`
}

// MemoryService mantiene la memoria episódica por par: extracción de hechos
// asistida por LLM, refuerzo por re-mención y recall rankeado para el prompt.
// Sin embedder o sin modelo degrada en silencio: el prompt sigue con el
// perfil solamente.
type MemoryService struct {
	memories  repository.MemoryRepository
	profiles  repository.UserProfileRepository
	embedder  llm.Embedder
	llmClient llm.LLMClient
	logger    *zap.Logger
}

func NewMemoryService(
	memories repository.MemoryRepository,
	profiles repository.UserProfileRepository,
	embedder llm.Embedder,
	llmClient llm.LLMClient,
	logger *zap.Logger,
) *MemoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryService{
		memories:  memories,
		profiles:  profiles,
		embedder:  embedder,
		llmClient: llmClient,
		logger:    logger,
	}
}

// Profile devuelve el perfil del usuario, vacío si todavía no declaró nada.
func (s *MemoryService) Profile(ctx context.Context, userID string) (domain.UserProfile, error) {
	if s == nil || s.profiles == nil {
		return domain.UserProfile{UserID: userID}, nil
	}
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.UserProfile{UserID: userID}, nil
		}
		return domain.UserProfile{}, err
	}
	return profile, nil
}

// Recall busca por embedding del mensaje actual y rerankea el pool con
// importance*10 + strength*5 + keyword*15 + bono de recencia. En tiers pure
// y flirty los recuerdos íntimos se retienen.
func (s *MemoryService) Recall(ctx context.Context, userID, characterID, message, allowedTier string, now time.Time) []RecalledMemory {
	if s == nil || s.memories == nil || s.embedder == nil {
		return nil
	}

	embedding, err := s.embedder.CreateEmbedding(ctx, message)
	if err != nil {
		s.logger.Debug("memory recall skipped, embedding failed", zap.Error(err))
		return nil
	}

	matches, err := s.memories.Search(ctx, userID, characterID, pgvector.NewVector(embedding), memoryPoolSize)
	if err != nil {
		s.logger.Debug("memory recall skipped, search failed", zap.Error(err))
		return nil
	}

	withholdIntimate := tierRank[allowedTier] < tierRank[domain.ContentTierIntimate]
	msgNorm := normalize(message)

	recalled := make([]RecalledMemory, 0, len(matches))
	for _, m := range matches {
		if withholdIntimate && m.Fact.IsIntimate {
			continue
		}
		recalled = append(recalled, RecalledMemory{
			Fact: m.Fact,
			Rank: rankMemory(m.Fact, msgNorm, now),
		})
	}
	sort.SliceStable(recalled, func(i, j int) bool { return recalled[i].Rank > recalled[j].Rank })
	if len(recalled) > memoryTopK {
		recalled = recalled[:memoryTopK]
	}
	return recalled
}

func rankMemory(m domain.MemoryFact, msgNorm string, now time.Time) float64 {
	rank := float64(m.Importance)*10 + float64(m.Strength)*5
	for _, kw := range m.Keywords {
		if kw != "" && strings.Contains(msgNorm, normalize(kw)) {
			rank += 15
			break
		}
	}
	rank += recencyBonus(now.Sub(m.HappenedAt))
	return rank
}

func recencyBonus(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 10
	case age <= 7*24*time.Hour:
		return 6
	case age <= 30*24*time.Hour:
		return 3
	default:
		return 0
	}
}

// Remember inserta o refuerza un hecho. Si ya existe uno casi idéntico
// (similitud sobre el umbral) sube strength en lugar de duplicar.
func (s *MemoryService) Remember(ctx context.Context, fact domain.MemoryFact) error {
	if s == nil || s.memories == nil || s.embedder == nil {
		return nil
	}
	if strings.TrimSpace(fact.Content) == "" {
		return nil
	}

	embedding, err := s.embedder.CreateEmbedding(ctx, fact.Content)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	fact.Embedding = pgvector.NewVector(embedding)

	now := time.Now().UTC()
	if matches, err := s.memories.Search(ctx, fact.UserID, fact.CharacterID, fact.Embedding, 1); err == nil && len(matches) > 0 {
		if best := matches[0]; best.Score >= reinforceMinScore {
			existing := best.Fact
			if existing.Strength < 10 {
				existing.Strength++
			}
			existing.Keywords = mergeKeywords(existing.Keywords, fact.Keywords)
			existing.HappenedAt = now
			existing.UpdatedAt = now
			return s.memories.Upsert(ctx, existing)
		}
	}

	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.Importance <= 0 {
		fact.Importance = 5
	}
	if fact.Importance > 10 {
		fact.Importance = 10
	}
	if fact.Strength <= 0 {
		fact.Strength = 1
	}
	if fact.HappenedAt.IsZero() {
		fact.HappenedAt = now
	}
	fact.CreatedAt = now
	fact.UpdatedAt = now
	return s.memories.Upsert(ctx, fact)
}

// ListByPair expone los recuerdos crudos del par, más recientes primero.
func (s *MemoryService) ListByPair(ctx context.Context, userID, characterID string, limit int) ([]domain.MemoryFact, error) {
	if s == nil || s.memories == nil {
		return nil, nil
	}
	return s.memories.ListByPair(ctx, userID, characterID, limit)
}

/*
========================
 Extracción post-turno
========================
*/

type extractedFact struct {
	Content    string   `json:"content"`
	Importance int      `json:"importance"`
	Keywords   []string `json:"keywords"`
	IsIntimate bool     `json:"is_intimate"`
}

type extractedProfile struct {
	DisplayName        string            `json:"display_name"`
	Birthday           string            `json:"birthday"`
	Likes              []string          `json:"likes"`
	RelationshipStatus string            `json:"relationship_status"`
	ImportantDates     map[string]string `json:"important_dates"`
}

type extractionResult struct {
	Facts   []extractedFact  `json:"facts"`
	Profile extractedProfile `json:"profile"`
}

// ObserveTurn corre después de un turno exitoso: le pide al modelo los hechos
// salientes del intercambio y los persiste. Cualquier falla se loguea y se
// ignora; la conversación nunca depende de este paso.
func (s *MemoryService) ObserveTurn(ctx context.Context, userID, characterID, userMessage, assistantReply string) {
	if s == nil || s.llmClient == nil || s.memories == nil {
		return
	}

	result, err := s.extractFacts(ctx, userMessage, assistantReply)
	if err != nil {
		s.logger.Debug("memory extraction skipped", zap.Error(err))
		return
	}

	for _, f := range result.Facts {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		fact := domain.MemoryFact{
			UserID:      userID,
			CharacterID: characterID,
			Content:     strings.TrimSpace(f.Content),
			Importance:  f.Importance,
			Keywords:    f.Keywords,
			IsIntimate:  f.IsIntimate,
		}
		if err := s.Remember(ctx, fact); err != nil {
			s.logger.Debug("memory upsert failed", zap.Error(err))
		}
	}

	if patch := result.Profile; !profilePatchEmpty(patch) {
		s.applyProfilePatch(ctx, userID, patch)
	}
}

func (s *MemoryService) extractFacts(ctx context.Context, userMessage, assistantReply string) (extractionResult, error) {
	system := `You extract durable facts about the user from a chat exchange.
Return STRICT JSON only, with this shape:
{"facts":[{"content":"...","importance":1-10,"keywords":["..."],"is_intimate":false}],"profile":{"display_name":"","birthday":"","likes":[],"relationship_status":"","important_dates":{}}}
Rules:
- Only facts worth remembering next week (names, dates, preferences, life events). Small talk yields an empty facts array.
- importance: 1 trivial, 10 life-changing.
- is_intimate: true only for romantic or sexual content.
- profile fields: fill only what the user explicitly stated, otherwise leave empty.`

	exchange := fmt.Sprintf("User: %s\nCompanion: %s", userMessage, assistantReply)
	res, err := s.llmClient.ChatCompletion(ctx, llm.Request{
		Messages: []llm.ChatMessage{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: exchange},
		},
		Temperature:    0,
		MaxTokens:      400,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return extractionResult{}, err
	}

	cleaned := stripJSONFences(res.Reply)
	if obj := extractFirstJSONObject(cleaned); obj != "" {
		cleaned = obj
	}
	var result extractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return extractionResult{}, fmt.Errorf("parse extraction: %w", err)
	}
	return result, nil
}

func (s *MemoryService) applyProfilePatch(ctx context.Context, userID string, patch extractedProfile) {
	if s.profiles == nil {
		return
	}
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		s.logger.Debug("profile load failed", zap.Error(err))
		return
	}

	if patch.DisplayName != "" {
		profile.DisplayName = patch.DisplayName
	}
	if patch.Birthday != "" {
		profile.Birthday = patch.Birthday
	}
	if len(patch.Likes) > 0 {
		profile.Likes = mergeKeywords(profile.Likes, patch.Likes)
	}
	if patch.RelationshipStatus != "" {
		profile.RelationshipStatus = patch.RelationshipStatus
	}
	if len(patch.ImportantDates) > 0 {
		if profile.ImportantDates == nil {
			profile.ImportantDates = make(map[string]string, len(patch.ImportantDates))
		}
		for k, v := range patch.ImportantDates {
			profile.ImportantDates[k] = v
		}
	}
	profile.UserID = userID
	profile.UpdatedAt = time.Now().UTC()

	if err := s.profiles.Upsert(ctx, profile); err != nil {
		s.logger.Debug("profile upsert failed", zap.Error(err))
	}
}

func profilePatchEmpty(p extractedProfile) bool {
	return p.DisplayName == "" && p.Birthday == "" && len(p.Likes) == 0 &&
		p.RelationshipStatus == "" && len(p.ImportantDates) == 0
}

func mergeKeywords(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	out := existing
	for _, k := range existing {
		seen[normalize(k)] = true
	}
	for _, k := range extra {
		k = strings.TrimSpace(k)
		if k == "" || seen[normalize(k)] {
			continue
		}
		seen[normalize(k)] = true
		out = append(out, k)
	}
	return out
}
