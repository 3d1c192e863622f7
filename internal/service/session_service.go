package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"companion-llm/internal/domain"
	"companion-llm/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var ErrSessionServiceNotConfigured = errors.New("session service not configured")

// SessionService maneja el ciclo de vida de las sesiones de chat: apertura
// idempotente por par, listado, paginación por cursor y borrado lógico.
type SessionService struct {
	sessions   repository.SessionRepository
	messages   repository.MessageRepository
	characters CharacterProvider
	scenarios  ScenarioProvider
	subs       *SubscriptionService
}

func NewSessionService(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	characters CharacterProvider,
	scenarios ScenarioProvider,
	subs *SubscriptionService,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		messages:   messages,
		characters: characters,
		scenarios:  scenarios,
		subs:       subs,
	}
}

// StartOrResume devuelve la sesión activa del par, creándola si no existe.
// Personajes premium exigen la feature correspondiente del tier.
func (s *SessionService) StartOrResume(ctx context.Context, userID, characterID, scenarioID, tier string) (domain.Session, bool, error) {
	if s == nil || s.sessions == nil {
		return domain.Session{}, false, ErrSessionServiceNotConfigured
	}
	userID = strings.TrimSpace(userID)
	characterID = strings.TrimSpace(characterID)
	if userID == "" || characterID == "" {
		return domain.Session{}, false, domain.NewCodedError(domain.CodeValidation, "user_id and character_id are required")
	}

	card, err := s.characters.Get(characterID)
	if err != nil {
		return domain.Session{}, false, err
	}
	if card.IsPremium && !tierHasFeature(tier, domain.FeaturePremiumCharacters) {
		return domain.Session{}, false, domain.NewCodedError(domain.CodeSubscriptionRequired, "character requires a premium subscription").
			With("character_id", characterID).
			With("tier", tier)
	}

	if scenarioID != "" && s.scenarios != nil {
		if _, err := s.scenarios.Get(scenarioID); err != nil {
			return domain.Session{}, false, err
		}
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		CharacterID:   characterID,
		CharacterName: card.Name,
		ScenarioID:    scenarioID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return s.sessions.GetOrCreate(ctx, session)
}

// List devuelve las sesiones vivas del usuario, actividad reciente primero.
func (s *SessionService) List(ctx context.Context, userID, characterID string) ([]domain.Session, error) {
	if s == nil || s.sessions == nil {
		return nil, ErrSessionServiceNotConfigured
	}
	return s.sessions.ListByUser(ctx, strings.TrimSpace(userID), strings.TrimSpace(characterID))
}

// Messages pagina el historial por cursor. La sesión de otro usuario se
// reporta como inexistente, sin filtrar su existencia.
func (s *SessionService) Messages(ctx context.Context, userID, sessionID string, limit int, beforeID, afterID string) ([]domain.Message, bool, error) {
	if s == nil || s.sessions == nil || s.messages == nil {
		return nil, false, ErrSessionServiceNotConfigured
	}

	session, err := s.sessions.GetByID(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, domain.NewCodedError(domain.CodeSessionNotFound, "session not found")
		}
		return nil, false, err
	}
	if session.UserID != userID {
		return nil, false, domain.NewCodedError(domain.CodeSessionNotFound, "session not found")
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.messages.ListPage(ctx, session.ID, limit, beforeID, afterID)
}

// Delete borra lógicamente la sesión del usuario. Idempotente: borrar dos
// veces devuelve not found la segunda.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	if s == nil || s.sessions == nil {
		return ErrSessionServiceNotConfigured
	}
	err := s.sessions.SoftDelete(ctx, strings.TrimSpace(sessionID), strings.TrimSpace(userID))
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NewCodedError(domain.CodeSessionNotFound, "session not found")
	}
	return err
}
