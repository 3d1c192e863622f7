package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/repository"
)

// IntimacyOverview es la vista de relación que consume el cliente.
type IntimacyOverview struct {
	UserID           string   `json:"user_id"`
	CharacterID      string   `json:"character_id"`
	Level            int      `json:"level"`
	XP               float64  `json:"xp"`
	Stage            string   `json:"stage"`
	NextLevelXP      float64  `json:"next_level_xp,omitempty"`
	XPToNext         float64  `json:"xp_to_next,omitempty"`
	StreakDays       int      `json:"streak_days"`
	Events           []string `json:"events,omitempty"`
	UnlockedFeatures []string `json:"unlocked_features,omitempty"`
	EmotionScore     int      `json:"emotion_score"`
	EmotionState     string   `json:"emotion_state"`
	DailyXPRemaining float64  `json:"daily_xp_remaining"`
}

// IntimacyService persiste las operaciones de relación que no pasan por el
// pipeline: vista de estado, check-in diario e historial emocional.
type IntimacyService struct {
	uow    repository.UnitOfWork
	states repository.UserStateRepository
	engine IntimacyEngine
	logger *zap.Logger
}

func NewIntimacyService(uow repository.UnitOfWork, states repository.UserStateRepository, logger *zap.Logger) *IntimacyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntimacyService{uow: uow, states: states, logger: logger}
}

// Overview arma la vista del par; para un par sin historia devuelve el
// estado inicial sin crearlo.
func (s *IntimacyService) Overview(ctx context.Context, userID, characterID string) (IntimacyOverview, error) {
	now := time.Now().UTC()
	st, err := s.states.Get(ctx, userID, characterID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return IntimacyOverview{}, err
		}
		st = newUserState(userID, characterID, now)
	}

	overview := IntimacyOverview{
		UserID:           userID,
		CharacterID:      characterID,
		Level:            st.IntimacyLevel,
		XP:               st.IntimacyXP,
		Stage:            st.IntimacyStage,
		StreakDays:       st.StreakDays,
		Events:           st.Events,
		UnlockedFeatures: featuresBetween(0, st.IntimacyLevel),
		EmotionScore:     st.EmotionScore,
		EmotionState:     st.EmotionState,
		DailyXPRemaining: dailyCapRemaining(&st, now),
	}
	if st.IntimacyLevel < maxIntimacyLevel {
		overview.NextLevelXP = XPForLevel(st.IntimacyLevel + 1)
		overview.XPToNext = overview.NextLevelXP - st.IntimacyXP
	}
	return overview, nil
}

// Checkin otorga la recompensa diaria de check-in. Una vez por día UTC;
// repetir devuelve EDAILY_CAP con el tiempo restante.
func (s *IntimacyService) Checkin(ctx context.Context, userID, characterID string) (AwardResult, error) {
	now := time.Now().UTC()

	var result AwardResult
	var err error
	for attempt := 0; attempt < stateWriteRetries; attempt++ {
		err = repository.RunInTx(ctx, s.uow, func(tx repository.Tx) error {
			st, err := loadOrCreateState(ctx, tx, userID, characterID, now)
			if err != nil {
				return err
			}

			recent, err := tx.States().ListActionsSince(ctx, userID, characterID, now.Add(-dailyXPWindow))
			if err != nil {
				return err
			}

			result = s.engine.Award(&st, ActionCheckin, recent, now)
			if result.Awarded <= 0 {
				return nil
			}

			logEntry := domain.IntimacyActionLog{
				ID:          uuid.NewString(),
				UserID:      userID,
				CharacterID: characterID,
				Action:      ActionCheckin,
				XPAwarded:   result.Awarded,
				CreatedAt:   now,
			}
			if err := tx.States().LogAction(ctx, logEntry); err != nil {
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
	if err != nil {
		return AwardResult{}, err
	}

	if result.Awarded <= 0 {
		coded := domain.NewCodedError(domain.CodeDailyCap, "checkin not available").
			With("reason", result.Reason)
		if result.CooldownRemaining > 0 {
			coded = coded.With("retry_after", int(result.CooldownRemaining.Seconds()))
		}
		return result, coded
	}
	return result, nil
}

// EmotionHistory pagina los cambios de score del par, más recientes primero.
func (s *IntimacyService) EmotionHistory(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.EmotionHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.states.ListEmotionHistory(ctx, userID, characterID, limit, offset)
}
