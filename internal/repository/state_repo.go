package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type UserStateRepository interface {
	Get(ctx context.Context, userID, characterID string) (domain.UserState, error)
	Create(ctx context.Context, state domain.UserState) error
	// Update escribe con chequeo optimista: exige encontrar la fila en la
	// versión leída (state.Version) y la incrementa. Devuelve
	// ErrVersionConflict si otro escritor ganó la carrera.
	Update(ctx context.Context, state domain.UserState) error

	LogAction(ctx context.Context, entry domain.IntimacyActionLog) error
	ListActionsSince(ctx context.Context, userID, characterID string, since time.Time) ([]domain.IntimacyActionLog, error)

	AppendEmotionHistory(ctx context.Context, entry domain.EmotionHistoryEntry) error
	ListEmotionHistory(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.EmotionHistoryEntry, error)
}

type PgUserStateRepository struct {
	q Querier
}

func NewPgUserStateRepository(pool *pgxpool.Pool) *PgUserStateRepository {
	return &PgUserStateRepository{q: pool}
}

const userStateColumns = `user_id, character_id, intimacy_xp, intimacy_level, intimacy_stage,
	emotion_score, emotion_state, daily_xp_earned, last_daily_reset,
	streak_days, last_interaction_date, events, nsfw_consent, emotion_updated_at, version`

func (r *PgUserStateRepository) Get(ctx context.Context, userID, characterID string) (domain.UserState, error) {
	const query = `
		SELECT ` + userStateColumns + `
		FROM user_states
		WHERE user_id = $1 AND character_id = $2
	`
	var st domain.UserState
	err := r.q.QueryRow(ctx, query, userID, characterID).Scan(
		&st.UserID,
		&st.CharacterID,
		&st.IntimacyXP,
		&st.IntimacyLevel,
		&st.IntimacyStage,
		&st.EmotionScore,
		&st.EmotionState,
		&st.DailyXPEarned,
		&st.LastDailyReset,
		&st.StreakDays,
		&st.LastInteractionDate,
		&st.Events,
		&st.NSFWConsent,
		&st.EmotionUpdatedAt,
		&st.Version,
	)
	if err != nil {
		return domain.UserState{}, mapNoRows(err)
	}
	return st, nil
}

func (r *PgUserStateRepository) Create(ctx context.Context, state domain.UserState) error {
	const query = `
		INSERT INTO user_states (` + userStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
	`
	_, err := r.q.Exec(ctx, query,
		state.UserID,
		state.CharacterID,
		state.IntimacyXP,
		state.IntimacyLevel,
		state.IntimacyStage,
		state.EmotionScore,
		state.EmotionState,
		state.DailyXPEarned,
		state.LastDailyReset,
		state.StreakDays,
		state.LastInteractionDate,
		state.Events,
		state.NSFWConsent,
		state.EmotionUpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PgUserStateRepository) Update(ctx context.Context, state domain.UserState) error {
	const query = `
		UPDATE user_states
		SET intimacy_xp = $3,
		    intimacy_level = $4,
		    intimacy_stage = $5,
		    emotion_score = $6,
		    emotion_state = $7,
		    daily_xp_earned = $8,
		    last_daily_reset = $9,
		    streak_days = $10,
		    last_interaction_date = $11,
		    events = $12,
		    nsfw_consent = $13,
		    emotion_updated_at = $14,
		    version = version + 1
		WHERE user_id = $1 AND character_id = $2 AND version = $15
	`
	tag, err := r.q.Exec(ctx, query,
		state.UserID,
		state.CharacterID,
		state.IntimacyXP,
		state.IntimacyLevel,
		state.IntimacyStage,
		state.EmotionScore,
		state.EmotionState,
		state.DailyXPEarned,
		state.LastDailyReset,
		state.StreakDays,
		state.LastInteractionDate,
		state.Events,
		state.NSFWConsent,
		state.EmotionUpdatedAt,
		state.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *PgUserStateRepository) LogAction(ctx context.Context, entry domain.IntimacyActionLog) error {
	const query = `
		INSERT INTO intimacy_actions (id, user_id, character_id, action, xp_awarded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.CharacterID,
		entry.Action,
		entry.XPAwarded,
		entry.CreatedAt,
	)
	return err
}

func (r *PgUserStateRepository) ListActionsSince(ctx context.Context, userID, characterID string, since time.Time) ([]domain.IntimacyActionLog, error) {
	const query = `
		SELECT id, user_id, character_id, action, xp_awarded, created_at
		FROM intimacy_actions
		WHERE user_id = $1 AND character_id = $2 AND created_at >= $3
		ORDER BY created_at ASC
	`
	rows, err := r.q.Query(ctx, query, userID, characterID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.IntimacyActionLog
	for rows.Next() {
		var e domain.IntimacyActionLog
		err = rows.Scan(&e.ID, &e.UserID, &e.CharacterID, &e.Action, &e.XPAwarded, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PgUserStateRepository) AppendEmotionHistory(ctx context.Context, entry domain.EmotionHistoryEntry) error {
	const query = `
		INSERT INTO emotion_history (id, user_id, character_id, delta, score_after, state_after, trigger_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.CharacterID,
		entry.Delta,
		entry.ScoreAfter,
		entry.StateAfter,
		entry.Trigger,
		entry.CreatedAt,
	)
	return err
}

func (r *PgUserStateRepository) ListEmotionHistory(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.EmotionHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, user_id, character_id, delta, score_after, state_after, trigger_kind, created_at
		FROM emotion_history
		WHERE user_id = $1 AND character_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.q.Query(ctx, query, userID, characterID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.EmotionHistoryEntry
	for rows.Next() {
		var e domain.EmotionHistoryEntry
		err = rows.Scan(&e.ID, &e.UserID, &e.CharacterID, &e.Delta, &e.ScoreAfter, &e.StateAfter, &e.Trigger, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
