package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type EffectRepository interface {
	ListActive(ctx context.Context, userID, characterID string) ([]domain.ActiveEffect, error)
	// ReplaceByType borra el efecto vivo del mismo tipo (si hay) e inserta el
	// nuevo: los efectos no se apilan, se reemplazan.
	ReplaceByType(ctx context.Context, effect domain.ActiveEffect) error
	// Decrement descuenta un mensaje a todos los efectos del par y elimina los
	// que llegan a cero, devolviendo los expirados.
	Decrement(ctx context.Context, userID, characterID string) ([]domain.ActiveEffect, error)
}

type PgEffectRepository struct {
	q Querier
}

func NewPgEffectRepository(pool *pgxpool.Pool) *PgEffectRepository {
	return &PgEffectRepository{q: pool}
}

const effectColumns = `id, user_id, character_id, effect_type, prompt_modifier, remaining_messages, gift_id, created_at`

func (r *PgEffectRepository) ListActive(ctx context.Context, userID, characterID string) ([]domain.ActiveEffect, error) {
	const query = `
		SELECT ` + effectColumns + `
		FROM active_effects
		WHERE user_id = $1 AND character_id = $2
		ORDER BY created_at ASC
	`
	rows, err := r.q.Query(ctx, query, userID, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEffects(rows)
}

func (r *PgEffectRepository) ReplaceByType(ctx context.Context, effect domain.ActiveEffect) error {
	const del = `
		DELETE FROM active_effects
		WHERE user_id = $1 AND character_id = $2 AND effect_type = $3
	`
	if _, err := r.q.Exec(ctx, del, effect.UserID, effect.CharacterID, effect.EffectType); err != nil {
		return err
	}

	const insert = `
		INSERT INTO active_effects (` + effectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, insert,
		effect.ID,
		effect.UserID,
		effect.CharacterID,
		effect.EffectType,
		effect.PromptModifier,
		effect.RemainingMessages,
		effect.GiftID,
		effect.CreatedAt,
	)
	return err
}

func (r *PgEffectRepository) Decrement(ctx context.Context, userID, characterID string) ([]domain.ActiveEffect, error) {
	const update = `
		UPDATE active_effects
		SET remaining_messages = remaining_messages - 1
		WHERE user_id = $1 AND character_id = $2
	`
	if _, err := r.q.Exec(ctx, update, userID, characterID); err != nil {
		return nil, err
	}

	const expired = `
		DELETE FROM active_effects
		WHERE user_id = $1 AND character_id = $2 AND remaining_messages <= 0
		RETURNING ` + effectColumns + `
	`
	rows, err := r.q.Query(ctx, expired, userID, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEffects(rows)
}

func scanEffects(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.ActiveEffect, error) {
	var effects []domain.ActiveEffect
	for rows.Next() {
		var e domain.ActiveEffect
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.CharacterID,
			&e.EffectType,
			&e.PromptModifier,
			&e.RemainingMessages,
			&e.GiftID,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		effects = append(effects, e)
	}
	return effects, rows.Err()
}
