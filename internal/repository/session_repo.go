package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type SessionRepository interface {
	// GetOrCreate es idempotente por par (user, character): si ya existe una
	// sesión activa la devuelve con created=false.
	GetOrCreate(ctx context.Context, session domain.Session) (domain.Session, bool, error)
	GetByID(ctx context.Context, id string) (domain.Session, error)
	// Lock toma el lock de fila de la sesión; dentro de una transacción
	// serializa las escrituras concurrentes sobre el mismo hilo.
	Lock(ctx context.Context, id string) (domain.Session, error)
	ListByUser(ctx context.Context, userID, characterID string) ([]domain.Session, error)
	AddCounters(ctx context.Context, id string, messages, credits int) error
	SoftDelete(ctx context.Context, id, userID string) error
}

type PgSessionRepository struct {
	q Querier
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{q: pool}
}

const sessionColumns = `id, user_id, character_id, character_name, scenario_id, total_messages, credits_spent, deleted_at, created_at, updated_at`

func (r *PgSessionRepository) GetOrCreate(ctx context.Context, session domain.Session) (domain.Session, bool, error) {
	const insert = `
		INSERT INTO sessions (id, user_id, character_id, character_name, scenario_id, total_messages, credits_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $6)
		ON CONFLICT (user_id, character_id) WHERE deleted_at IS NULL DO NOTHING
	`
	tag, err := r.q.Exec(ctx, insert,
		session.ID,
		session.UserID,
		session.CharacterID,
		session.CharacterName,
		nullIfEmpty(session.ScenarioID),
		session.CreatedAt,
	)
	if err != nil {
		return domain.Session{}, false, err
	}

	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND character_id = $2 AND deleted_at IS NULL
	`
	row := r.q.QueryRow(ctx, query, session.UserID, session.CharacterID)
	found, err := scanSession(row)
	if err != nil {
		return domain.Session{}, false, mapNoRows(err)
	}
	return found, tag.RowsAffected() > 0, nil
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1 AND deleted_at IS NULL
	`
	s, err := scanSession(r.q.QueryRow(ctx, query, id))
	return s, mapNoRows(err)
}

func (r *PgSessionRepository) Lock(ctx context.Context, id string) (domain.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`
	s, err := scanSession(r.q.QueryRow(ctx, query, id))
	return s, mapNoRows(err)
}

func (r *PgSessionRepository) ListByUser(ctx context.Context, userID, characterID string) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND deleted_at IS NULL
	`
	args := []any{userID}
	if characterID != "" {
		query += ` AND character_id = $2`
		args = append(args, characterID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PgSessionRepository) AddCounters(ctx context.Context, id string, messages, credits int) error {
	const query = `
		UPDATE sessions
		SET total_messages = total_messages + $2,
		    credits_spent = credits_spent + $3,
		    updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.q.Exec(ctx, query, id, messages, credits, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgSessionRepository) SoftDelete(ctx context.Context, id, userID string) error {
	const query = `
		UPDATE sessions
		SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`
	tag, err := r.q.Exec(ctx, query, id, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanSession(row pgRow) (domain.Session, error) {
	var s domain.Session
	var scenarioID *string

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.CharacterID,
		&s.CharacterName,
		&scenarioID,
		&s.TotalMessages,
		&s.CreditsSpent,
		&s.DeletedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return domain.Session{}, err
	}
	if scenarioID != nil {
		s.ScenarioID = *scenarioID
	}
	return s, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
