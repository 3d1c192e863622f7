package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type GiftRepository interface {
	Create(ctx context.Context, gift domain.Gift) error
	GetByID(ctx context.Context, id string) (domain.Gift, error)
	UpdateStatus(ctx context.Context, id, status string, acknowledgedAt *time.Time) error
	ListByUser(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.Gift, error)
	// ListPendingAck devuelve regalos cobrados cuyo agradecimiento quedó
	// pendiente (caída del LLM después del commit).
	ListPendingAck(ctx context.Context, limit int) ([]domain.Gift, error)

	// Registros de idempotencia, persistidos en la misma transacción que el
	// cobro para que el replay sobreviva una caída del proceso.
	GetIdempotency(ctx context.Context, userID, key string) (domain.IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, record domain.IdempotencyRecord) error
}

type PgGiftRepository struct {
	q Querier
}

func NewPgGiftRepository(pool *pgxpool.Pool) *PgGiftRepository {
	return &PgGiftRepository{q: pool}
}

const giftColumns = `id, user_id, character_id, session_id, type, price, xp_reward, tier, status, idempotency_key, created_at, acknowledged_at`

func (r *PgGiftRepository) Create(ctx context.Context, gift domain.Gift) error {
	const query = `
		INSERT INTO gifts (` + giftColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.q.Exec(ctx, query,
		gift.ID,
		gift.UserID,
		gift.CharacterID,
		nullIfEmpty(gift.SessionID),
		gift.Type,
		gift.Price,
		gift.XPReward,
		gift.Tier,
		gift.Status,
		gift.IdempotencyKey,
		gift.CreatedAt,
		gift.AcknowledgedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PgGiftRepository) GetByID(ctx context.Context, id string) (domain.Gift, error) {
	const query = `
		SELECT ` + giftColumns + `
		FROM gifts
		WHERE id = $1
	`
	g, err := scanGift(r.q.QueryRow(ctx, query, id))
	return g, mapNoRows(err)
}

func (r *PgGiftRepository) UpdateStatus(ctx context.Context, id, status string, acknowledgedAt *time.Time) error {
	const query = `
		UPDATE gifts
		SET status = $2, acknowledged_at = $3
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, id, status, acknowledgedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgGiftRepository) ListByUser(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.Gift, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + giftColumns + `
		FROM gifts
		WHERE user_id = $1
	`
	args := []any{userID}
	if characterID != "" {
		query += ` AND character_id = $2`
		args = append(args, characterID)
	}
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	return r.queryGifts(ctx, query, args...)
}

func (r *PgGiftRepository) ListPendingAck(ctx context.Context, limit int) ([]domain.Gift, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT ` + giftColumns + `
		FROM gifts
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.queryGifts(ctx, query, domain.GiftPending, limit)
}

func (r *PgGiftRepository) queryGifts(ctx context.Context, query string, args ...any) ([]domain.Gift, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gifts []domain.Gift
	for rows.Next() {
		g, err := scanGift(rows)
		if err != nil {
			return nil, err
		}
		gifts = append(gifts, g)
	}
	return gifts, rows.Err()
}

func scanGift(row pgRow) (domain.Gift, error) {
	var g domain.Gift
	var sessionID *string

	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.CharacterID,
		&sessionID,
		&g.Type,
		&g.Price,
		&g.XPReward,
		&g.Tier,
		&g.Status,
		&g.IdempotencyKey,
		&g.CreatedAt,
		&g.AcknowledgedAt,
	)
	if err != nil {
		return domain.Gift{}, err
	}
	if sessionID != nil {
		g.SessionID = *sessionID
	}
	return g, nil
}

func (r *PgGiftRepository) GetIdempotency(ctx context.Context, userID, key string) (domain.IdempotencyRecord, error) {
	const query = `
		SELECT key, user_id, gift_id, result, expires_at
		FROM gift_idempotency
		WHERE user_id = $1 AND key = $2
	`
	var rec domain.IdempotencyRecord
	err := r.q.QueryRow(ctx, query, userID, key).Scan(
		&rec.Key,
		&rec.UserID,
		&rec.GiftID,
		&rec.Result,
		&rec.ExpiresAt,
	)
	if err != nil {
		return domain.IdempotencyRecord{}, mapNoRows(err)
	}
	return rec, nil
}

func (r *PgGiftRepository) PutIdempotency(ctx context.Context, record domain.IdempotencyRecord) error {
	const query = `
		INSERT INTO gift_idempotency (key, user_id, gift_id, result, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, key) DO UPDATE
		SET gift_id = EXCLUDED.gift_id, result = EXCLUDED.result, expires_at = EXCLUDED.expires_at
	`
	_, err := r.q.Exec(ctx, query,
		record.Key,
		record.UserID,
		record.GiftID,
		record.Result,
		record.ExpiresAt,
	)
	return err
}
