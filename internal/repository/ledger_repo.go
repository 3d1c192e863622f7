package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type LedgerRepository interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, error)
	// CountByTypeSince sirve al refresh diario para verificar exactly-once.
	CountByTypeSince(ctx context.Context, userID, entryType string, since time.Time) (int, error)
}

type PgLedgerRepository struct {
	q Querier
}

func NewPgLedgerRepository(pool *pgxpool.Pool) *PgLedgerRepository {
	return &PgLedgerRepository{q: pool}
}

func (r *PgLedgerRepository) Append(ctx context.Context, entry domain.LedgerEntry) error {
	const query = `
		INSERT INTO transaction_ledger (id, user_id, type, amount, balance_after, description, extra_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Type,
		entry.Amount,
		entry.BalanceAfter,
		entry.Description,
		entry.ExtraData,
		entry.CreatedAt,
	)
	return err
}

func (r *PgLedgerRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, user_id, type, amount, balance_after, description, extra_data, created_at
		FROM transaction_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		err = rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Type,
			&e.Amount,
			&e.BalanceAfter,
			&e.Description,
			&e.ExtraData,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PgLedgerRepository) CountByTypeSince(ctx context.Context, userID, entryType string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM transaction_ledger
		WHERE user_id = $1 AND type = $2 AND created_at >= $3
	`
	var count int
	err := r.q.QueryRow(ctx, query, userID, entryType, since).Scan(&count)
	return count, err
}
