package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type SubscriptionRepository interface {
	Get(ctx context.Context, userID string) (domain.Subscription, error)
	Save(ctx context.Context, subscription domain.Subscription) error
}

type PgSubscriptionRepository struct {
	q Querier
}

func NewPgSubscriptionRepository(pool *pgxpool.Pool) *PgSubscriptionRepository {
	return &PgSubscriptionRepository{q: pool}
}

func (r *PgSubscriptionRepository) Get(ctx context.Context, userID string) (domain.Subscription, error) {
	const query = `
		SELECT user_id, tier, started_at, expires_at, auto_renew
		FROM subscriptions
		WHERE user_id = $1
	`
	var s domain.Subscription
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&s.Tier,
		&s.StartedAt,
		&s.ExpiresAt,
		&s.AutoRenew,
	)
	if err != nil {
		return domain.Subscription{}, mapNoRows(err)
	}
	return s, nil
}

func (r *PgSubscriptionRepository) Save(ctx context.Context, subscription domain.Subscription) error {
	const query = `
		INSERT INTO subscriptions (user_id, tier, started_at, expires_at, auto_renew)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    started_at = EXCLUDED.started_at,
		    expires_at = EXCLUDED.expires_at,
		    auto_renew = EXCLUDED.auto_renew
	`
	_, err := r.q.Exec(ctx, query,
		subscription.UserID,
		subscription.Tier,
		subscription.StartedAt,
		subscription.ExpiresAt,
		subscription.AutoRenew,
	)
	return err
}
