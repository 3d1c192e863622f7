package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type UserProfileRepository interface {
	Get(ctx context.Context, userID string) (domain.UserProfile, error)
	Upsert(ctx context.Context, profile domain.UserProfile) error
}

type PgUserProfileRepository struct {
	q Querier
}

func NewPgUserProfileRepository(pool *pgxpool.Pool) *PgUserProfileRepository {
	return &PgUserProfileRepository{q: pool}
}

func (r *PgUserProfileRepository) Get(ctx context.Context, userID string) (domain.UserProfile, error) {
	const query = `
		SELECT user_id, display_name, birthday, likes, relationship_status, important_dates, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`
	var p domain.UserProfile
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.DisplayName,
		&p.Birthday,
		&p.Likes,
		&p.RelationshipStatus,
		&p.ImportantDates,
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.UserProfile{}, mapNoRows(err)
	}
	return p, nil
}

func (r *PgUserProfileRepository) Upsert(ctx context.Context, profile domain.UserProfile) error {
	const query = `
		INSERT INTO user_profiles (user_id, display_name, birthday, likes, relationship_status, important_dates, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    birthday = EXCLUDED.birthday,
		    likes = EXCLUDED.likes,
		    relationship_status = EXCLUDED.relationship_status,
		    important_dates = EXCLUDED.important_dates,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.Exec(ctx, query,
		profile.UserID,
		profile.DisplayName,
		profile.Birthday,
		profile.Likes,
		profile.RelationshipStatus,
		profile.ImportantDates,
		profile.UpdatedAt,
	)
	return err
}
