package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type WalletRepository interface {
	Get(ctx context.Context, userID string) (domain.Wallet, error)
	// GetForUpdate toma el lock de fila; solo tiene sentido dentro de una
	// transacción de la unidad de trabajo.
	GetForUpdate(ctx context.Context, userID string) (domain.Wallet, error)
	Create(ctx context.Context, wallet domain.Wallet) error
	Save(ctx context.Context, wallet domain.Wallet) error
}

type PgWalletRepository struct {
	q Querier
}

func NewPgWalletRepository(pool *pgxpool.Pool) *PgWalletRepository {
	return &PgWalletRepository{q: pool}
}

const walletColumns = `user_id, daily_free_credits, purchased_credits, bonus_credits, total_credits, daily_refreshed_at`

func (r *PgWalletRepository) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	const query = `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = $1
	`
	return r.scanWallet(ctx, query, userID)
}

func (r *PgWalletRepository) GetForUpdate(ctx context.Context, userID string) (domain.Wallet, error) {
	const query = `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`
	return r.scanWallet(ctx, query, userID)
}

func (r *PgWalletRepository) scanWallet(ctx context.Context, query, userID string) (domain.Wallet, error) {
	var w domain.Wallet
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&w.UserID,
		&w.DailyFreeCredits,
		&w.PurchasedCredits,
		&w.BonusCredits,
		&w.TotalCredits,
		&w.DailyRefreshedAt,
	)
	if err != nil {
		return domain.Wallet{}, mapNoRows(err)
	}
	return w, nil
}

func (r *PgWalletRepository) Create(ctx context.Context, wallet domain.Wallet) error {
	const query = `
		INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.q.Exec(ctx, query,
		wallet.UserID,
		wallet.DailyFreeCredits,
		wallet.PurchasedCredits,
		wallet.BonusCredits,
		wallet.TotalCredits,
		wallet.DailyRefreshedAt,
	)
	return err
}

func (r *PgWalletRepository) Save(ctx context.Context, wallet domain.Wallet) error {
	const query = `
		UPDATE wallets
		SET daily_free_credits = $2,
		    purchased_credits = $3,
		    bonus_credits = $4,
		    total_credits = $5,
		    daily_refreshed_at = $6
		WHERE user_id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		wallet.UserID,
		wallet.DailyFreeCredits,
		wallet.PurchasedCredits,
		wallet.BonusCredits,
		wallet.TotalCredits,
		wallet.DailyRefreshedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type StaminaRepository interface {
	Get(ctx context.Context, userID string) (domain.Stamina, error)
	GetForUpdate(ctx context.Context, userID string) (domain.Stamina, error)
	Create(ctx context.Context, stamina domain.Stamina) error
	Save(ctx context.Context, stamina domain.Stamina) error
}

type PgStaminaRepository struct {
	q Querier
}

func NewPgStaminaRepository(pool *pgxpool.Pool) *PgStaminaRepository {
	return &PgStaminaRepository{q: pool}
}

func (r *PgStaminaRepository) Get(ctx context.Context, userID string) (domain.Stamina, error) {
	const query = `
		SELECT user_id, current, max, last_reset_at
		FROM stamina
		WHERE user_id = $1
	`
	return r.scanStamina(ctx, query, userID)
}

func (r *PgStaminaRepository) GetForUpdate(ctx context.Context, userID string) (domain.Stamina, error) {
	const query = `
		SELECT user_id, current, max, last_reset_at
		FROM stamina
		WHERE user_id = $1
		FOR UPDATE
	`
	return r.scanStamina(ctx, query, userID)
}

func (r *PgStaminaRepository) scanStamina(ctx context.Context, query, userID string) (domain.Stamina, error) {
	var s domain.Stamina
	err := r.q.QueryRow(ctx, query, userID).Scan(&s.UserID, &s.Current, &s.Max, &s.LastResetAt)
	if err != nil {
		return domain.Stamina{}, mapNoRows(err)
	}
	return s, nil
}

func (r *PgStaminaRepository) Create(ctx context.Context, stamina domain.Stamina) error {
	const query = `
		INSERT INTO stamina (user_id, current, max, last_reset_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.q.Exec(ctx, query, stamina.UserID, stamina.Current, stamina.Max, stamina.LastResetAt)
	return err
}

func (r *PgStaminaRepository) Save(ctx context.Context, stamina domain.Stamina) error {
	const query = `
		UPDATE stamina
		SET current = $2, max = $3, last_reset_at = $4
		WHERE user_id = $1
	`
	tag, err := r.q.Exec(ctx, query, stamina.UserID, stamina.Current, stamina.Max, stamina.LastResetAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
