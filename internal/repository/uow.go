package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepoSet agrupa los repositorios ligados a una misma transacción.
type RepoSet interface {
	Sessions() SessionRepository
	Messages() MessageRepository
	States() UserStateRepository
	Wallets() WalletRepository
	Stamina() StaminaRepository
	Gifts() GiftRepository
	Effects() EffectRepository
	Subscriptions() SubscriptionRepository
	Ledger() LedgerRepository
}

// Tx es una transacción abierta; commit o rollback la cierran.
type Tx interface {
	RepoSet
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWork abre transacciones que agrupan escrituras de varios aggregates.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// RunInTx corre fn dentro de una transacción: commit si devuelve nil,
// rollback ante error o panic.
func RunInTx(ctx context.Context, uow UnitOfWork, fn func(tx Tx) error) error {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type PgUnitOfWork struct {
	pool *pgxpool.Pool
}

func NewPgUnitOfWork(pool *pgxpool.Pool) *PgUnitOfWork {
	return &PgUnitOfWork{pool: pool}
}

func (u *PgUnitOfWork) Begin(ctx context.Context) (Tx, error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Sessions() SessionRepository           { return &PgSessionRepository{q: t.tx} }
func (t *pgTx) Messages() MessageRepository           { return &PgMessageRepository{q: t.tx} }
func (t *pgTx) States() UserStateRepository           { return &PgUserStateRepository{q: t.tx} }
func (t *pgTx) Wallets() WalletRepository             { return &PgWalletRepository{q: t.tx} }
func (t *pgTx) Stamina() StaminaRepository            { return &PgStaminaRepository{q: t.tx} }
func (t *pgTx) Gifts() GiftRepository                 { return &PgGiftRepository{q: t.tx} }
func (t *pgTx) Effects() EffectRepository             { return &PgEffectRepository{q: t.tx} }
func (t *pgTx) Subscriptions() SubscriptionRepository { return &PgSubscriptionRepository{q: t.tx} }
func (t *pgTx) Ledger() LedgerRepository              { return &PgLedgerRepository{q: t.tx} }

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
