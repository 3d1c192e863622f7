package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Errores compartidos por todas las implementaciones de repositorio.
var (
	ErrNotFound        = errors.New("repository: not found")
	ErrVersionConflict = errors.New("repository: version conflict")
	ErrDuplicate       = errors.New("repository: duplicate")
)

// Querier es el subconjunto de pgx que comparten el pool y una transacción.
// Los repos Pg se construyen sobre el pool y la unidad de trabajo los re-liga
// a su pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
