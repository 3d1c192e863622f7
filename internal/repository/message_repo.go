package repository

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"companion-llm/internal/domain"
)

type MessageRepository interface {
	Append(ctx context.Context, message domain.Message) error
	// ListRecent devuelve los últimos limit mensajes en orden cronológico.
	ListRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	// ListPage pagina por keyset (created_at, id) relativo al mensaje ancla.
	// beforeID y afterID son excluyentes; con ambos vacíos devuelve la cola.
	ListPage(ctx context.Context, sessionID string, limit int, beforeID, afterID string) ([]domain.Message, bool, error)
}

type PgMessageRepository struct {
	q Querier
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{q: pool}
}

const messageColumns = `id, session_id, role, content, tokens_used, extra_data, created_at`

func (r *PgMessageRepository) Append(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, session_id, role, content, tokens_used, extra_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query,
		message.ID,
		message.SessionID,
		message.Role,
		message.Content,
		message.TokensUsed,
		message.ExtraData,
		message.CreatedAt,
	)
	return err
}

func (r *PgMessageRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT ` + messageColumns + `
		FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.q.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PgMessageRepository) ListPage(ctx context.Context, sessionID string, limit int, beforeID, afterID string) ([]domain.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE session_id = $1
	`
	args := []any{sessionID}

	switch {
	case beforeID != "":
		query += `
		AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2 AND session_id = $1)
		ORDER BY created_at DESC, id DESC`
		args = append(args, beforeID)
	case afterID != "":
		query += `
		AND (created_at, id) > (SELECT created_at, id FROM messages WHERE id = $2 AND session_id = $1)
		ORDER BY created_at ASC, id ASC`
		args = append(args, afterID)
	default:
		query += `
		ORDER BY created_at DESC, id DESC`
	}
	query += ` LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	// La página siempre sale en orden cronológico; las consultas DESC se dan vuelta.
	if afterID == "" {
		reverseMessages(messages)
	}
	return messages, hasMore, nil
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Role,
			&msg.Content,
			&msg.TokensUsed,
			&msg.ExtraData,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func reverseMessages(messages []domain.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
