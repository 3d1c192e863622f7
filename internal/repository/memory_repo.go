package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"companion-llm/internal/domain"
)

// MemoryMatch es un recuerdo más su score de similitud (mayor = más cercano).
type MemoryMatch struct {
	Fact  domain.MemoryFact
	Score float64
}

type MemoryRepository interface {
	Upsert(ctx context.Context, memory domain.MemoryFact) error
	// Search devuelve los topK recuerdos del par más cercanos al embedding,
	// con score de similitud coseno estable entre llamadas.
	Search(ctx context.Context, userID, characterID string, queryEmbedding pgvector.Vector, topK int) ([]MemoryMatch, error)
	ListByPair(ctx context.Context, userID, characterID string, limit int) ([]domain.MemoryFact, error)
}

type PgMemoryRepository struct {
	q Querier
}

func NewPgMemoryRepository(pool *pgxpool.Pool) *PgMemoryRepository {
	return &PgMemoryRepository{q: pool}
}

const memoryColumns = `id, user_id, character_id, content, embedding, importance, strength, keywords, is_intimate, happened_at, created_at, updated_at`

func (r *PgMemoryRepository) Upsert(ctx context.Context, memory domain.MemoryFact) error {
	importance := memory.Importance
	if importance <= 0 {
		importance = 1
	}
	strength := memory.Strength
	if strength <= 0 {
		strength = 1
	}
	const query = `
		INSERT INTO memory_facts (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    importance = EXCLUDED.importance,
		    strength = EXCLUDED.strength,
		    keywords = EXCLUDED.keywords,
		    is_intimate = EXCLUDED.is_intimate,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.Exec(ctx, query,
		memory.ID,
		memory.UserID,
		memory.CharacterID,
		memory.Content,
		memory.Embedding,
		importance,
		strength,
		memory.Keywords,
		memory.IsIntimate,
		memory.HappenedAt,
		memory.CreatedAt,
		memory.UpdatedAt,
	)
	return err
}

func (r *PgMemoryRepository) Search(ctx context.Context, userID, characterID string, queryEmbedding pgvector.Vector, topK int) ([]MemoryMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	const query = `
		SELECT ` + memoryColumns + `, 1 - (embedding <=> $3) AS score
		FROM memory_facts
		WHERE user_id = $1 AND character_id = $2
		ORDER BY embedding <=> $3
		LIMIT $4
	`
	rows, err := r.q.Query(ctx, query, userID, characterID, queryEmbedding, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []MemoryMatch
	for rows.Next() {
		var m domain.MemoryFact
		var score float64
		err = rows.Scan(
			&m.ID,
			&m.UserID,
			&m.CharacterID,
			&m.Content,
			&m.Embedding,
			&m.Importance,
			&m.Strength,
			&m.Keywords,
			&m.IsIntimate,
			&m.HappenedAt,
			&m.CreatedAt,
			&m.UpdatedAt,
			&score,
		)
		if err != nil {
			return nil, err
		}
		matches = append(matches, MemoryMatch{Fact: m, Score: score})
	}
	return matches, rows.Err()
}

func (r *PgMemoryRepository) ListByPair(ctx context.Context, userID, characterID string, limit int) ([]domain.MemoryFact, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + memoryColumns + `
		FROM memory_facts
		WHERE user_id = $1 AND character_id = $2
		ORDER BY happened_at DESC
		LIMIT $3
	`
	rows, err := r.q.Query(ctx, query, userID, characterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []domain.MemoryFact
	for rows.Next() {
		var m domain.MemoryFact
		err = rows.Scan(
			&m.ID,
			&m.UserID,
			&m.CharacterID,
			&m.Content,
			&m.Embedding,
			&m.Importance,
			&m.Strength,
			&m.Keywords,
			&m.IsIntimate,
			&m.HappenedAt,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
