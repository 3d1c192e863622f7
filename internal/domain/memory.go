package domain

import (
	"time"

	pgvector "github.com/pgvector/pgvector-go"
)

// MemoryFact es un recuerdo episódico por par usuario↔personaje, indexado por
// embedding. El ranking del prompt usa importance/strength/keywords/recencia.
type MemoryFact struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	CharacterID string          `json:"character_id"`
	Content     string          `json:"content"`
	Embedding   pgvector.Vector `json:"embedding"`
	Importance  int             `json:"importance"` // 1-10
	Strength    int             `json:"strength"`   // 1-10, refuerzo por re-mención
	Keywords    []string        `json:"keywords,omitempty"`
	IsIntimate  bool            `json:"is_intimate"`
	HappenedAt  time.Time       `json:"happened_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UserProfile guarda los datos declarados por el usuario que alimentan el
// bloque de memoria del prompt.
type UserProfile struct {
	UserID             string            `json:"user_id"`
	DisplayName        string            `json:"display_name,omitempty"`
	Birthday           string            `json:"birthday,omitempty"`
	Likes              []string          `json:"likes,omitempty"`
	RelationshipStatus string            `json:"relationship_status,omitempty"`
	ImportantDates     map[string]string `json:"important_dates,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}
