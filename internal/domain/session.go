package domain

import "time"

// Roles de mensaje dentro de una sesión de chat.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session identifica un hilo de chat usuario↔personaje. A lo sumo una sesión
// activa por par (user_id, character_id); la creación es idempotente.
type Session struct {
	ID            string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	CharacterID   string     `json:"character_id"`
	CharacterName string     `json:"character_name"`
	ScenarioID    string     `json:"scenario_id,omitempty"`
	TotalMessages int        `json:"total_messages"`
	CreditsSpent  int        `json:"credits_spent"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Active reporta si la sesión sigue viva (borrado lógico, nunca físico).
func (s Session) Active() bool { return s.DeletedAt == nil }

// Message es append-only: nunca se muta después de crearse. Orden total por
// (created_at, id) dentro de la sesión.
type Message struct {
	ID         string         `json:"message_id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	TokensUsed int            `json:"tokens_used"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
