package domain

import "time"

// Estado de un regalo a lo largo de su vida.
const (
	GiftPending      = "pending"
	GiftAcknowledged = "acknowledged"
	GiftFailed       = "failed"
)

// Tiers de regalo: 1 consumible, 2 efecto de estado, 3 acelerador de relación,
// 4 lujo (positivo máximo forzado).
const (
	GiftTierConsumable = 1
	GiftTierEffect     = 2
	GiftTierSpeedDate  = 3
	GiftTierLuxury     = 4
)

// Gift es el registro persistido de un envío de regalo.
type Gift struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	CharacterID    string     `json:"character_id"`
	SessionID      string     `json:"session_id,omitempty"`
	Type           string     `json:"type"`
	Price          int        `json:"price"`
	XPReward       float64    `json:"xp_reward"`
	Tier           int        `json:"tier"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// GiftInfo es una fila del catálogo en código: precio, recompensa y efectos.
type GiftInfo struct {
	Type           string  `json:"type"`
	Name           string  `json:"name"`
	Price          int     `json:"price"`
	XPReward       float64 `json:"xp_reward"`
	Tier           int     `json:"tier"`
	EmotionBonus   int     `json:"emotion_bonus"`
	ClearsColdWar  bool    `json:"clears_cold_war"`
	EffectType     string  `json:"effect_type,omitempty"`
	PromptModifier string  `json:"prompt_modifier,omitempty"`
	EffectMessages int     `json:"effect_messages,omitempty"`
}

// ActiveEffect es el estado vivo de un regalo tier 2: se inyecta en el prompt
// y se descuenta tras cada respuesta del asistente. A lo sumo uno por
// effect_type por par (reemplazo, no apilamiento).
type ActiveEffect struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	CharacterID       string    `json:"character_id"`
	EffectType        string    `json:"effect_type"`
	PromptModifier    string    `json:"prompt_modifier"`
	RemainingMessages int       `json:"remaining_messages"`
	GiftID            string    `json:"gift_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// IdempotencyRecord cachea el resultado de un envío de regalo por 24h.
// Las claves son por usuario: la misma clave de otro usuario es "no existe".
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	GiftID    string    `json:"gift_id"`
	Result    []byte    `json:"result"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reporta si la ventana de replay ya venció.
func (r IdempotencyRecord) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }
