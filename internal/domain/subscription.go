package domain

import "time"

// Planes de suscripción.
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierVIP     = "vip"
)

// Capacidades consultables por plan efectivo.
const (
	FeatureNSFWEnabled       = "nsfw_enabled"
	FeaturePremiumCharacters = "premium_characters"
	FeatureVoiceMessages     = "voice_messages"
	FeatureLongHistory       = "long_history"
)

// Subscription es el plan almacenado. Nadie lee Tier directo: las reglas de
// negocio consultan siempre el tier efectivo (con chequeo de expiración).
type Subscription struct {
	UserID    string     `json:"user_id"`
	Tier      string     `json:"tier"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	AutoRenew bool       `json:"auto_renew"`
}

// ExpiredAt reporta si el plan ya venció en el instante dado.
func (s Subscription) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
