package domain

import "time"

// Estados emocionales derivados del score por buckets fijos.
const (
	EmotionLoving  = "loving"
	EmotionHappy   = "happy"
	EmotionContent = "content"
	EmotionNeutral = "neutral"
	EmotionAnnoyed = "annoyed"
	EmotionAngry   = "angry"
	EmotionColdWar = "cold_war"
	EmotionBlocked = "blocked"
)

// Etapas de intimidad derivadas del nivel.
const (
	StageStrangers     = "strangers"
	StageAcquaintances = "acquaintances"
	StageCloseFriends  = "close_friends"
	StageAmbiguous     = "ambiguous"
	StageSoulmates     = "soulmates"
)

// Hitos de relación. Grow-only: una vez disparado, queda para siempre.
const (
	EventFirstGift       = "first_gift"
	EventFirstConfession = "first_confession"
	EventFirstKiss       = "first_kiss"
	EventFirstDate       = "first_date"
	EventFirstNSFW       = "first_nsfw"
)

// UserState es el estado vivo de una relación usuario↔personaje.
// Version habilita concurrencia optimista: cada escritura la incrementa.
type UserState struct {
	UserID        string  `json:"user_id"`
	CharacterID   string  `json:"character_id"`
	IntimacyXP    float64 `json:"intimacy_xp"`
	IntimacyLevel int     `json:"intimacy_level"`
	IntimacyStage string  `json:"intimacy_stage"`
	EmotionScore  int     `json:"emotion_score"`
	EmotionState  string  `json:"emotion_state"`

	DailyXPEarned  float64   `json:"daily_xp_earned"`
	LastDailyReset time.Time `json:"last_daily_reset"`

	StreakDays          int        `json:"streak_days"`
	LastInteractionDate *time.Time `json:"last_interaction_date,omitempty"`

	Events      []string `json:"events"`
	NSFWConsent bool     `json:"nsfw_consent"`

	EmotionUpdatedAt time.Time `json:"emotion_updated_at"`
	Version          int64     `json:"version"`
}

// HasEvent reporta si el hito ya fue disparado para esta relación.
func (s UserState) HasEvent(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// EmotionStateForScore mapea el score [-100,100] a su estado por umbral.
func EmotionStateForScore(score int) string {
	switch {
	case score >= 100:
		return EmotionLoving
	case score >= 50:
		return EmotionHappy
	case score >= 20:
		return EmotionContent
	case score >= -19:
		return EmotionNeutral
	case score >= -49:
		return EmotionAnnoyed
	case score >= -79:
		return EmotionAngry
	case score >= -99:
		return EmotionColdWar
	default:
		return EmotionBlocked
	}
}

// StageForLevel mapea nivel de intimidad [0,50] a su etapa.
func StageForLevel(level int) string {
	switch {
	case level <= 3:
		return StageStrangers
	case level <= 10:
		return StageAcquaintances
	case level <= 25:
		return StageCloseFriends
	case level <= 40:
		return StageAmbiguous
	default:
		return StageSoulmates
	}
}

// InLockout reporta si el estado emocional exige reparación activa (los
// mensajes normales no mueven el score y reciben respuesta mínima).
func InLockout(state string) bool {
	return state == EmotionColdWar || state == EmotionBlocked
}

// EmotionHistoryEntry es el registro append-only de cada cambio de score.
type EmotionHistoryEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CharacterID string    `json:"character_id"`
	Delta       int       `json:"delta"`
	ScoreAfter  int       `json:"score_after"`
	StateAfter  string    `json:"state_after"`
	Trigger     string    `json:"trigger"`
	CreatedAt   time.Time `json:"created_at"`
}

// IntimacyActionLog registra cada acción premiada, para cooldowns y límites diarios.
type IntimacyActionLog struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CharacterID string    `json:"character_id"`
	Action      string    `json:"action"`
	XPAwarded   float64   `json:"xp_awarded"`
	CreatedAt   time.Time `json:"created_at"`
}
