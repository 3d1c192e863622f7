package domain

// Intents que clasifican cada mensaje del usuario. El clasificador de reglas
// siempre produce uno; el LLM sólo lo refina.
const (
	IntentSmallTalk      = "SMALL_TALK"
	IntentCompliment     = "COMPLIMENT"
	IntentLoveConfession = "LOVE_CONFESSION"
	IntentApology        = "APOLOGY"
	IntentInvitation     = "INVITATION"
	IntentGiftSend       = "GIFT_SEND"
	IntentRequestNSFW    = "REQUEST_NSFW"
	IntentExpressSadness = "EXPRESS_SADNESS"
	IntentInsult         = "INSULT"
	IntentIgnore         = "IGNORE"
)

// Niveles progresivos de contenido generado.
const (
	ContentTierPure       = "pure"
	ContentTierFlirty     = "flirty"
	ContentTierIntimate   = "intimate"
	ContentTierRomantic   = "romantic"
	ContentTierPassionate = "passionate"
)

// Veredicto de seguridad del pre-cómputo. Solo BLOCK corta la request.
const (
	SafetyOK     = "OK"
	SafetyReview = "REVIEW"
	SafetyBlock  = "BLOCK"
)

// PrecomputeResult es la clasificación determinista del mensaje entrante.
// No consume servicios externos; es la única etapa que puede bloquear.
type PrecomputeResult struct {
	Intent           string  `json:"intent"`
	DifficultyRating int     `json:"difficulty_rating"`
	SentimentScore   float64 `json:"sentiment_score"`
	IsNSFW           bool    `json:"is_nsfw"`
	SafetyFlag       string  `json:"safety_flag"`
	BaseDelta        int     `json:"base_delta"`
	MatchedKeyword   string  `json:"matched_keyword,omitempty"`
}
