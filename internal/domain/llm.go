package domain

// CompanionReply es el contrato JSON que el modelo debe devolver en cada turno.
// ParseSuccess/ParseError son bookkeeping del parser, no vienen del modelo.
type CompanionReply struct {
	Reply        string `json:"reply"`
	EmotionDelta int    `json:"emotion_delta"`
	Intent       string `json:"intent"`
	Thought      string `json:"thought"`
	IsNSFW       bool   `json:"is_nsfw"`

	ParseSuccess bool   `json:"parse_success"`
	ParseError   string `json:"parse_error,omitempty"`
}

// EmotionAnalysis es la salida JSON del refinamiento con modelo chico.
// Es una pista, nunca autoridad: el motor de reglas decide solo si falta.
type EmotionAnalysis struct {
	Sentiment      string  `json:"sentiment"`
	Intensity      float64 `json:"intensity"`
	Intent         string  `json:"intent"`
	SuggestedDelta int     `json:"suggested_delta"`
	Reasoning      string  `json:"reasoning"`
}
