package domain

// CharacterCard es la vista que el motor necesita del catálogo de personajes
// (colaborador externo): identidad para el prompt y modificadores de
// personalidad para el motor emocional.
type CharacterCard struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Persona         string   `json:"persona"`
	SpeechStyle     string   `json:"speech_style"`
	Background      string   `json:"background"`
	SamplePhrases   []string `json:"sample_phrases,omitempty"`
	Sensitivity     float64  `json:"sensitivity"`      // amplifica deltas negativos
	ForgivenessRate float64  `json:"forgiveness_rate"` // amplifica deltas positivos
	IsPremium       bool     `json:"is_premium"`
}

// Scenario ambienta una sesión ligada a un escenario del catálogo.
type Scenario struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Setting  string `json:"setting"`
	Ambiance string `json:"ambiance"`
}
