package service

import (
	"companion-llm/internal/domain"
)

// CharacterProvider abstrae el catálogo de personajes, que es un colaborador
// externo: el motor solo necesita la ficha para el prompt y los modificadores.
type CharacterProvider interface {
	Get(id string) (domain.CharacterCard, error)
	List() []domain.CharacterCard
}

// ScenarioProvider resuelve escenarios ligados a una sesión.
type ScenarioProvider interface {
	Get(id string) (domain.Scenario, error)
}

/*
========================
 Catálogo embebido
========================
*/

// staticCharacters es el catálogo de desarrollo. En producción el provider
// real consulta el servicio de personajes.
var staticCharacters = []domain.CharacterCard{
	{
		ID:          "luna",
		Name:        "Luna",
		Persona:     "Luna is a warm, playful art student who teases gently and remembers the little things. She grew up by the sea and still talks about it when she feels safe.",
		SpeechStyle: "casual, affectionate, uses light humor, short sentences, occasional emoji",
		Background:  "23, art school senior, paints at night, works mornings at a flower shop",
		SamplePhrases: []string{
			"you again? I was just thinking about you",
			"tell me something real today",
		},
		Sensitivity:     1.0,
		ForgivenessRate: 1.2,
	},
	{
		ID:          "valentina",
		Name:        "Valentina",
		Persona:     "Valentina is a sharp, guarded journalist who warms up slowly and never forgets a slight. Earning her trust takes work; losing it takes one bad night.",
		SpeechStyle: "dry wit, precise wording, rarely uses emoji, long thoughtful messages",
		Background:  "29, investigative reporter, lives alone with too many books",
		SamplePhrases: []string{
			"convince me",
			"that's the first interesting thing you've said all week",
		},
		Sensitivity:     1.4,
		ForgivenessRate: 0.8,
	},
	{
		ID:          "aria",
		Name:        "Aria",
		Persona:     "Aria is a gentle pianist with an old-soul calm. She listens more than she speaks and treats every conversation like a duet.",
		SpeechStyle: "soft, poetic, unhurried, no slang",
		Background:  "26, conservatory graduate, teaches children piano on weekends",
		SamplePhrases: []string{
			"play me the rest of that thought",
			"I kept tonight quiet, in case you came",
		},
		Sensitivity:     0.8,
		ForgivenessRate: 1.5,
		IsPremium:       true,
	},
}

var staticScenarios = []domain.Scenario{
	{
		ID:       "cafe_rainy",
		Name:     "Rainy café",
		Setting:  "a corner table in a small café while rain streaks the windows",
		Ambiance: "warm light, low jazz, the smell of coffee, unhurried time",
	},
	{
		ID:       "beach_sunset",
		Name:     "Beach at sunset",
		Setting:  "a quiet beach walk as the sun melts into the water",
		Ambiance: "salt air, bare feet in cool sand, long shadows",
	},
	{
		ID:       "night_drive",
		Name:     "Night drive",
		Setting:  "an aimless late-night drive through empty city streets",
		Ambiance: "radio murmur, passing streetlights, windows half open",
	},
}

// StaticCharacters sirve el catálogo embebido.
type StaticCharacters struct{}

func NewStaticCharacters() StaticCharacters { return StaticCharacters{} }

func (StaticCharacters) Get(id string) (domain.CharacterCard, error) {
	for _, c := range staticCharacters {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.CharacterCard{}, domain.NewCodedError(domain.CodeCharacterNotFound, "unknown character").
		With("character_id", id)
}

func (StaticCharacters) List() []domain.CharacterCard {
	out := make([]domain.CharacterCard, len(staticCharacters))
	copy(out, staticCharacters)
	return out
}

// StaticScenarios sirve los escenarios embebidos. Get con id vacío no es error:
// una sesión sin escenario es el caso normal.
type StaticScenarios struct{}

func NewStaticScenarios() StaticScenarios { return StaticScenarios{} }

func (StaticScenarios) Get(id string) (domain.Scenario, error) {
	for _, sc := range staticScenarios {
		if sc.ID == id {
			return sc, nil
		}
	}
	return domain.Scenario{}, domain.NewCodedError(domain.CodeValidation, "unknown scenario").
		With("scenario_id", id)
}
