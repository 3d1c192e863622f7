package service

import (
	"strings"
	"testing"

	"companion-llm/internal/domain"
)

func basePromptInputs() PromptInputs {
	return PromptInputs{
		Character: domain.CharacterCard{
			Name:        "Luna",
			Persona:     "Luna is a warm, playful art student.",
			SpeechStyle: "casual",
		},
		State: domain.UserState{
			IntimacyStage: domain.StageStrangers,
			EmotionState:  domain.EmotionNeutral,
		},
		Tier: domain.ContentTierPure,
	}
}

func mustHave(t *testing.T, prompt string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(prompt, p) {
			t.Errorf("el prompt no contiene %q", p)
		}
	}
}

func mustNotHave(t *testing.T, prompt string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if strings.Contains(prompt, p) {
			t.Errorf("el prompt no debia contener %q", p)
		}
	}
}

func TestPromptBuild_CoreBlocks(t *testing.T) {
	prompt := DefaultPromptBuilder.Build(basePromptInputs())

	mustHave(t, prompt,
		"You are Luna.",
		"=== RELATIONSHIP STAGE ===",
		"Stage: strangers",
		"=== CONTENT RULES ===",
		"Current content tier: pure",
		"=== CURRENT MOOD ===",
		"Emotional state: neutral",
		"=== OUTPUT FORMAT (STRICT JSON) ===",
		`"emotion_delta"`,
	)
	mustNotHave(t, prompt, "=== SCENE ===", "=== ACTIVE EFFECTS ===", "WHAT YOU KNOW ABOUT THEM")
}

func TestPromptBuild_PlainTextContract(t *testing.T) {
	in := basePromptInputs()
	in.PlainText = true

	prompt := DefaultPromptBuilder.Build(in)
	mustHave(t, prompt, "Reply with plain text only")
	mustNotHave(t, prompt, "STRICT JSON")
}

func TestPromptBuild_LockoutBlocks(t *testing.T) {
	t.Run("cold_war pide un gesto real", func(t *testing.T) {
		in := basePromptInputs()
		in.Lockout = true
		in.State.EmotionScore = -85
		in.State.EmotionState = domain.EmotionColdWar

		prompt := DefaultPromptBuilder.Build(in)
		mustHave(t, prompt, "cold war (score -85)", "a real gift")
		mustNotHave(t, prompt, "Emotional state: neutral")
	})

	t.Run("blocked corta todo", func(t *testing.T) {
		in := basePromptInputs()
		in.Lockout = true
		in.State.EmotionScore = -100
		in.State.EmotionState = domain.EmotionBlocked

		prompt := DefaultPromptBuilder.Build(in)
		mustHave(t, prompt, "blocked (score -100)", "I have nothing to say to you.")
	})
}

func TestPromptBuild_DownTierRedirect(t *testing.T) {
	in := basePromptInputs()
	in.DownTier = domain.ContentTierIntimate

	prompt := DefaultPromptBuilder.Build(in)
	mustHave(t, prompt,
		"The user is asking for intimate-level content",
		"redirect to the closest allowed register",
	)
}

func TestPromptBuild_EffectsInsertedVerbatim(t *testing.T) {
	in := basePromptInputs()
	in.Effects = []domain.ActiveEffect{
		{EffectType: "sweet_scent", PromptModifier: "You just received a perfume you adore."},
		{EffectType: "empty", PromptModifier: "   "},
	}

	prompt := DefaultPromptBuilder.Build(in)
	mustHave(t, prompt, "=== ACTIVE EFFECTS ===", "You just received a perfume you adore.")
}

func TestPromptBuild_SceneBlock(t *testing.T) {
	in := basePromptInputs()
	in.Scenario = &domain.Scenario{
		ID:       "cafe_rainy",
		Setting:  "a corner table in a small café",
		Ambiance: "warm light, low jazz",
	}

	prompt := DefaultPromptBuilder.Build(in)
	mustHave(t, prompt, "=== SCENE ===", "You are both at: a corner table in a small café. warm light, low jazz")
}

func TestPromptBuild_MemoryBlock(t *testing.T) {
	in := basePromptInputs()
	in.Profile = domain.UserProfile{
		DisplayName: "Alex",
		Likes:       []string{"coffee", "rainy days"},
	}
	in.Memories = []RecalledMemory{
		{Fact: domain.MemoryFact{Content: "They work night shifts at a hospital."}},
	}

	prompt := DefaultPromptBuilder.Build(in)
	mustHave(t, prompt,
		"=== WHAT YOU KNOW ABOUT THEM ===",
		"Their name: Alex",
		"They like: coffee, rainy days",
		"Moments you remember:",
		"- They work night shifts at a hospital.",
	)
}

func TestPromptBuild_BudgetDropsMemoriesFirst(t *testing.T) {
	in := basePromptInputs()
	in.Memories = []RecalledMemory{
		{Fact: domain.MemoryFact{Content: strings.Repeat("a", 400)}},
		{Fact: domain.MemoryFact{Content: strings.Repeat("b", 400)}},
	}
	in.Budget = 1

	prompt := DefaultPromptBuilder.Build(in)
	mustNotHave(t, prompt, "Moments you remember:")
	// La persona nunca se recorta, aunque el presupuesto no alcance.
	mustHave(t, prompt, "You are Luna.")
}

func TestPromptBuild_StageAndMilestones(t *testing.T) {
	in := basePromptInputs()
	in.State.IntimacyStage = domain.StageSoulmates
	in.State.IntimacyLevel = 41
	in.State.Events = []string{"first_gift", "first_kiss"}

	prompt := DefaultPromptBuilder.Build(in)
	mustHave(t, prompt,
		"Stage: soulmates (level 41",
		"You are soulmates.",
		"Milestones you share: first_gift, first_kiss.",
	)
}

func TestTrimHistory(t *testing.T) {
	long := func(n int) string { return strings.Repeat("x", n) }
	history := make([]domain.Message, 0, 12)
	for i := 0; i < 12; i++ {
		history = append(history, domain.Message{ID: string(rune('a' + i)), Content: long(100)})
	}

	t.Run("recorta lo mas viejo primero", func(t *testing.T) {
		trimmed := trimHistory(history, 1000)
		if len(trimmed) != 10 {
			t.Fatalf("quedaron %d mensajes, se esperaban 10", len(trimmed))
		}
		if trimmed[0].ID != "c" {
			t.Fatalf("primer mensaje %q, el recorte debe empezar por el mas viejo", trimmed[0].ID)
		}
	})

	t.Run("preserva el piso de 8 mensajes", func(t *testing.T) {
		trimmed := trimHistory(history, 1)
		if len(trimmed) != 8 {
			t.Fatalf("quedaron %d mensajes, el piso es 8", len(trimmed))
		}
	})

	t.Run("presupuesto cero no recorta", func(t *testing.T) {
		trimmed := trimHistory(history, 0)
		if len(trimmed) != 12 {
			t.Fatalf("quedaron %d mensajes, sin presupuesto no se recorta", len(trimmed))
		}
	})
}
