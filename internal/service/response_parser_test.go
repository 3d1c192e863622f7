package service

import (
	"testing"

	"companion-llm/internal/domain"
)

func TestParse_CleanJSON(t *testing.T) {
	parser := ResponseParser{}
	raw := `{"reply":"hola, mi amor","emotion_delta":5,"intent":"COMPLIMENT","thought":"contenta","is_nsfw":false}`

	got := parser.Parse(raw)
	if !got.ParseSuccess {
		t.Fatalf("expected parse success, got error %q", got.ParseError)
	}
	if got.Reply != "hola, mi amor" {
		t.Fatalf("unexpected reply: %q", got.Reply)
	}
	if got.EmotionDelta != 5 {
		t.Fatalf("expected delta 5, got %d", got.EmotionDelta)
	}
	if got.Intent != domain.IntentCompliment {
		t.Fatalf("expected COMPLIMENT, got %s", got.Intent)
	}
	if got.Thought != "contenta" {
		t.Fatalf("unexpected thought: %q", got.Thought)
	}
}

func TestParse_MarkdownFences(t *testing.T) {
	parser := ResponseParser{}
	raw := "```json\n{\"reply\":\"ok\",\"emotion_delta\":2,\"intent\":\"SMALL_TALK\"}\n```"

	got := parser.Parse(raw)
	if !got.ParseSuccess || got.Reply != "ok" || got.EmotionDelta != 2 {
		t.Fatalf("expected fenced json to parse, got %+v", got)
	}
}

func TestParse_JSONEmbeddedInProse(t *testing.T) {
	parser := ResponseParser{}
	raw := `Sure! Here is the JSON: {"reply":"hey there","emotion_delta":1,"intent":"SMALL_TALK","thought":"","is_nsfw":false} Hope it helps.`

	got := parser.Parse(raw)
	if !got.ParseSuccess {
		t.Fatalf("expected embedded object to parse, got error %q", got.ParseError)
	}
	if got.Reply != "hey there" {
		t.Fatalf("unexpected reply: %q", got.Reply)
	}
}

func TestParse_BracesInsideStrings(t *testing.T) {
	parser := ResponseParser{}
	raw := `prefix {"reply":"mira {esto} y {aquello}","emotion_delta":2} suffix`

	got := parser.Parse(raw)
	if !got.ParseSuccess || got.Reply != "mira {esto} y {aquello}" {
		t.Fatalf("expected balanced extraction to respect strings, got %+v", got)
	}
}

func TestParse_MissingFieldsUseDefaults(t *testing.T) {
	parser := ResponseParser{}

	got := parser.Parse(`{"reply":"solo texto"}`)
	if !got.ParseSuccess {
		t.Fatalf("expected parse success, got error %q", got.ParseError)
	}
	if got.EmotionDelta != 0 {
		t.Fatalf("expected default delta 0, got %d", got.EmotionDelta)
	}
	if got.Intent != domain.IntentSmallTalk {
		t.Fatalf("expected default intent SMALL_TALK, got %s", got.Intent)
	}
	if got.IsNSFW {
		t.Fatal("expected default is_nsfw false")
	}
}

func TestParse_DeltaClampedToThirty(t *testing.T) {
	parser := ResponseParser{}

	if got := parser.Parse(`{"reply":"wow","emotion_delta":90}`); got.EmotionDelta != 30 {
		t.Fatalf("expected delta clamped to 30, got %d", got.EmotionDelta)
	}
	if got := parser.Parse(`{"reply":"ouch","emotion_delta":-90}`); got.EmotionDelta != -30 {
		t.Fatalf("expected delta clamped to -30, got %d", got.EmotionDelta)
	}
}

func TestParse_CoercesDeltaVariants(t *testing.T) {
	parser := ResponseParser{}

	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"string con signo", `{"reply":"x","emotion_delta":"+5"}`, 5},
		{"string negativa", `{"reply":"x","emotion_delta":"-4"}`, -4},
		{"decimal", `{"reply":"x","emotion_delta":3.7}`, 3},
		{"numero con mas adelante", `{"reply":"x","emotion_delta":+12}`, 12},
		{"basura", `{"reply":"x","emotion_delta":"muy feliz"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.Parse(tt.raw)
			if !got.ParseSuccess {
				t.Fatalf("expected parse success, got error %q", got.ParseError)
			}
			if got.EmotionDelta != tt.want {
				t.Fatalf("expected delta %d, got %d", tt.want, got.EmotionDelta)
			}
		})
	}
}

func TestParse_CoercesNSFWVariants(t *testing.T) {
	parser := ResponseParser{}

	if got := parser.Parse(`{"reply":"x","is_nsfw":"yes"}`); !got.IsNSFW {
		t.Fatal("expected is_nsfw yes to coerce to true")
	}
	if got := parser.Parse(`{"reply":"x","is_nsfw":1}`); !got.IsNSFW {
		t.Fatal("expected is_nsfw 1 to coerce to true")
	}
	if got := parser.Parse(`{"reply":"x","is_nsfw":"no"}`); got.IsNSFW {
		t.Fatal("expected is_nsfw no to coerce to false")
	}
}

func TestParse_UnknownIntentFallsBackToSmallTalk(t *testing.T) {
	parser := ResponseParser{}

	got := parser.Parse(`{"reply":"x","intent":"DANCE_PARTY"}`)
	if got.Intent != domain.IntentSmallTalk {
		t.Fatalf("expected unknown intent to default, got %s", got.Intent)
	}

	got = parser.Parse(`{"reply":"x","intent":"apology"}`)
	if got.Intent != domain.IntentApology {
		t.Fatalf("expected lowercase intent to normalize, got %s", got.Intent)
	}
}

func TestParse_SingleQuotedJSON(t *testing.T) {
	parser := ResponseParser{}
	raw := `{'reply': 'hola de nuevo', 'emotion_delta': 4}`

	got := parser.Parse(raw)
	if !got.ParseSuccess || got.Reply != "hola de nuevo" || got.EmotionDelta != 4 {
		t.Fatalf("expected quote repair to recover the object, got %+v", got)
	}
}

func TestParse_RegexRescuesReplyFromBrokenJSON(t *testing.T) {
	parser := ResponseParser{}
	raw := `{"reply": "te extrañé mucho", "emotion_delta": }`

	got := parser.Parse(raw)
	if !got.ParseSuccess {
		t.Fatalf("expected reply rescue to count as success, got error %q", got.ParseError)
	}
	if got.Reply != "te extrañé mucho" {
		t.Fatalf("unexpected rescued reply: %q", got.Reply)
	}
	if got.EmotionDelta != 0 || got.Intent != domain.IntentSmallTalk {
		t.Fatalf("expected rescued reply to carry defaults, got %+v", got)
	}
}

func TestParse_PlainTextFallback(t *testing.T) {
	parser := ResponseParser{}
	raw := "no pude generar json, disculpa"

	got := parser.Parse(raw)
	if got.ParseSuccess {
		t.Fatal("expected parse_success false for plain text")
	}
	if got.Reply != "no pude generar json, disculpa" {
		t.Fatalf("expected raw text preserved as reply, got %q", got.Reply)
	}
	if got.ParseError == "" {
		t.Fatal("expected parse_error to be recorded")
	}
}

func TestParse_EmptyReplyFieldIsNotSuccess(t *testing.T) {
	parser := ResponseParser{}

	got := parser.Parse(`{"reply":"   "}`)
	if got.ParseSuccess {
		t.Fatal("expected blank reply field to fall through to fallback")
	}
}
